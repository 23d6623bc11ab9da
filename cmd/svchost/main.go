package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	natsgo "github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/kbirk/svchost/pkg/address"
	"github.com/kbirk/svchost/pkg/binding"
	"github.com/kbirk/svchost/pkg/config"
	"github.com/kbirk/svchost/pkg/contract"
	"github.com/kbirk/svchost/pkg/endpoint"
	"github.com/kbirk/svchost/pkg/host"
	"github.com/kbirk/svchost/pkg/hosting"
	"github.com/kbirk/svchost/pkg/log"
	"github.com/kbirk/svchost/pkg/metrics"
	"github.com/kbirk/svchost/pkg/queue"
	"github.com/kbirk/svchost/pkg/queue/jetstream"
	"github.com/kbirk/svchost/pkg/transport"
)

const (
	version = "0.1.0"
)

var echoContract = contract.New("Svchost.Contracts.IEcho")

// errLaunch marks failures the launcher has already printed.
var errLaunch = errors.New("launch failed")

var (
	configPath  string
	name        string
	scheme      string
	queued      bool
	queueURL    string
	logLevel    string
	metricsAddr string
	showVersion bool
)

func echoService(name string, queued bool) host.Service {
	svc := host.Service{
		Name:      name,
		Contracts: contract.Set{echoContract},
		Handler: host.HandlerFunc(func(ctx context.Context, c contract.Descriptor, method string, payload []byte) ([]byte, error) {
			switch method {
			case "Echo":
				return payload, nil
			case "Upper":
				return []byte(strings.ToUpper(string(payload))), nil
			default:
				return nil, fmt.Errorf("%s has no method %q", c.Name, method)
			}
		}),
	}
	if queued {
		svc.Queued = contract.Set{echoContract}
	}
	return svc
}

func main() {

	flag.StringVarP(&configPath, "config", "c", "", "Settings file (.toml, .yaml)")
	flag.StringVarP(&name, "name", "n", "Echo", "Service name")
	flag.StringVar(&scheme, "scheme", transport.SchemeTCP, "Intranet scheme (tcp or ws)")
	flag.BoolVarP(&queued, "queue", "q", false, "Also expose the service on a queue endpoint")
	flag.StringVar(&queueURL, "queue-url", "", "NATS server for queue endpoints")
	flag.StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error, off)")
	flag.StringVar(&metricsAddr, "metrics", "", "Serve prometheus metrics on this address, e.g. :9102")
	flag.BoolVarP(&showVersion, "version", "v", false, "Print the version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: svchost [flags]\n\nHosts an echo service over the intranet transport.\n\nFlags:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if showVersion {
		fmt.Println("svchost " + version)
		return
	}

	if err := run(); err != nil {
		if errors.Is(err, errLaunch) {
			os.Exit(1)
		}
		red := color.New(color.FgRed, color.Bold).SprintFunc()
		os.Stderr.WriteString(red("ERROR: ") + err.Error() + "\n")
		os.Exit(1)
	}
}

func run() error {
	logger := log.NewFromEnv("svchost")
	if logLevel != "" {
		lvl, ok := log.ParseLevel(logLevel)
		if !ok {
			return fmt.Errorf("invalid `--log-level` %q", logLevel)
		}
		logger = log.WithLevel(logger, lvl)
	}

	sources := []config.Source{config.EnvSource{}}
	if configPath != "" {
		if _, err := config.LoadFile(configPath); err != nil {
			return fmt.Errorf("failed to load settings: %w", err)
		}
		sources = append(sources, config.NewFileSource(configPath))
	}
	source := config.Chain(sources...)

	provider := config.NewProvider(config.ProviderConfig{Source: source, Logger: logger})
	enforcer := binding.NewEnforcer(binding.EnforcerConfig{Source: source, Logger: logger})
	resolver := address.NewResolver(address.ResolverConfig{Provider: provider, IntranetScheme: scheme})

	factoryConf := endpoint.FactoryConfig{Logger: logger}
	var validator *queue.Validator
	if queued {
		url, nc, err := connectQueue(provider, resolver, logger)
		if err != nil {
			return err
		}
		defer nc.Close()

		factoryConf.QueueURL = url
		factoryConf.QueueConn = nc
		store := jetstream.NewStore(jetstream.StoreConfig{Conn: nc, Logger: logger})
		defer store.Close()
		validator = queue.NewValidator(queue.ValidatorConfig{Store: store, Logger: logger})
	}
	factory := endpoint.NewFactory(factoryConf)

	if metricsAddr != "" {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() {
			err := http.ListenAndServe(metricsAddr, mux)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server stopped: " + err.Error())
			}
		}()
	}

	h, err := host.NewIntranet(echoService(name, queued), validator, host.Config{
		Enforcer: enforcer,
		Resolver: resolver,
		Factory:  factory,
		Behavior: host.DefaultBehavior(),
		Logger:   logger,
		ErrHandler: func(err error) {
			logger.Warn(err.Error())
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create host: %w", err)
	}

	for _, ep := range h.Endpoints() {
		logger.Info(fmt.Sprintf("Endpoint %s", ep))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	launcher := &hosting.Launcher{Name: name, Host: h, Logger: logger}
	if err := launcher.Launch(ctx); err != nil {
		return fmt.Errorf("%w: %w", errLaunch, err)
	}
	return nil
}

// connectQueue dials the NATS server shared by the queue store and the queue
// endpoints: --queue-url, then the QueueURL setting, then the default port on
// the queue host.
func connectQueue(provider *config.Provider, resolver *address.Resolver, logger log.Logger) (string, *natsgo.Conn, error) {
	url := queueURL
	if url == "" {
		if v, ok := provider.Setting(config.KeyQueueURL); ok {
			url = v
		}
	}
	if url == "" {
		base, err := resolver.BaseAddress(transport.Queue)
		if err != nil {
			return "", nil, err
		}
		url, err = endpoint.DefaultQueueURL(base)
		if err != nil {
			return "", nil, err
		}
	}
	nc, err := natsgo.Connect(url, natsgo.Name("svchost"))
	if err != nil {
		return "", nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	logger.Info("Connected to NATS at " + url)
	return url, nc, nil
}

package endpoint

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	natsgo "github.com/nats-io/nats.go"

	"github.com/kbirk/svchost/pkg/binding"
	"github.com/kbirk/svchost/pkg/log"
	"github.com/kbirk/svchost/pkg/rpc"
	"github.com/kbirk/svchost/pkg/rpc/nats"
	"github.com/kbirk/svchost/pkg/rpc/tcp"
	"github.com/kbirk/svchost/pkg/rpc/unix"
	"github.com/kbirk/svchost/pkg/rpc/websocket"
	"github.com/kbirk/svchost/pkg/transport"
)

const rootSocketName = "svchost"

type FactoryConfig struct {
	// PipeDir holds the sockets of in-process endpoints.
	PipeDir string
	// QueueURL is the NATS server queued endpoints use. Empty means the
	// default port on the address host.
	QueueURL string
	// QueueConn shares one NATS connection between queued endpoints.
	QueueConn *natsgo.Conn
	Logger    log.Logger
}

// Factory builds server and client transports for addresses.
type Factory struct {
	conf FactoryConfig
}

func NewFactory(conf FactoryConfig) *Factory {
	if conf.PipeDir == "" {
		conf.PipeDir = filepath.Join(os.TempDir(), "svchost")
	}
	return &Factory{conf: conf}
}

func (f *Factory) logDebug(msg string) {
	if f.conf.Logger != nil {
		f.conf.Logger.Debug(msg)
	}
}

// SocketPath maps an in-process base address onto a socket file.
func (f *Factory) SocketPath(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", base, err)
	}
	name := strings.ReplaceAll(rpc.NormalizePath(u.Path), "/", "_")
	if name == "" {
		name = rootSocketName
	}
	return filepath.Join(f.conf.PipeDir, name+".sock"), nil
}

// DefaultQueueURL is the NATS server for a queue address when none is
// configured: the default NATS port on the address host.
func DefaultQueueURL(addr string) (string, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", addr, err)
	}
	return defaultQueueURL(u), nil
}

func defaultQueueURL(u *url.URL) string {
	return fmt.Sprintf("nats://%s", net.JoinHostPort(u.Hostname(), strconv.Itoa(natsgo.DefaultPort)))
}

func (f *Factory) queueURL(u *url.URL) string {
	if f.conf.QueueURL != "" {
		return f.conf.QueueURL
	}
	return defaultQueueURL(u)
}

func retryPolicy(p *binding.Profile) nats.RetryPolicy {
	policy := nats.RetryPolicy{
		ReceiveRetryCount: p.ReceiveRetryCount,
		MaxRetryCycles:    p.MaxRetryCycles,
		RetryCycleDelay:   p.RetryCycleDelay,
	}
	switch p.ReceiveErrorHandling {
	case binding.ErrorHandlingDrop:
		policy.Poison = nats.PoisonDrop
	case binding.ErrorHandlingFault:
		policy.Poison = nats.PoisonFault
	default:
		policy.Poison = nats.PoisonMove
	}
	return policy
}

func port(u *url.URL) (int, error) {
	p, err := strconv.Atoi(u.Port())
	if err != nil {
		return 0, fmt.Errorf("address %s has no valid port", u.String())
	}
	return p, nil
}

// Listener returns the server transport for a base address.
func (f *Factory) Listener(base string, p *binding.Profile) (rpc.ServerTransport, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", base, err)
	}
	limits := LimitsFor(p)

	f.logDebug(fmt.Sprintf("Creating listener for %s", base))

	switch u.Scheme {
	case transport.SchemePipe:
		path, err := f.SocketPath(base)
		if err != nil {
			return nil, err
		}
		return unix.NewServerTransport(unix.ServerTransportConfig{
			SocketPath:     path,
			MaxMessageSize: limits.MaxMessageSize,
		}), nil
	case transport.SchemeTCP:
		port, err := port(u)
		if err != nil {
			return nil, err
		}
		return tcp.NewServerTransport(tcp.ServerTransportConfig{
			Port:           port,
			NoDelay:        true,
			MaxMessageSize: limits.MaxMessageSize,
		}), nil
	case transport.SchemeWebSocket:
		port, err := port(u)
		if err != nil {
			return nil, err
		}
		return websocket.NewServerTransport(websocket.ServerTransportConfig{
			Port:           port,
			MaxMessageSize: limits.MaxMessageSize,
		}), nil
	case transport.SchemeQueue:
		return nats.NewServerTransport(nats.ServerTransportConfig{
			URL:            f.queueURL(u),
			Conn:           f.conf.QueueConn,
			MaxMessageSize: limits.MaxMessageSize,
			AckWait:        p.ReceiveTimeout,
			Retry:          retryPolicy(p),
		}), nil
	default:
		return nil, fmt.Errorf("unsupported scheme %q in %s", u.Scheme, base)
	}
}

// Dialer returns the client transport for an endpoint address.
func (f *Factory) Dialer(address string, p *binding.Profile) (rpc.ClientTransport, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", address, err)
	}
	limits := LimitsFor(p)

	switch u.Scheme {
	case transport.SchemePipe:
		path, err := f.SocketPath(BaseOf(address))
		if err != nil {
			return nil, err
		}
		return unix.NewClientTransport(unix.ClientTransportConfig{
			SocketPath:     path,
			MaxMessageSize: limits.MaxMessageSize,
		}), nil
	case transport.SchemeTCP:
		port, err := port(u)
		if err != nil {
			return nil, err
		}
		return tcp.NewClientTransport(tcp.ClientTransportConfig{
			Host:           u.Hostname(),
			Port:           port,
			NoDelay:        true,
			DialTimeout:    limits.OpenTimeout,
			MaxMessageSize: limits.MaxMessageSize,
		}), nil
	case transport.SchemeWebSocket:
		port, err := port(u)
		if err != nil {
			return nil, err
		}
		return websocket.NewClientTransport(websocket.ClientTransportConfig{
			Host:           u.Hostname(),
			Port:           port,
			MaxMessageSize: limits.MaxMessageSize,
		}), nil
	case transport.SchemeQueue:
		return nats.NewClientTransport(nats.ClientTransportConfig{
			URL:            f.queueURL(u),
			Conn:           f.conf.QueueConn,
			Path:           PathOf(address),
			MaxMessageSize: limits.MaxMessageSize,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported scheme %q in %s", u.Scheme, address)
	}
}

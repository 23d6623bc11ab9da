// Package host hosts a service on the endpoints its transport strategy
// prescribes and drives the host through its lifecycle.
package host

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/kbirk/svchost/pkg/address"
	"github.com/kbirk/svchost/pkg/binding"
	"github.com/kbirk/svchost/pkg/contract"
	"github.com/kbirk/svchost/pkg/endpoint"
	"github.com/kbirk/svchost/pkg/log"
	"github.com/kbirk/svchost/pkg/metrics"
	"github.com/kbirk/svchost/pkg/queue"
	"github.com/kbirk/svchost/pkg/rpc"
	"github.com/kbirk/svchost/pkg/rpc/nats"
	"github.com/kbirk/svchost/pkg/transport"
)

// MetadataSuffix is appended to every tcp base address to form the address
// of the metadata endpoint.
const MetadataSuffix = "MEX"

var (
	ErrContractNotImplemented = errors.New("contract not implemented by this host")
	ErrHostFaulted            = errors.New("host is faulted")
	ErrInvalidState           = errors.New("invalid host state")
	ErrQueueNotSupported      = errors.New("host strategy has no queue base address")
)

type State int

const (
	Created State = iota
	Opening
	Opened
	Closing
	Closed
	Faulted
)

func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case Opening:
		return "Opening"
	case Opened:
		return "Opened"
	case Closing:
		return "Closing"
	case Closed:
		return "Closed"
	case Faulted:
		return "Faulted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type Config struct {
	Strategy Strategy
	Enforcer *binding.Enforcer
	Resolver *address.Resolver
	Factory  *endpoint.Factory
	Behavior Behavior
	Logger   log.Logger
	// ErrHandler receives errors raised while serving.
	ErrHandler func(error)
}

// Host owns the endpoints of one service.
type Host struct {
	conf       Config
	svc        Service
	bases      []Base
	mu         sync.Mutex
	state      State
	endpoints  []endpoint.Endpoint
	servers    []*rpc.Server
	listening  bool
	dispatchMu sync.Mutex
	singleOnce sync.Once
	single     Handler
}

// New builds a host in the Created state with a metadata endpoint per tcp
// base address and an endpoint per implemented contract.
func New(svc Service, conf Config) (*Host, error) {
	if conf.Strategy == nil {
		return nil, errors.New("host requires a transport strategy")
	}
	if conf.Enforcer == nil {
		conf.Enforcer = binding.Default()
	}
	if conf.Resolver == nil {
		conf.Resolver = address.NewResolver(address.ResolverConfig{})
	}
	if conf.Factory == nil {
		conf.Factory = endpoint.NewFactory(endpoint.FactoryConfig{Logger: conf.Logger})
	}
	if svc.Handler == nil && svc.New == nil {
		return nil, fmt.Errorf("service %s has no handler", svc.Name)
	}
	if err := svc.Contracts.Validate(); err != nil {
		return nil, err
	}
	if len(svc.Contracts) == 0 {
		return nil, fmt.Errorf("%w: service %s implements no contracts", contract.ErrInvalidDescriptor, svc.Name)
	}
	if svc.Name == "" {
		svc.Name = svc.Contracts[0].Name
	}

	h := &Host{
		conf:  conf,
		svc:   svc,
		state: Created,
	}

	bases, err := conf.Strategy.BaseAddresses(conf.Resolver)
	if err != nil {
		return nil, err
	}
	h.bases = bases

	if err := h.addMetadataEndpoints(); err != nil {
		return nil, err
	}
	if err := h.applyEndpoints(); err != nil {
		return nil, err
	}
	for _, c := range svc.Queued {
		if err := h.AddQueueEndpoint(c); err != nil {
			return nil, err
		}
	}

	metrics.RecordHostState(h.Kind(), Created.String())
	return h, nil
}

func NewInProcess(svc Service, conf Config) (*Host, error) {
	conf.Strategy = InProcessStrategy{}
	return New(svc, conf)
}

func NewIntranet(svc Service, validator *queue.Validator, conf Config) (*Host, error) {
	conf.Strategy = IntranetStrategy{Validator: validator}
	return New(svc, conf)
}

func (h *Host) logDebug(msg string) {
	if h.conf.Logger != nil {
		h.conf.Logger.Debug(msg)
	}
}

func (h *Host) logInfo(msg string) {
	if h.conf.Logger != nil {
		h.conf.Logger.Info(msg)
	}
}

func (h *Host) logError(msg string) {
	if h.conf.Logger != nil {
		h.conf.Logger.Error(msg)
	}
}

func (h *Host) Kind() transport.Kind {
	return h.conf.Strategy.Kind()
}

func (h *Host) Service() Service {
	return h.svc
}

func (h *Host) Behavior() Behavior {
	return h.conf.Behavior
}

func (h *Host) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Endpoints returns a copy of the host's endpoints.
func (h *Host) Endpoints() []endpoint.Endpoint {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]endpoint.Endpoint(nil), h.endpoints...)
}

func (h *Host) base(kind transport.Kind) (string, bool) {
	for _, b := range h.bases {
		if b.Kind == kind {
			return b.Address, true
		}
	}
	return "", false
}

func (h *Host) addMetadataEndpoints() error {
	for _, b := range h.bases {
		if !strings.HasPrefix(b.Address, transport.SchemeTCP+"://") {
			continue
		}
		profile, err := h.conf.Enforcer.ResolveBinding(b.Kind)
		if err != nil {
			return err
		}
		h.addEndpointUnsafe(endpoint.Endpoint{
			Contract: contract.Metadata,
			Kind:     b.Kind,
			Address:  b.Address + MetadataSuffix,
			Base:     b.Address,
			Binding:  profile,
		})
	}
	return nil
}

func (h *Host) applyEndpoints() error {
	kind := h.Kind()
	base, ok := h.base(kind)
	if !ok {
		return fmt.Errorf("no %s base address", kind)
	}
	profile, err := h.conf.Enforcer.ResolveBinding(kind)
	if err != nil {
		return err
	}
	for _, c := range h.svc.Contracts {
		addr, err := address.Join(kind, base, c)
		if err != nil {
			return err
		}
		h.addEndpointUnsafe(endpoint.Endpoint{
			Contract: c,
			Kind:     kind,
			Address:  addr,
			Base:     base,
			Binding:  profile,
		})
	}
	return nil
}

// addEndpointUnsafe adds ep unless an endpoint for the same kind and
// contract exists.
func (h *Host) addEndpointUnsafe(ep endpoint.Endpoint) bool {
	for _, existing := range h.endpoints {
		if existing.Kind == ep.Kind && existing.Contract == ep.Contract {
			return false
		}
	}
	h.endpoints = append(h.endpoints, ep)
	h.logDebug(fmt.Sprintf("Added endpoint %s", ep))
	return true
}

// AddQueueEndpoint adds a queue endpoint for an implemented contract. It is
// a no-op if the endpoint exists and only allowed before Open. Hosts whose
// strategy has no queue base return ErrQueueNotSupported.
func (h *Host) AddQueueEndpoint(c contract.Descriptor) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if !h.svc.Contracts.Contains(c) {
		return fmt.Errorf("%w: %s", ErrContractNotImplemented, c.FullName)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != Created {
		return fmt.Errorf("%w: cannot add endpoints in state %s", ErrInvalidState, h.state)
	}

	// only strategies with a queue base validate queue infrastructure on Open
	base, ok := h.base(transport.Queue)
	if !ok {
		return fmt.Errorf("%w: %s host cannot serve %s", ErrQueueNotSupported, h.Kind(), c.FullName)
	}
	profile, err := h.conf.Enforcer.ResolveBinding(transport.Queue)
	if err != nil {
		return err
	}
	addr, err := address.Join(transport.Queue, base, c)
	if err != nil {
		return err
	}
	h.addEndpointUnsafe(endpoint.Endpoint{
		Contract: c,
		Kind:     transport.Queue,
		Address:  addr,
		Base:     base,
		Binding:  profile,
	})
	return nil
}

func (h *Host) setStateUnsafe(s State) {
	h.state = s
	metrics.RecordHostState(h.Kind(), s.String())
}

func (h *Host) openTimeout() time.Duration {
	var timeout time.Duration
	for _, ep := range h.endpoints {
		if ep.Binding.OpenTimeout > timeout {
			timeout = ep.Binding.OpenTimeout
		}
	}
	return timeout
}

func (h *Host) closeTimeout() time.Duration {
	var timeout time.Duration
	for _, ep := range h.endpoints {
		if ep.Binding.CloseTimeout > timeout {
			timeout = ep.Binding.CloseTimeout
		}
	}
	return timeout
}

// Open starts listening on every endpoint. On failure every listener already
// started is released and the host is left Faulted.
func (h *Host) Open(ctx context.Context) error {
	h.mu.Lock()
	if h.state != Created {
		state := h.state
		h.mu.Unlock()
		return fmt.Errorf("%w: cannot open in state %s", ErrInvalidState, state)
	}
	h.setStateUnsafe(Opening)
	timeout := h.openTimeout()
	h.mu.Unlock()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	servers, err := h.open(ctx)

	h.mu.Lock()
	defer h.mu.Unlock()

	if err != nil {
		for _, s := range servers {
			s.Close()
		}
		h.setStateUnsafe(Faulted)
		h.logError(fmt.Sprintf("Failed to open %s: %v", h.svc.Name, err))
		return err
	}

	h.servers = servers
	h.listening = true
	h.setStateUnsafe(Opened)
	metrics.AddHostEndpoints(h.Kind(), len(h.endpoints))
	h.logInfo(fmt.Sprintf("Opened %s with %d endpoints", h.svc.Name, len(h.endpoints)))
	return nil
}

func (h *Host) open(ctx context.Context) ([]*rpc.Server, error) {
	if err := h.conf.Strategy.BeforeOpen(ctx, h); err != nil {
		return nil, err
	}

	var servers []*rpc.Server
	for _, g := range endpoint.GroupByBase(h.Endpoints()) {
		if err := ctx.Err(); err != nil {
			return servers, fmt.Errorf("open %s: %w", g.Base, err)
		}

		st, err := h.conf.Factory.Listener(g.Base, g.Binding)
		if err != nil {
			return servers, err
		}
		server := rpc.NewServer(rpc.ServerConfig{
			Transport:  st,
			Limits:     endpoint.LimitsFor(g.Binding),
			ErrHandler: h.serveError,
			Logger:     h.conf.Logger,
		})
		for _, ep := range g.Endpoints {
			if err := server.RegisterEndpoint(ep.Path(), h.handlerFor(ep)); err != nil {
				server.Close()
				return servers, err
			}
		}
		if err := server.Listen(); err != nil {
			server.Close()
			return servers, fmt.Errorf("listen on %s: %w", g.Base, err)
		}
		servers = append(servers, server)
		go server.Serve()
	}

	if err := ctx.Err(); err != nil {
		return servers, err
	}
	return servers, nil
}

func (h *Host) serveError(err error) {
	if errors.Is(err, nats.ErrPoisonMessage) {
		h.mu.Lock()
		if h.state == Opened {
			h.setStateUnsafe(Faulted)
		}
		h.mu.Unlock()
	}
	if h.conf.ErrHandler != nil {
		h.conf.ErrHandler(err)
	}
}

// Close shuts every listener down within the CloseTimeout. A faulted host
// cannot be closed; abort it instead.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	switch h.state {
	case Closed:
		h.mu.Unlock()
		return nil
	case Faulted:
		h.mu.Unlock()
		return ErrHostFaulted
	case Created:
		h.setStateUnsafe(Closed)
		h.mu.Unlock()
		return nil
	case Opened:
	default:
		state := h.state
		h.mu.Unlock()
		return fmt.Errorf("%w: cannot close in state %s", ErrInvalidState, state)
	}
	h.setStateUnsafe(Closing)
	servers := h.servers
	h.servers = nil
	timeout := h.closeTimeout()
	h.mu.Unlock()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var err error
	for _, s := range servers {
		err = multierr.Append(err, s.Shutdown(ctx))
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.releaseUnsafe()
	if err != nil {
		h.setStateUnsafe(Faulted)
		h.logError(fmt.Sprintf("Failed to close %s: %v", h.svc.Name, err))
		return err
	}
	h.setStateUnsafe(Closed)
	h.logInfo(fmt.Sprintf("Closed %s", h.svc.Name))
	return nil
}

// Abort releases every listener without waiting and leaves the host Closed.
func (h *Host) Abort() {
	h.mu.Lock()
	servers := h.servers
	h.servers = nil
	h.releaseUnsafe()
	if h.state != Closed {
		h.setStateUnsafe(Closed)
	}
	h.mu.Unlock()

	for _, s := range servers {
		if err := s.Close(); err != nil {
			h.logDebug("Abort: " + err.Error())
		}
	}
}

func (h *Host) releaseUnsafe() {
	if h.listening {
		h.listening = false
		metrics.AddHostEndpoints(h.Kind(), -len(h.endpoints))
	}
}

func (h *Host) handlerFor(ep endpoint.Endpoint) rpc.Handler {
	if ep.Contract == contract.Metadata {
		return h.metadataHandler
	}
	c := ep.Contract
	return func(ctx context.Context, method string, payload []byte) ([]byte, error) {
		if h.conf.Behavior.Concurrency == ConcurrencySingle {
			h.dispatchMu.Lock()
			defer h.dispatchMu.Unlock()
		}
		return h.instance().Handle(ctx, c, method, payload)
	}
}

func (h *Host) instance() Handler {
	if h.conf.Behavior.Instancing == InstancingPerCall && h.svc.New != nil {
		return h.svc.New()
	}
	if h.svc.Handler != nil {
		return h.svc.Handler
	}
	h.singleOnce.Do(func() {
		h.single = h.svc.New()
	})
	return h.single
}

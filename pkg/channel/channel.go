// Package channel opens client channels to hosted services and guarantees
// that every channel is closed or aborted once its unit of work ends.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kbirk/svchost/pkg/address"
	"github.com/kbirk/svchost/pkg/binding"
	"github.com/kbirk/svchost/pkg/contract"
	"github.com/kbirk/svchost/pkg/endpoint"
	"github.com/kbirk/svchost/pkg/log"
	"github.com/kbirk/svchost/pkg/metrics"
	"github.com/kbirk/svchost/pkg/rpc"
	"github.com/kbirk/svchost/pkg/transport"
)

var (
	// ErrChannelFault marks failures that left the channel itself broken.
	ErrChannelFault    = errors.New("channel faulted")
	ErrChannelConsumed = errors.New("channel already used")
	ErrOneWayOnly      = errors.New("queued channels only accept one-way sends")
)

type State int

const (
	Created State = iota
	Open
	Closed
	Faulted
	Aborted
)

func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case Open:
		return "Open"
	case Closed:
		return "Closed"
	case Faulted:
		return "Faulted"
	case Aborted:
		return "Aborted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Conn is the transport connection behind a channel. *rpc.Client satisfies
// it.
type Conn interface {
	Connect(ctx context.Context) error
	Invoke(ctx context.Context, path string, method string, payload []byte) ([]byte, error)
	Send(ctx context.Context, path string, method string, payload []byte) error
	Close(ctx context.Context) error
	Abort()
	Faulted() bool
}

// Dialer creates the connection for an endpoint address.
type Dialer interface {
	Dial(address string, p *binding.Profile) (Conn, error)
}

// FactoryDialer dials rpc clients over the transports of an endpoint
// factory.
type FactoryDialer struct {
	Factory *endpoint.Factory
	Logger  log.Logger
}

func (d FactoryDialer) Dial(address string, p *binding.Profile) (Conn, error) {
	ct, err := d.Factory.Dialer(address, p)
	if err != nil {
		return nil, err
	}
	return rpc.NewClient(rpc.ClientConfig{
		Transport: ct,
		Limits:    endpoint.LimitsFor(p),
		Logger:    d.Logger,
	}), nil
}

// Channel is what a unit of work sees of its client.
type Channel interface {
	Invoke(ctx context.Context, method string, payload []byte) ([]byte, error)
	Send(ctx context.Context, method string, payload []byte) error
	Address() string
	Contract() contract.Descriptor
	State() State
}

type Config struct {
	Enforcer *binding.Enforcer
	Resolver *address.Resolver
	Factory  *endpoint.Factory
	// Dialer defaults to a FactoryDialer over Factory.
	Dialer Dialer
	Logger log.Logger
}

// Client holds one channel for one unit of work.
type Client struct {
	conf     Config
	kind     transport.Kind
	contract contract.Descriptor
	address  string
	path     string
	profile  *binding.Profile
	conn     Conn

	mu       sync.Mutex
	state    State
	consumed bool
}

// New resolves the binding and address of c for kind and opens the channel.
// An empty base uses the resolver's base address for kind.
func New(kind transport.Kind, base string, c contract.Descriptor, conf Config) (*Client, error) {
	if conf.Enforcer == nil {
		conf.Enforcer = binding.Default()
	}
	if conf.Resolver == nil {
		conf.Resolver = address.NewResolver(address.ResolverConfig{})
	}
	if conf.Factory == nil {
		conf.Factory = endpoint.NewFactory(endpoint.FactoryConfig{Logger: conf.Logger})
	}
	if conf.Dialer == nil {
		conf.Dialer = FactoryDialer{Factory: conf.Factory, Logger: conf.Logger}
	}

	profile, err := conf.Enforcer.ResolveBinding(kind)
	if err != nil {
		return nil, err
	}
	if base == "" {
		base, err = conf.Resolver.BaseAddress(kind)
		if err != nil {
			return nil, err
		}
	}
	addr, err := address.Join(kind, base, c)
	if err != nil {
		return nil, err
	}

	conn, err := conf.Dialer.Dial(addr, profile)
	if err != nil {
		return nil, err
	}

	client := &Client{
		conf:     conf,
		kind:     kind,
		contract: c,
		address:  addr,
		path:     endpoint.PathOf(addr),
		profile:  profile,
		conn:     conn,
		state:    Created,
	}
	if err := client.open(); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Client) logDebug(msg string) {
	if c.conf.Logger != nil {
		c.conf.Logger.Debug(msg)
	}
}

func (c *Client) logWarn(msg string) {
	if c.conf.Logger != nil {
		c.conf.Logger.Warn(msg)
	}
}

func (c *Client) open() error {
	ctx := context.Background()
	if c.profile.OpenTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.profile.OpenTimeout)
		defer cancel()
	}
	if err := c.conn.Connect(ctx); err != nil {
		c.abort()
		return fmt.Errorf("open channel to %s: %w", c.address, err)
	}
	c.setState(Open)
	c.logDebug(fmt.Sprintf("Opened channel to %s", c.address))
	return nil
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) Kind() transport.Kind {
	return c.kind
}

func (c *Client) Address() string {
	return c.address
}

func (c *Client) Contract() contract.Descriptor {
	return c.contract
}

func (c *Client) Binding() *binding.Profile {
	return c.profile
}

// State reports Faulted for an open channel whose connection broke.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Open && c.conn.Faulted() {
		return Faulted
	}
	return c.state
}

func (c *Client) Invoke(ctx context.Context, method string, payload []byte) ([]byte, error) {
	if c.kind == transport.Queue {
		return nil, ErrOneWayOnly
	}
	return c.conn.Invoke(ctx, c.path, method, payload)
}

func (c *Client) Send(ctx context.Context, method string, payload []byte) error {
	return c.conn.Send(ctx, c.path, method, payload)
}

func (c *Client) close(ctx context.Context) error {
	if err := c.conn.Close(ctx); err != nil {
		return err
	}
	c.setState(Closed)
	return nil
}

func (c *Client) abort() {
	c.conn.Abort()
	c.setState(Aborted)
}

func (c *Client) consume() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.consumed {
		return false
	}
	c.consumed = true
	return true
}

// Call runs work against the channel, then closes the channel if work
// succeeded and the channel is healthy, and aborts it otherwise. A client
// serves exactly one call.
func (c *Client) Call(ctx context.Context, work func(ctx context.Context, ch Channel) error) (err error) {
	if !c.consume() {
		return ErrChannelConsumed
	}

	start := time.Now()
	success := false
	defer func() {
		r := recover()
		if r == nil && success && c.State() != Faulted {
			if cerr := c.close(ctx); cerr != nil {
				c.logWarn(fmt.Sprintf("Close of %s failed, aborting: %v", c.address, cerr))
				c.abort()
				err = fmt.Errorf("%w: %w", ErrChannelFault, cerr)
			}
		} else {
			c.abort()
		}
		outcome := "closed"
		if c.State() == Aborted {
			outcome = "aborted"
		}
		metrics.RecordChannelCall(c.kind, outcome, time.Since(start))
		if r != nil {
			panic(r)
		}
	}()

	err = work(ctx, c)
	if err != nil {
		if c.State() == Faulted {
			return fmt.Errorf("%w: %w", ErrChannelFault, err)
		}
		return err
	}
	success = true
	return nil
}

// Abort releases an unused channel.
func (c *Client) Abort() {
	if c.consume() {
		c.abort()
	}
}

// CallResult runs work through client.Call and returns its result.
func CallResult[T any](ctx context.Context, client *Client, work func(ctx context.Context, ch Channel) (T, error)) (T, error) {
	var result T
	err := client.Call(ctx, func(ctx context.Context, ch Channel) error {
		v, err := work(ctx, ch)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

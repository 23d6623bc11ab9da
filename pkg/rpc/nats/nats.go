// Package nats carries one-way requests over NATS JetStream work queues.
// Each endpoint path maps onto a queue triple; the primary stream is consumed
// by a durable queue group and failed messages are retried in cycles before
// being moved to the poison queue.
package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kbirk/svchost/pkg/queue"
	"github.com/kbirk/svchost/pkg/rpc"
)

const (
	HeaderRejectReason = "Svchost-Reject-Reason"
	HeaderDeliveries   = "Svchost-Deliveries"
)

var ErrPoisonMessage = errors.New("poison message")

// PoisonHandling selects what happens to a message that failed every retry
// cycle.
type PoisonHandling int

const (
	// PoisonMove publishes the message to the poison queue.
	PoisonMove PoisonHandling = iota
	// PoisonDrop discards the message.
	PoisonDrop
	// PoisonFault leaves the message on the queue and reports
	// ErrPoisonMessage to the server.
	PoisonFault
)

// RetryPolicy bounds redelivery of failed messages.
type RetryPolicy struct {
	ReceiveRetryCount int
	MaxRetryCycles    int
	RetryCycleDelay   time.Duration
	Poison            PoisonHandling
}

// MaxDeliveries is the total number of delivery attempts before a message is
// poisoned.
func (p RetryPolicy) MaxDeliveries() int {
	return p.perCycle() * (p.MaxRetryCycles + 1)
}

func (p RetryPolicy) perCycle() int {
	return p.ReceiveRetryCount + 1
}

// QueueNames returns the queue triple served at an endpoint path. The last
// path segment is the contract name.
func QueueNames(path string) queue.Triple {
	path = rpc.NormalizePath(path)
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	return queue.Names(path)
}

// ServerTransport implements EndpointAwareTransport for JetStream
type ServerTransport struct {
	conf   ServerTransportConfig
	nc     *nats.Conn
	js     nats.JetStreamContext
	paths  []string
	subs   []*nats.Subscription
	connCh chan rpc.Connection
	done   chan struct{}
	mu     *sync.Mutex
	closed bool
}

type ServerTransportConfig struct {
	URL string
	// Conn reuses an existing connection; it is not closed by Close.
	Conn           *nats.Conn
	MaxMessageSize int64
	AckWait        time.Duration
	Retry          RetryPolicy
}

func NewServerTransport(config ServerTransportConfig) *ServerTransport {
	if config.URL == "" {
		config.URL = nats.DefaultURL
	}
	return &ServerTransport{
		conf:   config,
		connCh: make(chan rpc.Connection, 100),
		done:   make(chan struct{}),
		mu:     &sync.Mutex{},
	}
}

func (t *ServerTransport) RegisterEndpoint(path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.paths = append(t.paths, path)
	if t.js == nil {
		// subscribed when Listen() is called
		return nil
	}
	return t.subscribe(path)
}

func (t *ServerTransport) subscribe(path string) error {
	names := QueueNames(path)
	subject := queue.Subject(names.Primary)
	durable := queue.StreamName(names.Primary)

	opts := []nats.SubOpt{
		nats.Durable(durable),
		nats.BindStream(durable),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.MaxDeliver(t.conf.Retry.MaxDeliveries()),
	}
	if t.conf.AckWait > 0 {
		opts = append(opts, nats.AckWait(t.conf.AckWait))
	}

	sub, err := t.js.QueueSubscribe(subject, durable, func(msg *nats.Msg) {
		conn := &queueConnection{
			transport: t,
			msg:       msg,
			names:     names,
			settled:   make(chan struct{}),
		}
		select {
		case t.connCh <- conn:
		case <-t.done:
			// left unacknowledged, redelivered after AckWait
		}
	}, opts...)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", subject, err)
	}

	t.subs = append(t.subs, sub)
	return nil
}

func (t *ServerTransport) Listen() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return rpc.ErrTransportClosed
	}
	if t.js != nil {
		return fmt.Errorf("transport is already listening")
	}

	nc := t.conf.Conn
	if nc == nil {
		var err error
		nc, err = nats.Connect(t.conf.URL, nats.Name("svchost-queue-listener"))
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		t.nc = nc
	}

	js, err := nc.JetStream()
	if err != nil {
		t.closeConnUnsafe()
		return fmt.Errorf("failed to open JetStream context: %w", err)
	}
	t.js = js

	for _, path := range t.paths {
		if err := t.subscribe(path); err != nil {
			t.unsubscribeUnsafe()
			t.js = nil
			t.closeConnUnsafe()
			return err
		}
	}

	return nil
}

func (t *ServerTransport) Accept() (rpc.Connection, error) {
	select {
	case conn := <-t.connCh:
		return conn, nil
	case <-t.done:
		return nil, rpc.ErrTransportClosed
	}
}

func (t *ServerTransport) unsubscribeUnsafe() error {
	var err error
	for _, sub := range t.subs {
		// Unsubscribe keeps the durable consumer for the next listener.
		if uerr := sub.Unsubscribe(); uerr != nil && !errors.Is(uerr, nats.ErrConnectionClosed) && err == nil {
			err = uerr
		}
	}
	t.subs = nil
	return err
}

func (t *ServerTransport) closeConnUnsafe() {
	if t.nc != nil {
		t.nc.Close()
		t.nc = nil
	}
}

func (t *ServerTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	close(t.done)

	err := t.unsubscribeUnsafe()
	t.closeConnUnsafe()
	return err
}

func (t *ServerTransport) publish(subject string, msg *nats.Msg, reason string) error {
	out := nats.NewMsg(subject)
	out.Data = msg.Data
	for k, v := range msg.Header {
		out.Header[k] = v
	}
	if reason != "" {
		out.Header.Set(HeaderRejectReason, reason)
	}
	if meta, err := msg.Metadata(); err == nil {
		out.Header.Set(HeaderDeliveries, fmt.Sprint(meta.NumDelivered))
	}

	t.mu.Lock()
	js := t.js
	t.mu.Unlock()
	if js == nil {
		return rpc.ErrTransportClosed
	}
	_, err := js.PublishMsg(out)
	return err
}

// queueConnection carries exactly one queued message.
type queueConnection struct {
	transport *ServerTransport
	msg       *nats.Msg
	names     queue.Triple
	mu        sync.Mutex
	received  bool
	settled   chan struct{}
	done      bool
}

func (c *queueConnection) Receive() ([]byte, error) {
	c.mu.Lock()
	if !c.received {
		c.received = true
		c.mu.Unlock()
		if err := rpc.CheckMessageSize(len(c.msg.Data), c.transport.conf.MaxMessageSize); err != nil {
			return nil, err
		}
		return c.msg.Data, nil
	}
	c.mu.Unlock()

	<-c.settled
	return nil, rpc.ErrConnectionClosed
}

// Send settles the message: queued requests have no reply path.
func (c *queueConnection) Send(data []byte) error {
	return c.Ack()
}

func (c *queueConnection) settle(fn func() error) error {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return nil
	}
	c.done = true
	c.mu.Unlock()

	defer close(c.settled)
	return fn()
}

func (c *queueConnection) Ack() error {
	return c.settle(func() error {
		return c.msg.Ack()
	})
}

func (c *queueConnection) Nak() error {
	return c.settle(func() error {
		retry := c.transport.conf.Retry
		meta, err := c.msg.Metadata()
		if err != nil {
			return c.msg.Nak()
		}
		delivered := int(meta.NumDelivered)
		switch {
		case delivered >= retry.MaxDeliveries():
			return c.poison()
		case delivered%retry.perCycle() == 0:
			return c.msg.NakWithDelay(retry.RetryCycleDelay)
		default:
			return c.msg.Nak()
		}
	})
}

func (c *queueConnection) poison() error {
	switch c.transport.conf.Retry.Poison {
	case PoisonDrop:
		return c.msg.Term()
	case PoisonFault:
		return fmt.Errorf("%w: %s", ErrPoisonMessage, c.names.Primary)
	default:
		if err := c.transport.publish(queue.Subject(c.names.Poison), c.msg, ""); err != nil {
			c.msg.Nak()
			return fmt.Errorf("failed to move message to %s: %w", c.names.Poison, err)
		}
		return c.msg.Term()
	}
}

// Reject moves an unprocessable message to the dead-letter queue.
func (c *queueConnection) Reject(reason error) error {
	return c.settle(func() error {
		msg := ""
		if reason != nil {
			msg = reason.Error()
		}
		if err := c.transport.publish(queue.Subject(c.names.DeadLetter), c.msg, msg); err != nil {
			c.msg.Nak()
			return fmt.Errorf("failed to move message to %s: %w", c.names.DeadLetter, err)
		}
		return c.msg.Term()
	})
}

func (c *queueConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.done {
		// unsettled messages are redelivered
		c.done = true
		close(c.settled)
	}
	return nil
}

// ClientTransport publishes to the primary queue of one endpoint.
type ClientTransport struct {
	conf ClientTransportConfig
}

type ClientTransportConfig struct {
	URL string
	// Conn reuses an existing connection; it is not closed by the
	// connections this transport creates.
	Conn           *nats.Conn
	Path           string
	MaxMessageSize int64
}

func NewClientTransport(config ClientTransportConfig) *ClientTransport {
	if config.URL == "" {
		config.URL = nats.DefaultURL
	}
	return &ClientTransport{conf: config}
}

func (t *ClientTransport) Subject() string {
	return queue.Subject(QueueNames(t.conf.Path).Primary)
}

func (t *ClientTransport) Connect(ctx context.Context) (rpc.Connection, error) {
	nc := t.conf.Conn
	owned := false
	if nc == nil {
		opts := []nats.Option{nats.Name("svchost-queue-client")}
		if deadline, ok := ctx.Deadline(); ok {
			opts = append(opts, nats.Timeout(time.Until(deadline)))
		}
		var err error
		nc, err = nats.Connect(t.conf.URL, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		owned = true
	}

	js, err := nc.JetStream()
	if err != nil {
		if owned {
			nc.Close()
		}
		return nil, fmt.Errorf("failed to open JetStream context: %w", err)
	}

	return &publishConnection{
		nc:             nc,
		owned:          owned,
		js:             js,
		subject:        t.Subject(),
		maxMessageSize: t.conf.MaxMessageSize,
		closed:         make(chan struct{}),
	}, nil
}

type publishConnection struct {
	nc             *nats.Conn
	owned          bool
	js             nats.JetStreamContext
	subject        string
	maxMessageSize int64
	closeOnce      sync.Once
	closed         chan struct{}
}

func (c *publishConnection) Send(data []byte) error {
	if err := rpc.CheckMessageSize(len(data), c.maxMessageSize); err != nil {
		return err
	}
	select {
	case <-c.closed:
		return rpc.ErrConnectionClosed
	default:
	}
	_, err := c.js.Publish(c.subject, data)
	return err
}

// Receive blocks until the connection is closed; queued requests have no
// responses.
func (c *publishConnection) Receive() ([]byte, error) {
	<-c.closed
	return nil, rpc.ErrConnectionClosed
}

func (c *publishConnection) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.owned {
			c.nc.Close()
		}
	})
	return nil
}

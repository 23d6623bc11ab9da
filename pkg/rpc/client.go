package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/kbirk/svchost/pkg/log"
)

var ErrClientClosed = errors.New("client is closed")

// RemoteError is an error returned by the remote handler. The connection
// that carried it is still healthy.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

type Client struct {
	conf      ClientConfig
	mu        *sync.Mutex
	conn      Connection
	transport ClientTransport
	requests  map[uint64]chan *Response
	requestID uint64
	inflight  sync.WaitGroup
	closed    bool
	fault     error
}

type ClientConfig struct {
	Transport  ClientTransport
	Limits     Limits
	ErrHandler func(error)
	Logger     log.Logger
}

func seedRequestID() uint64 {
	return uint64(rand.Uint32())<<32 + uint64(rand.Uint32())
}

func NewClient(conf ClientConfig) *Client {
	return &Client{
		conf:      conf,
		transport: conf.Transport,
		mu:        &sync.Mutex{},
		requestID: seedRequestID(),
		requests:  make(map[uint64]chan *Response),
	}
}

// handleError faults the client: the connection is dropped and every pending
// request fails.
func (c *Client) handleError(err error) error {

	c.logError("Encountered error: " + err.Error())
	if c.conf.ErrHandler != nil {
		c.conf.ErrHandler(err)
	}

	c.mu.Lock()
	if c.fault == nil {
		c.fault = err
	}
	conn := c.conn
	c.conn = nil
	requests := c.requests
	c.requests = make(map[uint64]chan *Response)
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	for _, ch := range requests {
		close(ch)
	}

	return err
}

func (c *Client) logDebug(msg string) {
	if c.conf.Logger != nil {
		c.conf.Logger.Debug(msg)
	}
}

func (c *Client) logError(msg string) {
	if c.conf.Logger != nil {
		c.conf.Logger.Error(msg)
	}
}

// Faulted reports whether the connection failed. A faulted client must be
// aborted.
func (c *Client) Faulted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fault != nil
}

// Connect opens the connection within the OpenTimeout.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectUnsafe(ctx)
}

func (c *Client) connectUnsafe(ctx context.Context) error {
	if c.closed {
		return ErrClientClosed
	}
	if c.fault != nil {
		return fmt.Errorf("client faulted: %w", c.fault)
	}
	if c.conn != nil {
		return nil
	}

	if c.conf.Limits.OpenTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.conf.Limits.OpenTimeout)
		defer cancel()
	}

	c.logDebug("Connecting to server")
	conn, err := c.transport.Connect(ctx)
	if err != nil {
		return err
	}
	c.conn = conn

	go c.receiveLoop(conn)

	return nil
}

func (c *Client) receiveLoop(conn Connection) {
	for {
		bs, err := conn.Receive()
		if err != nil {
			c.mu.Lock()
			current := c.conn == conn
			c.mu.Unlock()
			// released by Close or Abort
			if !current {
				return
			}
			c.handleError(err)
			return
		}

		if err := c.conf.Limits.CheckMessageSize(len(bs)); err != nil {
			c.handleError(err)
			return
		}

		resp, err := DecodeResponse(bs)
		if err != nil {
			c.handleError(err)
			return
		}

		c.mu.Lock()
		ch, ok := c.requests[resp.ID]
		delete(c.requests, resp.ID)
		c.mu.Unlock()

		if !ok {
			// the caller gave up on this request
			c.logDebug(fmt.Sprintf("Dropping response for unknown request id: %d", resp.ID))
			continue
		}

		ch <- resp
	}
}

func (c *Client) nextRequestID() uint64 {
	id := c.requestID
	c.requestID++
	return id
}

func (c *Client) send(ctx context.Context, path string, method string, payload []byte, oneWay bool) (uint64, chan *Response, error) {
	c.mu.Lock()

	if err := c.connectUnsafe(ctx); err != nil {
		c.mu.Unlock()
		return 0, nil, err
	}

	req := &Request{
		Metadata: GetMetadataFromContext(ctx),
		ID:       c.nextRequestID(),
		Path:     path,
		Method:   method,
		OneWay:   oneWay,
		Payload:  payload,
	}
	if deadline, ok := ctx.Deadline(); ok {
		req.Deadline = deadline
	}
	bs := req.ToBytes()
	if err := c.conf.Limits.CheckMessageSize(len(bs)); err != nil {
		c.mu.Unlock()
		return 0, nil, err
	}

	var ch chan *Response
	if !oneWay {
		ch = make(chan *Response, 1)
		c.requests[req.ID] = ch
	}

	err := c.conn.Send(bs)
	if err != nil {
		delete(c.requests, req.ID)
		c.mu.Unlock()
		return 0, nil, c.handleError(err)
	}

	c.mu.Unlock()
	return req.ID, ch, nil
}

func (c *Client) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	c.inflight.Add(1)
	return nil
}

// Invoke sends a request and waits for its response, the ReceiveTimeout or
// ctx, whichever comes first.
func (c *Client) Invoke(ctx context.Context, path string, method string, payload []byte) ([]byte, error) {
	if err := c.begin(); err != nil {
		return nil, err
	}
	defer c.inflight.Done()

	if c.conf.Limits.ReceiveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.conf.Limits.ReceiveTimeout)
		defer cancel()
	}

	id, ch, err := c.send(ctx, path, method, payload, false)
	if err != nil {
		return nil, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			c.mu.Lock()
			fault := c.fault
			c.mu.Unlock()
			if fault == nil {
				fault = ErrConnectionClosed
			}
			return nil, fmt.Errorf("request %s.%s failed: %w", path, method, fault)
		}
		if resp.Type == ErrorResponse {
			return nil, &RemoteError{Message: resp.Err}
		}
		return resp.Payload, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.requests, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("request %s.%s: %w", path, method, ctx.Err())
	}
}

// Send delivers a one-way request.
func (c *Client) Send(ctx context.Context, path string, method string, payload []byte) error {
	if err := c.begin(); err != nil {
		return err
	}
	defer c.inflight.Done()

	_, _, err := c.send(ctx, path, method, payload, true)
	return err
}

// Close waits for in-flight requests, bounded by ctx and the CloseTimeout,
// then closes the connection. If the wait expires the client is aborted and
// the timeout returned.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.conf.Limits.CloseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.conf.Limits.CloseTimeout)
		defer cancel()
	}

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		c.Abort()
		return fmt.Errorf("close: %w", ctx.Err())
	}

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil && !errors.Is(err, ErrConnectionClosed) {
		return err
	}
	return nil
}

// Abort drops the connection immediately and fails every pending request.
func (c *Client) Abort() {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	requests := c.requests
	c.requests = make(map[uint64]chan *Response)
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	for _, ch := range requests {
		close(ch)
	}
}

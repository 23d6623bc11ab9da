package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"github.com/kbirk/svchost/pkg/log"
)

var ErrEndpointNotFound = errors.New("endpoint not found")

type Server struct {
	conf       ServerConfig
	transport  ServerTransport
	handlers   map[string]Handler
	middleware []Middleware
	conns      map[Connection]struct{}
	inflight   sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	listening  bool
	running    bool
	mu         *sync.Mutex
}

type ServerConfig struct {
	Transport  ServerTransport
	Limits     Limits
	ErrHandler func(error)
	Logger     log.Logger
}

func NewServer(conf ServerConfig) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		conf:      conf,
		transport: conf.Transport,
		handlers:  make(map[string]Handler),
		conns:     make(map[Connection]struct{}),
		ctx:       ctx,
		cancel:    cancel,
		mu:        &sync.Mutex{},
	}
}

func (s *Server) handleError(err error) {
	if errors.Is(err, ErrConnectionClosed) {
		s.logDebug("Client disconnected")
		return
	}
	s.logError("Encountered error: " + err.Error())
	if s.conf.ErrHandler != nil {
		s.conf.ErrHandler(err)
	}
}

func (s *Server) logDebug(msg string) {
	if s.conf.Logger != nil {
		s.conf.Logger.Debug(msg)
	}
}

func (s *Server) logInfo(msg string) {
	if s.conf.Logger != nil {
		s.conf.Logger.Info(msg)
	}
}

func (s *Server) logWarn(msg string) {
	if s.conf.Logger != nil {
		s.conf.Logger.Warn(msg)
	}
}

func (s *Server) logError(msg string) {
	if s.conf.Logger != nil {
		s.conf.Logger.Error(msg)
	}
}

// RegisterEndpoint routes requests addressed to path to handler.
func (s *Server) RegisterEndpoint(path string, handler Handler) error {
	path = NormalizePath(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.handlers[path]; ok {
		return fmt.Errorf("endpoint %q already registered", path)
	}
	if eat, ok := s.transport.(EndpointAwareTransport); ok {
		if err := eat.RegisterEndpoint(path); err != nil {
			return fmt.Errorf("failed to register endpoint %s with transport: %w", path, err)
		}
	}
	s.handlers[path] = handler
	return nil
}

func (s *Server) Middleware(m Middleware) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.middleware = append(s.middleware, m)
}

func (s *Server) Endpoints() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.handlers))
	for path := range s.handlers {
		paths = append(paths, path)
	}
	return paths
}

func (s *Server) lookup(path string) (Handler, []Middleware, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handlers[NormalizePath(path)]
	return h, s.middleware, ok
}

func (s *Server) track(conn Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// begin registers an in-flight request unless the server is shutting down.
func (s *Server) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	s.inflight.Add(1)
	return true
}

func (s *Server) handleConnection(conn Connection) {
	if !s.track(conn) {
		conn.Close()
		return
	}
	defer func() {
		s.untrack(conn)
		conn.Close()
	}()

	for {
		bs, err := conn.Receive()
		if err != nil {
			s.handleError(err)
			if errors.Is(err, ErrMessageTooLarge) {
				s.reject(conn, err)
			}
			return
		}

		req, err := DecodeRequest(bs, s.conf.Limits)
		if err != nil {
			s.handleError(err)
			s.reject(conn, err)
			// a stream cannot be resynchronised after a bad frame
			return
		}

		if !s.begin() {
			return
		}
		go func() {
			defer s.inflight.Done()
			s.handleRequest(conn, req)
		}()
	}
}

func (s *Server) handleRequest(conn Connection, req *Request) {
	handler, middleware, ok := s.lookup(req.Path)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrEndpointNotFound, req.Path)
		s.logWarn(err.Error())
		if req.OneWay {
			s.settle(conn, err, true)
			return
		}
		if err := conn.Send(RespondWithError(req.ID, err)); err != nil {
			s.handleError(err)
		}
		return
	}

	ctx := s.ctx
	if len(req.Metadata) > 0 {
		ctx = NewContextWithMetadata(ctx, req.Metadata)
	}
	if !req.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}

	payload, err := ApplyHandlerChain(ctx, req.Method, req.Payload, middleware, handler)

	if req.OneWay {
		s.settle(conn, err, false)
		return
	}

	var bs []byte
	if err != nil {
		bs = RespondWithError(req.ID, err)
	} else {
		bs = RespondWithMessage(req.ID, payload)
	}
	if err := conn.Send(bs); err != nil {
		s.handleError(err)
	}
}

// reject settles a message that can never be handled on transports that
// support it.
func (s *Server) reject(conn Connection, reason error) {
	ack, ok := conn.(Acknowledger)
	if !ok {
		return
	}
	if err := ack.Reject(reason); err != nil {
		s.handleError(err)
	}
}

// settle acknowledges a one-way request on transports that support it.
func (s *Server) settle(conn Connection, err error, unroutable bool) {
	ack, ok := conn.(Acknowledger)
	if !ok {
		if err != nil {
			s.logWarn("One-way request failed: " + err.Error())
		}
		return
	}
	var settleErr error
	switch {
	case unroutable:
		settleErr = ack.Reject(err)
	case err != nil:
		s.logWarn("One-way request failed: " + err.Error())
		settleErr = ack.Nak()
	default:
		settleErr = ack.Ack()
	}
	if settleErr != nil {
		s.handleError(settleErr)
	}
}

// Listen starts the transport without accepting connections.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listening {
		return fmt.Errorf("server is already listening")
	}
	if err := s.transport.Listen(); err != nil {
		return err
	}
	s.listening = true
	s.running = true
	return nil
}

// Serve accepts connections until the transport is closed.
func (s *Server) Serve() error {
	s.mu.Lock()
	if !s.listening {
		s.mu.Unlock()
		return fmt.Errorf("server is not listening")
	}
	s.mu.Unlock()

	s.logInfo("Starting server")

	for {
		conn, err := s.transport.Accept()
		if err != nil {
			if errors.Is(err, ErrTransportClosed) {
				return nil
			}
			s.mu.Lock()
			running := s.running
			s.mu.Unlock()
			if !running {
				return nil
			}
			s.handleError(err)
			continue
		}

		go s.handleConnection(conn)
	}
}

func (s *Server) ListenAndServe() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Shutdown stops accepting connections and waits for in-flight requests to
// finish before closing every open connection. If ctx expires first the
// remaining requests are cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	err := s.transport.Close()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		err = multierr.Append(err, fmt.Errorf("shutdown: %w", ctx.Err()))
	}

	return multierr.Append(err, s.Close())
}

// Close releases the transport and every connection without waiting.
func (s *Server) Close() error {
	s.mu.Lock()
	s.running = false
	conns := make([]Connection, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.conns = make(map[Connection]struct{})
	s.mu.Unlock()

	s.cancel()

	err := s.transport.Close()
	if errors.Is(err, ErrTransportClosed) {
		err = nil
	}
	for _, conn := range conns {
		if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, ErrConnectionClosed) {
			err = multierr.Append(err, cerr)
		}
	}
	return err
}

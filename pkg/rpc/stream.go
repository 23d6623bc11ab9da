package rpc

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// StreamListener implements ServerTransport over a stream-oriented
// net.Listener. The tcp and unix transports are built on it.
type StreamListener struct {
	conf     StreamListenerConfig
	listener net.Listener
	connCh   chan Connection
	done     chan struct{}
	mu       sync.Mutex
	closed   bool
}

type StreamListenerConfig struct {
	Listen func() (net.Listener, error)
	// Prepare is applied to every accepted connection.
	Prepare        func(net.Conn) error
	MaxMessageSize int64
	Backlog        int
}

func NewStreamListener(conf StreamListenerConfig) *StreamListener {
	if conf.Backlog <= 0 {
		conf.Backlog = 16
	}
	return &StreamListener{
		conf:   conf,
		connCh: make(chan Connection, conf.Backlog),
		done:   make(chan struct{}),
	}
}

func (t *StreamListener) Listen() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrTransportClosed
	}
	if t.listener != nil {
		return fmt.Errorf("transport is already listening")
	}

	l, err := t.conf.Listen()
	if err != nil {
		return err
	}
	t.listener = l

	go t.acceptLoop(l)

	return nil
}

// Addr is the bound address, or nil before Listen.
func (t *StreamListener) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

func (t *StreamListener) acceptLoop(l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if closed {
				return
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if t.conf.Prepare != nil {
			if err := t.conf.Prepare(conn); err != nil {
				conn.Close()
				continue
			}
		}

		select {
		case t.connCh <- NewFramedConnection(conn, t.conf.MaxMessageSize):
		case <-t.done:
			conn.Close()
			return
		}
	}
}

func (t *StreamListener) Accept() (Connection, error) {
	select {
	case conn := <-t.connCh:
		return conn, nil
	case <-t.done:
		return nil, ErrTransportClosed
	}
}

// Close is safe to call more than once.
func (t *StreamListener) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	close(t.done)

	// connections accepted but never handed out
	for {
		select {
		case conn := <-t.connCh:
			conn.Close()
		default:
			if t.listener != nil {
				return t.listener.Close()
			}
			return nil
		}
	}
}

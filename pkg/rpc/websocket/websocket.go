package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kbirk/svchost/pkg/rpc"
)

// Path is the HTTP path the transport upgrades on.
const Path = "/rpc"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// WebSocketConnection implements the Connection interface for WebSocket
type WebSocketConnection struct {
	conn           *websocket.Conn
	mu             *sync.Mutex
	maxMessageSize int64
	closeOnce      sync.Once
	closeErr       error
}

func newConnection(conn *websocket.Conn, maxMessageSize int64) *WebSocketConnection {
	if maxMessageSize > 0 {
		conn.SetReadLimit(maxMessageSize)
	}
	return &WebSocketConnection{
		conn:           conn,
		mu:             &sync.Mutex{},
		maxMessageSize: maxMessageSize,
	}
}

func (c *WebSocketConnection) Send(data []byte) error {
	if err := rpc.CheckMessageSize(len(data), c.maxMessageSize); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.conn.WriteMessage(websocket.BinaryMessage, data)
	if errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, net.ErrClosed) {
		return rpc.ErrConnectionClosed
	}
	return err
}

func (c *WebSocketConnection) Receive() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if errors.Is(err, websocket.ErrReadLimit) {
			return nil, fmt.Errorf("%w: read limit %d", rpc.ErrMessageTooLarge, c.maxMessageSize)
		}
		// Check if this is a normal close error
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
			errors.Is(err, net.ErrClosed) {
			return nil, rpc.ErrConnectionClosed
		}
		return nil, err
	}
	return data, nil
}

func (c *WebSocketConnection) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		// Send a proper close frame before closing the connection
		deadline := time.Now().Add(time.Second)
		err := c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			deadline,
		)

		closeErr := c.conn.Close()
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) && !errors.Is(err, net.ErrClosed) {
			c.closeErr = err
			return
		}
		c.closeErr = closeErr
	})
	return c.closeErr
}

// ServerTransport implements ServerTransport for WebSocket
type ServerTransport struct {
	Host           string
	Port           int
	MaxMessageSize int64
	server         *http.Server
	listener       net.Listener
	connCh         chan rpc.Connection
	done           chan struct{}
	mu             *sync.Mutex
	closed         bool
}

type ServerTransportConfig struct {
	Host           string
	Port           int
	MaxMessageSize int64
}

func NewServerTransport(config ServerTransportConfig) *ServerTransport {
	return &ServerTransport{
		Host:           config.Host,
		Port:           config.Port,
		MaxMessageSize: config.MaxMessageSize,
		connCh:         make(chan rpc.Connection, 16), // buffered channel for connections
		done:           make(chan struct{}),
		mu:             &sync.Mutex{},
	}
}

func (t *ServerTransport) Listen() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return rpc.ErrTransportClosed
	}
	if t.server != nil {
		return fmt.Errorf("transport is already listening")
	}

	l, err := net.Listen("tcp", net.JoinHostPort(t.Host, strconv.Itoa(t.Port)))
	if err != nil {
		return err
	}
	t.listener = l

	mux := http.NewServeMux()
	mux.HandleFunc(Path, t.handleWebSocket)

	t.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go t.server.Serve(l)

	return nil
}

// Addr is the bound address, or nil before Listen.
func (t *ServerTransport) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

func (t *ServerTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	select {
	case t.connCh <- newConnection(conn, t.MaxMessageSize):
	case <-t.done:
		conn.Close()
	}
}

func (t *ServerTransport) Accept() (rpc.Connection, error) {
	select {
	case conn := <-t.connCh:
		return conn, nil
	case <-t.done:
		return nil, rpc.ErrTransportClosed
	}
}

func (t *ServerTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil // Already closed
	}

	t.closed = true
	close(t.done)

	if t.server != nil {
		return t.server.Close()
	}
	return nil
}

// ClientTransport implements ClientTransport for WebSocket
type ClientTransport struct {
	Host           string
	Port           int
	MaxMessageSize int64
}

type ClientTransportConfig struct {
	Host           string
	Port           int
	MaxMessageSize int64
}

func NewClientTransport(config ClientTransportConfig) *ClientTransport {
	return &ClientTransport{
		Host:           config.Host,
		Port:           config.Port,
		MaxMessageSize: config.MaxMessageSize,
	}
}

func (t *ClientTransport) Connect(ctx context.Context) (rpc.Connection, error) {
	u := url.URL{Scheme: "ws", Host: net.JoinHostPort(t.Host, strconv.Itoa(t.Port)), Path: Path}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", u.String(), err)
	}

	return newConnection(conn, t.MaxMessageSize), nil
}

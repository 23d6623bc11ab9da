package tcp

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/kbirk/svchost/pkg/rpc"
)

// setNoDelay sets the TCP_NODELAY option on a TCP connection
func setNoDelay(conn net.Conn, noDelay bool) error {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		return tcpConn.SetNoDelay(noDelay)
	}
	return nil
}

// ServerTransport implements ServerTransport for TCP
type ServerTransport struct {
	*rpc.StreamListener
	Host    string
	Port    int
	NoDelay bool
}

type ServerTransportConfig struct {
	// Host is the interface to bind; empty binds all interfaces.
	Host           string
	Port           int
	NoDelay        bool // Disable Nagle's algorithm for better latency
	MaxMessageSize int64
}

func NewServerTransport(config ServerTransportConfig) *ServerTransport {
	t := &ServerTransport{
		Host:    config.Host,
		Port:    config.Port,
		NoDelay: config.NoDelay,
	}
	t.StreamListener = rpc.NewStreamListener(rpc.StreamListenerConfig{
		Listen: func() (net.Listener, error) {
			return net.Listen("tcp", net.JoinHostPort(t.Host, strconv.Itoa(t.Port)))
		},
		Prepare: func(conn net.Conn) error {
			return setNoDelay(conn, t.NoDelay)
		},
		MaxMessageSize: config.MaxMessageSize,
	})
	return t
}

// ClientTransport implements ClientTransport for TCP
type ClientTransport struct {
	Host           string
	Port           int
	NoDelay        bool
	DialTimeout    time.Duration
	MaxMessageSize int64
}

type ClientTransportConfig struct {
	Host           string
	Port           int
	NoDelay        bool // Disable Nagle's algorithm for better latency
	DialTimeout    time.Duration
	MaxMessageSize int64
}

func NewClientTransport(config ClientTransportConfig) *ClientTransport {
	return &ClientTransport{
		Host:           config.Host,
		Port:           config.Port,
		NoDelay:        config.NoDelay,
		DialTimeout:    config.DialTimeout,
		MaxMessageSize: config.MaxMessageSize,
	}
}

func (t *ClientTransport) Connect(ctx context.Context) (rpc.Connection, error) {
	dialer := net.Dialer{Timeout: t.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(t.Host, strconv.Itoa(t.Port)))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s:%d: %w", t.Host, t.Port, err)
	}

	// Set TCP_NODELAY option
	if err := setNoDelay(conn, t.NoDelay); err != nil {
		conn.Close()
		return nil, err
	}

	return rpc.NewFramedConnection(conn, t.MaxMessageSize), nil
}

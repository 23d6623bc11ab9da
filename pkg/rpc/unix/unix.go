package unix

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/kbirk/svchost/pkg/rpc"
)

// ServerTransport implements ServerTransport for Unix sockets
type ServerTransport struct {
	*rpc.StreamListener
	SocketPath string
	closeOnce  sync.Once
}

type ServerTransportConfig struct {
	SocketPath     string // Path to the Unix socket file
	MaxMessageSize int64
}

func NewServerTransport(config ServerTransportConfig) *ServerTransport {
	t := &ServerTransport{
		SocketPath: config.SocketPath,
	}
	t.StreamListener = rpc.NewStreamListener(rpc.StreamListenerConfig{
		Listen:         t.listen,
		MaxMessageSize: config.MaxMessageSize,
	})
	return t
}

func (t *ServerTransport) listen() (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(t.SocketPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}

	// Remove existing socket file if it exists
	if err := os.RemoveAll(t.SocketPath); err != nil {
		return nil, fmt.Errorf("failed to remove existing socket file: %w", err)
	}

	return net.Listen("unix", t.SocketPath)
}

func (t *ServerTransport) Close() error {
	err := t.StreamListener.Close()

	// Clean up socket file
	t.closeOnce.Do(func() {
		os.RemoveAll(t.SocketPath)
	})

	return err
}

// ClientTransport implements ClientTransport for Unix sockets
type ClientTransport struct {
	SocketPath     string
	MaxMessageSize int64
}

type ClientTransportConfig struct {
	SocketPath     string // Path to the Unix socket file
	MaxMessageSize int64
}

func NewClientTransport(config ClientTransportConfig) *ClientTransport {
	return &ClientTransport{
		SocketPath:     config.SocketPath,
		MaxMessageSize: config.MaxMessageSize,
	}
}

func (t *ClientTransport) Connect(ctx context.Context) (rpc.Connection, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", t.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", t.SocketPath, err)
	}

	return rpc.NewFramedConnection(conn, t.MaxMessageSize), nil
}

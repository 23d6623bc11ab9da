package rpc_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbirk/svchost/pkg/rpc"
	"github.com/kbirk/svchost/pkg/rpc/tcp"
	"github.com/kbirk/svchost/pkg/rpc/unix"
	"github.com/kbirk/svchost/pkg/rpc/websocket"
)

const ordersPath = "Acme.Orders.Services.IOrders"

// TransportFactory creates server and client transports for testing
type TransportFactory interface {
	Name() string
	CreateServerTransport(t testing.TB, limits rpc.Limits) rpc.ServerTransport
	// CreateClientTransport is called after the server transport is listening
	CreateClientTransport(t testing.TB, server rpc.ServerTransport, limits rpc.Limits) rpc.ClientTransport
}

type addrTransport interface {
	Addr() net.Addr
}

func portOf(t testing.TB, server rpc.ServerTransport) int {
	addr, ok := server.(addrTransport)
	require.True(t, ok)
	tcpAddr, ok := addr.Addr().(*net.TCPAddr)
	require.True(t, ok)
	return tcpAddr.Port
}

type tcpFactory struct{}

func (tcpFactory) Name() string { return "tcp" }

func (tcpFactory) CreateServerTransport(t testing.TB, limits rpc.Limits) rpc.ServerTransport {
	return tcp.NewServerTransport(tcp.ServerTransportConfig{
		Host:           "127.0.0.1",
		NoDelay:        true,
		MaxMessageSize: limits.MaxMessageSize,
	})
}

func (tcpFactory) CreateClientTransport(t testing.TB, server rpc.ServerTransport, limits rpc.Limits) rpc.ClientTransport {
	return tcp.NewClientTransport(tcp.ClientTransportConfig{
		Host:           "127.0.0.1",
		Port:           portOf(t, server),
		NoDelay:        true,
		MaxMessageSize: limits.MaxMessageSize,
	})
}

type unixFactory struct{}

func (unixFactory) Name() string { return "unix" }

func (unixFactory) CreateServerTransport(t testing.TB, limits rpc.Limits) rpc.ServerTransport {
	return unix.NewServerTransport(unix.ServerTransportConfig{
		SocketPath:     filepath.Join(t.TempDir(), "rpc.sock"),
		MaxMessageSize: limits.MaxMessageSize,
	})
}

func (unixFactory) CreateClientTransport(t testing.TB, server rpc.ServerTransport, limits rpc.Limits) rpc.ClientTransport {
	return unix.NewClientTransport(unix.ClientTransportConfig{
		SocketPath:     server.(*unix.ServerTransport).SocketPath,
		MaxMessageSize: limits.MaxMessageSize,
	})
}

type websocketFactory struct{}

func (websocketFactory) Name() string { return "websocket" }

func (websocketFactory) CreateServerTransport(t testing.TB, limits rpc.Limits) rpc.ServerTransport {
	return websocket.NewServerTransport(websocket.ServerTransportConfig{
		Host:           "127.0.0.1",
		MaxMessageSize: limits.MaxMessageSize,
	})
}

func (websocketFactory) CreateClientTransport(t testing.TB, server rpc.ServerTransport, limits rpc.Limits) rpc.ClientTransport {
	return websocket.NewClientTransport(websocket.ClientTransportConfig{
		Host:           "127.0.0.1",
		Port:           portOf(t, server),
		MaxMessageSize: limits.MaxMessageSize,
	})
}

var factories = []TransportFactory{tcpFactory{}, unixFactory{}, websocketFactory{}}

func echoHandler(ctx context.Context, method string, payload []byte) ([]byte, error) {
	switch method {
	case "Echo":
		return payload, nil
	case "Metadata":
		return []byte(rpc.GetMetadataFromContext(ctx)["token"]), nil
	case "Fail":
		return nil, fmt.Errorf("unable to process %s", payload)
	case "Block":
		<-ctx.Done()
		return nil, ctx.Err()
	case "Sleep":
		time.Sleep(100 * time.Millisecond)
		return payload, nil
	}
	return nil, fmt.Errorf("unknown method %s", method)
}

type harness struct {
	server *rpc.Server
	client *rpc.Client
}

func start(t testing.TB, f TransportFactory, limits rpc.Limits, handler rpc.Handler) *harness {
	st := f.CreateServerTransport(t, limits)
	server := rpc.NewServer(rpc.ServerConfig{
		Transport: st,
		Limits:    limits,
	})
	require.NoError(t, server.RegisterEndpoint(ordersPath, handler))
	require.NoError(t, server.Listen())
	go server.Serve()

	client := rpc.NewClient(rpc.ClientConfig{
		Transport: f.CreateClientTransport(t, st, limits),
		Limits:    limits,
	})
	t.Cleanup(func() {
		client.Abort()
		server.Close()
	})
	return &harness{server: server, client: client}
}

func TestTransports(t *testing.T) {
	for _, f := range factories {
		f := f
		t.Run(f.Name(), func(t *testing.T) {
			runTransportSuite(t, f)
		})
	}
}

func runTransportSuite(t *testing.T, f TransportFactory) {
	t.Run("Invoke", func(t *testing.T) {
		h := start(t, f, rpc.Limits{}, echoHandler)
		out, err := h.client.Invoke(context.Background(), "/"+ordersPath, "Echo", []byte("ping"))
		require.NoError(t, err)
		assert.Equal(t, []byte("ping"), out)
	})

	t.Run("Metadata", func(t *testing.T) {
		h := start(t, f, rpc.Limits{}, echoHandler)
		ctx := rpc.NewContextWithMetadata(context.Background(), map[string]string{"token": "1234"})
		out, err := h.client.Invoke(ctx, ordersPath, "Metadata", nil)
		require.NoError(t, err)
		assert.Equal(t, "1234", string(out))
	})

	t.Run("RemoteError", func(t *testing.T) {
		h := start(t, f, rpc.Limits{}, echoHandler)
		_, err := h.client.Invoke(context.Background(), ordersPath, "Fail", []byte("order"))
		var remote *rpc.RemoteError
		require.True(t, errors.As(err, &remote))
		assert.Equal(t, "unable to process order", remote.Message)
		assert.False(t, h.client.Faulted())

		_, err = h.client.Invoke(context.Background(), "Acme.Unknown", "Echo", nil)
		require.True(t, errors.As(err, &remote))
		assert.Contains(t, remote.Message, rpc.ErrEndpointNotFound.Error())
	})

	t.Run("Concurrent", func(t *testing.T) {
		h := start(t, f, rpc.Limits{}, echoHandler)
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				msg := []byte(fmt.Sprintf("msg-%d", i))
				out, err := h.client.Invoke(context.Background(), ordersPath, "Echo", msg)
				assert.NoError(t, err)
				assert.Equal(t, msg, out)
			}(i)
		}
		wg.Wait()
	})

	t.Run("ReceiveTimeout", func(t *testing.T) {
		h := start(t, f, rpc.Limits{ReceiveTimeout: 50 * time.Millisecond}, echoHandler)
		_, err := h.client.Invoke(context.Background(), ordersPath, "Block", nil)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		// the connection survives a timed out request
		out, err := h.client.Invoke(context.Background(), ordersPath, "Echo", []byte("after"))
		require.NoError(t, err)
		assert.Equal(t, []byte("after"), out)
	})

	t.Run("OneWay", func(t *testing.T) {
		received := make(chan []byte, 1)
		h := start(t, f, rpc.Limits{}, func(ctx context.Context, method string, payload []byte) ([]byte, error) {
			received <- payload
			return nil, nil
		})
		require.NoError(t, h.client.Send(context.Background(), ordersPath, "Submit", []byte("order-1")))
		select {
		case got := <-received:
			assert.Equal(t, []byte("order-1"), got)
		case <-time.After(2 * time.Second):
			t.Fatal("one-way request not delivered")
		}
	})

	t.Run("MaxMessageSize", func(t *testing.T) {
		h := start(t, f, rpc.Limits{MaxMessageSize: 1024}, echoHandler)
		_, err := h.client.Invoke(context.Background(), ordersPath, "Echo", make([]byte, 2048))
		assert.ErrorIs(t, err, rpc.ErrMessageTooLarge)

		_, err = h.client.Invoke(context.Background(), ordersPath, "Echo", make([]byte, 128))
		assert.NoError(t, err)
	})

	t.Run("CloseDrains", func(t *testing.T) {
		h := start(t, f, rpc.Limits{CloseTimeout: 2 * time.Second}, echoHandler)
		require.NoError(t, h.client.Connect(context.Background()))

		done := make(chan error, 1)
		go func() {
			_, err := h.client.Invoke(context.Background(), ordersPath, "Sleep", []byte("slow"))
			done <- err
		}()
		time.Sleep(20 * time.Millisecond)

		require.NoError(t, h.client.Close(context.Background()))
		assert.NoError(t, <-done)

		_, err := h.client.Invoke(context.Background(), ordersPath, "Echo", nil)
		assert.ErrorIs(t, err, rpc.ErrClientClosed)
	})

	t.Run("AbortFailsPending", func(t *testing.T) {
		h := start(t, f, rpc.Limits{}, echoHandler)
		require.NoError(t, h.client.Connect(context.Background()))

		done := make(chan error, 1)
		go func() {
			_, err := h.client.Invoke(context.Background(), ordersPath, "Block", nil)
			done <- err
		}()
		time.Sleep(20 * time.Millisecond)
		h.client.Abort()

		select {
		case err := <-done:
			assert.Error(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("pending request not failed by abort")
		}
	})

	t.Run("ServerShutdownFaultsClient", func(t *testing.T) {
		h := start(t, f, rpc.Limits{}, echoHandler)
		_, err := h.client.Invoke(context.Background(), ordersPath, "Echo", nil)
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, h.server.Shutdown(ctx))

		require.Eventually(t, h.client.Faulted, 2*time.Second, 10*time.Millisecond)
		_, err = h.client.Invoke(context.Background(), ordersPath, "Echo", nil)
		assert.Error(t, err)
	})
}

func TestRegisterEndpointDuplicate(t *testing.T) {
	server := rpc.NewServer(rpc.ServerConfig{
		Transport: tcp.NewServerTransport(tcp.ServerTransportConfig{Host: "127.0.0.1"}),
	})
	require.NoError(t, server.RegisterEndpoint(ordersPath, echoHandler))
	assert.Error(t, server.RegisterEndpoint("/"+ordersPath+"/", echoHandler))
	assert.Equal(t, []string{ordersPath}, server.Endpoints())
}

func TestServeBeforeListen(t *testing.T) {
	server := rpc.NewServer(rpc.ServerConfig{
		Transport: tcp.NewServerTransport(tcp.ServerTransportConfig{Host: "127.0.0.1"}),
	})
	assert.Error(t, server.Serve())
}

func TestMiddlewareOrder(t *testing.T) {
	var order []string
	var mu sync.Mutex
	record := func(name string) rpc.Middleware {
		return func(ctx context.Context, method string, payload []byte, next rpc.Handler) ([]byte, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return next(ctx, method, payload)
		}
	}

	st := tcp.NewServerTransport(tcp.ServerTransportConfig{Host: "127.0.0.1"})
	server := rpc.NewServer(rpc.ServerConfig{Transport: st})
	server.Middleware(record("first"))
	server.Middleware(record("second"))
	require.NoError(t, server.RegisterEndpoint(ordersPath, echoHandler))
	require.NoError(t, server.Listen())
	go server.Serve()
	defer server.Close()

	client := rpc.NewClient(rpc.ClientConfig{
		Transport: tcpFactory{}.CreateClientTransport(t, st, rpc.Limits{}),
	})
	defer client.Abort()

	_, err := client.Invoke(context.Background(), ordersPath, "Echo", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestConnectFailure(t *testing.T) {
	client := rpc.NewClient(rpc.ClientConfig{
		Transport: tcp.NewClientTransport(tcp.ClientTransportConfig{
			Host:        "127.0.0.1",
			Port:        1,
			DialTimeout: 200 * time.Millisecond,
		}),
		Limits: rpc.Limits{OpenTimeout: 500 * time.Millisecond},
	})
	err := client.Connect(context.Background())
	assert.Error(t, err)
}

package channel_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbirk/svchost/pkg/address"
	"github.com/kbirk/svchost/pkg/binding"
	"github.com/kbirk/svchost/pkg/channel"
	"github.com/kbirk/svchost/pkg/contract"
	"github.com/kbirk/svchost/pkg/endpoint"
	"github.com/kbirk/svchost/pkg/host"
	"github.com/kbirk/svchost/pkg/transport"
)

var ordersContract = contract.New("Acme.Contracts.IOrders")

type fakeConn struct {
	mu         sync.Mutex
	connectErr error
	closeErr   error
	faulted    bool
	connected  bool
	closed     bool
	aborted    bool
	calls      []string
}

func (c *fakeConn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = c.connectErr == nil
	return c.connectErr
}

func (c *fakeConn) Invoke(ctx context.Context, path string, method string, payload []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, path+"#"+method)
	return payload, nil
}

func (c *fakeConn) Send(ctx context.Context, path string, method string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, path+"!"+method)
	return nil
}

func (c *fakeConn) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeErr != nil {
		return c.closeErr
	}
	c.closed = true
	return nil
}

func (c *fakeConn) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aborted = true
}

func (c *fakeConn) Faulted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.faulted
}

func (c *fakeConn) fault() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faulted = true
}

type fakeDialer struct {
	conn    *fakeConn
	address string
	profile *binding.Profile
}

func (d *fakeDialer) Dial(address string, p *binding.Profile) (channel.Conn, error) {
	d.address = address
	d.profile = p
	return d.conn, nil
}

func newClient(t *testing.T, kind transport.Kind, conn *fakeConn) (*channel.Client, *fakeDialer) {
	dialer := &fakeDialer{conn: conn}
	client, err := channel.New(kind, "", ordersContract, channel.Config{
		Enforcer: binding.NewEnforcer(binding.EnforcerConfig{}),
		Resolver: address.NewResolver(address.ResolverConfig{SessionID: "test"}),
		Dialer:   dialer,
	})
	require.NoError(t, err)
	return client, dialer
}

func TestNewOpensEagerly(t *testing.T) {
	conn := &fakeConn{}
	client, dialer := newClient(t, transport.InProcess, conn)

	assert.True(t, conn.connected)
	assert.Equal(t, channel.Open, client.State())
	assert.Equal(t, "pipe://localhost/test/IOrders", client.Address())
	assert.Equal(t, client.Address(), dialer.address)
	assert.Equal(t, binding.NamePipe, dialer.profile.Name)
	assert.Equal(t, ordersContract, client.Contract())
}

func TestNewExplicitBase(t *testing.T) {
	dialer := &fakeDialer{conn: &fakeConn{}}
	client, err := channel.New(transport.Intranet, "tcp://orders-01:8808/", ordersContract, channel.Config{
		Enforcer: binding.NewEnforcer(binding.EnforcerConfig{}),
		Dialer:   dialer,
	})
	require.NoError(t, err)
	assert.Equal(t, "tcp://orders-01:8808/Acme.Services.IOrders", client.Address())
}

func TestNewOpenFailureAborts(t *testing.T) {
	conn := &fakeConn{connectErr: errors.New("refused")}
	_, err := channel.New(transport.InProcess, "", ordersContract, channel.Config{
		Enforcer: binding.NewEnforcer(binding.EnforcerConfig{}),
		Resolver: address.NewResolver(address.ResolverConfig{}),
		Dialer:   &fakeDialer{conn: conn},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, conn.connectErr)
	assert.True(t, conn.aborted)
}

func TestNewInvalidContract(t *testing.T) {
	conn := &fakeConn{}
	_, err := channel.New(transport.InProcess, "", contract.Descriptor{}, channel.Config{
		Enforcer: binding.NewEnforcer(binding.EnforcerConfig{}),
		Resolver: address.NewResolver(address.ResolverConfig{}),
		Dialer:   &fakeDialer{conn: conn},
	})
	assert.ErrorIs(t, err, contract.ErrInvalidDescriptor)
	assert.False(t, conn.connected)
}

func TestCallSuccessCloses(t *testing.T) {
	conn := &fakeConn{}
	client, _ := newClient(t, transport.InProcess, conn)

	err := client.Call(context.Background(), func(ctx context.Context, ch channel.Channel) error {
		reply, err := ch.Invoke(ctx, "Echo", []byte("x"))
		require.NoError(t, err)
		assert.Equal(t, "x", string(reply))
		return nil
	})
	require.NoError(t, err)

	assert.True(t, conn.closed)
	assert.False(t, conn.aborted)
	assert.Equal(t, channel.Closed, client.State())
	assert.Equal(t, []string{"test/IOrders#Echo"}, conn.calls)
}

func TestCallErrorAborts(t *testing.T) {
	conn := &fakeConn{}
	client, _ := newClient(t, transport.InProcess, conn)

	workErr := errors.New("work failed")
	err := client.Call(context.Background(), func(ctx context.Context, ch channel.Channel) error {
		return workErr
	})
	assert.Equal(t, workErr, err)
	assert.NotErrorIs(t, err, channel.ErrChannelFault)

	assert.True(t, conn.aborted)
	assert.False(t, conn.closed)
	assert.Equal(t, channel.Aborted, client.State())
}

func TestCallFaultedAfterSuccessAborts(t *testing.T) {
	conn := &fakeConn{}
	client, _ := newClient(t, transport.InProcess, conn)

	err := client.Call(context.Background(), func(ctx context.Context, ch channel.Channel) error {
		conn.fault()
		assert.Equal(t, channel.Faulted, ch.State())
		return nil
	})
	require.NoError(t, err)
	assert.True(t, conn.aborted)
	assert.False(t, conn.closed)
	assert.Equal(t, channel.Aborted, client.State())
}

func TestCallFaultedWithError(t *testing.T) {
	conn := &fakeConn{}
	client, _ := newClient(t, transport.InProcess, conn)

	workErr := errors.New("connection reset")
	err := client.Call(context.Background(), func(ctx context.Context, ch channel.Channel) error {
		conn.fault()
		return workErr
	})
	assert.ErrorIs(t, err, workErr)
	assert.ErrorIs(t, err, channel.ErrChannelFault)
	assert.True(t, conn.aborted)
}

func TestCallPanicAborts(t *testing.T) {
	conn := &fakeConn{}
	client, _ := newClient(t, transport.InProcess, conn)

	assert.PanicsWithValue(t, "boom", func() {
		_ = client.Call(context.Background(), func(ctx context.Context, ch channel.Channel) error {
			panic("boom")
		})
	})
	assert.True(t, conn.aborted)
	assert.False(t, conn.closed)
}

func TestCallCloseFailureAborts(t *testing.T) {
	conn := &fakeConn{closeErr: errors.New("close timed out")}
	client, _ := newClient(t, transport.InProcess, conn)

	err := client.Call(context.Background(), func(ctx context.Context, ch channel.Channel) error {
		return nil
	})
	assert.ErrorIs(t, err, channel.ErrChannelFault)
	assert.ErrorIs(t, err, conn.closeErr)
	assert.True(t, conn.aborted)
}

func TestCallSingleUse(t *testing.T) {
	conn := &fakeConn{}
	client, _ := newClient(t, transport.InProcess, conn)

	require.NoError(t, client.Call(context.Background(), func(context.Context, channel.Channel) error { return nil }))
	err := client.Call(context.Background(), func(context.Context, channel.Channel) error {
		t.Fatal("work must not run twice")
		return nil
	})
	assert.ErrorIs(t, err, channel.ErrChannelConsumed)
}

func TestAbortUnused(t *testing.T) {
	conn := &fakeConn{}
	client, _ := newClient(t, transport.InProcess, conn)

	client.Abort()
	assert.True(t, conn.aborted)
	assert.Equal(t, channel.Aborted, client.State())
	assert.ErrorIs(t, client.Call(context.Background(), func(context.Context, channel.Channel) error { return nil }), channel.ErrChannelConsumed)
}

func TestQueueChannelIsOneWay(t *testing.T) {
	conn := &fakeConn{}
	client, _ := newClient(t, transport.Queue, conn)

	err := client.Call(context.Background(), func(ctx context.Context, ch channel.Channel) error {
		_, err := ch.Invoke(ctx, "Submit", nil)
		assert.ErrorIs(t, err, channel.ErrOneWayOnly)
		return ch.Send(ctx, "Submit", []byte("order"))
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"private/IOrders!Submit"}, conn.calls)
	assert.True(t, conn.closed)
}

func TestCallResult(t *testing.T) {
	conn := &fakeConn{}
	client, _ := newClient(t, transport.InProcess, conn)

	n, err := channel.CallResult(context.Background(), client, func(ctx context.Context, ch channel.Channel) (int, error) {
		reply, err := ch.Invoke(ctx, "Count", []byte("abc"))
		return len(reply), err
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.True(t, conn.closed)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Aborted", channel.Aborted.String())
	assert.Equal(t, "State(9)", channel.State(9).String())
}

func echoService() host.Service {
	return host.Service{
		Name:      "Orders",
		Contracts: contract.Set{ordersContract},
		Handler: host.HandlerFunc(func(ctx context.Context, c contract.Descriptor, method string, payload []byte) ([]byte, error) {
			return append([]byte(method+":"), payload...), nil
		}),
	}
}

func TestInProcessClient(t *testing.T) {
	conf := channel.InProcessConfig{
		Enforcer: binding.NewEnforcer(binding.EnforcerConfig{}),
		Factory:  endpoint.NewFactory(endpoint.FactoryConfig{PipeDir: t.TempDir()}),
	}

	first, err := channel.NewInProcess(context.Background(), echoService(), ordersContract, conf)
	require.NoError(t, err)
	second, err := channel.NewInProcess(context.Background(), echoService(), ordersContract, conf)
	require.NoError(t, err)

	assert.NotEqual(t, first.SessionID(), second.SessionID())
	assert.Equal(t, host.Opened, first.Host().State())

	reply, err := channel.CallResult(context.Background(), first.Client, func(ctx context.Context, ch channel.Channel) (string, error) {
		b, err := ch.Invoke(ctx, "Echo", []byte("hello"))
		return string(b), err
	})
	require.NoError(t, err)
	assert.Equal(t, "Echo:hello", reply)
	assert.Equal(t, channel.Closed, first.State())

	require.NoError(t, first.Close(context.Background()))
	assert.Equal(t, host.Closed, first.Host().State())

	require.NoError(t, second.Close(context.Background()))
	assert.Equal(t, channel.Aborted, second.State())
	assert.Equal(t, host.Closed, second.Host().State())
}

func TestInProcessClientRequiresContract(t *testing.T) {
	_, err := channel.NewInProcess(context.Background(), echoService(), contract.New("Acme.Contracts.IOther"), channel.InProcessConfig{
		Enforcer: binding.NewEnforcer(binding.EnforcerConfig{}),
		Factory:  endpoint.NewFactory(endpoint.FactoryConfig{PipeDir: t.TempDir()}),
	})
	assert.ErrorIs(t, err, host.ErrContractNotImplemented)
}

package hosting

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbirk/svchost/pkg/host"
)

type fakeHost struct {
	state    host.State
	openErr  error
	closeErr error
	closes   int
	aborts   int
}

func (h *fakeHost) Open(ctx context.Context) error {
	if h.openErr != nil {
		h.state = host.Faulted
		return h.openErr
	}
	h.state = host.Opened
	return nil
}

func (h *fakeHost) Close(ctx context.Context) error {
	h.closes++
	if h.closeErr != nil {
		h.state = host.Faulted
		return h.closeErr
	}
	h.state = host.Closed
	return nil
}

func (h *fakeHost) Abort() {
	h.aborts++
	h.state = host.Closed
}

func (h *fakeHost) State() host.State {
	return h.state
}

func newLauncher(h *fakeHost) (*Launcher, *bytes.Buffer, *bytes.Buffer) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &Launcher{Name: "Orders", Host: h, Out: out, Err: errOut}, out, errOut
}

func TestLaunchRunsUntilCancelled(t *testing.T) {
	h := &fakeHost{}
	l, out, errOut := newLauncher(h)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.NoError(t, l.Launch(ctx))
	assert.Contains(t, out.String(), "Service Host Running...")
	assert.Contains(t, out.String(), "Orders")
	assert.Empty(t, errOut.String())
	assert.Equal(t, 1, h.closes)
	assert.Equal(t, 0, h.aborts)
	assert.Equal(t, host.Closed, h.state)
}

func TestLaunchOpenFailureAborts(t *testing.T) {
	h := &fakeHost{openErr: errors.New("queue store unreachable")}
	l, out, errOut := newLauncher(h)

	err := l.Launch(context.Background())
	assert.Equal(t, h.openErr, err)
	assert.Contains(t, errOut.String(), "queue store unreachable")
	assert.NotContains(t, out.String(), "Running")
	assert.Equal(t, 0, h.closes)
	assert.Equal(t, 1, h.aborts)
}

func TestShutdownSkipsClosedHost(t *testing.T) {
	h := &fakeHost{state: host.Closed}
	l, _, _ := newLauncher(h)

	require.NoError(t, l.shutdown())
	assert.Equal(t, 0, h.closes)
	assert.Equal(t, 0, h.aborts)
}

func TestShutdownAbortsFaultedHost(t *testing.T) {
	h := &fakeHost{state: host.Faulted}
	l, _, _ := newLauncher(h)

	require.NoError(t, l.shutdown())
	assert.Equal(t, 0, h.closes)
	assert.Equal(t, 1, h.aborts)
}

func TestLaunchCloseFailure(t *testing.T) {
	h := &fakeHost{closeErr: errors.New("drain timed out")}
	l, _, errOut := newLauncher(h)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.Launch(ctx)
	assert.Equal(t, h.closeErr, err)
	assert.Contains(t, errOut.String(), "drain timed out")
	assert.Equal(t, 1, h.closes)
	assert.Equal(t, 1, h.aborts)
}

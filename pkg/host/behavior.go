package host

import (
	"context"

	"github.com/kbirk/svchost/pkg/contract"
)

// Handler serves every operation of a hosted service.
type Handler interface {
	Handle(ctx context.Context, c contract.Descriptor, method string, payload []byte) ([]byte, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, c contract.Descriptor, method string, payload []byte) ([]byte, error)

func (f HandlerFunc) Handle(ctx context.Context, c contract.Descriptor, method string, payload []byte) ([]byte, error) {
	return f(ctx, c, method, payload)
}

// Service is an implementation together with the contracts it implements.
// Handler is a shared instance; New builds one per instance as selected by
// the host's Behavior. At least one of them must be set.
type Service struct {
	Name      string
	Contracts contract.Set
	// Queued contracts additionally get a queue endpoint. Each must be in
	// Contracts.
	Queued  contract.Set
	Handler Handler
	New     func() Handler
}

type Instancing int

const (
	// InstancingPerCall builds a handler per request when Service.New is set.
	InstancingPerCall Instancing = iota
	// InstancingSingle serves every request with one handler.
	InstancingSingle
)

type Concurrency int

const (
	ConcurrencyMultiple Concurrency = iota
	// ConcurrencySingle dispatches one request at a time.
	ConcurrencySingle
)

// Behavior is the instancing and concurrency policy of a host. The zero
// value is per-call instancing with concurrent dispatch.
type Behavior struct {
	Instancing  Instancing
	Concurrency Concurrency
}

func DefaultBehavior() Behavior {
	return Behavior{Instancing: InstancingPerCall, Concurrency: ConcurrencyMultiple}
}

func (i Instancing) String() string {
	if i == InstancingSingle {
		return "Single"
	}
	return "PerCall"
}

func (c Concurrency) String() string {
	if c == ConcurrencySingle {
		return "Single"
	}
	return "Multiple"
}

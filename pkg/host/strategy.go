package host

import (
	"context"
	"fmt"

	"github.com/kbirk/svchost/pkg/address"
	"github.com/kbirk/svchost/pkg/queue"
	"github.com/kbirk/svchost/pkg/transport"
)

// Base is a base address a host listens on.
type Base struct {
	Kind    transport.Kind
	Address string
}

// Strategy supplies the transport specific parts of a host.
type Strategy interface {
	// Kind selects the binding and address convention of contract endpoints.
	Kind() transport.Kind
	BaseAddresses(r *address.Resolver) ([]Base, error)
	// BeforeOpen runs after the host enters Opening and before any listener
	// starts. An error faults the host.
	BeforeOpen(ctx context.Context, h *Host) error
}

type InProcessStrategy struct{}

func (InProcessStrategy) Kind() transport.Kind {
	return transport.InProcess
}

func (InProcessStrategy) BaseAddresses(r *address.Resolver) ([]Base, error) {
	base, err := r.BaseAddress(transport.InProcess)
	if err != nil {
		return nil, err
	}
	return []Base{{Kind: transport.InProcess, Address: base}}, nil
}

func (InProcessStrategy) BeforeOpen(context.Context, *Host) error {
	return nil
}

// IntranetStrategy listens on the intranet and queue base addresses and
// makes sure every queue endpoint has its queues before opening.
type IntranetStrategy struct {
	Validator *queue.Validator
}

func (IntranetStrategy) Kind() transport.Kind {
	return transport.Intranet
}

func (IntranetStrategy) BaseAddresses(r *address.Resolver) ([]Base, error) {
	var bases []Base
	for _, kind := range []transport.Kind{transport.Intranet, transport.Queue} {
		base, err := r.BaseAddress(kind)
		if err != nil {
			return nil, err
		}
		bases = append(bases, Base{Kind: kind, Address: base})
	}
	return bases, nil
}

func (s IntranetStrategy) BeforeOpen(ctx context.Context, h *Host) error {
	for _, ep := range h.Endpoints() {
		if ep.Kind != transport.Queue {
			continue
		}
		if s.Validator == nil {
			return fmt.Errorf("%w: no validator for %s", queue.ErrQueueInfrastructure, ep.Address)
		}
		if err := s.Validator.EnsureQueueInfrastructure(ctx, ep.Contract.Name); err != nil {
			return err
		}
	}
	return nil
}

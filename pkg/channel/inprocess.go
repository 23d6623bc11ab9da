package channel

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/kbirk/svchost/pkg/address"
	"github.com/kbirk/svchost/pkg/binding"
	"github.com/kbirk/svchost/pkg/contract"
	"github.com/kbirk/svchost/pkg/endpoint"
	"github.com/kbirk/svchost/pkg/host"
	"github.com/kbirk/svchost/pkg/log"
	"github.com/kbirk/svchost/pkg/transport"
)

type InProcessConfig struct {
	Enforcer *binding.Enforcer
	Factory  *endpoint.Factory
	Behavior host.Behavior
	Dialer   Dialer
	Logger   log.Logger
}

// InProcessClient is a channel to a service hosted for this client alone,
// under a session id minted for it.
type InProcessClient struct {
	*Client
	host *host.Host
}

// NewInProcess hosts svc on a fresh in-process session and opens a channel
// to its c endpoint.
func NewInProcess(ctx context.Context, svc host.Service, c contract.Descriptor, conf InProcessConfig) (*InProcessClient, error) {
	if !svc.Contracts.Contains(c) {
		return nil, fmt.Errorf("%w: %s", host.ErrContractNotImplemented, c.FullName)
	}
	if conf.Enforcer == nil {
		conf.Enforcer = binding.Default()
	}
	if conf.Factory == nil {
		conf.Factory = endpoint.NewFactory(endpoint.FactoryConfig{Logger: conf.Logger})
	}

	resolver := address.NewResolver(address.ResolverConfig{SessionID: uuid.NewString()})

	h, err := host.NewInProcess(svc, host.Config{
		Enforcer: conf.Enforcer,
		Resolver: resolver,
		Factory:  conf.Factory,
		Behavior: conf.Behavior,
		Logger:   conf.Logger,
	})
	if err != nil {
		return nil, err
	}
	if err := h.Open(ctx); err != nil {
		h.Abort()
		return nil, err
	}

	client, err := New(transport.InProcess, "", c, Config{
		Enforcer: conf.Enforcer,
		Resolver: resolver,
		Factory:  conf.Factory,
		Dialer:   conf.Dialer,
		Logger:   conf.Logger,
	})
	if err != nil {
		h.Abort()
		return nil, err
	}
	return &InProcessClient{Client: client, host: h}, nil
}

func (c *InProcessClient) SessionID() string {
	return endpoint.PathOf(endpoint.BaseOf(c.address))
}

func (c *InProcessClient) Host() *host.Host {
	return c.host
}

// Close releases the channel if it was never used, then closes the host
// unless it is already Closed or Faulted. A faulted host is aborted.
func (c *InProcessClient) Close(ctx context.Context) error {
	c.Client.Abort()
	switch c.host.State() {
	case host.Closed:
		return nil
	case host.Faulted:
		c.host.Abort()
		return nil
	}
	if err := c.host.Close(ctx); err != nil {
		c.host.Abort()
		if errors.Is(err, host.ErrHostFaulted) {
			return nil
		}
		return err
	}
	return nil
}

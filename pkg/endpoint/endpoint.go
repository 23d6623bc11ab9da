// Package endpoint turns resolved addresses and binding profiles into rpc
// transports.
package endpoint

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/kbirk/svchost/pkg/binding"
	"github.com/kbirk/svchost/pkg/contract"
	"github.com/kbirk/svchost/pkg/rpc"
	"github.com/kbirk/svchost/pkg/transport"
)

// Endpoint is one contract exposed at one address.
type Endpoint struct {
	Contract contract.Descriptor
	Kind     transport.Kind
	Address  string
	Base     string
	Binding  *binding.Profile
}

// Path is the routing key of the endpoint inside its listener.
func (e Endpoint) Path() string {
	return PathOf(e.Address)
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s %s (%s)", e.Contract.FullName, e.Address, e.Kind)
}

// PathOf returns the normalized URL path of an address.
func PathOf(address string) string {
	u, err := url.Parse(address)
	if err != nil {
		return rpc.NormalizePath(address)
	}
	return rpc.NormalizePath(u.Path)
}

// BaseOf strips the last path segment of an address.
func BaseOf(address string) string {
	i := strings.LastIndex(address, "/")
	if i < 0 {
		return address
	}
	return address[:i+1]
}

// Group is the set of endpoints served by one listener.
type Group struct {
	Base      string
	Kind      transport.Kind
	Binding   *binding.Profile
	Endpoints []Endpoint
}

// GroupByBase groups endpoints by base address, keeping first-seen order.
func GroupByBase(endpoints []Endpoint) []*Group {
	var groups []*Group
	index := map[string]*Group{}
	for _, ep := range endpoints {
		g, ok := index[ep.Base]
		if !ok {
			g = &Group{Base: ep.Base, Kind: ep.Kind, Binding: ep.Binding}
			index[ep.Base] = g
			groups = append(groups, g)
		}
		g.Endpoints = append(g.Endpoints, ep)
	}
	return groups
}

// LimitsFor maps a binding profile onto transport limits.
func LimitsFor(p *binding.Profile) rpc.Limits {
	return rpc.Limits{
		MaxMessageSize:     p.MaxReceivedMessageSize,
		MaxStringLength:    p.ReaderQuotas.MaxStringContentLength,
		MaxMetadataEntries: int(p.ReaderQuotas.MaxArrayLength),
		OpenTimeout:        p.OpenTimeout,
		ReceiveTimeout:     p.ReceiveTimeout,
		CloseTimeout:       p.CloseTimeout,
	}
}

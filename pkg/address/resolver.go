package address

import (
	"fmt"
	"net"
	"strings"

	"github.com/kbirk/svchost/pkg/config"
	"github.com/kbirk/svchost/pkg/contract"
	"github.com/kbirk/svchost/pkg/transport"
)

const (
	PipeHost         = "localhost"
	QueuePathSegment = "private"

	// ContractsMarker is rewritten to ServicesMarker in intranet addresses, so
	// Acme.Contracts.IOrders is served at .../Acme.Services.IOrders.
	ContractsMarker = "Contracts"
	ServicesMarker  = "Services"
)

// Resolver computes canonical endpoint addresses. It caches nothing; host
// and port come from the configuration provider, which memoizes them.
type Resolver struct {
	conf ResolverConfig
}

type ResolverConfig struct {
	Provider *config.Provider
	// SessionID namespaces in-process addresses. Empty means the shared root.
	SessionID string
	// IntranetScheme is tcp (default) or ws.
	IntranetScheme string
}

func NewResolver(conf ResolverConfig) *Resolver {
	if conf.Provider == nil {
		conf.Provider = config.Default()
	}
	if conf.IntranetScheme == "" {
		conf.IntranetScheme = transport.SchemeTCP
	}
	return &Resolver{conf: conf}
}

// WithSession returns a resolver sharing this one's provider whose in-process
// addresses are namespaced by sessionID.
func (r *Resolver) WithSession(sessionID string) *Resolver {
	conf := r.conf
	conf.SessionID = sessionID
	return &Resolver{conf: conf}
}

func (r *Resolver) SessionID() string {
	return r.conf.SessionID
}

func (r *Resolver) Provider() *config.Provider {
	return r.conf.Provider
}

// BaseAddress returns the base address for a transport kind.
func (r *Resolver) BaseAddress(kind transport.Kind) (string, error) {
	switch kind {
	case transport.InProcess:
		return InProcessBase(r.conf.SessionID), nil
	case transport.Intranet:
		if r.conf.IntranetScheme != transport.SchemeTCP && r.conf.IntranetScheme != transport.SchemeWebSocket {
			return "", fmt.Errorf("unsupported intranet scheme %q", r.conf.IntranetScheme)
		}
		port, err := r.conf.Provider.GetHostPort()
		if err != nil {
			return "", err
		}
		return IntranetBase(r.conf.IntranetScheme, r.conf.Provider.GetHostName(), port), nil
	case transport.Queue:
		return QueueBase(r.conf.Provider.GetHostName()), nil
	default:
		return "", fmt.Errorf("unknown transport kind %v", kind)
	}
}

// Resolve returns the endpoint address of c for kind.
func (r *Resolver) Resolve(kind transport.Kind, c contract.Descriptor) (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	base, err := r.BaseAddress(kind)
	if err != nil {
		return "", err
	}
	return Join(kind, base, c)
}

func InProcessBase(sessionID string) string {
	if sessionID == "" {
		return fmt.Sprintf("%s://%s/", transport.SchemePipe, PipeHost)
	}
	return fmt.Sprintf("%s://%s/%s/", transport.SchemePipe, PipeHost, sessionID)
}

func IntranetBase(scheme, host, port string) string {
	return fmt.Sprintf("%s://%s/", scheme, net.JoinHostPort(host, port))
}

func QueueBase(host string) string {
	return fmt.Sprintf("%s://%s/%s/", transport.SchemeQueue, host, QueuePathSegment)
}

// QueueAddress is the address of a named queue on host.
func QueueAddress(host, queueName string) string {
	return QueueBase(host) + queueName
}

// Suffix is the per-contract part of an address.
func Suffix(kind transport.Kind, c contract.Descriptor) (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	switch kind {
	case transport.InProcess, transport.Queue:
		return c.Name, nil
	case transport.Intranet:
		return strings.Replace(c.FullName, ContractsMarker, ServicesMarker, 1), nil
	default:
		return "", fmt.Errorf("unknown transport kind %v", kind)
	}
}

// Join appends the contract suffix for kind to base.
func Join(kind transport.Kind, base string, c contract.Descriptor) (string, error) {
	suffix, err := Suffix(kind, c)
	if err != nil {
		return "", err
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + suffix, nil
}

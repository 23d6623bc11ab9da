package binding

import (
	"fmt"
	"time"

	"github.com/kbirk/svchost/pkg/config"
	"github.com/kbirk/svchost/pkg/transport"
)

const (
	NamePipe     = "DefaultPipe"
	NameIntranet = "Default"
	NameQueue    = "DefaultQueue"

	Namespace = "http://svchost.kbirk.github.com"
)

const (
	DefaultMaxBufferSize          int64 = 16 * 1024 * 1024
	DefaultMaxReceivedMessageSize int64 = 16 * 1024 * 1024
	DefaultMaxStringContentLength int64 = 16 * 1024 * 1024
	DefaultMaxArrayLength         int64 = 65535
	DefaultMaxBytesPerRead        int64 = 16 * 1024 * 1024
	DefaultMaxDepth               int64 = 65535
	DefaultMaxNameTableCharCount  int64 = 16384

	DefaultOpenTimeout    = 10 * time.Second
	DefaultCloseTimeout   = 10 * time.Second
	DefaultReceiveTimeout = 30 * time.Second

	DefaultReceiveRetryCount = 3
	DefaultMaxRetryCycles    = 3
	DefaultRetryCycleDelay   = 5 * time.Second
)

// ErrorHandling selects what a queue endpoint does with a message that keeps
// failing after every retry cycle.
type ErrorHandling string

const (
	ErrorHandlingMove  ErrorHandling = "Move"
	ErrorHandlingDrop  ErrorHandling = "Drop"
	ErrorHandlingFault ErrorHandling = "Fault"
)

func (h ErrorHandling) Valid() bool {
	switch h {
	case ErrorHandlingMove, ErrorHandlingDrop, ErrorHandlingFault:
		return true
	}
	return false
}

// ReaderQuotas limit the structure of parsed messages.
type ReaderQuotas struct {
	MaxArrayLength         int64
	MaxBytesPerRead        int64
	MaxDepth               int64
	MaxNameTableCharCount  int64
	MaxStringContentLength int64
}

// Profile is the transport configuration applied to an endpoint. A profile
// returned by an Enforcer is shared and must not be modified; use Clone.
type Profile struct {
	Name      string
	Namespace string
	Kind      transport.Kind

	MaxBufferSize          int64
	MaxReceivedMessageSize int64
	ReaderQuotas           ReaderQuotas

	OpenTimeout    time.Duration
	CloseTimeout   time.Duration
	ReceiveTimeout time.Duration

	// queue only
	ReceiveRetryCount    int
	MaxRetryCycles       int
	RetryCycleDelay      time.Duration
	ReceiveErrorHandling ErrorHandling
}

func (p *Profile) Clone() *Profile {
	c := *p
	return &c
}

// ProfileName is the configuration section consulted for a transport kind.
func ProfileName(kind transport.Kind) string {
	switch kind {
	case transport.InProcess:
		return NamePipe
	case transport.Queue:
		return NameQueue
	default:
		return NameIntranet
	}
}

// DefaultProfile synthesises the hardcoded profile for a transport kind.
func DefaultProfile(kind transport.Kind) *Profile {
	p := &Profile{
		Name:                   ProfileName(kind),
		Namespace:              Namespace,
		Kind:                   kind,
		MaxBufferSize:          DefaultMaxBufferSize,
		MaxReceivedMessageSize: DefaultMaxReceivedMessageSize,
		ReaderQuotas: ReaderQuotas{
			MaxArrayLength:         DefaultMaxArrayLength,
			MaxBytesPerRead:        DefaultMaxBytesPerRead,
			MaxDepth:               DefaultMaxDepth,
			MaxNameTableCharCount:  DefaultMaxNameTableCharCount,
			MaxStringContentLength: DefaultMaxStringContentLength,
		},
		OpenTimeout:    DefaultOpenTimeout,
		CloseTimeout:   DefaultCloseTimeout,
		ReceiveTimeout: DefaultReceiveTimeout,
	}
	if kind == transport.Queue {
		p.ReceiveRetryCount = DefaultReceiveRetryCount
		p.MaxRetryCycles = DefaultMaxRetryCycles
		p.RetryCycleDelay = DefaultRetryCycleDelay
		p.ReceiveErrorHandling = ErrorHandlingMove
	}
	return p
}

// overlay applies the fields set in a configuration section on top of base.
func overlay(base *Profile, s *config.BindingSection) (*Profile, error) {
	p := base.Clone()
	if s.Namespace != nil {
		p.Namespace = *s.Namespace
	}
	if s.MaxBufferSize != nil {
		p.MaxBufferSize = *s.MaxBufferSize
	}
	if s.MaxReceivedMessageSize != nil {
		p.MaxReceivedMessageSize = *s.MaxReceivedMessageSize
	}
	if q := s.ReaderQuotas; q != nil {
		if q.MaxArrayLength != nil {
			p.ReaderQuotas.MaxArrayLength = *q.MaxArrayLength
		}
		if q.MaxBytesPerRead != nil {
			p.ReaderQuotas.MaxBytesPerRead = *q.MaxBytesPerRead
		}
		if q.MaxDepth != nil {
			p.ReaderQuotas.MaxDepth = *q.MaxDepth
		}
		if q.MaxNameTableCharCount != nil {
			p.ReaderQuotas.MaxNameTableCharCount = *q.MaxNameTableCharCount
		}
		if q.MaxStringContentLength != nil {
			p.ReaderQuotas.MaxStringContentLength = *q.MaxStringContentLength
		}
	}
	if s.OpenTimeout != nil {
		p.OpenTimeout = s.OpenTimeout.Duration
	}
	if s.CloseTimeout != nil {
		p.CloseTimeout = s.CloseTimeout.Duration
	}
	if s.ReceiveTimeout != nil {
		p.ReceiveTimeout = s.ReceiveTimeout.Duration
	}
	if s.ReceiveRetryCount != nil {
		p.ReceiveRetryCount = *s.ReceiveRetryCount
	}
	if s.MaxRetryCycles != nil {
		p.MaxRetryCycles = *s.MaxRetryCycles
	}
	if s.RetryCycleDelay != nil {
		p.RetryCycleDelay = s.RetryCycleDelay.Duration
	}
	if s.ReceiveErrorHandling != nil {
		h := ErrorHandling(*s.ReceiveErrorHandling)
		if !h.Valid() {
			return nil, fmt.Errorf("unknown receive error handling %q", *s.ReceiveErrorHandling)
		}
		p.ReceiveErrorHandling = h
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// validate rejects values no transport can honour. Ceiling checks are
// separate.
func (p *Profile) validate() error {
	for _, v := range []struct {
		name  string
		value int64
	}{
		{"MaxBufferSize", p.MaxBufferSize},
		{"MaxReceivedMessageSize", p.MaxReceivedMessageSize},
		{"MaxArrayLength", p.ReaderQuotas.MaxArrayLength},
		{"MaxBytesPerRead", p.ReaderQuotas.MaxBytesPerRead},
		{"MaxDepth", p.ReaderQuotas.MaxDepth},
		{"MaxNameTableCharCount", p.ReaderQuotas.MaxNameTableCharCount},
		{"MaxStringContentLength", p.ReaderQuotas.MaxStringContentLength},
		{"OpenTimeout", int64(p.OpenTimeout)},
		{"CloseTimeout", int64(p.CloseTimeout)},
		{"ReceiveTimeout", int64(p.ReceiveTimeout)},
		{"ReceiveRetryCount", int64(p.ReceiveRetryCount)},
		{"MaxRetryCycles", int64(p.MaxRetryCycles)},
		{"RetryCycleDelay", int64(p.RetryCycleDelay)},
	} {
		if v.value < 0 {
			return fmt.Errorf("%s must not be negative", v.name)
		}
	}
	return nil
}

package binding

import (
	"strconv"
	"time"

	"github.com/kbirk/svchost/pkg/transport"
)

// Ceiling is the organisation-wide maximum for every governed profile field.
// Deployments may tighten a profile but never exceed its ceiling.
type Ceiling struct {
	Family transport.Family

	MaxBufferSize          int64
	MaxReceivedMessageSize int64
	ReaderQuotas           ReaderQuotas

	OpenTimeout    time.Duration
	CloseTimeout   time.Duration
	ReceiveTimeout time.Duration

	ReceiveRetryCount int
	MaxRetryCycles    int
	RetryCycleDelay   time.Duration
}

var defaultQuotas = ReaderQuotas{
	MaxArrayLength:         DefaultMaxArrayLength,
	MaxBytesPerRead:        DefaultMaxBytesPerRead,
	MaxDepth:               DefaultMaxDepth,
	MaxNameTableCharCount:  DefaultMaxNameTableCharCount,
	MaxStringContentLength: DefaultMaxStringContentLength,
}

var StreamCeiling = Ceiling{
	Family:                 transport.StreamFamily,
	MaxBufferSize:          DefaultMaxBufferSize,
	MaxReceivedMessageSize: DefaultMaxReceivedMessageSize,
	ReaderQuotas:           defaultQuotas,
	OpenTimeout:            DefaultOpenTimeout,
	CloseTimeout:           DefaultCloseTimeout,
	ReceiveTimeout:         DefaultReceiveTimeout,
}

var QueueCeiling = Ceiling{
	Family:                 transport.QueueFamily,
	MaxReceivedMessageSize: DefaultMaxReceivedMessageSize,
	ReaderQuotas:           defaultQuotas,
	OpenTimeout:            DefaultOpenTimeout,
	CloseTimeout:           DefaultCloseTimeout,
	ReceiveTimeout:         DefaultReceiveTimeout,
	ReceiveRetryCount:      DefaultReceiveRetryCount,
	MaxRetryCycles:         DefaultMaxRetryCycles,
	RetryCycleDelay:        DefaultRetryCycleDelay,
}

func CeilingFor(kind transport.Kind) Ceiling {
	if kind.Family() == transport.QueueFamily {
		return QueueCeiling
	}
	return StreamCeiling
}

type limitCheck struct {
	field string
	value int64
	limit int64
	// duration values are reported as durations
	duration bool
}

func (c limitCheck) format(v int64) string {
	if c.duration {
		return time.Duration(v).String()
	}
	return strconv.FormatInt(v, 10)
}

// Fields lists the profile fields this ceiling governs, in check order.
func (c Ceiling) Fields() []string {
	checks := c.checks(&Profile{})
	fields := make([]string, len(checks))
	for i, chk := range checks {
		fields[i] = chk.field
	}
	return fields
}

func (c Ceiling) checks(p *Profile) []limitCheck {
	checks := []limitCheck{
		{"OpenTimeout", int64(p.OpenTimeout), int64(c.OpenTimeout), true},
		{"CloseTimeout", int64(p.CloseTimeout), int64(c.CloseTimeout), true},
		{"ReceiveTimeout", int64(p.ReceiveTimeout), int64(c.ReceiveTimeout), true},
	}
	// queued bindings have no buffer
	if c.Family == transport.StreamFamily {
		checks = append(checks, limitCheck{"MaxBufferSize", p.MaxBufferSize, c.MaxBufferSize, false})
	}
	checks = append(checks,
		limitCheck{"MaxReceivedMessageSize", p.MaxReceivedMessageSize, c.MaxReceivedMessageSize, false},
		limitCheck{"MaxStringContentLength", p.ReaderQuotas.MaxStringContentLength, c.ReaderQuotas.MaxStringContentLength, false},
		limitCheck{"MaxArrayLength", p.ReaderQuotas.MaxArrayLength, c.ReaderQuotas.MaxArrayLength, false},
		limitCheck{"MaxBytesPerRead", p.ReaderQuotas.MaxBytesPerRead, c.ReaderQuotas.MaxBytesPerRead, false},
		limitCheck{"MaxDepth", p.ReaderQuotas.MaxDepth, c.ReaderQuotas.MaxDepth, false},
		limitCheck{"MaxNameTableCharCount", p.ReaderQuotas.MaxNameTableCharCount, c.ReaderQuotas.MaxNameTableCharCount, false},
	)
	if c.Family == transport.QueueFamily {
		checks = append(checks,
			limitCheck{"ReceiveRetryCount", int64(p.ReceiveRetryCount), int64(c.ReceiveRetryCount), false},
			limitCheck{"MaxRetryCycles", int64(p.MaxRetryCycles), int64(c.MaxRetryCycles), false},
			limitCheck{"RetryCycleDelay", int64(p.RetryCycleDelay), int64(c.RetryCycleDelay), true},
		)
	}
	return checks
}

// Check returns a *PolicyViolation for the first field of p above the
// ceiling, or nil.
func (c Ceiling) Check(kind transport.Kind, p *Profile) error {
	for _, chk := range c.checks(p) {
		if chk.value > chk.limit {
			return &PolicyViolation{
				Kind:    kind,
				Profile: p.Name,
				Field:   chk.field,
				Value:   chk.format(chk.value),
				Limit:   chk.format(chk.limit),
			}
		}
	}
	return nil
}

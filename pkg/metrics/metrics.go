package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kbirk/svchost/pkg/transport"
)

const namespace = "svchost"

var (
	registerOnce sync.Once
	registerErr  error

	hostTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "transitions_total",
			Help:      "Service host state transitions.",
		},
		[]string{"kind", "state"},
	)
	hostEndpoints = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "host",
			Name:      "endpoints",
			Help:      "Endpoints attached to open service hosts.",
		},
		[]string{"kind"},
	)
	channelCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "calls_total",
			Help:      "Client channel calls by terminal operation.",
		},
		[]string{"kind", "outcome"},
	)
	channelDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "call_duration_seconds",
			Help:      "Client channel call duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
	policyViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "binding",
			Name:      "policy_violations_total",
			Help:      "Binding profiles rejected by the policy ceiling.",
		},
		[]string{"kind", "field"},
	)
	queuesCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "created_total",
			Help:      "Queues created by the queue validator.",
		},
	)
)

// Register adds every collector to reg. Only the first call has any effect.
func Register(reg prometheus.Registerer) error {
	registerOnce.Do(func() {
		for _, c := range []prometheus.Collector{
			hostTransitions,
			hostEndpoints,
			channelCalls,
			channelDuration,
			policyViolations,
			queuesCreated,
		} {
			if err := reg.Register(c); err != nil {
				registerErr = err
				return
			}
		}
	})
	return registerErr
}

func RecordHostState(kind transport.Kind, state string) {
	hostTransitions.WithLabelValues(kind.String(), state).Inc()
}

func AddHostEndpoints(kind transport.Kind, n int) {
	hostEndpoints.WithLabelValues(kind.String()).Add(float64(n))
}

func RecordChannelCall(kind transport.Kind, outcome string, duration time.Duration) {
	channelCalls.WithLabelValues(kind.String(), outcome).Inc()
	channelDuration.WithLabelValues(kind.String()).Observe(duration.Seconds())
}

func RecordPolicyViolation(kind transport.Kind, field string) {
	policyViolations.WithLabelValues(kind.String(), field).Inc()
}

func RecordQueueCreated() {
	queuesCreated.Inc()
}

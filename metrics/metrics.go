// Package metrics provides the Prometheus collectors for arbitration.
package metrics

import (
	"time"

	"github.com/lefinal/vr-arbiter/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vr_arbiter"

// Outcome labels for handled requests.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Collector records arbitration metrics.
type Collector struct {
	requests           *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	registeredContexts prometheus.Gauge
	presentingDisplays prometheus.Gauge
	knownDisplays      prometheus.Gauge
	polls              prometheus.Counter
	events             *prometheus.CounterVec
	abandonedReplies   prometheus.Counter
}

// New creates a Collector and registers it with the given
// prometheus.Registerer.
func New(registerer prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "requests_total",
			Help:      "Count of handled dispatcher requests by type and outcome.",
		}, []string{"type", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "request_duration_seconds",
			Help:      "Time spent handling a dispatcher request.",
			Buckets:   []float64{0.00001, 0.0001, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"type"}),
		registeredContexts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registered_contexts",
			Help:      "Number of contexts registered for display events.",
		}),
		presentingDisplays: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "presenting_displays",
			Help:      "Number of displays with an active presenting session.",
		}),
		knownDisplays: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "known_displays",
			Help:      "Number of displays known to the registry.",
		}),
		polls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "polls_total",
			Help:      "Count of served hardware event polls.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fanout",
			Name:      "events_total",
			Help:      "Count of hardware and session events by type.",
		}, []string{"type", "broadcast"}),
		abandonedReplies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatcher",
			Name:      "abandoned_replies_total",
			Help:      "Count of replies whose caller already gave up.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		c.requests,
		c.requestDuration,
		c.registeredContexts,
		c.presentingDisplays,
		c.knownDisplays,
		c.polls,
		c.events,
		c.abandonedReplies,
	} {
		err := registerer.Register(collector)
		if err != nil {
			return nil, errors.NewInternalErrorFromErr(err, "register collector", nil)
		}
	}
	return c, nil
}

// NewUnregistered creates a Collector that is registered with a private
// registry. It is used when metrics are not exposed and in tests.
func NewUnregistered() *Collector {
	c, err := New(prometheus.NewRegistry())
	if err != nil {
		// A fresh registry never has conflicting collectors.
		panic(err)
	}
	return c
}

// ObserveRequest records a handled request.
func (c *Collector) ObserveRequest(requestType string, took time.Duration, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	c.requests.WithLabelValues(requestType, outcome).Inc()
	c.requestDuration.WithLabelValues(requestType).Observe(took.Seconds())
}

// SetRegisteredContexts sets the number of registered contexts.
func (c *Collector) SetRegisteredContexts(n int) {
	c.registeredContexts.Set(float64(n))
}

// SetPresentingDisplays sets the number of owned displays.
func (c *Collector) SetPresentingDisplays(n int) {
	c.presentingDisplays.Set(float64(n))
}

// SetKnownDisplays sets the number of known displays.
func (c *Collector) SetKnownDisplays(n int) {
	c.knownDisplays.Set(float64(n))
}

// IncPolls records a served poll.
func (c *Collector) IncPolls() {
	c.polls.Inc()
}

// IncEvents records an event of the given type.
func (c *Collector) IncEvents(eventType string, broadcast bool) {
	broadcastLabel := "false"
	if broadcast {
		broadcastLabel = "true"
	}
	c.events.WithLabelValues(eventType, broadcastLabel).Inc()
}

// IncAbandonedReplies records a reply that nobody waited for.
func (c *Collector) IncAbandonedReplies() {
	c.abandonedReplies.Inc()
}

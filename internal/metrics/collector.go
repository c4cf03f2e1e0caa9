// Package metrics exposes powerapid's Prometheus instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cray-hpe/powerapid/internal/arb"
)

const (
	namespace = "powerapid"
	subsystem = "arb"
)

const labelAttrKind = "attr_kind"
const labelReason = "reason"

// Collector holds all arbitration-engine Prometheus metrics and implements
// arb.EngineMetrics.
type Collector struct {
	Sessions *prometheus.GaugeVec

	Queued   prometheus.Counter
	Applied  *prometheus.CounterVec
	Rejected *prometheus.CounterVec

	QueueDepth prometheus.Gauge

	WriteLatency *prometheus.HistogramVec
}

// NewCollector creates a Collector with every metric registered against
// reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Sessions,
		c.Queued,
		c.Applied,
		c.Rejected,
		c.QueueDepth,
		c.WriteLatency,
	)

	return c
}

func newMetrics() *Collector {
	return &Collector{
		Sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions",
			Help:      "Number of currently open rendezvous sessions.",
		}, []string{"role"}),

		Queued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "requests_queued_total",
			Help:      "Total SET requests admitted to the work queue.",
		}),

		Applied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "hardware_writes_total",
			Help:      "Total hardware writes performed, by attribute kind.",
		}, []string{labelAttrKind}),

		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "requests_rejected_total",
			Help:      "Total requests rejected, by reason.",
		}, []string{labelReason}),

		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "queue_depth",
			Help:      "Current depth of the worker's backlog.",
		}),

		WriteLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "hardware_write_seconds",
			Help:      "Latency of hardware writes, by attribute kind.",
			Buckets:   prometheus.DefBuckets,
		}, []string{labelAttrKind}),
	}
}

// IncQueued implements arb.EngineMetrics.
func (c *Collector) IncQueued() { c.Queued.Inc() }

// IncApplied implements arb.EngineMetrics.
func (c *Collector) IncApplied(kind arb.AttributeKind) {
	c.Applied.WithLabelValues(kind.String()).Inc()
}

// IncRejected implements arb.EngineMetrics.
func (c *Collector) IncRejected(reason string) {
	c.Rejected.WithLabelValues(reason).Inc()
}

// SetQueueDepth implements arb.EngineMetrics.
func (c *Collector) SetQueueDepth(n int) { c.QueueDepth.Set(float64(n)) }

// ObserveWriteLatency implements arb.EngineMetrics.
func (c *Collector) ObserveWriteLatency(kind arb.AttributeKind, d time.Duration) {
	c.WriteLatency.WithLabelValues(kind.String()).Observe(d.Seconds())
}

// RegisterSession increments the open-sessions gauge for role.
func (c *Collector) RegisterSession(role string) {
	c.Sessions.WithLabelValues(role).Inc()
}

// UnregisterSession decrements the open-sessions gauge for role.
func (c *Collector) UnregisterSession(role string) {
	c.Sessions.WithLabelValues(role).Dec()
}

package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "epp"

var latencyBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

// PollMetrics records poll cycle outcomes and HTTP traffic.
type PollMetrics struct {
	cyclesIssued    prometheus.Counter
	cycleResults    *prometheus.CounterVec
	cycleDuration   *prometheus.HistogramVec
	staleDropped    prometheus.Counter
	ticksSkipped    prometheus.Counter
	inFlight        prometheus.Gauge
	violations      prometheus.Gauge
	processed       prometheus.Gauge
	compliance      prometheus.Gauge
	alertsPublished *prometheus.CounterVec
	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New registers the collectors on reg. Collectors that are already registered are reused.
func New(reg prometheus.Registerer) *PollMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &PollMetrics{
		cyclesIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "poller", Name: "cycles_issued_total",
			Help: "Number of feed requests issued",
		}),
		cycleResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "poller", Name: "cycles_total",
			Help: "Completed poll cycles by result",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "poller", Name: "cycle_duration_seconds",
			Help: "Latency of fetch and normalize", Buckets: latencyBuckets,
		}, []string{"result"}),
		staleDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "poller", Name: "stale_responses_total",
			Help: "Responses discarded because a newer cycle was already applied",
		}),
		ticksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "poller", Name: "ticks_skipped_total",
			Help: "Ticks skipped because too many requests were in flight",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "poller", Name: "requests_in_flight",
			Help: "Feed requests currently running",
		}),
		violations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "snapshot", Name: "violations",
			Help: "Violation count on the reference day",
		}),
		processed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "snapshot", Name: "processed",
			Help: "Processed events on the reference day",
		}),
		compliance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "snapshot", Name: "compliance_percent",
			Help: "Compliance percentage on the reference day",
		}),
		alertsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "notify", Name: "published_total",
			Help: "Messages handed to notification sinks by sink and outcome",
		}, []string{"sink", "outcome"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "Count of processed HTTP requests",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help: "Latency distribution of HTTP handlers", Buckets: latencyBuckets,
		}, []string{"method", "route", "status"}),
	}

	m.cyclesIssued = register(reg, m.cyclesIssued)
	m.cycleResults = register(reg, m.cycleResults)
	m.cycleDuration = register(reg, m.cycleDuration)
	m.staleDropped = register(reg, m.staleDropped)
	m.ticksSkipped = register(reg, m.ticksSkipped)
	m.inFlight = register(reg, m.inFlight)
	m.violations = register(reg, m.violations)
	m.processed = register(reg, m.processed)
	m.compliance = register(reg, m.compliance)
	m.alertsPublished = register(reg, m.alertsPublished)
	m.requestTotal = register(reg, m.requestTotal)
	m.requestDuration = register(reg, m.requestDuration)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (m *PollMetrics) CycleIssued() {
	m.cyclesIssued.Inc()
	m.inFlight.Inc()
}

func (m *PollMetrics) CycleCompleted(kind string, duration time.Duration) {
	m.inFlight.Dec()
	m.cycleResults.WithLabelValues(kind).Inc()
	m.cycleDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func (m *PollMetrics) StaleDropped() {
	m.staleDropped.Inc()
	m.cycleResults.WithLabelValues("stale").Inc()
}

func (m *PollMetrics) TickSkipped() {
	m.ticksSkipped.Inc()
}

func (m *PollMetrics) SnapshotApplied(processed, violations, compliancePct int) {
	m.processed.Set(float64(processed))
	m.violations.Set(float64(violations))
	m.compliance.Set(float64(compliancePct))
}

func (m *PollMetrics) Published(sink string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.alertsPublished.WithLabelValues(sink, outcome).Inc()
}

// Middleware records request counts and latency per route template.
func (m *PollMetrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.requestTotal.WithLabelValues(c.Request.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
	}
}

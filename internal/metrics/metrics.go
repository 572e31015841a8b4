package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wuwenbin0122/turnrelay/internal/chat"
)

const namespace = "turnrelay"

// Metrics holds the relay collectors on a private registry so tests can build
// as many instances as they like.
type Metrics struct {
	registry *prometheus.Registry

	turns            *prometheus.CounterVec
	turnDuration     *prometheus.HistogramVec
	upstreamFailures *prometheus.CounterVec
	relayedBytes     prometheus.Counter
	tokens           prometheus.Counter
	skipped          prometheus.Counter
	detachedFailures *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "turns_total",
			Help:      "Chat turns by outcome",
		}, []string{"outcome"}),
		turnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "turn_duration_seconds",
			Help:      "Time from request to turn outcome",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),
		upstreamFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "failures_total",
			Help:      "Upstream completion requests that did not open a stream, by status",
		}, []string{"status"}),
		relayedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "bytes_total",
			Help:      "Bytes forwarded from upstream to callers",
		}),
		tokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "tokens_total",
			Help:      "Content tokens accumulated from relayed streams",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "skipped_payloads_total",
			Help:      "Stream payloads that could not be decoded",
		}),
		detachedFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detached",
			Name:      "failures_total",
			Help:      "Failed post-response operations by op",
		}, []string{"op"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.turns,
		m.turnDuration,
		m.upstreamFailures,
		m.relayedBytes,
		m.tokens,
		m.skipped,
		m.detachedFailures,
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) TurnFinished(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
	m.turnDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// UpstreamFailed records a failed stream open. Status 0 means the request
// never got a response.
func (m *Metrics) UpstreamFailed(statusCode int) {
	if m == nil {
		return
	}
	status := "transport"
	if statusCode > 0 {
		status = strconv.Itoa(statusCode)
	}
	m.upstreamFailures.WithLabelValues(status).Inc()
}

func (m *Metrics) Relayed(bytes int64, tokens, skipped int) {
	if m == nil {
		return
	}
	m.relayedBytes.Add(float64(bytes))
	m.tokens.Add(float64(tokens))
	m.skipped.Add(float64(skipped))
}

// DetachedFailed matches the failure hook of chat.NewDetached.
func (m *Metrics) DetachedFailed(f chat.DetachedFailure) {
	if m == nil {
		return
	}
	m.detachedFailures.WithLabelValues(f.Op).Inc()
}

var _ chat.Observer = (*Metrics)(nil)

// Package metrics groups the Prometheus instruments exported by the bot.
// All recording methods are safe on a nil *Metrics, which is how metrics are disabled.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the bot.
type Metrics struct {
	registry *prometheus.Registry

	Updates          *prometheus.CounterVec
	Handled          *prometheus.CounterVec
	HandlerDuration  *prometheus.HistogramVec
	RateLimited      prometheus.Counter
	SendFailures     *prometheus.CounterVec
	WebhookRequests  *prometheus.CounterVec
	ActiveSessions   prometheus.Gauge
	PendingUpdates   prometheus.Gauge
	WeatherLookups   *prometheus.CounterVec
	BroadcastRuns    *prometheus.CounterVec
	BroadcastSends   *prometheus.CounterVec
	BroadcastLastRun prometheus.Gauge
}

// New registers the instrument bundle on a private registry that also carries
// the Go runtime and process collectors.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Updates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Inbound updates by classified kind.",
		}, []string{"kind"}),
		Handled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handled_total",
			Help:      "Dispatched handlers by name and outcome.",
		}, []string{"handler", "outcome"}),
		HandlerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handler_duration_seconds",
			Help:      "Handler latency in seconds.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"handler"}),
		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Updates dropped by the per-user rate limiter.",
		}),
		SendFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Outbound Telegram calls that failed, by error kind.",
		}, []string{"kind"}),
		WebhookRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_requests_total",
			Help:      "Webhook requests by response status.",
		}, []string{"status"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Conversation sessions held in memory.",
		}),
		PendingUpdates: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_updates",
			Help:      "Updates queued behind a busy conversation.",
		}),
		WeatherLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "weather_lookups_total",
			Help:      "Weather lookups by result (ok, cache_hit, not_found, malformed, upstream, timeout).",
		}, []string{"result"}),
		BroadcastRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_runs_total",
			Help:      "Broadcast job runs by outcome.",
		}, []string{"outcome"}),
		BroadcastSends: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_sends_total",
			Help:      "Broadcast deliveries by outcome.",
		}, []string{"outcome"}),
		BroadcastLastRun: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broadcast_last_run_timestamp_seconds",
			Help:      "Unix time of the last broadcast run.",
		}),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) IncUpdate(kind string) {
	if m == nil {
		return
	}
	m.Updates.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveHandler(handler, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Handled.WithLabelValues(handler, outcome).Inc()
	m.HandlerDuration.WithLabelValues(handler).Observe(d.Seconds())
}

func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}

func (m *Metrics) IncSendFailure(kind string) {
	if m == nil {
		return
	}
	m.SendFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncWebhook(status string) {
	if m == nil {
		return
	}
	m.WebhookRequests.WithLabelValues(status).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

func (m *Metrics) AddPending(delta int) {
	if m == nil {
		return
	}
	m.PendingUpdates.Add(float64(delta))
}

func (m *Metrics) IncWeather(result string) {
	if m == nil {
		return
	}
	m.WeatherLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveBroadcast(outcome string, sent, failed int, at time.Time) {
	if m == nil {
		return
	}
	m.BroadcastRuns.WithLabelValues(outcome).Inc()
	m.BroadcastSends.WithLabelValues("ok").Add(float64(sent))
	m.BroadcastSends.WithLabelValues("fail").Add(float64(failed))
	m.BroadcastLastRun.Set(float64(at.Unix()))
}

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	registry *prometheus.Registry

	// Collection metrics
	SessionsActive        prometheus.Gauge
	SessionsStartedTotal  prometheus.Counter
	SessionsReplacedTotal prometheus.Counter
	ImagesCollectedTotal  prometheus.Counter

	// Render metrics
	RendersTotal       *prometheus.CounterVec
	RenderDuration     prometheus.Histogram
	RenderRetriesTotal prometheus.Counter

	// Telegram metrics
	TelegramMessagesSentTotal     prometheus.Counter
	TelegramMessagesReceivedTotal prometheus.Counter
	TelegramErrorsTotal           prometheus.Counter

	// Browser metrics
	BrowserPagesActive prometheus.Gauge
}

// Status label values for RendersTotal
const (
	RenderStatusOK       = "ok"
	RenderStatusFailed   = "failed"
	RenderStatusRejected = "rejected"
)

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		// Collection metrics
		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sessions_active",
				Help: "Number of collage sessions currently collecting images",
			},
		),
		SessionsStartedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sessions_started_total",
				Help: "Total number of collage sessions started",
			},
		),
		SessionsReplacedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sessions_replaced_total",
				Help: "Total number of sessions abandoned by a new trigger or cancel",
			},
		),
		ImagesCollectedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "images_collected_total",
				Help: "Total number of images appended to sessions",
			},
		),

		// Render metrics
		RendersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "renders_total",
				Help: "Total number of finalize outcomes",
			},
			[]string{"status"},
		),
		RenderDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "render_duration_seconds",
				Help:    "Duration of collage renders in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		RenderRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "render_retries_total",
				Help: "Total number of render attempts retried after a transient failure",
			},
		),

		// Telegram metrics
		TelegramMessagesSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "telegram_messages_sent_total",
				Help: "Total number of Telegram messages sent",
			},
		),
		TelegramMessagesReceivedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "telegram_messages_received_total",
				Help: "Total number of Telegram messages received",
			},
		),
		TelegramErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "telegram_errors_total",
				Help: "Total number of Telegram errors",
			},
		),

		// Browser metrics
		BrowserPagesActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "browser_pages_active",
				Help: "Number of render pages currently open",
			},
		),
	}

	// Register all metrics
	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	// Collection metrics
	m.registry.MustRegister(m.SessionsActive)
	m.registry.MustRegister(m.SessionsStartedTotal)
	m.registry.MustRegister(m.SessionsReplacedTotal)
	m.registry.MustRegister(m.ImagesCollectedTotal)

	// Render metrics
	m.registry.MustRegister(m.RendersTotal)
	m.registry.MustRegister(m.RenderDuration)
	m.registry.MustRegister(m.RenderRetriesTotal)

	// Telegram metrics
	m.registry.MustRegister(m.TelegramMessagesSentTotal)
	m.registry.MustRegister(m.TelegramMessagesReceivedTotal)
	m.registry.MustRegister(m.TelegramErrorsTotal)

	// Browser metrics
	m.registry.MustRegister(m.BrowserPagesActive)
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

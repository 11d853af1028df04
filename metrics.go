package renamebot

import (
	"time"

	"github.com/maxbolgarin/lang"
	"github.com/prometheus/client_golang/prometheus"
)

// Error type constants for metrics categorization
const (
	MetricsErrorBotBlocked  = "bot_blocked"  // Bot is blocked by user
	MetricsErrorHandler     = "handler"      // Handler returned an error
	MetricsErrorTelegramAPI = "telegram_api" // Telegram API returned an error outside of a handler

	defaultSubsystem = "renamebot"
)

// Handler names used as label values.
const (
	handlerStart = "start"
	handlerClear = "clear"
	handlerFile  = "file"
	handlerMedia = "media"
)

// MetricsHistogramBuckets are histogram buckets for handler duration, file handlers
// include download and upload, so buckets go up to 5 minutes.
var MetricsHistogramBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}

// MetricsConfig contains configuration for prometheus metrics.
type MetricsConfig struct {
	// Registry is a registry for metrics. Metrics are disabled if it is nil.
	Registry *prometheus.Registry
	// Namespace is a namespace for metrics.
	Namespace string
	// Subsystem is a subsystem for metrics.
	// Default: "renamebot".
	Subsystem string
	// ConstLabels are labels added to every metric.
	ConstLabels prometheus.Labels
}

// metrics holds all Prometheus metrics for the bot.
type metrics struct {
	MetricsConfig

	updatesTotal           prometheus.Counter
	commandsTotal          *prometheus.CounterVec
	filesProcessedTotal    prometheus.Counter
	filesRejectedTotal     prometheus.Counter
	thumbnailErrorsTotal   prometheus.Counter
	handlerDurationSeconds *prometheus.HistogramVec
	errorsTotal            *prometheus.CounterVec

	disabled bool
}

// newMetrics creates and registers all metrics.
// If config.Registry is nil, returns a disabled metrics instance.
func newMetrics(config MetricsConfig) *metrics {
	if config.Registry == nil {
		return &metrics{
			disabled: true,
		}
	}

	m := &metrics{
		MetricsConfig: config,
	}

	m.updatesTotal = m.newSimpleCounter("updates_total", "Total number of updates received")
	m.commandsTotal = m.newCounter("commands_total", "Total number of handled commands", "command")
	m.filesProcessedTotal = m.newSimpleCounter("files_processed_total", "Total number of renamed and sent files")
	m.filesRejectedTotal = m.newSimpleCounter("files_rejected_total", "Total number of rejected media with unsupported type")
	m.thumbnailErrorsTotal = m.newSimpleCounter("thumbnail_errors_total", "Total number of failed thumbnail generations")
	m.handlerDurationSeconds = m.newHistogram("handler_duration_seconds", "Handler execution duration in seconds", MetricsHistogramBuckets, "handler")
	m.errorsTotal = m.newCounter("errors_total", "Total number of errors by type", "type")

	return m
}

func (m *metrics) incUpdate() {
	if m == nil || m.disabled {
		return
	}
	m.updatesTotal.Inc()
}

func (m *metrics) incCommand(command string) {
	if m == nil || m.disabled {
		return
	}
	m.commandsTotal.WithLabelValues(command).Inc()
}

func (m *metrics) incFileProcessed() {
	if m == nil || m.disabled {
		return
	}
	m.filesProcessedTotal.Inc()
}

func (m *metrics) incFileRejected() {
	if m == nil || m.disabled {
		return
	}
	m.filesRejectedTotal.Inc()
}

func (m *metrics) incThumbnailError() {
	if m == nil || m.disabled {
		return
	}
	m.thumbnailErrorsTotal.Inc()
}

func (m *metrics) observeHandlerDuration(handler string, d time.Duration) {
	if m == nil || m.disabled {
		return
	}
	m.handlerDurationSeconds.WithLabelValues(handler).Observe(d.Seconds())
}

func (m *metrics) incError(errorType string) {
	if m == nil || m.disabled {
		return
	}
	m.errorsTotal.WithLabelValues(errorType).Inc()
}

// newCounter creates a new CounterVec registered in the registry.
func (r *metrics) newCounter(name, help string, labelNames ...string) *prometheus.CounterVec {
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   r.Namespace,
			Subsystem:   lang.Check(r.Subsystem, defaultSubsystem),
			Name:        name,
			Help:        help,
			ConstLabels: r.ConstLabels,
		},
		labelNames,
	)
	r.Registry.MustRegister(counter)
	return counter
}

// newHistogram creates a new HistogramVec registered in the registry.
func (r *metrics) newHistogram(name, help string, buckets []float64, labelNames ...string) *prometheus.HistogramVec {
	histogram := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   r.Namespace,
			Subsystem:   lang.Check(r.Subsystem, defaultSubsystem),
			Name:        name,
			Help:        help,
			ConstLabels: r.ConstLabels,
			Buckets:     buckets,
		},
		labelNames,
	)
	r.Registry.MustRegister(histogram)
	return histogram
}

// newSimpleCounter creates a new Counter registered in the registry.
func (r *metrics) newSimpleCounter(name, help string) prometheus.Counter {
	counter := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace:   r.Namespace,
			Subsystem:   lang.Check(r.Subsystem, defaultSubsystem),
			Name:        name,
			Help:        help,
			ConstLabels: r.ConstLabels,
		},
	)
	r.Registry.MustRegister(counter)
	return counter
}

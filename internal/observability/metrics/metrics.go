// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "live_subtitles"

// Drop reasons for FragmentsDropped.
const (
	DropReasonDecode         = "decode"
	DropReasonSessionStopped = "session_stopped"
	DropReasonNoSession      = "no_session"
	DropReasonOversize       = "oversize"
	DropReasonNoChannel      = "no_channel"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Ingest stream metrics
	StreamsTotal   prometheus.Counter
	StreamsActive  prometheus.Gauge
	StreamsSuccess prometheus.Counter
	StreamsFailed  prometheus.Counter
	StreamDuration prometheus.Histogram

	// Fragment metrics
	FragmentsReceived *prometheus.CounterVec
	FragmentBytes     prometheus.Counter
	FragmentsDropped  *prometheus.CounterVec
	FragmentsEmpty    prometheus.Counter

	// Subtitle metrics
	SubtitleUpdates *prometheus.CounterVec
	SubtitleResets  prometheus.Counter

	// Session metrics
	SessionsOpened        prometheus.Counter
	SessionsActive        prometheus.Gauge
	SessionControlTotal   *prometheus.CounterVec
	SessionControlErrors  *prometheus.CounterVec
	SessionControlLatency *prometheus.HistogramVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// Display metrics
	ViewersActive   prometheus.Gauge
	ViewerBroadcast prometheus.Counter
	ViewerDropped   prometheus.Counter
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates all Prometheus metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// Ingest stream metrics
		StreamsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_total",
			Help:      "Total number of fragment ingest streams started",
		}),
		StreamsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_active",
			Help:      "Number of currently active fragment ingest streams",
		}),
		StreamsSuccess: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_success_total",
			Help:      "Total number of successfully completed ingest streams",
		}),
		StreamsFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_failed_total",
			Help:      "Total number of failed ingest streams",
		}),
		StreamDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_duration_seconds",
			Help:      "Duration of ingest streams in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 1800, 3600},
		}),

		// Fragment metrics
		FragmentsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_received_total",
			Help:      "Total number of raw transcript fragments received",
		}, []string{"transport"}),
		FragmentBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragment_bytes_received_total",
			Help:      "Total raw transcript fragment bytes received",
		}),
		FragmentsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_dropped_total",
			Help:      "Total number of transcript fragments dropped",
		}, []string{"reason"}),
		FragmentsEmpty: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_empty_total",
			Help:      "Total number of fragments carrying no words",
		}),

		// Subtitle metrics
		SubtitleUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subtitle_updates_total",
			Help:      "Total number of current-subtitle updates",
		}, []string{"final"}),
		SubtitleResets: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subtitle_resets_total",
			Help:      "Total number of current-subtitle resets",
		}),

		// Session metrics
		SessionsOpened: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_opened_total",
			Help:      "Total number of subtitle sessions opened",
		}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of open subtitle sessions",
		}),
		SessionControlTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_control_total",
			Help:      "Total number of transcription start/stop calls",
		}, []string{"op"}),
		SessionControlErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_control_errors_total",
			Help:      "Total number of failed transcription start/stop calls",
		}, []string{"op"}),
		SessionControlLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_control_latency_seconds",
			Help:      "Transcription start/stop call latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"op"}),

		// Kafka publish metrics
		KafkaPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		// Display metrics
		ViewersActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "viewers_active",
			Help:      "Number of connected subtitle viewers",
		}),
		ViewerBroadcast: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "viewer_broadcast_total",
			Help:      "Total number of subtitle changes queued for viewers",
		}),
		ViewerDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "viewer_broadcast_dropped_total",
			Help:      "Total number of subtitle changes dropped because the broadcast queue was full",
		}),
	}
}

// RecordStreamStart records a new ingest stream starting.
func (m *Metrics) RecordStreamStart() {
	m.StreamsTotal.Inc()
	m.StreamsActive.Inc()
}

// RecordStreamEnd records an ingest stream ending.
func (m *Metrics) RecordStreamEnd(success bool, durationSeconds float64) {
	m.StreamsActive.Dec()
	m.StreamDuration.Observe(durationSeconds)
	if success {
		m.StreamsSuccess.Inc()
	} else {
		m.StreamsFailed.Inc()
	}
}

// RecordFragmentReceived records a raw fragment arriving over transport.
func (m *Metrics) RecordFragmentReceived(transport string, bytes int) {
	m.FragmentsReceived.WithLabelValues(transport).Inc()
	m.FragmentBytes.Add(float64(bytes))
}

// RecordFragmentDropped records a fragment being dropped.
func (m *Metrics) RecordFragmentDropped(reason string) {
	m.FragmentsDropped.WithLabelValues(reason).Inc()
}

// RecordEmptyFragment records a fragment without words.
func (m *Metrics) RecordEmptyFragment() {
	m.FragmentsEmpty.Inc()
}

// RecordSubtitleUpdate records the current subtitle changing.
func (m *Metrics) RecordSubtitleUpdate(final bool) {
	label := "false"
	if final {
		label = "true"
	}
	m.SubtitleUpdates.WithLabelValues(label).Inc()
}

// RecordSubtitleReset records the current subtitle being cleared.
func (m *Metrics) RecordSubtitleReset() {
	m.SubtitleResets.Inc()
}

// RecordSessionOpened records a new session.
func (m *Metrics) RecordSessionOpened() {
	m.SessionsOpened.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionClosed records a session being removed.
func (m *Metrics) RecordSessionClosed() {
	m.SessionsActive.Dec()
}

// RecordSessionControl records a start or stop call against the backend.
func (m *Metrics) RecordSessionControl(op string, err error, latencySeconds float64) {
	m.SessionControlTotal.WithLabelValues(op).Inc()
	m.SessionControlLatency.WithLabelValues(op).Observe(latencySeconds)
	if err != nil {
		m.SessionControlErrors.WithLabelValues(op).Inc()
	}
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordViewerConnected records a viewer joining.
func (m *Metrics) RecordViewerConnected() {
	m.ViewersActive.Inc()
}

// RecordViewerDisconnected records a viewer leaving.
func (m *Metrics) RecordViewerDisconnected() {
	m.ViewersActive.Dec()
}

// RecordBroadcast records a subtitle change offered to viewers.
func (m *Metrics) RecordBroadcast(queued bool) {
	if queued {
		m.ViewerBroadcast.Inc()
	} else {
		m.ViewerDropped.Inc()
	}
}

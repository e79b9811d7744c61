package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	namespace = "kikitori"
	jobName   = "kikitori"
)

// PrometheusRecorder collects per-run metrics in its own registry. The
// process is short-lived, so the registry is pushed to a Pushgateway at the
// end of a session instead of being scraped.
type PrometheusRecorder struct {
	registry *prometheus.Registry
	pusher   *push.Pusher

	framesSent         prometheus.Counter
	bytesSent          prometheus.Counter
	events             *prometheus.CounterVec
	extractionFailures *prometheus.CounterVec
	publishTotal       *prometheus.CounterVec
	publishErrors      *prometheus.CounterVec
	publishLatency     *prometheus.HistogramVec
	sessions           *prometheus.CounterVec
	sessionDuration    prometheus.Histogram
}

func NewPrometheusRecorder(pushgatewayURL string) *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	r := &PrometheusRecorder{
		registry: reg,
		framesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_sent_total",
			Help:      "Total audio frames sent to the recognition service",
		}),
		bytesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_sent_total",
			Help:      "Total audio bytes sent to the recognition service",
		}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Recognition events received, by kind",
		}, []string{"kind"}),
		extractionFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_failures_total",
			Help:      "Events whose text could not be extracted, by kind",
		}, []string{"kind"}),
		publishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Transcript events published",
		}, []string{"topic"}),
		publishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Transcript events that failed to publish",
		}, []string{"topic"}),
		publishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
		sessions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Recognition sessions, by final status",
		}, []string{"status"}),
		sessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of recognition sessions in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		}),
	}
	if pushgatewayURL != "" {
		r.pusher = push.New(pushgatewayURL, jobName).Gatherer(reg)
	}
	return r
}

func (r *PrometheusRecorder) RecordFrameSent(bytes int) {
	r.framesSent.Inc()
	r.bytesSent.Add(float64(bytes))
}

func (r *PrometheusRecorder) RecordEvent(kind string) {
	r.events.WithLabelValues(kind).Inc()
}

func (r *PrometheusRecorder) RecordExtractionFailure(kind string) {
	r.extractionFailures.WithLabelValues(kind).Inc()
}

func (r *PrometheusRecorder) RecordPublish(topic string, failed bool, latencySeconds float64) {
	r.publishTotal.WithLabelValues(topic).Inc()
	if failed {
		r.publishErrors.WithLabelValues(topic).Inc()
	}
	r.publishLatency.WithLabelValues(topic).Observe(latencySeconds)
}

func (r *PrometheusRecorder) RecordSession(status string, durationSeconds float64) {
	r.sessions.WithLabelValues(status).Inc()
	r.sessionDuration.Observe(durationSeconds)
}

func (r *PrometheusRecorder) Push(ctx context.Context) error {
	if r.pusher == nil {
		return nil
	}
	if err := r.pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}

// Package metrics provides Prometheus metrics for the CBNote host and
// companion.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Host request handling
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cbnote_requests_total",
			Help: "Requests handled by the host, by request tag and outcome",
		},
		[]string{"request", "outcome"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cbnote_request_duration_seconds",
			Help:    "Time to build a response on the host",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"request"},
	)

	undecodablePayloads = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cbnote_undecodable_payloads_total",
			Help: "Inbound payloads that could not be decoded",
		},
	)

	unencodableResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cbnote_unencodable_responses_total",
			Help: "Responses dropped because they could not be encoded",
		},
	)

	// Image transform
	imageBytesIn = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cbnote_image_bytes_in_total",
			Help: "Original image bytes read for downscaling",
		},
	)

	imageBytesOut = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cbnote_image_bytes_out_total",
			Help: "Re-encoded image bytes sent to the companion",
		},
	)

	imageTransformDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cbnote_image_transform_duration_seconds",
			Help:    "Image downscale and recompress duration",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Session
	sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cbnote_sessions_active",
			Help: "Connected companion sessions (0 or 1)",
		},
	)

	sessionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cbnote_sessions_rejected_total",
			Help: "Companion connections rejected, by reason",
		},
		[]string{"reason"},
	)

	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cbnote_notifications_total",
			Help: "Notifications pushed to the companion",
		},
		[]string{"type"},
	)

	// Companion
	connectabilityFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cbnote_connectability_failures_total",
			Help: "Requests not sent because a connectivity precondition failed",
		},
		[]string{"reason"},
	)

	transportFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cbnote_transport_failures_total",
			Help: "Sends that failed in the transport",
		},
	)

	subscribersActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cbnote_subscribers_active",
			Help: "Active event subscribers, by topic",
		},
		[]string{"topic"},
	)

	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cbnote_events_total",
			Help: "Events published, by topic",
		},
		[]string{"topic"},
	)

	// Repository backends
	backendOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cbnote_backend_operation_duration_seconds",
			Help:    "Document backend operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	backendOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cbnote_backend_operations_total",
			Help: "Document backend operations",
		},
		[]string{"backend", "operation", "status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records one handled request.
func RecordRequest(request, outcome string, duration time.Duration) {
	requestsTotal.WithLabelValues(request, outcome).Inc()
	requestDuration.WithLabelValues(request).Observe(duration.Seconds())
}

// RecordUndecodablePayload records an inbound payload that failed to decode.
func RecordUndecodablePayload() {
	undecodablePayloads.Inc()
}

// RecordUnencodableResponse records a response that could not be encoded.
func RecordUnencodableResponse() {
	unencodableResponses.Inc()
}

// RecordImageTransform records one downscale.
func RecordImageTransform(in, out int, duration time.Duration) {
	imageBytesIn.Add(float64(in))
	imageBytesOut.Add(float64(out))
	imageTransformDuration.Observe(duration.Seconds())
}

// SetSessionsActive sets the number of connected companions.
func SetSessionsActive(count int) {
	sessionsActive.Set(float64(count))
}

// RecordSessionRejected records a refused companion connection.
func RecordSessionRejected(reason string) {
	sessionsRejected.WithLabelValues(reason).Inc()
}

// RecordNotification records a pushed notification.
func RecordNotification(notificationType string) {
	notificationsTotal.WithLabelValues(notificationType).Inc()
}

// RecordConnectabilityFailure records a failed connectivity precondition.
func RecordConnectabilityFailure(reason string) {
	connectabilityFailures.WithLabelValues(reason).Inc()
}

// RecordTransportFailure records a send that failed in the transport.
func RecordTransportFailure() {
	transportFailures.Inc()
}

// SetSubscribersActive sets the number of subscribers on a topic.
func SetSubscribersActive(topic string, count int) {
	subscribersActive.WithLabelValues(topic).Set(float64(count))
}

// RecordEvent records a published event.
func RecordEvent(topic string) {
	eventsTotal.WithLabelValues(topic).Inc()
}

// RecordBackendOperation records a document backend operation.
func RecordBackendOperation(backend, operation string, duration time.Duration, success bool) {
	backendOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	status := "success"
	if !success {
		status = "error"
	}
	backendOperationsTotal.WithLabelValues(backend, operation, status).Inc()
}

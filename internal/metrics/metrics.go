package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pn_delivery_http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pn_delivery_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "path"},
	)

	notificationsAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pn_delivery_notifications_accepted_total",
			Help: "Notifications accepted with an allocated IUN, by sender",
		},
		[]string{"pa_id"},
	)

	iunCollisions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pn_delivery_iun_collisions_total",
			Help: "IUN candidates rejected by the store as already taken",
		},
	)

	iunExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pn_delivery_iun_allocation_exhausted_total",
			Help: "Ingestions that ran out of IUN attempts",
		},
	)

	attachmentsStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pn_delivery_attachments_stored_total",
			Help: "Attachments written to the object store by path (inline or preload)",
		},
		[]string{"path"},
	)

	metadataRowsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pn_delivery_metadata_rows_written_total",
			Help: "Search index rows written by the status fan-out",
		},
	)

	fanOutFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pn_delivery_fanout_failures_total",
			Help: "Status fan-out passes that failed, by reason",
		},
		[]string{"reason"},
	)

	identityLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pn_delivery_identity_lookups_total",
			Help: "Opaque recipient id lookups by source (cache or datavault)",
		},
		[]string{"source"},
	)

	eventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pn_delivery_events_published_total",
			Help: "Domain events handed to a sink, by sink and outcome",
		},
		[]string{"sink", "outcome"},
	)

	statusMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pn_delivery_status_messages_total",
			Help: "Status-change queue messages by outcome",
		},
		[]string{"outcome"},
	)

	sqsMessagesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pn_delivery_sqs_messages_in_flight",
			Help: "Current status messages being processed from SQS",
		},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pn_delivery_idempotency_hits_total",
			Help: "Requests served from idempotency cache",
		},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pn_delivery_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter",
		},
		[]string{"pa_id"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordNotificationAccepted counts a notification persisted under a fresh IUN
func RecordNotificationAccepted(paID string) {
	notificationsAccepted.WithLabelValues(paID).Inc()
}

// RecordIUNCollision counts a rejected IUN candidate
func RecordIUNCollision() {
	iunCollisions.Inc()
}

// RecordIUNExhausted counts an allocation that used up every attempt
func RecordIUNExhausted() {
	iunExhausted.Inc()
}

// RecordAttachmentStored counts an attachment written via the given path
func RecordAttachmentStored(path string) {
	attachmentsStored.WithLabelValues(path).Inc()
}

// RecordMetadataRows counts index rows written by one fan-out pass
func RecordMetadataRows(n int) {
	metadataRowsWritten.Add(float64(n))
}

// RecordFanOutFailure counts a failed fan-out pass
func RecordFanOutFailure(reason string) {
	fanOutFailures.WithLabelValues(reason).Inc()
}

// RecordIdentityLookup counts an opaque id resolution by source
func RecordIdentityLookup(source string) {
	identityLookups.WithLabelValues(source).Inc()
}

// RecordEventPublished counts an event handed to a sink
func RecordEventPublished(sink, outcome string) {
	eventsPublished.WithLabelValues(sink, outcome).Inc()
}

// RecordStatusMessage counts a status queue message by outcome
func RecordStatusMessage(outcome string) {
	statusMessages.WithLabelValues(outcome).Inc()
}

// SetSQSMessagesInFlight sets the current in-flight message count
func SetSQSMessagesInFlight(count int) {
	sqsMessagesInFlight.Set(float64(count))
}

// RecordIdempotencyHit records a cache hit for idempotency
func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection(paID string) {
	rateLimitRejections.WithLabelValues(paID).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics.
// Requests are labelled with the chi route pattern so IUNs in the path
// do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, routePattern(r), wrapped.status, time.Since(start))
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

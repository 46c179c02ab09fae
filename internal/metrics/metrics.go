package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "materials_svc_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "materials_svc_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "materials_svc_operations_total",
			Help: "Total number of material order operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "materials_svc_operation_duration_seconds",
			Help:    "Duration of material order operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	versionConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "materials_svc_version_conflicts_total",
			Help: "Conditioned writes that lost the race and were retried",
		},
		[]string{"operation"},
	)

	cascadesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "materials_svc_cascades_total",
			Help: "Service order cascade deletions by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	outboxTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "materials_svc_outbox_messages_total",
			Help: "Events routed through the outbox by result",
		},
		[]string{"result"},
	)
)

// RecordOperation records the outcome and duration of a service operation.
func RecordOperation(operation, outcome string, started time.Time) {
	operationsTotal.WithLabelValues(operation, outcome).Inc()
	operationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// RecordVersionConflict counts one retried optimistic-concurrency write.
func RecordVersionConflict(operation string) {
	versionConflicts.WithLabelValues(operation).Inc()
}

// RecordCascade counts one cascade deletion.
func RecordCascade(mode, outcome string) {
	cascadesTotal.WithLabelValues(mode, outcome).Inc()
}

// RecordOutbox counts one outbox event: enqueued, published, retried or dropped.
func RecordOutbox(result string) {
	outboxTotal.WithLabelValues(result).Inc()
}

// NewHTTPMiddleware collects request counters and durations labelled by route pattern.
func NewHTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		labels := []string{r.Method, path, strconv.Itoa(status)}

		httpRequestsTotal.WithLabelValues(labels...).Inc()
		httpRequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
	})
}

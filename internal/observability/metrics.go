package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets  = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	storeDurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5}
	bodySizeBuckets      = []float64{100, 1024, 10240, 102400, 1048576}
	selectionBuckets     = []float64{1, 5, 10, 50, 100, 500, 1000}
)

// Metrics holds all Prometheus metric instruments for the admin.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Admin action metrics
	ActionsTotal       *prometheus.CounterVec
	ActionDuration     *prometheus.HistogramVec
	BatchActionsTotal  *prometheus.CounterVec
	BatchSelectionSize *prometheus.HistogramVec
	LockConflictsTotal *prometheus.CounterVec
	CSRFFailuresTotal  *prometheus.CounterVec
	FlashMessagesTotal *prometheus.CounterVec
	ExportRowsTotal    *prometheus.CounterVec
	AuditFailuresTotal *prometheus.CounterVec

	// Model manager metrics
	StoreOperationsTotal *prometheus.CounterVec
	StoreDuration        *prometheus.HistogramVec

	// Cache metrics
	CapabilityCacheHitsTotal   prometheus.Counter
	CapabilityCacheMissesTotal prometheus.Counter

	// System metrics
	DefinitionReloadTotal *prometheus.CounterVec
	AdminsLoaded          prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crudadmin_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crudadmin_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crudadmin_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crudadmin_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crudadmin_actions_total",
			Help: "Total number of admin actions by outcome.",
		}, []string{"admin", "action", "outcome"}),
		ActionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crudadmin_action_duration_seconds",
			Help:    "Admin action duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"admin", "action"}),
		BatchActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crudadmin_batch_actions_total",
			Help: "Total number of batch actions by outcome.",
		}, []string{"admin", "batch_action", "outcome"}),
		BatchSelectionSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crudadmin_batch_selection_size",
			Help:    "Number of identifiers selected for a batch action.",
			Buckets: selectionBuckets,
		}, []string{"admin", "batch_action"}),
		LockConflictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crudadmin_lock_conflicts_total",
			Help: "Total number of optimistic lock conflicts on edit.",
		}, []string{"admin"}),
		CSRFFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crudadmin_csrf_failures_total",
			Help: "Total number of rejected CSRF tokens.",
		}, []string{"intention"}),
		FlashMessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crudadmin_flash_messages_total",
			Help: "Total number of flash messages added.",
		}, []string{"type"}),
		ExportRowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crudadmin_export_rows_total",
			Help: "Total number of exported rows.",
		}, []string{"admin", "format"}),
		AuditFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crudadmin_audit_failures_total",
			Help: "Total number of revisions that could not be recorded after a successful save.",
		}, []string{"class", "action"}),

		StoreOperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crudadmin_store_operations_total",
			Help: "Total number of model manager operations.",
		}, []string{"operation", "status"}),
		StoreDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crudadmin_store_duration_seconds",
			Help:    "Model manager operation duration in seconds.",
			Buckets: storeDurationBuckets,
		}, []string{"operation"}),

		CapabilityCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crudadmin_capability_cache_hits_total",
			Help: "Total capability cache hits.",
		}),
		CapabilityCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crudadmin_capability_cache_misses_total",
			Help: "Total capability cache misses.",
		}),

		DefinitionReloadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crudadmin_definition_reload_total",
			Help: "Total admin definition reloads.",
		}, []string{"status"}),
		AdminsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crudadmin_admins_loaded",
			Help: "Number of loaded admin definitions.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		m.ActionsTotal,
		m.ActionDuration,
		m.BatchActionsTotal,
		m.BatchSelectionSize,
		m.LockConflictsTotal,
		m.CSRFFailuresTotal,
		m.FlashMessagesTotal,
		m.ExportRowsTotal,
		m.AuditFailuresTotal,
		m.StoreOperationsTotal,
		m.StoreDuration,
		m.CapabilityCacheHitsTotal,
		m.CapabilityCacheMissesTotal,
		m.DefinitionReloadTotal,
		m.AdminsLoaded,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordAction records the outcome of one admin action.
func (m *Metrics) RecordAction(adminCode, action, outcome string, duration time.Duration) {
	m.ActionsTotal.WithLabelValues(adminCode, action, outcome).Inc()
	m.ActionDuration.WithLabelValues(adminCode, action).Observe(duration.Seconds())
}

// RecordBatchAction records a dispatched batch action and its selection size.
func (m *Metrics) RecordBatchAction(adminCode, batchAction, outcome string, selected int) {
	m.BatchActionsTotal.WithLabelValues(adminCode, batchAction, outcome).Inc()
	m.BatchSelectionSize.WithLabelValues(adminCode, batchAction).Observe(float64(selected))
}

// RecordLockConflict records an optimistic lock conflict.
func (m *Metrics) RecordLockConflict(adminCode string) {
	m.LockConflictsTotal.WithLabelValues(adminCode).Inc()
}

// RecordCSRFFailure records a rejected CSRF token.
func (m *Metrics) RecordCSRFFailure(intention string) {
	m.CSRFFailuresTotal.WithLabelValues(intention).Inc()
}

// RecordFlash records an added flash message.
func (m *Metrics) RecordFlash(flashType string) {
	m.FlashMessagesTotal.WithLabelValues(flashType).Inc()
}

// RecordExport records the number of rows written by an export.
func (m *Metrics) RecordExport(adminCode, format string, rows int) {
	m.ExportRowsTotal.WithLabelValues(adminCode, format).Add(float64(rows))
}

// RecordAuditFailure records a revision that could not be stored.
func (m *Metrics) RecordAuditFailure(class, action string) {
	m.AuditFailuresTotal.WithLabelValues(class, action).Inc()
}

// RecordStoreOperation records a model manager call.
func (m *Metrics) RecordStoreOperation(operation, status string, duration time.Duration) {
	m.StoreOperationsTotal.WithLabelValues(operation, status).Inc()
	m.StoreDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCapabilityCacheHit records a capability cache hit.
func (m *Metrics) RecordCapabilityCacheHit() {
	m.CapabilityCacheHitsTotal.Inc()
}

// RecordCapabilityCacheMiss records a capability cache miss.
func (m *Metrics) RecordCapabilityCacheMiss() {
	m.CapabilityCacheMissesTotal.Inc()
}

// RecordDefinitionReload records a definition reload.
func (m *Metrics) RecordDefinitionReload(status string) {
	m.DefinitionReloadTotal.WithLabelValues(status).Inc()
}

// SetAdminsLoaded sets the number of loaded admin definitions.
func (m *Metrics) SetAdminsLoaded(count int) {
	m.AdminsLoaded.Set(float64(count))
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to keep label cardinality low.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}
		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start), reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	pattern = strings.ReplaceAll(pattern, "/*/", "/")
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

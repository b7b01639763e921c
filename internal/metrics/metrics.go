package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Room / Pipe Metrics
	RoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_rooms_active",
			Help: "Number of rooms with an active Stream Pipe",
		},
	)

	EntriesActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_active_entries",
			Help: "Number of live per-destination transcoder entries",
		},
		[]string{"platform"},
	)

	ChunksWrittenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_chunks_written_total",
			Help: "Total number of ingest chunks written to a destination entry",
		},
		[]string{"platform", "status"},
	)

	EntryWriteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_entry_write_duration_seconds",
			Help:    "Duration of a single chunk write to one destination entry",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"platform"},
	)

	BackpressureEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_backpressure_events_total",
			Help: "Total number of consecutive-backpressure events observed on a destination entry",
		},
		[]string{"platform"},
	)

	ChildSpawnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_child_spawns_total",
			Help: "Total number of transcoder child processes spawned",
		},
		[]string{"platform", "status"},
	)

	ChildExitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_child_exits_total",
			Help: "Total number of transcoder child process exits",
		},
		[]string{"platform", "reason"},
	)

	// Queue Metrics
	TestJobsQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_test_jobs_queue_depth",
			Help: "Number of test-rtmp-stream jobs waiting in queue",
		},
	)

	TestJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_test_jobs_total",
			Help: "Total number of test-rtmp-stream jobs processed",
		},
		[]string{"status"},
	)

	// Database Metrics
	DatabaseOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_database_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "status"},
	)

	DatabaseOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_database_operation_duration_seconds",
			Help:    "Database operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	DatabaseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_database_connections_active",
			Help: "Number of active database connections",
		},
	)

	// Cache Metrics
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// Error Metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordChunkWrite records one PushChunk write outcome for a destination.
func RecordChunkWrite(platform, status string, duration float64) {
	ChunksWrittenTotal.WithLabelValues(platform, status).Inc()
	EntryWriteDuration.WithLabelValues(platform).Observe(duration)
}

// RecordBackpressureEvent records a consecutive-backpressure observation.
func RecordBackpressureEvent(platform string) {
	BackpressureEventsTotal.WithLabelValues(platform).Inc()
}

// RecordChildSpawn records a transcoder child process spawn outcome.
func RecordChildSpawn(platform, status string) {
	ChildSpawnsTotal.WithLabelValues(platform, status).Inc()
}

// RecordChildExit records why a transcoder child process exited.
func RecordChildExit(platform, reason string) {
	ChildExitsTotal.WithLabelValues(platform, reason).Inc()
}

// RecordTestJob records a test-rtmp-stream job outcome.
func RecordTestJob(status string) {
	TestJobsTotal.WithLabelValues(status).Inc()
}

// RecordDatabaseOperation records a database operation
func RecordDatabaseOperation(operation, status string, duration float64) {
	DatabaseOperationsTotal.WithLabelValues(operation, status).Inc()
	DatabaseOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordCacheAccess records cache hit or miss
func RecordCacheAccess(cacheType string, hit bool) {
	if hit {
		CacheHitsTotal.WithLabelValues(cacheType).Inc()
	} else {
		CacheMissesTotal.WithLabelValues(cacheType).Inc()
	}
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

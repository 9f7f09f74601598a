package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/score-tracker/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	dbQueryDuration *prometheus.HistogramVec
	coursesDecoded  prometheus.Counter
	decodeFailures  prometheus.Counter
	courseChanges   *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	syncDuration    prometheus.Histogram

	cacheHitCount     uint64
	cacheMissCount    uint64
	requestCount      uint64
	dbQueryCount      uint64
	syncRuns          uint64
	decodedCount      uint64
	decodeFailCount   uint64
	newCount          uint64
	changedCount      uint64
	unchangedCount    uint64
	notifySentCount   uint64
	notifyFailedCount uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	coursesDecoded := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "courses_decoded_total",
		Help: "Course records decoded from portal payloads",
	})

	decodeFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "decode_failures_total",
		Help: "Portal payloads that could not be decoded",
	})

	courseChanges := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "course_changes_total",
		Help: "Incoming courses by change classification",
	}, []string{"kind"})

	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Webhook deliveries by result",
	}, []string{"result"})

	syncDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sync_run_duration_seconds",
		Help:    "Duration of a full decode and reconcile run",
		Buckets: prometheus.DefBuckets,
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		dbQueryDuration, coursesDecoded, decodeFailures, courseChanges, notifications, syncDuration, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheHitRatio:   cacheHitRatio,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		dbQueryDuration: dbQueryDuration,
		coursesDecoded:  coursesDecoded,
		decodeFailures:  decodeFailures,
		courseChanges:   courseChanges,
		notifications:   notifications,
		syncDuration:    syncDuration,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	total := hits + atomic.LoadUint64(&m.cacheMissCount)
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
	atomic.AddUint64(&m.dbQueryCount, 1)
}

// RecordDecode counts decoded courses and failed payloads.
func (m *MetricsService) RecordDecode(courses int, failed bool) {
	if m == nil {
		return
	}
	if failed {
		m.decodeFailures.Inc()
		atomic.AddUint64(&m.decodeFailCount, 1)
		return
	}
	m.coursesDecoded.Add(float64(courses))
	atomic.AddUint64(&m.decodedCount, uint64(courses))
}

// RecordChange counts one classified course.
func (m *MetricsService) RecordChange(kind models.ChangeKind) {
	if m == nil {
		return
	}
	m.courseChanges.WithLabelValues(string(kind)).Inc()
	switch kind {
	case models.ChangeNew:
		atomic.AddUint64(&m.newCount, 1)
	case models.ChangeChanged:
		atomic.AddUint64(&m.changedCount, 1)
	case models.ChangeUnchanged:
		atomic.AddUint64(&m.unchangedCount, 1)
	}
}

// RecordNotification counts one webhook delivery attempt.
func (m *MetricsService) RecordNotification(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.notifications.WithLabelValues("failed").Inc()
		atomic.AddUint64(&m.notifyFailedCount, 1)
		return
	}
	m.notifications.WithLabelValues("sent").Inc()
	atomic.AddUint64(&m.notifySentCount, 1)
}

// ObserveSync records the duration of one sync run.
func (m *MetricsService) ObserveSync(duration time.Duration) {
	if m == nil {
		return
	}
	m.syncDuration.Observe(duration.Seconds())
	atomic.AddUint64(&m.syncRuns, 1)
}

// Snapshot returns aggregated counters for the stats endpoint.
func (m *MetricsService) Snapshot() models.MetricsSnapshot {
	if m == nil {
		return models.MetricsSnapshot{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)

	var cacheRatio float64
	if hits+misses > 0 {
		cacheRatio = float64(hits) / float64(hits+misses)
	}

	return models.MetricsSnapshot{
		SyncRuns:            atomic.LoadUint64(&m.syncRuns),
		CoursesDecoded:      atomic.LoadUint64(&m.decodedCount),
		DecodeFailures:      atomic.LoadUint64(&m.decodeFailCount),
		NewCourses:          atomic.LoadUint64(&m.newCount),
		ChangedCourses:      atomic.LoadUint64(&m.changedCount),
		UnchangedCourses:    atomic.LoadUint64(&m.unchangedCount),
		NotificationsSent:   atomic.LoadUint64(&m.notifySentCount),
		NotificationsFailed: atomic.LoadUint64(&m.notifyFailedCount),
		CacheHitRatio:       cacheRatio,
		RequestsTotal:       atomic.LoadUint64(&m.requestCount),
		DBQueryCount:        atomic.LoadUint64(&m.dbQueryCount),
		Goroutines:          runtime.NumGoroutine(),
		GeneratedAt:         time.Now().UTC(),
	}
}

// Package metrics exposes Prometheus instrumentation for the sync server.
// Every recorder is a no-op until InitMetrics has run, so packages can record
// unconditionally and tests need no registry.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	syncRoundsTotal    *prometheus.CounterVec
	syncRoundDuration  prometheus.Histogram
	mergedEntities     *prometheus.CounterVec
	pulledEntities     *prometheus.CounterVec
	catalogPagesServed prometheus.Counter
	txRetriesTotal     prometheus.Counter

	// StoreLatency records entity store operation latency.
	StoreLatency *prometheus.HistogramVec
)

// Round outcomes.
const (
	OutcomeSuccess      = "success"
	OutcomeUnknownAgent = "unknown_agent"
	OutcomeInvalid      = "invalid"
	OutcomeWalkExpired  = "walk_expired"
	OutcomeError        = "error"
)

// Merge results.
const (
	MergeInserted = "inserted"
	MergeUpdated  = "updated"
	MergeIgnored  = "ignored"
	MergeRejected = "rejected"
)

var initMetricsOnce sync.Once

// InitMetrics registers all metrics with the default registerer. Only the
// first call registers.
func InitMetrics(constLabels prometheus.Labels) {
	initMetricsOnce.Do(func() {
		initMetricsInner(constLabels)
	})
}

func initMetricsInner(constLabels prometheus.Labels) {
	reg := prometheus.WrapRegistererWith(constLabels, prometheus.DefaultRegisterer)
	f := promauto.With(reg)

	httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offlinesync_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "offlinesync_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	syncRoundsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offlinesync_sync_rounds_total",
			Help: "Sync exchanges handled, by outcome",
		},
		[]string{"outcome"},
	)

	syncRoundDuration = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "offlinesync_sync_round_duration_seconds",
		Help:    "Duration of one sync exchange in seconds",
		Buckets: prometheus.DefBuckets,
	})

	mergedEntities = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offlinesync_merged_entities_total",
			Help: "Pushed entities by kind and merge result",
		},
		[]string{"kind", "result"},
	)

	pulledEntities = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offlinesync_pulled_entities_total",
			Help: "Entities delivered to devices by kind",
		},
		[]string{"kind"},
	)

	catalogPagesServed = f.NewCounter(prometheus.CounterOpts{
		Name: "offlinesync_catalog_pages_served_total",
		Help: "Catalog pages served",
	})

	txRetriesTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "offlinesync_tx_retries_total",
		Help: "Sync transactions retried after a lock or serialization conflict",
	})

	StoreLatency = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "offlinesync_store_latency_seconds",
			Help:    "Entity store operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
}

func ObserveRound(outcome string, d time.Duration) {
	if syncRoundsTotal == nil {
		return
	}
	syncRoundsTotal.WithLabelValues(outcome).Inc()
	syncRoundDuration.Observe(d.Seconds())
}

func AddMerged(kind, result string, n int) {
	if mergedEntities == nil || n == 0 {
		return
	}
	mergedEntities.WithLabelValues(kind, result).Add(float64(n))
}

func AddPulled(kind string, n int) {
	if pulledEntities == nil || n == 0 {
		return
	}
	pulledEntities.WithLabelValues(kind).Add(float64(n))
}

func IncCatalogPages() {
	if catalogPagesServed == nil {
		return
	}
	catalogPagesServed.Inc()
}

func IncTxRetries() {
	if txRetriesTotal == nil {
		return
	}
	txRetriesTotal.Inc()
}

// Middleware records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if httpRequestsTotal == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

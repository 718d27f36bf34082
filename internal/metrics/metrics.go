package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Blob cache operations by op (get|set|delete|keys) and result (hit|miss|ok|error).
	BlobCacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blob_cache_requests_total",
			Help: "Blob cache operations by op and result.",
		},
		[]string{"op", "result"},
	)

	// Photo-reference resolutions by result (cache_hit|fetched|retry|failed|abandoned).
	PhotoFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_fetches_total",
			Help: "Photo-reference job outcomes.",
		},
		[]string{"result"},
	)

	PhotoQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_queue_depth",
			Help: "Jobs waiting in photo-reference queues.",
		},
	)

	ImageLoaderInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "image_loader_inflight",
			Help: "Ordinary image loads currently in flight.",
		},
	)

	HostCooldownsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "host_cooldowns_total",
			Help: "Host failures that started or extended a cooldown window.",
		},
		[]string{"host"},
	)

	// Refusals by gate (page|session).
	PhotoBudgetRefusalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_budget_refusals_total",
			Help: "Photo fetches refused by a budget gate.",
		},
		[]string{"gate"},
	)

	// Histogram: gateway HTTP latency in seconds.
	GatewayLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_latency_seconds",
			Help:    "HTTP request latency for the gateway in seconds.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"path", "method", "status_code"},
	)
)

var registerOnce sync.Once

// Register is called once in main() to register metrics.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			BlobCacheRequestsTotal,
			PhotoFetchesTotal,
			PhotoQueueDepth,
			ImageLoaderInflight,
			HostCooldownsTotal,
			PhotoBudgetRefusalsTotal,
			GatewayLatencySeconds,
		)
	})
}

// Handler exposes the /metrics endpoint for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware measures gateway latency for each HTTP request. The path label is the chi route
// pattern so photo references and place ids do not explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rec := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}

		GatewayLatencySeconds.
			WithLabelValues(path, r.Method, strconv.Itoa(rec.statusCode)).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

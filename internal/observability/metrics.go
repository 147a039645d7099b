package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "photobooth",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "photobooth",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	captures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "photobooth",
			Subsystem: "studio",
			Name:      "captures_total",
			Help:      "Photo captures by result.",
		},
		[]string{"result", "layout"},
	)
	captureDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "photobooth",
			Subsystem: "studio",
			Name:      "capture_duration_seconds",
			Help:      "Time spent composing and encoding a photo.",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)
	statuses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "photobooth",
			Subsystem: "session",
			Name:      "status_total",
			Help:      "User-visible session status updates by kind.",
		},
		[]string{"kind"},
	)
	connected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "photobooth",
			Subsystem: "session",
			Name:      "connected",
			Help:      "1 while a remote participant is connected.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, captures, captureDuration, statuses, connected)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

// RecordCapture counts one capture attempt. layout is "solo" or "duo".
func RecordCapture(success bool, layout string, duration time.Duration) {
	RegisterMetrics()
	result := "ok"
	if !success {
		result = "error"
	}
	captures.WithLabelValues(result, layout).Inc()
	if success {
		captureDuration.Observe(duration.Seconds())
	}
}

func RecordStatus(kind string) {
	RegisterMetrics()
	statuses.WithLabelValues(kind).Inc()
}

func SetConnected(on bool) {
	RegisterMetrics()
	if on {
		connected.Set(1)
		return
	}
	connected.Set(0)
}

package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeSuccess   = "success"
	OutcomeRejected  = "rejected"
	OutcomeTransport = "transport_error"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "longpoll",
			Subsystem: "admin_http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "longpoll",
			Subsystem: "admin_http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path", "status"},
	)
	streamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "longpoll",
			Subsystem: "admin_http",
			Name:      "stream_duration_seconds",
			Help:      "Lifetime of admin websocket streams in seconds.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		},
		[]string{"service", "path"},
	)
	pollCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "longpoll",
			Subsystem: "session",
			Name:      "poll_cycles_total",
			Help:      "Completed getUpdates cycles by outcome.",
		},
		[]string{"bot", "outcome"},
	)
	pollDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "longpoll",
			Subsystem: "session",
			Name:      "poll_duration_seconds",
			Help:      "getUpdates round trip duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 90},
		},
		[]string{"bot", "outcome"},
	)
	updatesDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "longpoll",
			Subsystem: "session",
			Name:      "updates_delivered_total",
			Help:      "Updates handed to the consumer.",
		},
		[]string{"bot"},
	)
	updatesDuplicate = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "longpoll",
			Subsystem: "session",
			Name:      "updates_duplicate_total",
			Help:      "Updates dropped because their id was not past the cursor.",
		},
		[]string{"bot"},
	)
	consumerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "longpoll",
			Subsystem: "session",
			Name:      "consumer_errors_total",
			Help:      "Consumer calls that returned an error or panicked.",
		},
		[]string{"bot"},
	)
	backoffDelay = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "longpoll",
			Subsystem: "session",
			Name:      "backoff_delay_seconds",
			Help:      "Backoff waits applied after rejected requests.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		},
		[]string{"bot"},
	)
	sessionsRegistered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "longpoll",
			Subsystem: "registry",
			Name:      "sessions_registered",
			Help:      "Sessions currently registered.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration, streamDuration,
			pollCycles, pollDuration,
			updatesDelivered, updatesDuplicate, consumerErrors,
			backoffDelay, sessionsRegistered,
		)
	})
}

func RecordHTTPRequest(service, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(service, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(service, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordStream counts a websocket stream as a request and keeps its lifetime
// out of the request duration histogram.
func RecordStream(service, path string, status int, lifetime time.Duration) {
	RegisterMetrics()
	httpRequests.WithLabelValues(service, "GET", path, strconv.Itoa(status)).Inc()
	streamDuration.WithLabelValues(service, path).Observe(lifetime.Seconds())
}

func RecordPollCycle(bot, outcome string, duration time.Duration) {
	RegisterMetrics()
	pollCycles.WithLabelValues(bot, outcome).Inc()
	pollDuration.WithLabelValues(bot, outcome).Observe(duration.Seconds())
}

func RecordUpdates(bot string, delivered, duplicates int) {
	RegisterMetrics()
	if delivered > 0 {
		updatesDelivered.WithLabelValues(bot).Add(float64(delivered))
	}
	if duplicates > 0 {
		updatesDuplicate.WithLabelValues(bot).Add(float64(duplicates))
	}
}

func RecordConsumerError(bot string) {
	RegisterMetrics()
	consumerErrors.WithLabelValues(bot).Inc()
}

func RecordBackoff(bot string, delay time.Duration) {
	RegisterMetrics()
	backoffDelay.WithLabelValues(bot).Observe(delay.Seconds())
}

func SetSessionsRegistered(n int) {
	RegisterMetrics()
	sessionsRegistered.Set(float64(n))
}

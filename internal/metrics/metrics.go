// Package metrics holds the daemon's Prometheus collectors and the /metrics
// handler.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "grotto"

var (
	registry = prometheus.NewRegistry()

	broadcasts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcast_messages_total",
		Help:      "Notifications published to session subscribers, by message type.",
	}, []string{"type"})

	dropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "subscriber_dropped_messages_total",
		Help:      "Messages discarded because a subscriber fell behind.",
	})

	subscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "subscribers",
		Help:      "Open session subscriptions.",
	})

	supervisors = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "supervisors",
		Help:      "Running session supervisors.",
	})

	completions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_completed_total",
		Help:      "Sessions whose terminal session was detected as ended.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "code"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		broadcasts,
		dropped,
		subscribers,
		supervisors,
		completions,
		httpRequests,
		httpDuration,
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry exposes the collectors for tests.
func Registry() *prometheus.Registry { return registry }

func RecordBroadcast(msgType string) { broadcasts.WithLabelValues(msgType).Inc() }

func RecordDropped(n int) {
	if n > 0 {
		dropped.Add(float64(n))
	}
}

func AddSubscriber()    { subscribers.Inc() }
func RemoveSubscriber() { subscribers.Dec() }

func SetSupervisors(n int) { supervisors.Set(float64(n)) }

func RecordCompletion() { completions.Inc() }

// RecordHTTPRequest counts one finished request.
func RecordHTTPRequest(method, route string, code int, elapsed time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

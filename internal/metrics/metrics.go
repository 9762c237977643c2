package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the service.
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, route pattern, and status.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds.
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// SlotSearches counts slot searches by modality and whether anything was found.
	SlotSearches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "termsched_slot_searches_total", Help: "Slot searches by modality and result."},
		[]string{"modality", "result"},
	)
	// SlotSearchDuration times timeline construction plus search.
	SlotSearchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "termsched_slot_search_duration_seconds", Help: "Slot search latency in seconds.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25}},
	)
	// Reschedules counts reschedule attempts by origin and outcome.
	Reschedules = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "termsched_reschedules_total", Help: "Reschedule attempts by origin and outcome."},
		[]string{"origin", "outcome"},
	)

	// WebhookDeliveries counts webhook delivery outcomes by event type and status.
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// WebhookLatency tracks webhook delivery latencies in milliseconds.
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)
	// EventSubscribers is the number of connected SSE and WebSocket clients.
	EventSubscribers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "termsched_event_subscribers", Help: "Connected event stream clients by transport."},
		[]string{"transport"},
	)
)

// RegisterDefault registers collectors to Registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(SlotSearches)
		Registry.MustRegister(SlotSearchDuration)
		Registry.MustRegister(Reschedules)
		Registry.MustRegister(WebhookDeliveries)
		Registry.MustRegister(WebhookLatency)
		Registry.MustRegister(EventSubscribers)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once

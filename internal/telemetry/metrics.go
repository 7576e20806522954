package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	QueriesSubmitted  = prometheus.NewCounter(prometheus.CounterOpts{Name: "relay_queries_submitted_total", Help: "Queries accepted by the engine"})
	SubmitFailures    = prometheus.NewCounter(prometheus.CounterOpts{Name: "relay_submit_failures_total", Help: "Submissions the engine rejected"})
	StatusPolls       = prometheus.NewCounter(prometheus.CounterOpts{Name: "relay_status_polls_total", Help: "Query history polls issued"})
	PollsExhausted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "relay_polls_exhausted_total", Help: "Jobs abandoned after the poll budget ran out"})
	Notifications     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "relay_notifications_total", Help: "Callback envelopes delivered"}, []string{"kind"})
	DeliveryFailures  = prometheus.NewCounter(prometheus.CounterOpts{Name: "relay_delivery_failures_total", Help: "Callback posts that failed"})
	RateLimitRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "relay_rate_limit_rejects_total", Help: "Run requests rejected by the rate limiter"})
	StepQueueDepth    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "relay_step_queue_depth", Help: "Ready plus scheduled step tasks"})
	HeldSessionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: "relay_held_sessions", Help: "Engine sessions parked by the submitter"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			QueriesSubmitted,
			SubmitFailures,
			StatusPolls,
			PollsExhausted,
			Notifications,
			DeliveryFailures,
			RateLimitRejects,
			StepQueueDepth,
			HeldSessionsGauge,
		)
	})
	return promhttp.Handler()
}

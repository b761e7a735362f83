package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	AttemptsTotal    = prometheus.NewCounter(prometheus.CounterOpts{Name: "booking_attempts_total", Help: "Booking attempts dispatched against the portal"})
	ConfirmedTotal   = prometheus.NewCounter(prometheus.CounterOpts{Name: "booking_confirmed_total", Help: "Bookings confirmed by the portal"})
	FailedTotal      = prometheus.NewCounter(prometheus.CounterOpts{Name: "booking_failed_total", Help: "Booking attempts that ended failed"})
	JobsFired        = prometheus.NewCounter(prometheus.CounterOpts{Name: "snipe_jobs_fired_total", Help: "Snipe jobs dispatched by the scheduler"})
	JobsCompleted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "snipe_jobs_completed_total", Help: "Snipe jobs that satisfied their window"})
	JobsFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "snipe_jobs_failed_total", Help: "Snipe jobs exhausted without satisfying their window"})
	CacheRefreshes   = prometheus.NewCounter(prometheus.CounterOpts{Name: "availability_refreshes_total", Help: "Portal availability refreshes"})
	StaleCacheReads  = prometheus.NewCounter(prometheus.CounterOpts{Name: "availability_stale_reads_total", Help: "Cache reads answered with stale snapshots"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "portal_rate_limit_rejects_total", Help: "Portal calls rejected by the rate limiter"})
	InFlightAttempts = prometheus.NewGauge(prometheus.GaugeOpts{Name: "booking_attempts_inflight", Help: "Attempts currently waiting on the portal"})
	SSEClients       = prometheus.NewGauge(prometheus.GaugeOpts{Name: "availability_stream_clients", Help: "Connected availability event subscribers"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			AttemptsTotal,
			ConfirmedTotal,
			FailedTotal,
			JobsFired,
			JobsCompleted,
			JobsFailed,
			CacheRefreshes,
			StaleCacheReads,
			RateLimitRejects,
			InFlightAttempts,
			SSEClients,
		)
	})
	return promhttp.Handler()
}

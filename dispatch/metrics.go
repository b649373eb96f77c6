package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes pool activity by phase.
type Metrics struct {
	running   *prometheus.GaugeVec
	queued    *prometheus.GaugeVec
	completed *prometheus.CounterVec
	failed    *prometheus.CounterVec
	cancelled *prometheus.CounterVec
}

// NewMetrics registers pool metrics with the given registerer. A nil
// registerer produces no-op metrics backed by a private registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		running: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "speccorpus_dispatch_running_jobs",
			Help: "Investigation jobs currently running, by phase.",
		}, []string{"phase"}),
		queued: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "speccorpus_dispatch_queued_jobs",
			Help: "Investigation jobs waiting for admission, by phase.",
		}, []string{"phase"}),
		completed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "speccorpus_dispatch_completed_jobs_total",
			Help: "Investigation jobs that resolved successfully, by phase.",
		}, []string{"phase"}),
		failed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "speccorpus_dispatch_failed_jobs_total",
			Help: "Investigation jobs that resolved with a failure, by phase.",
		}, []string{"phase"}),
		cancelled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "speccorpus_dispatch_cancelled_jobs_total",
			Help: "Investigation jobs cancelled before or during execution, by phase.",
		}, []string{"phase"}),
	}
}

package dispatcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const outcomeSuccess = "success"

type Metrics struct {
	// AttemptsTotal counts request attempts by outcome: success or an error kind.
	AttemptsTotal *prometheus.CounterVec
	RetriesTotal  prometheus.Counter
	// Duration covers a whole dispatch including backoff.
	Duration prometheus.Histogram
}

// NewMetrics creates the dispatcher collectors and registers them on reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AttemptsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mastro_dispatch_attempts_total",
				Help: "Total number of generateContent request attempts",
			},
			[]string{"outcome"},
		),
		RetriesTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "mastro_dispatch_retries_total",
				Help: "Total number of automatic retries after a transient failure",
			},
		),
		Duration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mastro_dispatch_duration_seconds",
				Help:    "Duration of a dispatch from first attempt to final reply",
				Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
			},
		),
	}
}

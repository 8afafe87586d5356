package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TrialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harness_trials_total",
		Help: "Trials executed, by condition and outcome",
	}, []string{"condition", "status"})

	RetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harness_generation_retries_total",
		Help: "Generation retries triggered by a failed first attempt",
	})

	SensorReadFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harness_sensor_read_failures_total",
		Help: "Sensor reads that degraded to an unavailable field",
	}, []string{"sensor"})

	SamplesCollected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harness_samples_collected_total",
		Help: "System metric samples collected across all trials",
	})

	TokensObserved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harness_tokens_observed_total",
		Help: "Token events observed across all trials",
	})

	GenerationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "harness_generation_duration_seconds",
		Help:    "Wall time of the generation call per trial",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 60, 120},
	})
)

// Serve exposes the registry on addr. Intended to be run in its own
// goroutine for the lifetime of a batch.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	DeploymentsActive prometheus.Gauge
	DeploymentsTotal  *prometheus.CounterVec
	StepDuration      *prometheus.HistogramVec
)

func Init() {
	DeploymentsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pluto",
			Name:      "deployments_active",
			Help:      "Provisioning pipelines currently running",
		},
	)

	DeploymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pluto",
			Name:      "deployments_total",
			Help:      "Finished provisioning pipelines by outcome",
		},
		[]string{"status"},
	)

	StepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pluto",
			Name:      "step_duration_seconds",
			Help:      "Wall time spent in each pipeline step",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"step"},
	)

	prometheus.MustRegister(DeploymentsActive, DeploymentsTotal, StepDuration)
}

// The helpers below are nil-safe so code paths exercised in tests do not
// require Init.

func DeploymentStarted() {
	if DeploymentsActive != nil {
		DeploymentsActive.Inc()
	}
}

func DeploymentFinished(status string) {
	if DeploymentsActive != nil {
		DeploymentsActive.Dec()
	}
	if DeploymentsTotal != nil {
		DeploymentsTotal.WithLabelValues(status).Inc()
	}
}

func ObserveStep(step string, seconds float64) {
	if StepDuration != nil {
		StepDuration.WithLabelValues(step).Observe(seconds)
	}
}

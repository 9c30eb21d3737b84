package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PlansTotal counts planner invocations by outcome ("ok", or the
	// herrors.Kind of the failure: "validation", "resource").
	PlansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "haste_plans_total",
			Help: "Total number of plan() calls by outcome",
		},
		[]string{"outcome"},
	)

	PlanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "haste_plan_duration_seconds",
			Help:    "Time taken to compute a placement plan",
			Buckets: prometheus.DefBuckets,
		},
	)

	// DeployAttemptsTotal counts Deploy fan-out attempts by host and result.
	DeployAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "haste_deploy_attempts_total",
			Help: "Total number of per-host Deploy RPC attempts",
		},
		[]string{"host", "result"},
	)

	DeployRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "haste_deploy_retries_total",
			Help: "Total number of deploy fan-out retries across all clusters",
		},
	)

	CleanCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "haste_clean_calls_total",
			Help: "Total number of best-effort clean RPCs sent to agents",
		},
		[]string{"host", "result"},
	)

	// HealthProbesTotal counts per-instance health probes during the health
	// phase that follows the settle wait.
	HealthProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "haste_health_probes_total",
			Help: "Total number of instance health probes by result",
		},
		[]string{"result"},
	)

	// BalanceIterationsTotal counts balance-loop ticks across all clusters.
	BalanceIterationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "haste_balance_iterations_total",
			Help: "Total number of balance-loop polling iterations",
		},
	)

	BumpEpochTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "haste_bump_epoch_total",
			Help: "Total number of CLUSTER BUMPEPOCH commands issued",
		},
	)

	FailoverTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "haste_failover_total",
			Help: "Total number of CLUSTER FAILOVER commands issued",
		},
	)

	DeployClusterDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "haste_deploy_cluster_duration_seconds",
			Help:    "End-to-end deploy_cluster duration in seconds by outcome",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 180, 240, 300},
		},
		[]string{"outcome"},
	)

	// AgentDeploysTotal counts agent-side Deploy invocations by step and result.
	AgentDeploysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "haste_agent_deploys_total",
			Help: "Total number of agent-side Deploy invocations by result",
		},
		[]string{"result"},
	)

	AgentBinaryDownloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "haste_agent_binary_downloads_total",
			Help: "Total number of binary downloads performed by the agent",
		},
		[]string{"kind", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		PlansTotal,
		PlanDuration,
		DeployAttemptsTotal,
		DeployRetriesTotal,
		CleanCallsTotal,
		HealthProbesTotal,
		BalanceIterationsTotal,
		BumpEpochTotal,
		FailoverTotal,
		DeployClusterDuration,
		AgentDeploysTotal,
		AgentBinaryDownloadsTotal,
	)
}

// Handler returns the Prometheus HTTP handler for /metrics endpoints.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

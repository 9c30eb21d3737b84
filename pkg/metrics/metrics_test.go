package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewTimer(t *testing.T) {
	timer := NewTimer()
	if timer.start.IsZero() {
		t.Error("NewTimer() start time is zero")
	}
}

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()
	time.Sleep(20 * time.Millisecond)

	d := timer.Duration()
	if d < 20*time.Millisecond {
		t.Errorf("Duration() = %v, want >= 20ms", d)
	}
}

func TestTimerObserveDuration(t *testing.T) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_observe_duration_seconds",
		Help:    "test",
		Buckets: prometheus.DefBuckets,
	})

	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	timer.ObserveDuration(h)
}

func TestTimerObserveDurationVec(t *testing.T) {
	hv := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "test_observe_duration_vec_seconds",
			Help:    "test",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	timer.ObserveDurationVec(hv, "ok")
}

func TestPlansTotalLabels(t *testing.T) {
	PlansTotal.WithLabelValues("ok").Inc()
	PlansTotal.WithLabelValues("validation_error").Inc()

	if got := counterValue(t, PlansTotal.WithLabelValues("ok")); got < 1 {
		t.Errorf("PlansTotal{ok} = %v, want >= 1", got)
	}
}

func TestDeployAttemptsTotalLabels(t *testing.T) {
	DeployAttemptsTotal.WithLabelValues("host-1", "ok").Inc()
	DeployAttemptsTotal.WithLabelValues("host-1", "dial_failed").Inc()
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

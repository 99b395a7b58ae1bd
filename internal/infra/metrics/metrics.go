// Package metrics exposes dispatch and workflow counters to Prometheus.
package metrics

import (
	"context"

	"exam_dispatch_engine/internal/app"
	"exam_dispatch_engine/internal/domain/notification"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements app.DispatchListener and app.RunObserver.
type Recorder struct {
	dispatches    *prometheus.CounterVec
	runs          *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	sweepOutcomes *prometheus.CounterVec
	liveSchedules prometheus.Counter
	lastRun       *prometheus.GaugeVec
}

// New registers the engine metrics on reg.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		dispatches: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exam_dispatch_attempts_total",
				Help: "Completed channel attempts by notification type, channel and outcome",
			},
			[]string{"notif_type", "channel", "status"},
		),
		runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exam_workflow_runs_total",
				Help: "Workflow and retry runs by kind and result",
			},
			[]string{"kind", "result"},
		),
		runDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "exam_workflow_run_duration_seconds",
				Help:    "Duration of workflow and retry runs",
				Buckets: []float64{.1, .5, 1, 5, 15, 60, 300, 900, 1800},
			},
			[]string{"kind"},
		),
		sweepOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exam_sweep_outcomes_total",
				Help: "Per-channel outcomes aggregated from sweep reports",
			},
			[]string{"kind", "outcome"},
		),
		liveSchedules: f.NewCounter(
			prometheus.CounterOpts{
				Name: "exam_schedules_live_total",
				Help: "Schedules moved to LIVE after the exam day sweep",
			},
		),
		lastRun: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "exam_workflow_last_run_timestamp_seconds",
				Help: "Unix time the last run finished",
			},
			[]string{"kind"},
		),
	}
}

func (r *Recorder) OnDispatch(_ context.Context, entry *notification.LogEntry) {
	r.dispatches.WithLabelValues(string(entry.Key.Type), string(entry.Key.Channel), string(entry.Status)).Inc()
}

func (r *Recorder) ObserveRun(_ context.Context, report *app.RunReport) {
	kind := "workflow"
	if report.RetryOnly {
		kind = "retry"
	}
	result := "ok"
	if report.Error != "" {
		result = "error"
	}
	r.runs.WithLabelValues(kind, result).Inc()
	if !report.FinishedAt.IsZero() && !report.StartedAt.IsZero() {
		r.runDuration.WithLabelValues(kind).Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
		r.lastRun.WithLabelValues(kind).Set(float64(report.FinishedAt.Unix()))
	}

	for _, s := range report.Sweeps {
		r.sweepOutcomes.WithLabelValues(kind, "sent").Add(float64(s.Sent))
		r.sweepOutcomes.WithLabelValues(kind, "failed").Add(float64(s.Failed))
		r.sweepOutcomes.WithLabelValues(kind, "skipped").Add(float64(s.Skipped))
		r.sweepOutcomes.WithLabelValues(kind, "error").Add(float64(s.Errors))
		if s.WentLive {
			r.liveSchedules.Inc()
		}
	}
}

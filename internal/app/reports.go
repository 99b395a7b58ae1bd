package app

import (
	"context"
	"sync"
	"time"

	"exam_dispatch_engine/internal/domain/notification"
)

// SweepReport summarises one dispatch sweep over a schedule's audience.
type SweepReport struct {
	ScheduleID   string            `json:"schedule_id"`
	ExamDate     string            `json:"exam_date"`
	Type         notification.Type `json:"notif_type"`
	Participants int               `json:"participants"`
	Sent         int               `json:"sent"`
	Failed       int               `json:"failed"`
	Skipped      int               `json:"skipped"` // already sent, claimed elsewhere, or no contact
	Errors       int               `json:"errors"`  // dispatch log read/write failures
	WentLive     bool              `json:"went_live"`
	Interrupted  bool              `json:"interrupted"`
	Error        string            `json:"error,omitempty"`

	mu sync.Mutex
}

func (r *SweepReport) add(res participantResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Participants++
	r.Sent += res.sent
	r.Failed += res.failed
	r.Skipped += res.skipped
	r.Errors += res.errors
}

// RunReport summarises one workflow invocation.
type RunReport struct {
	StartedAt       time.Time      `json:"started_at"`
	FinishedAt      time.Time      `json:"finished_at"`
	EnsuredExamDate string         `json:"ensured_exam_date,omitempty"`
	ScheduleCreated bool           `json:"schedule_created"`
	EnsureError     string         `json:"ensure_error,omitempty"`
	ActiveSchedules int            `json:"active_schedules"`
	Sweeps          []*SweepReport `json:"sweeps"`
	Error           string         `json:"error,omitempty"`
	RetryOnly       bool           `json:"retry_only,omitempty"`
}

// Totals adds up the sweep counters.
func (r *RunReport) Totals() (sent, failed, skipped int) {
	for _, s := range r.Sweeps {
		sent += s.Sent
		failed += s.Failed
		skipped += s.Skipped
	}
	return sent, failed, skipped
}

// RunObserver is told about every finished workflow or retry run.
type RunObserver interface {
	ObserveRun(ctx context.Context, report *RunReport)
}

// DispatchListener is told about every completed channel attempt.
type DispatchListener interface {
	OnDispatch(ctx context.Context, entry *notification.LogEntry)
}

type participantResult struct {
	sent    int
	failed  int
	skipped int
	errors  int
}

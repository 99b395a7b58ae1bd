package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"exam_dispatch_engine/internal/domain/exam"
	"exam_dispatch_engine/internal/domain/notification"
	"exam_dispatch_engine/internal/infra/worker"

	"github.com/sirupsen/logrus"
)

// retryStatuses are the schedules whose failed dispatches are still worth re-attempting.
var retryStatuses = []exam.Status{exam.StatusScheduled, exam.StatusNotifying, exam.StatusLive}

type sweepFunc func(ctx context.Context, sched *exam.Schedule, nt notification.Type) (*SweepReport, error)

// WorkflowDriver runs the daily scheduling and notification workflow.
// It keeps no state between runs; every decision is re-derived from the stores.
type WorkflowDriver struct {
	ensurer     *ScheduleEnsurer
	schedules   exam.Repository
	dispatcher  *Dispatcher
	loc         *time.Location
	clock       Clock
	parallelism int
	observers   []RunObserver
	logger      *logrus.Entry
}

func NewWorkflowDriver(
	ensurer *ScheduleEnsurer,
	schedules exam.Repository,
	dispatcher *Dispatcher,
	loc *time.Location,
	clock Clock,
	parallelism int,
	logger *logrus.Entry,
) *WorkflowDriver {
	if parallelism <= 0 {
		parallelism = 1
	}
	if loc == nil {
		loc = time.UTC
	}
	return &WorkflowDriver{
		ensurer:     ensurer,
		schedules:   schedules,
		dispatcher:  dispatcher,
		loc:         loc,
		clock:       clock,
		parallelism: parallelism,
		logger:      logger.WithField("component", "workflow"),
	}
}

// AddObserver registers an observer for finished runs. Not safe to call while a run is active.
func (w *WorkflowDriver) AddObserver(o RunObserver) {
	w.observers = append(w.observers, o)
}

// RunWorkflow ensures next month's exam exists, then dispatches whatever notification
// is due today for every SCHEDULED or NOTIFYING schedule.
// A failed ensure step is recorded and does not stop dispatching. The returned error is
// non-nil only when the active schedules could not be listed or ctx was cancelled.
func (w *WorkflowDriver) RunWorkflow(ctx context.Context, now time.Time) (*RunReport, error) {
	report := &RunReport{StartedAt: now}
	w.logger.WithField("now", now.In(w.loc).Format(time.RFC3339)).Info("Starting exam workflow run")

	sched, created, err := w.ensurer.Ensure(ctx, now)
	if err != nil {
		report.EnsureError = err.Error()
		w.logger.WithError(err).Error("Failed to ensure recurring exam schedule")
	} else {
		report.EnsuredExamDate = exam.DateKey(sched.ExamDate)
		report.ScheduleCreated = created
	}

	active, err := w.schedules.ListByStatus(ctx, exam.ActiveStatuses...)
	if err != nil {
		err = fmt.Errorf("failed to list active schedules: %w", err)
		report.Error = err.Error()
		w.finish(ctx, report)
		return report, err
	}
	report.ActiveSchedules = len(active)

	err = w.sweepDue(ctx, active, now, w.dispatcher.Run, report)
	w.finish(ctx, report)
	return report, err
}

// RetryFailed re-attempts failed dispatches of the type currently due for each schedule.
func (w *WorkflowDriver) RetryFailed(ctx context.Context, now time.Time) (*RunReport, error) {
	report := &RunReport{StartedAt: now, RetryOnly: true}
	w.logger.Info("Starting failed dispatch retry run")

	candidates, err := w.schedules.ListByStatus(ctx, retryStatuses...)
	if err != nil {
		err = fmt.Errorf("failed to list schedules for retry: %w", err)
		report.Error = err.Error()
		w.finish(ctx, report)
		return report, err
	}
	report.ActiveSchedules = len(candidates)

	err = w.sweepDue(ctx, candidates, now, w.dispatcher.RetryFailed, report)
	w.finish(ctx, report)
	return report, err
}

func (w *WorkflowDriver) sweepDue(ctx context.Context, schedules []*exam.Schedule, now time.Time, sweep sweepFunc, report *RunReport) error {
	var mu sync.Mutex
	pool := worker.NewPool(w.parallelism)
	pool.Start()

	var submitErr error
	for _, s := range schedules {
		s := s
		examAt := exam.CalendarDate(s.ExamDate, w.loc)
		nt, due := notification.Classify(examAt, now)
		log := w.logger.WithFields(logrus.Fields{"schedule_id": s.ID, "exam_date": exam.DateKey(examAt)})
		if !due {
			log.WithField("days_until", notification.DaysUntil(examAt, now)).Debug("No notification due for schedule")
			continue
		}

		if submitErr = pool.Submit(ctx, func() {
			if ctx.Err() != nil {
				return
			}
			sr, err := sweep(ctx, s, nt)
			if err != nil {
				log.WithError(err).WithField("notif_type", nt).Error("Schedule sweep failed")
			}
			if sr != nil {
				mu.Lock()
				report.Sweeps = append(report.Sweeps, sr)
				mu.Unlock()
			}
		}); submitErr != nil {
			break
		}
	}
	pool.Wait()

	if submitErr != nil {
		report.Error = submitErr.Error()
		return fmt.Errorf("workflow run interrupted: %w", submitErr)
	}
	if err := ctx.Err(); err != nil {
		report.Error = err.Error()
		return fmt.Errorf("workflow run interrupted: %w", err)
	}
	return nil
}

func (w *WorkflowDriver) finish(ctx context.Context, report *RunReport) {
	report.FinishedAt = w.clock.Now()
	sent, failed, skipped := report.Totals()
	w.logger.WithFields(logrus.Fields{
		"schedules":  report.ActiveSchedules,
		"sweeps":     len(report.Sweeps),
		"sent":       sent,
		"failed":     failed,
		"skipped":    skipped,
		"retry_only": report.RetryOnly,
	}).Info("Workflow run finished")

	observeCtx := context.WithoutCancel(ctx)
	for _, o := range w.observers {
		o.ObserveRun(observeCtx, report)
	}
}

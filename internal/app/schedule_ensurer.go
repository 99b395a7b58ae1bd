package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"exam_dispatch_engine/internal/domain/exam"

	"github.com/sirupsen/logrus"
)

// MonthlyExamDay is the day of month the recurring exam is held on.
const MonthlyExamDay = 5

// ScheduleEnsurer makes sure next month's recurring exam is on the calendar.
type ScheduleEnsurer struct {
	schedules exam.Repository
	loc       *time.Location
	logger    *logrus.Entry
}

func NewScheduleEnsurer(schedules exam.Repository, loc *time.Location, logger *logrus.Entry) *ScheduleEnsurer {
	if loc == nil {
		loc = time.UTC
	}
	return &ScheduleEnsurer{
		schedules: schedules,
		loc:       loc,
		logger:    logger.WithField("component", "schedule_ensurer"),
	}
}

// NextExamDate returns the 5th of the month after now, as seen in loc.
// December rolls over to January of the following year.
func NextExamDate(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month()+1, MonthlyExamDay, 0, 0, 0, 0, loc)
}

// Ensure finds or creates the schedule for the next recurring slot.
// The boolean result reports whether this call created it.
func (e *ScheduleEnsurer) Ensure(ctx context.Context, now time.Time) (*exam.Schedule, bool, error) {
	target := NextExamDate(now, e.loc)
	log := e.logger.WithField("exam_date", exam.DateKey(target))

	existing, err := e.schedules.GetByExamDate(ctx, target)
	if err == nil {
		log.WithField("schedule_id", existing.ID).Debug("Recurring exam already scheduled")
		return existing, false, nil
	}
	if !errors.Is(err, exam.ErrScheduleNotFound) {
		return nil, false, fmt.Errorf("failed to look up schedule for %s: %w", exam.DateKey(target), err)
	}

	sched := &exam.Schedule{
		ExamDate:              target,
		Status:                exam.StatusScheduled,
		Recurring:             true,
		AutoGenerateQuestions: true,
	}
	if err := e.schedules.Create(ctx, sched); err != nil {
		if errors.Is(err, exam.ErrDuplicateSchedule) {
			// another run created it between our read and insert
			log.Info("Recurring exam created concurrently, reusing it")
			existing, getErr := e.schedules.GetByExamDate(ctx, target)
			if getErr != nil {
				return nil, false, fmt.Errorf("failed to reload concurrently created schedule: %w", getErr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to create schedule for %s: %w", exam.DateKey(target), err)
	}

	log.WithField("schedule_id", sched.ID).Info("Auto-scheduled recurring exam")
	return sched, true, nil
}

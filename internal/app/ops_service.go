// internal/app/ops_service.go
package app

import (
	"context"
	"errors"
	"fmt"

	"exam_dispatch_engine/internal/domain/exam"
	"exam_dispatch_engine/internal/domain/notification"
)

var ErrAdminNotAuthorized = errors.New("performing user is not authorized as an admin")

// ScheduleStats is the dispatch log breakdown for one schedule.
type ScheduleStats struct {
	Schedule *exam.Schedule             `json:"schedule"`
	Counts   []notification.StatusCount `json:"counts"`
}

// Total returns the number of log entries with the given status.
func (s *ScheduleStats) Total(status notification.DispatchStatus) int {
	n := 0
	for _, c := range s.Counts {
		if c.Status == status {
			n += c.Count
		}
	}
	return n
}

// OpsService backs the operator surfaces (HTTP API and Telegram bot).
type OpsService struct {
	schedules       exam.Repository
	dispatchLog     notification.Repository
	workflow        *WorkflowDriver
	clock           Clock
	adminTelegramID int64
}

func NewOpsService(sr exam.Repository, dr notification.Repository, wf *WorkflowDriver, clock Clock, adminID int64) *OpsService {
	return &OpsService{
		schedules:       sr,
		dispatchLog:     dr,
		workflow:        wf,
		clock:           clock,
		adminTelegramID: adminID,
	}
}

// Authorize checks that a Telegram user may run ops commands.
func (s *OpsService) Authorize(performingAdminID int64) error {
	if s.adminTelegramID == 0 || performingAdminID != s.adminTelegramID {
		return ErrAdminNotAuthorized
	}
	return nil
}

// ListActiveSchedules returns the schedules still in the reminder phase.
func (s *OpsService) ListActiveSchedules(ctx context.Context) ([]*exam.Schedule, error) {
	list, err := s.schedules.ListByStatus(ctx, exam.ActiveStatuses...)
	if err != nil {
		return nil, fmt.Errorf("failed to list active schedules: %w", err)
	}
	return list, nil
}

// DispatchStats counts dispatch log entries of a schedule by type, channel and status.
func (s *OpsService) DispatchStats(ctx context.Context, scheduleID string) (*ScheduleStats, error) {
	sched, err := s.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		if errors.Is(err, exam.ErrScheduleNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get schedule %s: %w", scheduleID, err)
	}
	counts, err := s.dispatchLog.CountByStatus(ctx, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to count dispatches for schedule %s: %w", scheduleID, err)
	}
	return &ScheduleStats{Schedule: sched, Counts: counts}, nil
}

// TriggerRun runs the workflow now, outside the cron cadence.
func (s *OpsService) TriggerRun(ctx context.Context) (*RunReport, error) {
	return s.workflow.RunWorkflow(ctx, s.clock.Now())
}

// TriggerRetry re-attempts failed dispatches now.
func (s *OpsService) TriggerRetry(ctx context.Context) (*RunReport, error) {
	return s.workflow.RetryFailed(ctx, s.clock.Now())
}

// internal/domain/exam/repository.go
package exam

import (
	"context"
	"errors"
	"time"
)

var (
	ErrScheduleNotFound  = errors.New("exam schedule not found")
	ErrDuplicateSchedule = errors.New("exam schedule for this date already exists")
)

// Repository defines persistence operations for exam schedules.
type Repository interface {
	// Create inserts the schedule and fills ID, CreatedAt and UpdatedAt.
	// Returns ErrDuplicateSchedule when a schedule for the same exam date exists.
	Create(ctx context.Context, s *Schedule) error
	GetByID(ctx context.Context, id string) (*Schedule, error)
	GetByExamDate(ctx context.Context, examDate time.Time) (*Schedule, error)
	// ListByStatus returns schedules in any of the given statuses ordered by exam date.
	ListByStatus(ctx context.Context, statuses ...Status) ([]*Schedule, error)
	// TransitionStatus moves the schedule to `to` only if its current status is one of `from`.
	// It reports whether this call performed the transition.
	TransitionStatus(ctx context.Context, id string, from []Status, to Status, at time.Time) (bool, error)
}

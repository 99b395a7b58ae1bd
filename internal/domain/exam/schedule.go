// internal/domain/exam/schedule.go
package exam

import (
	"database/sql"
	"time"
)

// Status is the lifecycle state of a scheduled examination.
type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusNotifying Status = "NOTIFYING" // reminders have started going out
	StatusLive      Status = "LIVE"      // exam day audience has been notified
	StatusCompleted Status = "COMPLETED" // reserved, not set by the engine
	StatusCancelled Status = "CANCELLED" // reserved, not set by the engine
)

// ActiveStatuses are the statuses a schedule can have while it still needs reminders.
var ActiveStatuses = []Status{StatusScheduled, StatusNotifying}

// Schedule represents one examination event on the calendar.
// Corresponds to the 'exam_schedules' table; exam_date is unique.
type Schedule struct {
	ID                     string
	ExamDate               time.Time // midnight of the exam day in the engine location
	Status                 Status
	Recurring              bool
	AutoGenerateQuestions  bool // consumed by the question generation subsystem
	NotificationsStartedAt sql.NullTime
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// IsActive reports whether the schedule is still in the reminder phase.
func (s *Schedule) IsActive() bool {
	return s.Status == StatusScheduled || s.Status == StatusNotifying
}

// DateOnly drops the clock part of t, keeping the calendar day as seen in loc.
func DateOnly(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// CalendarDate rebuilds a calendar date in loc without shifting the day.
// Database DATE values arrive as UTC midnight; DateOnly would move them a day west of UTC.
func CalendarDate(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// DateKey formats a calendar date the way it is stored.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// internal/domain/notification/window.go
package notification

import "time"

const day = 24 * time.Hour

var reminderByDays = map[int]Type{
	5: TypeReminder5D,
	4: TypeReminder4D,
	3: TypeReminder3D,
	2: TypeReminder2D,
	1: TypeReminder1D,
	0: TypeExamDay,
}

// DaysUntil returns ceil((examAt - now) in days). A fractional remainder always rounds up,
// so an exam 4.2 days away counts as 5.
func DaysUntil(examAt, now time.Time) int {
	diff := examAt.Sub(now)
	days := diff / day
	// integer division truncates toward zero, which is already the ceiling for negative diffs
	if diff%day > 0 {
		days++
	}
	return int(days)
}

// Classify maps an exam instant and the current instant to the notification due today.
// The second result is false when nothing is due.
func Classify(examAt, now time.Time) (Type, bool) {
	t, ok := reminderByDays[DaysUntil(examAt, now)]
	return t, ok
}

package app

import (
	"fmt"

	"exam_dispatch_engine/internal/domain/notification"
)

// ReminderText builds the messaging gateway text for one participant.
func ReminderText(examTitle string, params notification.ReminderParams) string {
	date := params.ExamDate.Format("02 Jan 2006")
	if params.Type == notification.TypeExamDay {
		return fmt.Sprintf("Namaste %s, your %s is today (%s). Start on time and all the best!", params.Name, examTitle, date)
	}
	return fmt.Sprintf("Namaste %s, this is a reminder for your upcoming %s on %s. Prep well!", params.Name, examTitle, date)
}

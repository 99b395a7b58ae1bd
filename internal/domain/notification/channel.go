// internal/domain/notification/channel.go
package notification

import (
	"context"
	"time"
)

// ReminderParams are the template parameters handed to the email formatter.
type ReminderParams struct {
	Name       string
	ClassLevel int
	ExamDate   time.Time
	Type       Type
}

// Receipt is what a provider hands back for an accepted message.
type Receipt struct {
	ProviderRef string
}

// EmailSender delivers reminder emails.
type EmailSender interface {
	SendReminderEmail(ctx context.Context, to string, params ReminderParams) (Receipt, error)
}

// MessageSender delivers plain text messages through the messaging gateway.
type MessageSender interface {
	SendText(ctx context.Context, to string, text string) (Receipt, error)
}

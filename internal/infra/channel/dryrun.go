package channel

import (
	"context"

	"exam_dispatch_engine/internal/domain/notification"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// LogEmailSender renders reminder emails and logs them instead of sending.
// Used when no SMTP relay is configured.
type LogEmailSender struct {
	examTitle string
	logger    *logrus.Entry
}

func NewLogEmailSender(examTitle string, logger *logrus.Entry) *LogEmailSender {
	return &LogEmailSender{examTitle: examTitle, logger: logger}
}

func (s *LogEmailSender) SendReminderEmail(_ context.Context, to string, params notification.ReminderParams) (notification.Receipt, error) {
	rendered, err := RenderReminderEmail(s.examTitle, params)
	if err != nil {
		return notification.Receipt{}, err
	}
	ref := "DRYRUN_EMAIL_" + uuid.NewString()
	s.logger.WithFields(logrus.Fields{
		"to":           to,
		"subject":      rendered.Subject,
		"provider_ref": ref,
	}).Info("Dry-run email")
	return notification.Receipt{ProviderRef: ref}, nil
}

// LogMessageSender logs gateway messages instead of sending them.
type LogMessageSender struct {
	logger *logrus.Entry
}

func NewLogMessageSender(logger *logrus.Entry) *LogMessageSender {
	return &LogMessageSender{logger: logger}
}

func (s *LogMessageSender) SendText(_ context.Context, to string, text string) (notification.Receipt, error) {
	ref := "DRYRUN_WA_" + uuid.NewString()
	s.logger.WithFields(logrus.Fields{
		"to":           to,
		"text":         text,
		"provider_ref": ref,
	}).Info("Dry-run gateway message")
	return notification.Receipt{ProviderRef: ref}, nil
}

package app

import (
	"context"
	"fmt"
	"strings"

	domainTelegram "exam_dispatch_engine/internal/domain/telegram"

	"github.com/sirupsen/logrus"
)

// TelegramReporter posts a short summary of each run to the admin chat.
type TelegramReporter struct {
	client      domainTelegram.Client
	adminChatID int64
	quiet       bool // skip runs with no sweeps and no errors
	logger      *logrus.Entry
}

func NewTelegramReporter(client domainTelegram.Client, adminChatID int64, logger *logrus.Entry) *TelegramReporter {
	return &TelegramReporter{
		client:      client,
		adminChatID: adminChatID,
		quiet:       true,
		logger:      logger.WithField("component", "telegram_reporter"),
	}
}

func (r *TelegramReporter) ObserveRun(_ context.Context, report *RunReport) {
	if r.quiet && len(report.Sweeps) == 0 && report.Error == "" && report.EnsureError == "" && !report.ScheduleCreated {
		return
	}
	if err := r.client.SendMessage(r.adminChatID, FormatRunSummary(report), nil); err != nil {
		r.logger.WithError(err).Warn("Failed to send run summary to admin")
	}
}

// FormatRunSummary renders a run report as plain text.
func FormatRunSummary(report *RunReport) string {
	var b strings.Builder
	if report.RetryOnly {
		b.WriteString("Retry run finished\n")
	} else {
		b.WriteString("Exam workflow run finished\n")
	}
	if report.ScheduleCreated {
		fmt.Fprintf(&b, "New exam scheduled for %s\n", report.EnsuredExamDate)
	}
	if report.EnsureError != "" {
		fmt.Fprintf(&b, "Scheduling failed: %s\n", report.EnsureError)
	}
	for _, s := range report.Sweeps {
		fmt.Fprintf(&b, "%s %s: sent %d, failed %d, skipped %d", s.ExamDate, s.Type, s.Sent, s.Failed, s.Skipped)
		if s.Errors > 0 {
			fmt.Fprintf(&b, ", errors %d", s.Errors)
		}
		if s.WentLive {
			b.WriteString(", now LIVE")
		}
		if s.Interrupted {
			b.WriteString(", interrupted")
		}
		b.WriteString("\n")
	}
	if len(report.Sweeps) == 0 {
		b.WriteString("No notifications were due\n")
	}
	if report.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", report.Error)
	}
	return strings.TrimRight(b.String(), "\n")
}

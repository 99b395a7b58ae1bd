package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"exam_dispatch_engine/internal/app"
	"exam_dispatch_engine/internal/domain/exam"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const msgNotAuthorized = "Error: you are not allowed to run this command."

// Ops is the operator service behind the bot commands.
type Ops interface {
	Authorize(performingAdminID int64) error
	ListActiveSchedules(ctx context.Context) ([]*exam.Schedule, error)
	DispatchStats(ctx context.Context, scheduleID string) (*app.ScheduleStats, error)
	TriggerRun(ctx context.Context) (*app.RunReport, error)
	TriggerRetry(ctx context.Context) (*app.RunReport, error)
}

// OpsHandlers answers admin commands. Replies are plain text so they can be tested without a bot.
type OpsHandlers struct {
	baseCtx    context.Context
	ops        Ops
	runTimeout time.Duration
	logger     *logrus.Entry
}

// NewOpsHandlers builds the handlers. Commands run under baseCtx, so shutdown cancels a manual run.
func NewOpsHandlers(baseCtx context.Context, ops Ops, runTimeout time.Duration, logger *logrus.Entry) *OpsHandlers {
	return &OpsHandlers{baseCtx: baseCtx, ops: ops, runTimeout: runTimeout, logger: logger.WithField("handler_group", "ops")}
}

// RegisterOpsHandlers binds the admin commands to the bot.
func RegisterOpsHandlers(b *telebot.Bot, h *OpsHandlers) {
	for _, cmd := range []string{"/schedules", "/stats", "/run", "/retry"} {
		cmd := cmd
		b.Handle(cmd, func(c telebot.Context) error {
			if cmd == "/run" || cmd == "/retry" {
				if err := h.ops.Authorize(c.Sender().ID); err == nil {
					if err := c.Send("Starting, this can take a while..."); err != nil {
						h.logger.WithError(err).Warn("Failed to acknowledge command")
					}
				}
			}
			return c.Send(h.Handle(c.Sender().ID, cmd, c.Args()))
		})
	}
}

// Handle answers a bot command under the handlers' base context.
func (h *OpsHandlers) Handle(senderID int64, command string, args []string) string {
	return h.Reply(h.baseCtx, senderID, command, args)
}

// Reply runs one command for senderID and returns the text to send back.
func (h *OpsHandlers) Reply(ctx context.Context, senderID int64, command string, args []string) string {
	log := h.logger.WithFields(logrus.Fields{"command": command, "sender_id": senderID})
	log.Info("Command received")

	if err := h.ops.Authorize(senderID); err != nil {
		log.Warn("Unauthorized access attempt")
		return msgNotAuthorized
	}

	switch command {
	case "/schedules":
		list, err := h.ops.ListActiveSchedules(ctx)
		if err != nil {
			log.WithError(err).Error("Failed to list schedules")
			return fmt.Sprintf("Failed to list schedules: %s", err.Error())
		}
		return FormatScheduleList(list)

	case "/stats":
		if len(args) != 1 {
			return "Usage: /stats <schedule_id>"
		}
		stats, err := h.ops.DispatchStats(ctx, args[0])
		if err != nil {
			if errors.Is(err, exam.ErrScheduleNotFound) {
				return fmt.Sprintf("Schedule %s not found.", args[0])
			}
			log.WithError(err).Error("Failed to load dispatch stats")
			return fmt.Sprintf("Failed to load dispatch stats: %s", err.Error())
		}
		return FormatStats(stats)

	case "/run", "/retry":
		runCtx, cancel := context.WithTimeout(ctx, h.runTimeout)
		defer cancel()
		trigger := h.ops.TriggerRun
		if command == "/retry" {
			trigger = h.ops.TriggerRetry
		}
		report, err := trigger(runCtx)
		if err != nil {
			log.WithError(err).Error("Manual run failed")
			if report == nil {
				return fmt.Sprintf("Run failed: %s", err.Error())
			}
		}
		return app.FormatRunSummary(report)
	}
	return "Unknown command. Use /help."
}

// FormatScheduleList renders active schedules one per line.
func FormatScheduleList(list []*exam.Schedule) string {
	if len(list) == 0 {
		return "No active exam schedules."
	}
	var b strings.Builder
	b.WriteString("Active exam schedules:\n")
	for _, s := range list {
		fmt.Fprintf(&b, "%s  %s  %s\n", exam.DateKey(s.ExamDate), s.Status, s.ID)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatStats renders the dispatch counts of a schedule.
func FormatStats(stats *app.ScheduleStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Exam %s (%s)\n", exam.DateKey(stats.Schedule.ExamDate), stats.Schedule.Status)
	if len(stats.Counts) == 0 {
		b.WriteString("No dispatches yet.")
		return b.String()
	}
	for _, c := range stats.Counts {
		fmt.Fprintf(&b, "%s %s %s: %d\n", c.Type, c.Channel, c.Status, c.Count)
	}
	return strings.TrimRight(b.String(), "\n")
}

// internal/infra/telegram/bot_commands_handler.go
package telegram

import (
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// RegisterBotCommands binds /start and /help.
func RegisterBotCommands(b *telebot.Bot, adminTelegramID int64, baseLogger *logrus.Entry) {
	startHelpLogger := baseLogger.WithField("handler_group", "start_help")

	b.Handle("/start", func(c telebot.Context) error {
		startHelpLogger.WithField("command", "/start").WithField("sender_id", c.Sender().ID).Info("Processing /start command")
		return c.Send(StartText(c.Sender().ID, adminTelegramID, c.Sender().FirstName))
	})

	b.Handle("/help", func(c telebot.Context) error {
		startHelpLogger.WithField("command", "/help").WithField("sender_id", c.Sender().ID).Info("Processing /help command")
		if c.Sender().ID != adminTelegramID {
			return c.Send(HelpText(false))
		}
		return c.Send(HelpText(true), &telebot.SendOptions{ParseMode: telebot.ModeMarkdown})
	})
}

func StartText(senderID, adminTelegramID int64, firstName string) string {
	if senderID == adminTelegramID {
		return "Hello " + firstName + "! The exam dispatch engine is running. Use /help for the command list."
	}
	return "This bot is used by the exam operations team only."
}

func HelpText(admin bool) string {
	if !admin {
		return "No commands are available to you."
	}
	var help strings.Builder
	help.WriteString("Admin commands:\n\n")
	help.WriteString("`/schedules`\n - List exam schedules that still need reminders.\n\n")
	help.WriteString("`/stats <schedule_id>`\n - Dispatch counts by type, channel and status.\n\n")
	help.WriteString("`/run`\n - Run the daily workflow now.\n\n")
	help.WriteString("`/retry`\n - Re-attempt failed dispatches now.\n\n")
	help.WriteString("`/help`\n - Show this message.")
	return help.String()
}

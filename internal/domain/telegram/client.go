package telegram

import "gopkg.in/telebot.v3"

// Client posts text to a Telegram chat. Run summaries and ops replies go through it.
type Client interface {
	SendMessage(chatID int64, text string, options *telebot.SendOptions) error
}

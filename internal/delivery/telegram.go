package delivery

import (
	"context"
	"fmt"
	"html"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
)

// TelegramSink sends notifications to one chat through the Telegram Bot API.
type TelegramSink struct {
	client *bot.Bot
	chatID string
}

// NewTelegramSink creates a sink for the given bot and chat.
// An empty serverURL selects the public Bot API endpoint.
func NewTelegramSink(botToken, chatID, serverURL string) (*TelegramSink, error) {
	opts := []bot.Option{bot.WithSkipGetMe()}
	if serverURL != "" {
		opts = append(opts, bot.WithServerURL(serverURL))
	}
	client, err := bot.New(botToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}
	return &TelegramSink{client: client, chatID: chatID}, nil
}

// Deliver implements Sink.
func (t *TelegramSink) Deliver(ctx context.Context, n Notification) error {
	_, err := t.client.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    t.chatID,
		Text:      fmt.Sprintf("<b>%s</b>\n%s", html.EscapeString(n.Title), html.EscapeString(n.Body)),
		ParseMode: tgmodels.ParseModeHTML,
	})
	if err != nil {
		return fmt.Errorf("telegram: send %s: %w", n.ID, err)
	}
	return nil
}

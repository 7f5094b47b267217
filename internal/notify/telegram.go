package notify

import (
	"context"
	"fmt"
	"html"
	"net/http"
)

const telegramAPI = "https://api.telegram.org"

// TelegramSender posts alerts to one chat through the Bot API sendMessage
// method, formatted as HTML.
type TelegramSender struct {
	apiBase string
	token   string
	chatID  string
	client  *http.Client
}

func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		apiBase: telegramAPI,
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: senderTimeout},
	}
}

func (t *TelegramSender) Send(ctx context.Context, a Alert) error {
	text := fmt.Sprintf("<b>%s</b>\n%s\n<i>item %d, user %d</i>",
		html.EscapeString(a.Title), html.EscapeString(a.Body), a.ItemID, a.UserID)
	payload := map[string]any{
		"chat_id":                  t.chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}
	if err := postJSON(ctx, t.client, t.apiBase+"/bot"+t.token+"/sendMessage", payload); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

func (t *TelegramSender) Name() string { return "telegram" }

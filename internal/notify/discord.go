package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
)

// DiscordSender posts alerts to a Discord webhook as a single embed.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: senderTimeout},
	}
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields,omitempty"`
	Timestamp   string         `json:"timestamp"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordMessage struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

// embedColor tints the embed by outcome.
func embedColor(k domain.NotificationKind) int {
	switch k {
	case domain.NotifyWinner:
		return 0x2ecc71
	case domain.NotifyOutbid:
		return 0xf1c40f
	default:
		return 0x95a5a6
	}
}

// Send posts a. Discord answers 204 on success.
func (d *DiscordSender) Send(ctx context.Context, a Alert) error {
	msg := discordMessage{
		Username: "auctiond",
		Embeds: []discordEmbed{{
			Title:       a.Title,
			Description: a.Body,
			Color:       embedColor(a.Kind),
			Fields: []discordField{
				{Name: "item", Value: fmt.Sprint(a.ItemID), Inline: true},
				{Name: "user", Value: fmt.Sprint(a.UserID), Inline: true},
			},
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}},
	}
	if err := postJSON(ctx, d.client, d.webhookURL, msg); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

func (d *DiscordSender) Name() string { return "discord" }

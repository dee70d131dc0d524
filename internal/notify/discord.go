package notify

import (
	"context"
	"net/http"
)

// discordContentLimit is the longest message body a webhook accepts.
const discordContentLimit = 2000

// DiscordSender posts marketplace event notices to a Discord channel
// webhook under the "marketd" username.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for webhookURL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: newHTTPClient()}
}

// Send posts the event title in bold followed by its summary line, cut to
// the webhook's content limit.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	content := "**" + title + "**\n" + message
	if r := []rune(content); len(r) > discordContentLimit {
		content = string(r[:discordContentLimit-1]) + "…"
	}
	return postJSON(ctx, d.client, d.Name(), d.webhookURL, map[string]string{
		"username": "marketd",
		"content":  content,
	})
}

func (d *DiscordSender) Name() string { return "discord" }

package core

import (
	"context"
	"fmt"

	"github.com/JushBJJ/Wormhole/internal/bridge/webhook"
	"github.com/JushBJJ/Wormhole/internal/model"
)

// WebhookURLs resolves webhook destinations from channel options set with
// the webhook command.
type WebhookURLs struct {
	core *Core
}

var _ webhook.URLResolver = WebhookURLs{}

func (c *Core) WebhookURLs() WebhookURLs {
	return WebhookURLs{core: c}
}

func (w WebhookURLs) WebhookURL(ctx context.Context, endpoint model.Endpoint) (string, error) {
	ch, err := w.core.Registry.Channel(ctx, endpoint)
	if err != nil {
		return "", fmt.Errorf("loading channel %s: %w", endpoint, err)
	}
	if ch.Options.WebhookURL == "" {
		return "", webhook.ErrNoWebhook
	}
	return ch.Options.WebhookURL, nil
}

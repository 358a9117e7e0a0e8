// Package webhook delivers through Discord-compatible incoming webhooks,
// which let each post carry the author's name and avatar.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JushBJJ/Wormhole/internal/bridge"
	"github.com/JushBJJ/Wormhole/internal/model"
)

// maxContentLen is the webhook API's per-message content limit.
const maxContentLen = 2000

var ErrNoWebhook = errors.New("no webhook configured for channel")

// URLResolver finds the webhook URL bound to an endpoint.
type URLResolver interface {
	WebhookURL(ctx context.Context, endpoint model.Endpoint) (string, error)
}

type Deliverer struct {
	platform string
	urls     URLResolver
	client   *http.Client
}

var _ bridge.Deliverer = (*Deliverer)(nil)

func New(platform string, urls URLResolver) *Deliverer {
	return &Deliverer{
		platform: platform,
		urls:     urls,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *Deliverer) Platform() string {
	return d.platform
}

type payload struct {
	Content         string          `json:"content"`
	Username        string          `json:"username,omitempty"`
	AvatarURL       string          `json:"avatar_url,omitempty"`
	AllowedMentions allowedMentions `json:"allowed_mentions"`
}

type allowedMentions struct {
	Parse []string `json:"parse"`
}

type postedMessage struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
}

// Permalink identifies one delivered webhook message.
func (d *Deliverer) Permalink(channelID, messageID string) string {
	return d.platform + ":" + channelID + "/" + messageID
}

func (d *Deliverer) Deliver(ctx context.Context, del bridge.Delivery) (string, error) {
	url, err := d.urls.WebhookURL(ctx, del.Endpoint)
	if err != nil {
		return "", err
	}
	if url == "" {
		return "", ErrNoWebhook
	}

	// Webhooks cannot reply to a message, so ThreadTarget is not rendered.
	body := truncate(del.Body(), maxContentLen)

	p := payload{Content: body, AllowedMentions: allowedMentions{Parse: []string{}}}
	if del.Impersonate && del.Attribution != nil {
		p.Username = del.Attribution.Header()
		p.AvatarURL = del.Attribution.AvatarRef
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encoding webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"?wait=true", bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := classify(resp.StatusCode, respBody, del.Impersonate); err != nil {
		return "", err
	}

	var posted postedMessage
	if err := json.Unmarshal(respBody, &posted); err != nil {
		return "", fmt.Errorf("decoding webhook response: %w", err)
	}
	channelID := posted.ChannelID
	if channelID == "" {
		channelID = del.Endpoint.ChannelID
	}
	return d.Permalink(channelID, posted.ID), nil
}

// truncate cuts s to at most n characters on a rune boundary.
func truncate(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

func classify(status int, body []byte, impersonating bool) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized, status == http.StatusForbidden, status == http.StatusNotFound:
		return fmt.Errorf("%w: webhook returned %d", bridge.ErrPermissionDenied, status)
	case status == http.StatusBadRequest && impersonating && strings.Contains(string(body), "username"):
		return fmt.Errorf("%w: %s", bridge.ErrImpersonationForbidden, strings.TrimSpace(string(body)))
	default:
		return fmt.Errorf("webhook returned %d: %s", status, strings.TrimSpace(string(body)))
	}
}

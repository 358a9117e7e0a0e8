package model

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Endpoint is a platform-qualified channel address, e.g. telegram:-1001234.
type Endpoint struct {
	Platform  string `json:"platform"`
	ChannelID string `json:"channel_id"`
}

func (e Endpoint) String() string {
	return e.Platform + ":" + e.ChannelID
}

func (e Endpoint) IsZero() bool {
	return e.Platform == "" && e.ChannelID == ""
}

// ParseEndpoint parses the "platform:channel" form produced by String.
func ParseEndpoint(s string) (Endpoint, error) {
	platform, channel, ok := strings.Cut(s, ":")
	if !ok || platform == "" || channel == "" {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q", s)
	}
	return Endpoint{Platform: platform, ChannelID: channel}, nil
}

type ChannelOptions struct {
	React      bool     `json:"react"`
	MutedUsers []string `json:"muted_users,omitempty"`
	WebhookURL string   `json:"webhook_url,omitempty"`
}

func (o ChannelOptions) IsMuted(identityHash string) bool {
	return slices.Contains(o.MutedUsers, identityHash)
}

// Channel is one physical destination bound to exactly one category.
type Channel struct {
	Endpoint  Endpoint       `json:"endpoint"`
	SpaceID   string         `json:"space_id"`
	Category  string         `json:"category"`
	Options   ChannelOptions `json:"options"`
	CreatedAt time.Time      `json:"created_at"`
}

// Category is a declared relay group name. Categories with members but no
// declaration still exist; see registry.CategoryExists.
type Category struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type CategorySummary struct {
	Name     string `json:"name"`
	Declared bool   `json:"declared"`
	Members  int    `json:"members"`
}

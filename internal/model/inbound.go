package model

import "encoding/json"

// Embed is rich content attached to a message. Platforms that cannot render
// embeds receive the URL as a plain link.
type Embed struct {
	URL         string `json:"url,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// InboundMessage is what a platform bridge hands to the core.
type InboundMessage struct {
	PlatformUserID  string   `json:"platform_user_id"`
	DisplayName     string   `json:"display_name"`
	AvatarRef       string   `json:"avatar_ref,omitempty"`
	Channel         Endpoint `json:"channel"`
	SpaceID         string   `json:"space_id,omitempty"`
	Content         string   `json:"content"`
	Attachments     []string `json:"attachments,omitempty"`
	Embeds          []Embed  `json:"embeds,omitempty"`
	ReplyRef        string   `json:"reply_ref,omitempty"`
	SourcePermalink string   `json:"source_permalink,omitempty"`
}

// Envelope is the bus wire format shared with out-of-process bridges.
type Envelope struct {
	ID         string          `json:"id"`
	Message    string          `json:"message"`
	Embed      json.RawMessage `json:"embed"`
	Category   string          `json:"category"`
	FromBridge string          `json:"from_bridge"`
}

func (e Envelope) HasEmbed() bool {
	return len(e.Embed) > 0 && string(e.Embed) != "null"
}

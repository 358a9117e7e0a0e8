package dto

import "github.com/JushBJJ/Wormhole/internal/model"

// PostMessageRequest is what an out-of-process bridge posts for one inbound message.
type PostMessageRequest struct {
	Platform        string        `json:"platform" binding:"required"`
	ChannelID       string        `json:"channel_id" binding:"required"`
	PlatformUserID  string        `json:"platform_user_id" binding:"required"`
	DisplayName     string        `json:"display_name" binding:"required"`
	AvatarRef       string        `json:"avatar_ref,omitempty"`
	SpaceID         string        `json:"space_id,omitempty"`
	Content         string        `json:"content"`
	Attachments     []string      `json:"attachments,omitempty"`
	Embeds          []model.Embed `json:"embeds,omitempty"`
	ReplyRef        string        `json:"reply_ref,omitempty"`
	SourcePermalink string        `json:"source_permalink,omitempty"`
}

func (r PostMessageRequest) Inbound() model.InboundMessage {
	return model.InboundMessage{
		PlatformUserID:  r.PlatformUserID,
		DisplayName:     r.DisplayName,
		AvatarRef:       r.AvatarRef,
		Channel:         model.Endpoint{Platform: r.Platform, ChannelID: r.ChannelID},
		SpaceID:         r.SpaceID,
		Content:         r.Content,
		Attachments:     r.Attachments,
		Embeds:          r.Embeds,
		ReplyRef:        r.ReplyRef,
		SourcePermalink: r.SourcePermalink,
	}
}

type PostMessageResponse struct {
	Admitted  bool     `json:"admitted"`
	Reason    string   `json:"reason,omitempty"`
	Reply     string   `json:"reply,omitempty"`
	Category  string   `json:"category,omitempty"`
	Delivered int      `json:"delivered"`
	Failed    int      `json:"failed"`
	Removed   []string `json:"removed,omitempty"`
}

type PostEnvelopeResponse struct {
	Category  string `json:"category,omitempty"`
	Delivered int    `json:"delivered"`
	Failed    int    `json:"failed"`
}

type CategoryResponse struct {
	Name     string `json:"name"`
	Declared bool   `json:"declared"`
	Members  int    `json:"members"`
}

type ListCategoriesResponse struct {
	Categories []CategoryResponse `json:"categories"`
}

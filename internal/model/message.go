package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// DeliveredLink is the permalink of one relayed copy.
type DeliveredLink struct {
	Endpoint  Endpoint `json:"endpoint"`
	Permalink string   `json:"permalink"`
}

// MessageRecord is the content-addressed trace of one relayed message.
type MessageRecord struct {
	ContentHash     string          `json:"content_hash"`
	AuthorHash      string          `json:"author_hash"`
	Source          Endpoint        `json:"source"`
	SourcePermalink string          `json:"source_permalink,omitempty"`
	Category        string          `json:"category"`
	DeliveredLinks  []DeliveredLink `json:"delivered_links"`
	// Aliases are permalinks of repeat copies folded into this record.
	Aliases   []string  `json:"aliases,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// LinkFor returns the permalink delivered to endpoint, if any.
func (r *MessageRecord) LinkFor(endpoint Endpoint) (string, bool) {
	for _, l := range r.DeliveredLinks {
		if l.Endpoint == endpoint {
			return l.Permalink, true
		}
	}
	return "", false
}

// Permalinks returns every link under which this message is reachable.
func (r *MessageRecord) Permalinks() []string {
	links := make([]string, 0, len(r.DeliveredLinks)+len(r.Aliases)+1)
	if r.SourcePermalink != "" {
		links = append(links, r.SourcePermalink)
	}
	for _, l := range r.DeliveredLinks {
		links = append(links, l.Permalink)
	}
	return append(links, r.Aliases...)
}

// ContentHash identifies a message by content, author and source channel so
// reprocessing the same inbound message lands on the same record.
func ContentHash(content, authorID string, source Endpoint) string {
	h := sha256.New()
	h.Write([]byte(content))
	h.Write([]byte{0})
	h.Write([]byte(authorID))
	h.Write([]byte{0})
	h.Write([]byte(source.String()))
	return hex.EncodeToString(h.Sum(nil))
}

package model

import "time"

type BanKind string

const (
	BanKindIdentity BanKind = "identity"
	BanKindSpace    BanKind = "space"
	// BanKindWord entries feed the content filter rather than blocking senders.
	BanKindWord BanKind = "word"
)

type Ban struct {
	Kind      BanKind   `json:"kind"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

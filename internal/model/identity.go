package model

import (
	"slices"
	"time"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// HistoryEntry is one admitted message, kept only to count traffic inside
// the reputation windows.
type HistoryEntry struct {
	At          time.Time `json:"at"`
	ContentHash string    `json:"content_hash"`
}

// Identity is the reputation record of one platform user. Hash is the
// only user reference that ever leaves the relay.
type Identity struct {
	ID                string         `json:"id"`
	Hash              string         `json:"hash"`
	Role              Role           `json:"role"`
	Names             []string       `json:"names"`
	AvatarRef         string         `json:"avatar_ref,omitempty"`
	Nonce             uint64         `json:"nonce"`
	Difficulty        float64        `json:"difficulty"`
	DifficultyPenalty float64        `json:"difficulty_penalty"`
	CanSend           bool           `json:"can_send"`
	History           []HistoryEntry `json:"history"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

func (i *Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// ShortHash is the public form of the pseudonym shown in attribution headers.
func (i *Identity) ShortHash() string {
	return ShortHash(i.Hash)
}

// DisplayName is the most recently observed display name.
func (i *Identity) DisplayName() string {
	if len(i.Names) == 0 {
		return "anonymous"
	}
	return i.Names[len(i.Names)-1]
}

// HasName reports whether name was already observed for this identity.
func (i *Identity) HasName(name string) bool {
	return slices.Contains(i.Names, name)
}

// Clone returns a deep copy so callers can mutate without racing the store.
func (i *Identity) Clone() *Identity {
	c := *i
	c.Names = slices.Clone(i.Names)
	c.History = slices.Clone(i.History)
	return &c
}

const shortHashLen = 12

func ShortHash(hash string) string {
	if len(hash) <= shortHashLen {
		return hash
	}
	return hash[:shortHashLen]
}

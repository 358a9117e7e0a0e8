// Package pgstore is the Postgres storage driver built directly on pgx.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JushBJJ/Wormhole/core/db"
	"github.com/JushBJJ/Wormhole/internal/store"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS identities (
		id TEXT PRIMARY KEY,
		hash TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL DEFAULT 'user',
		names JSONB NOT NULL DEFAULT '[]',
		avatar_ref TEXT NOT NULL DEFAULT '',
		nonce BIGINT NOT NULL DEFAULT 0,
		difficulty DOUBLE PRECISION NOT NULL DEFAULT 0,
		difficulty_penalty DOUBLE PRECISION NOT NULL DEFAULT 0,
		can_send BOOLEAN NOT NULL DEFAULT TRUE,
		history JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS identities_hash_prefix_idx ON identities (hash text_pattern_ops)`,
	`CREATE TABLE IF NOT EXISTS categories (
		name TEXT PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS channels (
		platform TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		space_id TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL,
		options JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (platform, channel_id)
	)`,
	`CREATE INDEX IF NOT EXISTS channels_category_idx ON channels (category)`,
	`CREATE TABLE IF NOT EXISTS messages (
		content_hash TEXT PRIMARY KEY,
		author_hash TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		source_permalink TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		delivered_links JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS messages_created_at_idx ON messages (created_at)`,
	`CREATE TABLE IF NOT EXISTS message_permalinks (
		permalink TEXT PRIMARY KEY,
		content_hash TEXT NOT NULL REFERENCES messages (content_hash) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS bans (
		kind TEXT NOT NULL,
		value TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (kind, value)
	)`,
}

// Stores implements store.Provider on Postgres.
type Stores struct {
	db *db.DB
}

var _ store.Provider = (*Stores)(nil)

// New applies the schema and returns the stores.
func New(ctx context.Context, database *db.DB) (*Stores, error) {
	q := database.Queries()
	for _, stmt := range schema {
		if _, err := q.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("initialising schema: %w", err)
		}
	}
	return &Stores{db: database}, nil
}

func (s *Stores) Identities() store.IdentityStore { return &identityStore{q: s.db.Queries()} }
func (s *Stores) Channels() store.ChannelStore    { return &channelStore{q: s.db.Queries()} }
func (s *Stores) Categories() store.CategoryStore { return &categoryStore{q: s.db.Queries()} }
func (s *Stores) Messages() store.MessageStore    { return &messageStore{db: s.db} }
func (s *Stores) Bans() store.BanStore            { return &banStore{q: s.db.Queries()} }

func (s *Stores) Close() error {
	s.db.Close()
	return nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func marshalJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

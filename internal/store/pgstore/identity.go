package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/JushBJJ/Wormhole/core/db"
	"github.com/JushBJJ/Wormhole/internal/model"
	"github.com/JushBJJ/Wormhole/internal/store"
)

const identityColumns = `id, hash, role, names, avatar_ref, nonce, difficulty,
	difficulty_penalty, can_send, history, created_at, updated_at`

type identityStore struct {
	q db.Querier
}

func scanIdentity(row pgx.Row) (*model.Identity, error) {
	var (
		i       model.Identity
		role    string
		names   []byte
		history []byte
		nonce   int64
	)
	err := row.Scan(&i.ID, &i.Hash, &role, &names, &i.AvatarRef, &nonce, &i.Difficulty,
		&i.DifficultyPenalty, &i.CanSend, &history, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return nil, err
	}
	i.Role = model.Role(role)
	i.Nonce = uint64(nonce)
	if err := json.Unmarshal(names, &i.Names); err != nil {
		return nil, fmt.Errorf("decoding names: %w", err)
	}
	if err := json.Unmarshal(history, &i.History); err != nil {
		return nil, fmt.Errorf("decoding history: %w", err)
	}
	return &i, nil
}

func (s *identityStore) Get(ctx context.Context, platformUserID string) (*model.Identity, error) {
	row := s.q.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = $1`, platformUserID)
	identity, err := scanIdentity(row)
	if err != nil {
		return nil, notFound(err)
	}
	return identity, nil
}

func (s *identityStore) GetByHashPrefix(ctx context.Context, prefix string) (*model.Identity, error) {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	row := s.q.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities
		WHERE hash LIKE $1 || '%'
		ORDER BY length(hash), hash COLLATE "C"
		LIMIT 1`, escaped)
	identity, err := scanIdentity(row)
	if err != nil {
		return nil, notFound(err)
	}
	return store.PickByHashPrefix(prefix, []*model.Identity{identity}), nil
}

func (s *identityStore) Create(ctx context.Context, identity *model.Identity) error {
	names, history, err := identityJSON(identity)
	if err != nil {
		return err
	}
	tag, err := s.q.Exec(ctx, `INSERT INTO identities (`+identityColumns+`)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8, $9, $10::jsonb, now(), now())
		ON CONFLICT DO NOTHING`,
		identity.ID, identity.Hash, string(identity.Role), names, identity.AvatarRef,
		int64(identity.Nonce), identity.Difficulty, identity.DifficultyPenalty, identity.CanSend, history)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrAlreadyExists
	}
	return nil
}

func (s *identityStore) Update(ctx context.Context, identity *model.Identity) error {
	names, history, err := identityJSON(identity)
	if err != nil {
		return err
	}
	tag, err := s.q.Exec(ctx, `UPDATE identities SET
		hash = $2, role = $3, names = $4::jsonb, avatar_ref = $5, nonce = $6, difficulty = $7,
		difficulty_penalty = $8, can_send = $9, history = $10::jsonb, updated_at = now()
		WHERE id = $1`,
		identity.ID, identity.Hash, string(identity.Role), names, identity.AvatarRef,
		int64(identity.Nonce), identity.Difficulty, identity.DifficultyPenalty, identity.CanSend, history)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *identityStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.q.QueryRow(ctx, `SELECT count(*) FROM identities`).Scan(&n)
	return n, err
}

func identityJSON(identity *model.Identity) (string, string, error) {
	names := identity.Names
	if names == nil {
		names = []string{}
	}
	history := identity.History
	if history == nil {
		history = []model.HistoryEntry{}
	}
	n, err := marshalJSON(names)
	if err != nil {
		return "", "", err
	}
	h, err := marshalJSON(history)
	if err != nil {
		return "", "", err
	}
	return n, h, nil
}

package pgstore

import (
	"context"

	"github.com/JushBJJ/Wormhole/core/db"
	"github.com/JushBJJ/Wormhole/internal/model"
)

type banStore struct {
	q db.Querier
}

func (s *banStore) Add(ctx context.Context, kind model.BanKind, value string) (bool, error) {
	tag, err := s.q.Exec(ctx, `INSERT INTO bans (kind, value) VALUES ($1, $2) ON CONFLICT DO NOTHING`, string(kind), value)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *banStore) Remove(ctx context.Context, kind model.BanKind, value string) (bool, error) {
	tag, err := s.q.Exec(ctx, `DELETE FROM bans WHERE kind = $1 AND value = $2`, string(kind), value)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *banStore) Contains(ctx context.Context, kind model.BanKind, value string) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM bans WHERE kind = $1 AND value = $2)`,
		string(kind), value).Scan(&exists)
	return exists, err
}

func (s *banStore) List(ctx context.Context, kind model.BanKind) ([]model.Ban, error) {
	rows, err := s.q.Query(ctx, `SELECT kind, value, created_at FROM bans WHERE kind = $1 ORDER BY value`, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Ban
	for rows.Next() {
		var (
			b    model.Ban
			kind string
		)
		if err := rows.Scan(&kind, &b.Value, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.Kind = model.BanKind(kind)
		out = append(out, b)
	}
	return out, rows.Err()
}

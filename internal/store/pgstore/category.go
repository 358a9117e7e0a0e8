package pgstore

import (
	"context"

	"github.com/JushBJJ/Wormhole/core/db"
	"github.com/JushBJJ/Wormhole/internal/model"
)

type categoryStore struct {
	q db.Querier
}

func (s *categoryStore) Declare(ctx context.Context, name string) (bool, error) {
	tag, err := s.q.Exec(ctx, `INSERT INTO categories (name) VALUES ($1) ON CONFLICT DO NOTHING`, name)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *categoryStore) Remove(ctx context.Context, name string) (bool, error) {
	tag, err := s.q.Exec(ctx, `DELETE FROM categories WHERE name = $1`, name)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *categoryStore) Exists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM categories WHERE name = $1)`, name).Scan(&exists)
	return exists, err
}

func (s *categoryStore) List(ctx context.Context) ([]model.Category, error) {
	rows, err := s.q.Query(ctx, `SELECT name, created_at FROM categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Category
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.Name, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

package pgstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JushBJJ/Wormhole/core/db"
	"github.com/JushBJJ/Wormhole/internal/model"
	"github.com/JushBJJ/Wormhole/internal/store"
)

const channelColumns = `platform, channel_id, space_id, category, options, created_at`

type channelStore struct {
	q db.Querier
}

func scanChannel(row pgx.Row) (*model.Channel, error) {
	var (
		ch   model.Channel
		opts []byte
	)
	if err := row.Scan(&ch.Endpoint.Platform, &ch.Endpoint.ChannelID, &ch.SpaceID, &ch.Category, &opts, &ch.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(opts, &ch.Options); err != nil {
		return nil, fmt.Errorf("decoding channel options: %w", err)
	}
	return &ch, nil
}

func (s *channelStore) Get(ctx context.Context, endpoint model.Endpoint) (*model.Channel, error) {
	row := s.q.QueryRow(ctx, `SELECT `+channelColumns+` FROM channels WHERE platform = $1 AND channel_id = $2`,
		endpoint.Platform, endpoint.ChannelID)
	ch, err := scanChannel(row)
	if err != nil {
		return nil, notFound(err)
	}
	return ch, nil
}

func (s *channelStore) Create(ctx context.Context, channel *model.Channel) error {
	opts, err := marshalJSON(channel.Options)
	if err != nil {
		return err
	}
	tag, err := s.q.Exec(ctx, `INSERT INTO channels (platform, channel_id, space_id, category, options)
		VALUES ($1, $2, $3, $4, $5::jsonb) ON CONFLICT DO NOTHING`,
		channel.Endpoint.Platform, channel.Endpoint.ChannelID, channel.SpaceID, channel.Category, opts)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrAlreadyExists
	}
	return nil
}

func (s *channelStore) UpdateOptions(ctx context.Context, endpoint model.Endpoint, opts model.ChannelOptions) error {
	raw, err := marshalJSON(opts)
	if err != nil {
		return err
	}
	tag, err := s.q.Exec(ctx, `UPDATE channels SET options = $3::jsonb WHERE platform = $1 AND channel_id = $2`,
		endpoint.Platform, endpoint.ChannelID, raw)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *channelStore) Delete(ctx context.Context, endpoint model.Endpoint) (bool, error) {
	tag, err := s.q.Exec(ctx, `DELETE FROM channels WHERE platform = $1 AND channel_id = $2`,
		endpoint.Platform, endpoint.ChannelID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *channelStore) ListByCategory(ctx context.Context, category string) ([]model.Channel, error) {
	rows, err := s.q.Query(ctx, `SELECT `+channelColumns+` FROM channels WHERE category = $1
		ORDER BY platform, channel_id`, category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ch)
	}
	return out, rows.Err()
}

func (s *channelStore) CountByCategory(ctx context.Context) (map[string]int, error) {
	rows, err := s.q.Query(ctx, `SELECT category, count(*) FROM channels GROUP BY category`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			name string
			n    int
		)
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		counts[name] = n
	}
	return counts, rows.Err()
}

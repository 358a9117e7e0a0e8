package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JushBJJ/Wormhole/core/db"
	"github.com/JushBJJ/Wormhole/internal/model"
	"github.com/JushBJJ/Wormhole/internal/store"
)

const messageColumns = `content_hash, author_hash, source, source_permalink, category, delivered_links, created_at`

type messageStore struct {
	db *db.DB
}

func scanMessage(row pgx.Row) (*model.MessageRecord, error) {
	var (
		rec    model.MessageRecord
		source string
		links  []byte
	)
	if err := row.Scan(&rec.ContentHash, &rec.AuthorHash, &source, &rec.SourcePermalink, &rec.Category, &links, &rec.CreatedAt); err != nil {
		return nil, err
	}
	if source != "" {
		ep, err := model.ParseEndpoint(source)
		if err != nil {
			return nil, err
		}
		rec.Source = ep
	}
	if err := json.Unmarshal(links, &rec.DeliveredLinks); err != nil {
		return nil, fmt.Errorf("decoding delivered links: %w", err)
	}
	return &rec, nil
}

func (s *messageStore) Get(ctx context.Context, contentHash string) (*model.MessageRecord, error) {
	return s.get(ctx, s.db.Queries(), contentHash, false)
}

func (s *messageStore) get(ctx context.Context, q db.Querier, contentHash string, lock bool) (*model.MessageRecord, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE content_hash = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	rec, err := scanMessage(q.QueryRow(ctx, query, contentHash))
	if err != nil {
		return nil, notFound(err)
	}
	return rec, nil
}

func (s *messageStore) GetByPermalink(ctx context.Context, permalink string) (*model.MessageRecord, error) {
	row := s.db.Queries().QueryRow(ctx, `SELECT m.content_hash, m.author_hash, m.source, m.source_permalink,
		m.category, m.delivered_links, m.created_at
		FROM message_permalinks p JOIN messages m ON m.content_hash = p.content_hash
		WHERE p.permalink = $1`, permalink)
	rec, err := scanMessage(row)
	if err != nil {
		return nil, notFound(err)
	}
	return rec, nil
}

func (s *messageStore) Save(ctx context.Context, record *model.MessageRecord) error {
	return s.db.WithTx(ctx, func(q db.Querier) error {
		merged := *record
		current, err := s.get(ctx, q, record.ContentHash, true)
		switch {
		case err == nil:
			merged = store.MergeRecord(current, record)
		case errors.Is(err, store.ErrNotFound):
			if merged.CreatedAt.IsZero() {
				merged.CreatedAt = time.Now().UTC()
			}
		default:
			return err
		}

		links := merged.DeliveredLinks
		if links == nil {
			links = []model.DeliveredLink{}
		}
		rawLinks, err := marshalJSON(links)
		if err != nil {
			return err
		}
		source := ""
		if !merged.Source.IsZero() {
			source = merged.Source.String()
		}

		_, err = q.Exec(ctx, `INSERT INTO messages (`+messageColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
			ON CONFLICT (content_hash) DO UPDATE SET
			source_permalink = EXCLUDED.source_permalink,
			delivered_links = EXCLUDED.delivered_links`,
			merged.ContentHash, merged.AuthorHash, source, merged.SourcePermalink, merged.Category, rawLinks, merged.CreatedAt)
		if err != nil {
			return fmt.Errorf("saving message: %w", err)
		}

		for _, link := range merged.Permalinks() {
			if _, err := q.Exec(ctx, `INSERT INTO message_permalinks (permalink, content_hash)
				VALUES ($1, $2) ON CONFLICT (permalink) DO UPDATE SET content_hash = EXCLUDED.content_hash`,
				link, merged.ContentHash); err != nil {
				return fmt.Errorf("saving permalink: %w", err)
			}
		}
		return nil
	})
}

func (s *messageStore) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.db.Queries().Exec(ctx, `DELETE FROM messages WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

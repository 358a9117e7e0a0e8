package pebblestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/JushBJJ/Wormhole/internal/model"
	"github.com/JushBJJ/Wormhole/internal/store"
)

type messageStore struct {
	s *Stores
}

// messageTimeKey orders records by creation time for pruning.
func messageTimeKey(createdAt time.Time, hash string) string {
	return fmt.Sprintf("%s%020d/%s", prefixMessageTime, createdAt.UnixNano(), hash)
}

func (st *messageStore) Get(ctx context.Context, contentHash string) (*model.MessageRecord, error) {
	var rec model.MessageRecord
	if err := st.s.getJSON(prefixMessage+contentHash, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (st *messageStore) GetByPermalink(ctx context.Context, permalink string) (*model.MessageRecord, error) {
	hash, err := st.s.get(prefixMessageLink + permalink)
	if err != nil {
		return nil, err
	}
	return st.Get(ctx, string(hash))
}

func (st *messageStore) Save(ctx context.Context, record *model.MessageRecord) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	merged := *record
	var current model.MessageRecord
	err := st.s.getJSON(prefixMessage+record.ContentHash, &current)
	switch {
	case err == nil:
		merged = store.MergeRecord(&current, record)
	case errors.Is(err, store.ErrNotFound):
		if merged.CreatedAt.IsZero() {
			merged.CreatedAt = time.Now().UTC()
		}
	default:
		return err
	}

	return st.s.commit(func(b *pebble.Batch) error {
		if err := setJSON(b, prefixMessage+merged.ContentHash, &merged); err != nil {
			return err
		}
		if err := b.Set([]byte(messageTimeKey(merged.CreatedAt, merged.ContentHash)), nil, nil); err != nil {
			return err
		}
		for _, link := range merged.Permalinks() {
			if err := b.Set([]byte(prefixMessageLink+link), []byte(merged.ContentHash), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

func (st *messageStore) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	var hashes []string
	var timeKeys []string
	upper := messageTimeKey(cutoff, "")
	err := st.s.scan(prefixMessageTime, func(key, _ []byte) error {
		k := string(key)
		if k >= upper {
			return errStopScan
		}
		hashes = append(hashes, k[strings.LastIndex(k, "/")+1:])
		timeKeys = append(timeKeys, k)
		return nil
	})
	if err != nil && !errors.Is(err, errStopScan) {
		return 0, err
	}
	if len(hashes) == 0 {
		return 0, nil
	}

	err = st.s.commit(func(b *pebble.Batch) error {
		for i, hash := range hashes {
			var rec model.MessageRecord
			if err := st.s.getJSON(prefixMessage+hash, &rec); err == nil {
				for _, link := range rec.Permalinks() {
					if err := b.Delete([]byte(prefixMessageLink+link), nil); err != nil {
						return err
					}
				}
			}
			if err := b.Delete([]byte(prefixMessage+hash), nil); err != nil {
				return err
			}
			if err := b.Delete([]byte(timeKeys[i]), nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(hashes), nil
}

package pebblestore

import (
	"context"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/JushBJJ/Wormhole/internal/model"
)

type banStore struct {
	s *Stores
}

func banKey(kind model.BanKind, value string) string {
	return prefixBan + string(kind) + "/" + value
}

func (st *banStore) Add(ctx context.Context, kind model.BanKind, value string) (bool, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	exists, err := st.s.has(banKey(kind, value))
	if err != nil || exists {
		return false, err
	}
	err = st.s.commit(func(b *pebble.Batch) error {
		return setJSON(b, banKey(kind, value), model.Ban{Kind: kind, Value: value, CreatedAt: time.Now().UTC()})
	})
	return err == nil, err
}

func (st *banStore) Remove(ctx context.Context, kind model.BanKind, value string) (bool, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	exists, err := st.s.has(banKey(kind, value))
	if err != nil || !exists {
		return false, err
	}
	if err := st.s.db.Delete([]byte(banKey(kind, value)), pebble.Sync); err != nil {
		return false, err
	}
	return true, nil
}

func (st *banStore) Contains(ctx context.Context, kind model.BanKind, value string) (bool, error) {
	return st.s.has(banKey(kind, value))
}

func (st *banStore) List(ctx context.Context, kind model.BanKind) ([]model.Ban, error) {
	var out []model.Ban
	err := st.s.scan(prefixBan+string(kind)+"/", func(_, value []byte) error {
		b, err := decode[model.Ban](value)
		if err != nil {
			return err
		}
		out = append(out, *b)
		return nil
	})
	return out, err
}

package pebblestore

import (
	"context"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/JushBJJ/Wormhole/internal/model"
)

type categoryStore struct {
	s *Stores
}

func (st *categoryStore) Declare(ctx context.Context, name string) (bool, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	exists, err := st.s.has(prefixCategory + name)
	if err != nil || exists {
		return false, err
	}

	err = st.s.commit(func(b *pebble.Batch) error {
		return setJSON(b, prefixCategory+name, model.Category{Name: name, CreatedAt: time.Now().UTC()})
	})
	return err == nil, err
}

func (st *categoryStore) Remove(ctx context.Context, name string) (bool, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	exists, err := st.s.has(prefixCategory + name)
	if err != nil || !exists {
		return false, err
	}
	if err := st.s.db.Delete([]byte(prefixCategory+name), pebble.Sync); err != nil {
		return false, err
	}
	return true, nil
}

func (st *categoryStore) Exists(ctx context.Context, name string) (bool, error) {
	return st.s.has(prefixCategory + name)
}

func (st *categoryStore) List(ctx context.Context) ([]model.Category, error) {
	var out []model.Category
	err := st.s.scan(prefixCategory, func(_, value []byte) error {
		c, err := decode[model.Category](value)
		if err != nil {
			return err
		}
		out = append(out, *c)
		return nil
	})
	return out, err
}

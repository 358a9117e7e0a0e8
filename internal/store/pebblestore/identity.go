package pebblestore

import (
	"context"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/JushBJJ/Wormhole/internal/model"
	"github.com/JushBJJ/Wormhole/internal/store"
)

type identityStore struct {
	s *Stores
}

func (st *identityStore) Get(ctx context.Context, platformUserID string) (*model.Identity, error) {
	var identity model.Identity
	if err := st.s.getJSON(prefixIdentity+platformUserID, &identity); err != nil {
		return nil, err
	}
	return &identity, nil
}

func (st *identityStore) GetByHashPrefix(ctx context.Context, prefix string) (*model.Identity, error) {
	var ids []string
	err := st.s.scan(prefixIdentityHash+prefix, func(_, value []byte) error {
		ids = append(ids, string(value))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning identity hashes: %w", err)
	}

	candidates := make([]*model.Identity, 0, len(ids))
	for _, id := range ids {
		identity, err := st.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, identity)
	}

	best := store.PickByHashPrefix(prefix, candidates)
	if best == nil {
		return nil, store.ErrNotFound
	}
	return best, nil
}

func (st *identityStore) Create(ctx context.Context, identity *model.Identity) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	exists, err := st.s.has(prefixIdentity + identity.ID)
	if err != nil {
		return err
	}
	if exists {
		return store.ErrAlreadyExists
	}

	return st.s.commit(func(b *pebble.Batch) error {
		if err := setJSON(b, prefixIdentity+identity.ID, identity); err != nil {
			return err
		}
		return b.Set([]byte(prefixIdentityHash+identity.Hash), []byte(identity.ID), nil)
	})
}

func (st *identityStore) Update(ctx context.Context, identity *model.Identity) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	var current model.Identity
	if err := st.s.getJSON(prefixIdentity+identity.ID, &current); err != nil {
		return err
	}

	return st.s.commit(func(b *pebble.Batch) error {
		if current.Hash != identity.Hash {
			if err := b.Delete([]byte(prefixIdentityHash+current.Hash), nil); err != nil {
				return err
			}
			if err := b.Set([]byte(prefixIdentityHash+identity.Hash), []byte(identity.ID), nil); err != nil {
				return err
			}
		}
		return setJSON(b, prefixIdentity+identity.ID, identity)
	})
}

func (st *identityStore) Count(ctx context.Context) (int, error) {
	n := 0
	err := st.s.scan(prefixIdentity, func(_, _ []byte) error {
		n++
		return nil
	})
	return n, err
}

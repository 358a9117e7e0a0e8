package pebblestore

import (
	"context"
	"errors"

	"github.com/cockroachdb/pebble"

	"github.com/JushBJJ/Wormhole/internal/model"
	"github.com/JushBJJ/Wormhole/internal/store"
)

type channelStore struct {
	s *Stores
}

func channelKey(e model.Endpoint) string {
	return prefixChannel + e.String()
}

// channelCatKey uses a NUL separator so a category name can never be a
// prefix match for another category's members.
func channelCatKey(category string, e model.Endpoint) string {
	return prefixChannelCat + category + "\x00" + e.String()
}

func (st *channelStore) Get(ctx context.Context, endpoint model.Endpoint) (*model.Channel, error) {
	var ch model.Channel
	if err := st.s.getJSON(channelKey(endpoint), &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

func (st *channelStore) Create(ctx context.Context, channel *model.Channel) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	exists, err := st.s.has(channelKey(channel.Endpoint))
	if err != nil {
		return err
	}
	if exists {
		return store.ErrAlreadyExists
	}

	return st.s.commit(func(b *pebble.Batch) error {
		if err := setJSON(b, channelKey(channel.Endpoint), channel); err != nil {
			return err
		}
		return b.Set([]byte(channelCatKey(channel.Category, channel.Endpoint)), []byte(channel.Endpoint.String()), nil)
	})
}

func (st *channelStore) UpdateOptions(ctx context.Context, endpoint model.Endpoint, opts model.ChannelOptions) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	var ch model.Channel
	if err := st.s.getJSON(channelKey(endpoint), &ch); err != nil {
		return err
	}
	ch.Options = opts

	return st.s.commit(func(b *pebble.Batch) error {
		return setJSON(b, channelKey(endpoint), &ch)
	})
}

func (st *channelStore) Delete(ctx context.Context, endpoint model.Endpoint) (bool, error) {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	var ch model.Channel
	if err := st.s.getJSON(channelKey(endpoint), &ch); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	err := st.s.commit(func(b *pebble.Batch) error {
		if err := b.Delete([]byte(channelKey(endpoint)), nil); err != nil {
			return err
		}
		return b.Delete([]byte(channelCatKey(ch.Category, endpoint)), nil)
	})
	return err == nil, err
}

func (st *channelStore) ListByCategory(ctx context.Context, category string) ([]model.Channel, error) {
	var endpoints []model.Endpoint
	err := st.s.scan(prefixChannelCat+category+"\x00", func(_, value []byte) error {
		e, err := model.ParseEndpoint(string(value))
		if err != nil {
			return err
		}
		endpoints = append(endpoints, e)
		return nil
	})
	if err != nil {
		return nil, err
	}

	channels := make([]model.Channel, 0, len(endpoints))
	for _, e := range endpoints {
		ch, err := st.Get(ctx, e)
		if err != nil {
			return nil, err
		}
		channels = append(channels, *ch)
	}
	return channels, nil
}

func (st *channelStore) CountByCategory(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	err := st.s.scan(prefixChannel, func(_, value []byte) error {
		ch, err := decode[model.Channel](value)
		if err != nil {
			return err
		}
		counts[ch.Category]++
		return nil
	})
	return counts, err
}

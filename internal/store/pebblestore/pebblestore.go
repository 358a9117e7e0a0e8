// Package pebblestore is the file-backed storage driver. Records are JSON
// values under namespaced keys; secondary indexes are key-only entries so
// prefix iteration answers category membership, hash prefix and permalink
// lookups without a scan.
package pebblestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/JushBJJ/Wormhole/internal/store"
)

const (
	prefixIdentity     = "identity/id/"
	prefixIdentityHash = "identity/hash/"
	prefixChannel      = "channel/"
	prefixChannelCat   = "channel_cat/"
	prefixCategory     = "category/"
	prefixMessage      = "message/"
	prefixMessageLink  = "message_link/"
	prefixMessageTime  = "message_time/"
	prefixBan          = "ban/"
)

// errStopScan ends a scan early without reporting failure.
var errStopScan = errors.New("stop scan")

type Config struct {
	Path string
	// InMemory keeps everything in a memory filesystem; used by tests.
	InMemory bool
}

// Stores implements store.Provider on a single pebble database.
type Stores struct {
	db *pebble.DB
	// mu serialises read-modify-write sequences; pebble itself only
	// guarantees atomicity per batch.
	mu sync.Mutex
}

var _ store.Provider = (*Stores)(nil)

func Open(cfg Config) (*Stores, error) {
	opts := &pebble.Options{}
	path := cfg.Path
	if cfg.InMemory {
		opts.FS = vfs.NewMem()
		path = ""
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("opening pebble at %q: %w", cfg.Path, err)
	}
	slog.Info("pebble store opened", "path", cfg.Path, "in_memory", cfg.InMemory)
	return &Stores{db: db}, nil
}

func (s *Stores) Close() error {
	return s.db.Close()
}

func (s *Stores) Identities() store.IdentityStore { return &identityStore{s: s} }
func (s *Stores) Channels() store.ChannelStore    { return &channelStore{s: s} }
func (s *Stores) Categories() store.CategoryStore { return &categoryStore{s: s} }
func (s *Stores) Messages() store.MessageStore    { return &messageStore{s: s} }
func (s *Stores) Bans() store.BanStore            { return &banStore{s: s} }

// get copies the value out before releasing pebble's buffer.
func (s *Stores) get(key string) ([]byte, error) {
	v, closer, err := s.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), v...), nil
}

func (s *Stores) getJSON(key string, out any) error {
	raw, err := s.get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding %s: %w", key, err)
	}
	return nil
}

func (s *Stores) has(key string) (bool, error) {
	_, err := s.get(key)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// scan visits every key under prefix in order. The slices passed to fn are
// only valid for the duration of the call.
func (s *Stores) scan(prefix string, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: upperBound([]byte(prefix)),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func upperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func decode[T any](raw []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func setJSON(b *pebble.Batch, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return b.Set([]byte(key), data, nil)
}

func (s *Stores) commit(fn func(b *pebble.Batch) error) error {
	b := s.db.NewBatch()
	defer b.Close()
	if err := fn(b); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

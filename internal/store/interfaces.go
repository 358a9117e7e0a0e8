package store

import (
	"context"
	"errors"
	"time"

	"github.com/JushBJJ/Wormhole/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when a create would overwrite an existing entity
var ErrAlreadyExists = errors.New("already exists")

// IdentityStore defines the contract for identity data access
type IdentityStore interface {
	Get(ctx context.Context, platformUserID string) (*model.Identity, error)
	// GetByHashPrefix resolves ambiguity by shortest hash first, then lexicographic order.
	GetByHashPrefix(ctx context.Context, prefix string) (*model.Identity, error)
	Create(ctx context.Context, identity *model.Identity) error
	Update(ctx context.Context, identity *model.Identity) error
	Count(ctx context.Context) (int, error)
}

// ChannelStore defines the contract for channel membership data access
type ChannelStore interface {
	Get(ctx context.Context, endpoint model.Endpoint) (*model.Channel, error)
	// Create fails with ErrAlreadyExists when the endpoint is bound to any category.
	Create(ctx context.Context, channel *model.Channel) error
	UpdateOptions(ctx context.Context, endpoint model.Endpoint, opts model.ChannelOptions) error
	Delete(ctx context.Context, endpoint model.Endpoint) (bool, error)
	ListByCategory(ctx context.Context, category string) ([]model.Channel, error)
	CountByCategory(ctx context.Context) (map[string]int, error)
}

// CategoryStore defines the contract for declared category names
type CategoryStore interface {
	Declare(ctx context.Context, name string) (bool, error)
	Remove(ctx context.Context, name string) (bool, error)
	Exists(ctx context.Context, name string) (bool, error)
	List(ctx context.Context) ([]model.Category, error)
}

// MessageStore defines the contract for relayed message records
type MessageStore interface {
	Get(ctx context.Context, contentHash string) (*model.MessageRecord, error)
	// GetByPermalink matches the source permalink or any delivered link.
	GetByPermalink(ctx context.Context, permalink string) (*model.MessageRecord, error)
	// Save upserts the record, appending delivered links that are not yet known.
	Save(ctx context.Context, record *model.MessageRecord) error
	PruneBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// BanStore defines the contract for the ban set
type BanStore interface {
	Add(ctx context.Context, kind model.BanKind, value string) (bool, error)
	Remove(ctx context.Context, kind model.BanKind, value string) (bool, error)
	Contains(ctx context.Context, kind model.BanKind, value string) (bool, error)
	List(ctx context.Context, kind model.BanKind) ([]model.Ban, error)
}

// Provider hands out the stores of one storage backend.
type Provider interface {
	Identities() IdentityStore
	Channels() ChannelStore
	Categories() CategoryStore
	Messages() MessageStore
	Bans() BanStore
	Close() error
}

// Package identity maps platform users to pseudonymous reputation records.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/JushBJJ/Wormhole/internal/model"
	"github.com/JushBJJ/Wormhole/internal/store"
)

// ErrNotFound is returned when neither a native id nor a hash prefix matches.
var ErrNotFound = errors.New("identity not found")

type Service struct {
	store store.IdentityStore
	salt  string
	locks *keyedMutex
	now   func() time.Time
}

func New(s store.IdentityStore, salt string) *Service {
	return &Service{
		store: s,
		salt:  salt,
		locks: newKeyedMutex(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source; used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// QualifiedID scopes a native user id to its platform so ids from different
// platforms never collide.
func QualifiedID(platform, userID string) string {
	return platform + ":" + userID
}

// HashOf returns hex(SHA256(salt ‖ platformUserID)).
func (s *Service) HashOf(platformUserID string) string {
	sum := sha256.Sum256([]byte(s.salt + platformUserID))
	return hex.EncodeToString(sum[:])
}

// Lock serialises read-modify-write sequences on one identity. The returned
// func releases it.
func (s *Service) Lock(platformUserID string) func() {
	return s.locks.Lock(platformUserID)
}

// Resolve returns the identity for platformUserID, creating it on first sight.
func (s *Service) Resolve(ctx context.Context, platformUserID string) (*model.Identity, error) {
	identity, err := s.store.Get(ctx, platformUserID)
	if err == nil {
		return identity, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("getting identity: %w", err)
	}

	now := s.now()
	identity = &model.Identity{
		ID:        platformUserID,
		Hash:      s.HashOf(platformUserID),
		Role:      model.RoleUser,
		CanSend:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, identity); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return s.store.Get(ctx, platformUserID)
		}
		return nil, fmt.Errorf("creating identity: %w", err)
	}

	slog.InfoContext(ctx, "identity created", "identity_hash", identity.ShortHash())
	return identity, nil
}

// RecordProfile appends an unseen display name and refreshes the avatar.
// It is a no-op when nothing changed.
func (s *Service) RecordProfile(ctx context.Context, identity *model.Identity, displayName, avatarRef string) error {
	changed := false
	if displayName != "" && !identity.HasName(displayName) {
		identity.Names = append(identity.Names, displayName)
		changed = true
	}
	if avatarRef != "" && avatarRef != identity.AvatarRef {
		identity.AvatarRef = avatarRef
		changed = true
	}
	if !changed {
		return nil
	}
	return s.Save(ctx, identity)
}

func (s *Service) Save(ctx context.Context, identity *model.Identity) error {
	identity.UpdatedAt = s.now()
	if err := s.store.Update(ctx, identity); err != nil {
		return fmt.Errorf("updating identity: %w", err)
	}
	return nil
}

// Lookup finds an identity by native id, falling back to a hash prefix.
func (s *Service) Lookup(ctx context.Context, hashOrID string) (*model.Identity, error) {
	if hashOrID == "" {
		return nil, ErrNotFound
	}

	identity, err := s.store.Get(ctx, hashOrID)
	if err == nil {
		return identity, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	identity, err = s.store.GetByHashPrefix(ctx, hashOrID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return identity, err
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.store.Count(ctx)
}

// mutate applies fn to a freshly read copy of the identity under its lock.
func (s *Service) mutate(ctx context.Context, hashOrID string, fn func(*model.Identity)) (*model.Identity, error) {
	target, err := s.Lookup(ctx, hashOrID)
	if err != nil {
		return nil, err
	}

	unlock := s.Lock(target.ID)
	defer unlock()

	current, err := s.store.Get(ctx, target.ID)
	if err != nil {
		return nil, err
	}
	fn(current)
	if err := s.Save(ctx, current); err != nil {
		return nil, err
	}
	return current, nil
}

func (s *Service) SetRole(ctx context.Context, hashOrID string, role model.Role) (*model.Identity, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role %q", role)
	}
	return s.mutate(ctx, hashOrID, func(i *model.Identity) {
		i.Role = role
	})
}

// AddPenalty shifts the penalty by delta, clamped at zero, and applies the
// same shift to the current difficulty so it bites on the next message.
func (s *Service) AddPenalty(ctx context.Context, hashOrID string, delta float64) (*model.Identity, error) {
	return s.mutate(ctx, hashOrID, func(i *model.Identity) {
		next := math.Max(i.DifficultyPenalty+delta, 0)
		applied := next - i.DifficultyPenalty
		i.DifficultyPenalty = next
		i.Difficulty = math.Max(i.Difficulty+applied, 0)
	})
}

func (s *Service) ResetPenalty(ctx context.Context, hashOrID string) (*model.Identity, error) {
	return s.mutate(ctx, hashOrID, func(i *model.Identity) {
		i.Difficulty = math.Max(i.Difficulty-i.DifficultyPenalty, 0)
		i.DifficultyPenalty = 0
	})
}

// ResetDifficulty zeroes the organic difficulty and clears message history.
// The penalty survives and is reapplied.
func (s *Service) ResetDifficulty(ctx context.Context, hashOrID string) (*model.Identity, error) {
	return s.mutate(ctx, hashOrID, func(i *model.Identity) {
		i.History = nil
		i.Difficulty = i.DifficultyPenalty
		i.CanSend = true
	})
}

// Package registry binds physical channel endpoints to relay categories.
package registry

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/JushBJJ/Wormhole/common"
	"github.com/JushBJJ/Wormhole/internal/model"
	"github.com/JushBJJ/Wormhole/internal/store"
)

var (
	// ErrAlreadyJoined is returned by Join when the endpoint already belongs to a category.
	ErrAlreadyJoined = errors.New("channel already belongs to a category")
	// ErrUnknownCategory is returned by Join when the category is neither declared nor populated.
	ErrUnknownCategory = errors.New("unknown category")
	ErrNotJoined       = errors.New("channel is not in a category")
)

type Registry struct {
	channels   store.ChannelStore
	categories store.CategoryStore
}

func New(channels store.ChannelStore, categories store.CategoryStore) *Registry {
	return &Registry{channels: channels, categories: categories}
}

// CategoryExists reports whether name is declared or has at least one member.
func (r *Registry) CategoryExists(ctx context.Context, name string) (bool, error) {
	declared, err := r.categories.Exists(ctx, name)
	if err != nil || declared {
		return declared, err
	}
	counts, err := r.channels.CountByCategory(ctx)
	if err != nil {
		return false, err
	}
	return counts[name] > 0, nil
}

// Join binds endpoint to category. The endpoint must leave its current
// category first; a failed join leaves the registry untouched.
func (r *Registry) Join(ctx context.Context, endpoint model.Endpoint, category, spaceID string) error {
	name, err := common.NormalizeName(category)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnknownCategory, err)
	}

	exists, err := r.CategoryExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return ErrUnknownCategory
	}

	err = r.channels.Create(ctx, &model.Channel{
		Endpoint:  endpoint,
		SpaceID:   spaceID,
		Category:  name,
		CreatedAt: time.Now().UTC(),
	})
	if errors.Is(err, store.ErrAlreadyExists) {
		return ErrAlreadyJoined
	}
	if err != nil {
		return fmt.Errorf("binding channel: %w", err)
	}

	slog.InfoContext(ctx, "channel joined category", "channel", endpoint.String(), "category", name)
	return nil
}

// Leave unbinds endpoint and returns the category it belonged to.
func (r *Registry) Leave(ctx context.Context, endpoint model.Endpoint) (string, error) {
	ch, err := r.channels.Get(ctx, endpoint)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrNotJoined
	}
	if err != nil {
		return "", err
	}
	if _, err := r.channels.Delete(ctx, endpoint); err != nil {
		return "", err
	}
	slog.InfoContext(ctx, "channel left category", "channel", endpoint.String(), "category", ch.Category)
	return ch.Category, nil
}

// Remove unbinds endpoint if bound. Calling it again is a no-op.
func (r *Registry) Remove(ctx context.Context, endpoint model.Endpoint) (bool, error) {
	removed, err := r.channels.Delete(ctx, endpoint)
	if err != nil {
		return false, fmt.Errorf("removing channel: %w", err)
	}
	if removed {
		slog.WarnContext(ctx, "channel removed from registry", "channel", endpoint.String())
	}
	return removed, nil
}

func (r *Registry) MembersOf(ctx context.Context, category string) ([]model.Channel, error) {
	return r.channels.ListByCategory(ctx, category)
}

// Channel returns the binding for endpoint, or store.ErrNotFound.
func (r *Registry) Channel(ctx context.Context, endpoint model.Endpoint) (*model.Channel, error) {
	return r.channels.Get(ctx, endpoint)
}

// CategoryOf returns the endpoint's category and false when it has none.
func (r *Registry) CategoryOf(ctx context.Context, endpoint model.Endpoint) (string, bool, error) {
	ch, err := r.channels.Get(ctx, endpoint)
	if errors.Is(err, store.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return ch.Category, true, nil
}

func (r *Registry) SetOptions(ctx context.Context, endpoint model.Endpoint, opts model.ChannelOptions) error {
	err := r.channels.UpdateOptions(ctx, endpoint, opts)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotJoined
	}
	return err
}

// Declare allows name as a category even with zero members.
func (r *Registry) Declare(ctx context.Context, category string) (string, bool, error) {
	name, err := common.NormalizeName(category)
	if err != nil {
		return "", false, err
	}
	created, err := r.categories.Declare(ctx, name)
	return name, created, err
}

// Undeclare drops the declaration and unbinds every member.
func (r *Registry) Undeclare(ctx context.Context, category string) (int, error) {
	members, err := r.channels.ListByCategory(ctx, category)
	if err != nil {
		return 0, err
	}
	for _, m := range members {
		if _, err := r.channels.Delete(ctx, m.Endpoint); err != nil {
			return 0, err
		}
	}
	if _, err := r.categories.Remove(ctx, category); err != nil {
		return 0, err
	}
	return len(members), nil
}

// Summaries lists every existing category with its member count, sorted by name.
func (r *Registry) Summaries(ctx context.Context) ([]model.CategorySummary, error) {
	declared, err := r.categories.List(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := r.channels.CountByCategory(ctx)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]*model.CategorySummary)
	for _, c := range declared {
		byName[c.Name] = &model.CategorySummary{Name: c.Name, Declared: true}
	}
	for name, n := range counts {
		s, ok := byName[name]
		if !ok {
			s = &model.CategorySummary{Name: name}
			byName[name] = s
		}
		s.Members = n
	}

	out := make([]model.CategorySummary, 0, len(byName))
	for _, s := range byName {
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b model.CategorySummary) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return out, nil
}

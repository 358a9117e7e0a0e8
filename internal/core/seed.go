package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/JushBJJ/Wormhole/core/config"
	"github.com/JushBJJ/Wormhole/internal/model"
)

// ApplySeed declares categories, promotes admins and loads ban entries.
// Every step is idempotent.
func (c *Core) ApplySeed(ctx context.Context, seed config.Seed) error {
	for _, name := range seed.Categories {
		if _, _, err := c.Registry.Declare(ctx, name); err != nil {
			return fmt.Errorf("declaring category %q: %w", name, err)
		}
	}

	for _, id := range seed.Admins {
		if _, err := c.Identities.Resolve(ctx, id); err != nil {
			return fmt.Errorf("resolving admin %q: %w", id, err)
		}
		if _, err := c.Identities.SetRole(ctx, id, model.RoleAdmin); err != nil {
			return fmt.Errorf("promoting admin %q: %w", id, err)
		}
	}

	for _, word := range seed.BannedWords {
		if _, err := c.bans.Add(ctx, model.BanKindWord, strings.ToLower(word)); err != nil {
			return fmt.Errorf("adding banned word: %w", err)
		}
	}
	for _, space := range seed.BannedSpaces {
		if _, err := c.bans.Add(ctx, model.BanKindSpace, space); err != nil {
			return fmt.Errorf("adding banned space %q: %w", space, err)
		}
	}

	slog.InfoContext(ctx, "seed applied",
		"categories", len(seed.Categories),
		"admins", len(seed.Admins),
		"banned_words", len(seed.BannedWords),
		"banned_spaces", len(seed.BannedSpaces))
	return nil
}

package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Seed is the optional bootstrap file applied at start. Every entry is
// idempotent, so the same file can be applied on each restart.
//
//	categories = ["general", "wormhole"]
//	admins = ["telegram:123456"]
//	banned_words = ["spamword"]
//	banned_spaces = ["guild-42"]
type Seed struct {
	Categories   []string `toml:"categories"`
	Admins       []string `toml:"admins"`
	BannedWords  []string `toml:"banned_words"`
	BannedSpaces []string `toml:"banned_spaces"`
}

// LoadSeed reads a TOML seed file. An empty path yields an empty seed.
func LoadSeed(path string) (Seed, error) {
	var seed Seed
	if path == "" {
		return seed, nil
	}
	if _, err := toml.DecodeFile(path, &seed); err != nil {
		return Seed{}, fmt.Errorf("decoding seed file %s: %w", path, err)
	}
	return seed, nil
}

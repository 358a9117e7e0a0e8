package common

import (
	"errors"
	"regexp"
	"strings"
)

const MaxNameLen = 32

var (
	ErrEmptyName   = errors.New("name cannot be empty")
	ErrNameTooLong = errors.New("name is too long")
	nonNameChars   = regexp.MustCompile(`[^a-z0-9_]+`)
)

// NormalizeName folds a user-supplied category name into its canonical form:
// lower case, runs of other characters collapsed to a single hyphen.
func NormalizeName(input string) (string, error) {
	lower := strings.ToLower(strings.TrimSpace(input))
	name := strings.Trim(nonNameChars.ReplaceAllString(lower, "-"), "-")
	if name == "" {
		return "", ErrEmptyName
	}
	if len(name) > MaxNameLen {
		return "", ErrNameTooLong
	}
	return name, nil
}

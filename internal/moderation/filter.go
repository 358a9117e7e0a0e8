// Package moderation holds the best-effort content checks applied before relay.
package moderation

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/JushBJJ/Wormhole/internal/model"
)

// WordSource lists banned words.
type WordSource interface {
	List(ctx context.Context, kind model.BanKind) ([]model.Ban, error)
}

// Filter matches banned words case-insensitively on word boundaries.
type Filter struct {
	words WordSource

	mu       sync.Mutex
	patterns map[string]*regexp.Regexp
}

func NewFilter(words WordSource) *Filter {
	return &Filter{words: words, patterns: make(map[string]*regexp.Regexp)}
}

// Match returns the first banned word found in content.
func (f *Filter) Match(ctx context.Context, content string) (string, bool, error) {
	bans, err := f.words.List(ctx, model.BanKindWord)
	if err != nil {
		return "", false, fmt.Errorf("listing banned words: %w", err)
	}
	for _, b := range bans {
		if f.pattern(b.Value).MatchString(content) {
			return b.Value, true, nil
		}
	}
	return "", false, nil
}

func (f *Filter) pattern(word string) *regexp.Regexp {
	f.mu.Lock()
	defer f.mu.Unlock()
	if re, ok := f.patterns[word]; ok {
		return re
	}
	// RE2's \b is ASCII-only; bound on any Unicode letter or digit instead.
	re := regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}_])` + regexp.QuoteMeta(word) + `(?:$|[^\p{L}\p{N}_])`)
	f.patterns[word] = re
	return re
}

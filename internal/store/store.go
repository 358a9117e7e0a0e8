package store

import (
	"slices"
	"strings"

	"github.com/JushBJJ/Wormhole/internal/model"
)

// PickByHashPrefix returns the identity whose hash starts with prefix,
// preferring the shortest hash and then the lexicographically smallest one.
// Both drivers route prefix lookups through here so ambiguity is resolved
// the same way regardless of backend ordering.
func PickByHashPrefix(prefix string, candidates []*model.Identity) *model.Identity {
	var best *model.Identity
	for _, c := range candidates {
		if c == nil || !strings.HasPrefix(c.Hash, prefix) {
			continue
		}
		if best == nil || len(c.Hash) < len(best.Hash) ||
			(len(c.Hash) == len(best.Hash) && c.Hash < best.Hash) {
			best = c
		}
	}
	return best
}

// MergeRecord folds incoming into current, the stored record with the same
// content hash. Permalinks of incoming that the merge would otherwise drop
// are kept as aliases so replies to a repeat copy still resolve.
func MergeRecord(current, incoming *model.MessageRecord) model.MessageRecord {
	merged := *current
	merged.DeliveredLinks = MergeLinks(current.DeliveredLinks, incoming.DeliveredLinks)
	if merged.SourcePermalink == "" {
		merged.SourcePermalink = incoming.SourcePermalink
	}
	merged.Aliases = slices.Clone(current.Aliases)
	known := merged.Permalinks()
	for _, link := range incoming.Permalinks() {
		if link != "" && !slices.Contains(known, link) {
			merged.Aliases = append(merged.Aliases, link)
			known = append(known, link)
		}
	}
	return merged
}

// MergeLinks appends incoming links whose endpoint is not yet present,
// keeping the first permalink recorded per destination.
func MergeLinks(existing, incoming []model.DeliveredLink) []model.DeliveredLink {
	out := append([]model.DeliveredLink(nil), existing...)
	for _, l := range incoming {
		found := false
		for _, e := range out {
			if e.Endpoint == l.Endpoint {
				found = true
				break
			}
		}
		if !found {
			out = append(out, l)
		}
	}
	return out
}

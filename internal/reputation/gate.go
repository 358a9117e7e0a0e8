// Package reputation is the proof-of-work admission gate.
package reputation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/JushBJJ/Wormhole/common/logger"
	"github.com/JushBJJ/Wormhole/internal/model"
)

type Reason string

const (
	ReasonNone        Reason = ""
	ReasonBanned      Reason = "banned"
	ReasonProofOfWork Reason = "proof_of_work"
)

// noticeThreshold is the difficulty at which users are told the puzzle now applies.
const noticeThreshold = 2.0

type Verdict struct {
	Admitted   bool
	Reason     Reason
	Digest     string
	Difficulty float64
	// Notice is set when difficulty crossed from below 2 to 2 or more.
	Notice bool
}

// BanLookup is the part of the ban set the gate consults.
type BanLookup interface {
	Contains(ctx context.Context, kind model.BanKind, value string) (bool, error)
}

// IdentitySaver persists the mutated identity after each attempt.
type IdentitySaver interface {
	Save(ctx context.Context, identity *model.Identity) error
}

type Gate struct {
	bans       BanLookup
	identities IdentitySaver
	now        func() time.Time
}

func NewGate(bans BanLookup, identities IdentitySaver) *Gate {
	return &Gate{
		bans:       bans,
		identities: identities,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source; used by tests.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// Check runs one attempt for identity, mutating and persisting it. Callers
// must hold the identity's lock.
func (g *Gate) Check(ctx context.Context, identity *model.Identity, content string) (Verdict, error) {
	return g.attempt(ctx, identity, content, true)
}

// Verify runs the same attempt as Check but leaves the message history
// alone. Commands and other traffic that is never relayed go through here.
func (g *Gate) Verify(ctx context.Context, identity *model.Identity, content string) (Verdict, error) {
	return g.attempt(ctx, identity, content, false)
}

func (g *Gate) attempt(ctx context.Context, identity *model.Identity, content string, record bool) (Verdict, error) {
	sc := logger.StartSpan(ctx, "reputation.check")
	defer sc.End()
	ctx = sc.Context()

	banned, err := g.bans.Contains(ctx, model.BanKindIdentity, identity.Hash)
	if err != nil {
		sc.RecordError(err)
		return Verdict{}, fmt.Errorf("checking ban set: %w", err)
	}
	if banned {
		return Verdict{Reason: ReasonBanned, Difficulty: identity.Difficulty}, nil
	}

	digest, passed := Challenge(content, identity.Nonce, identity.Hash, identity.Difficulty)
	identity.Nonce++

	before := identity.Difficulty
	now := g.now()
	verdict := Verdict{Digest: digest}

	if !passed && identity.Difficulty > 1 {
		identity.CanSend = false
		g.recompute(identity, now)
		verdict.Reason = ReasonProofOfWork
	} else {
		identity.CanSend = true
		g.recompute(identity, now)
		if record {
			identity.History = append(identity.History, model.HistoryEntry{At: now, ContentHash: digest})
		}
		verdict.Admitted = true
	}

	verdict.Difficulty = identity.Difficulty
	verdict.Notice = before < noticeThreshold && identity.Difficulty >= noticeThreshold

	sc.SetAttributes(
		attribute.Bool("admitted", verdict.Admitted),
		attribute.Float64("difficulty", verdict.Difficulty),
	)

	if err := g.identities.Save(ctx, identity); err != nil {
		sc.RecordError(err)
		return Verdict{}, err
	}

	if !verdict.Admitted {
		slog.InfoContext(ctx, "proof of work failed",
			"identity_hash", identity.ShortHash(),
			"nonce", identity.Nonce,
			"difficulty", identity.Difficulty)
	}
	return verdict, nil
}

func (g *Gate) recompute(identity *model.Identity, now time.Time) {
	identity.History = PruneHistory(identity.History, now)
	s, m, l := CountWindows(identity.History, now)
	identity.Difficulty = Difficulty(s, m, l, now.Sub(identity.CreatedAt), identity.DifficultyPenalty)
}

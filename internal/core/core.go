// Package core is the relay's context object. It is built once at start,
// owns every component, and is the single entry point bridges feed.
package core

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JushBJJ/Wormhole/common/logger"
	"github.com/JushBJJ/Wormhole/core/config"
	"github.com/JushBJJ/Wormhole/internal/bridge"
	"github.com/JushBJJ/Wormhole/internal/command"
	"github.com/JushBJJ/Wormhole/internal/identity"
	"github.com/JushBJJ/Wormhole/internal/metrics"
	"github.com/JushBJJ/Wormhole/internal/model"
	"github.com/JushBJJ/Wormhole/internal/moderation"
	"github.com/JushBJJ/Wormhole/internal/registry"
	"github.com/JushBJJ/Wormhole/internal/relay"
	"github.com/JushBJJ/Wormhole/internal/reputation"
	"github.com/JushBJJ/Wormhole/internal/store"
)

// Reason says why an inbound message was not relayed.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonBanned          Reason = "banned"
	ReasonSpaceBanned     Reason = "space_banned"
	ReasonContentFiltered Reason = "content_filtered"
	ReasonProofOfWork     Reason = "proof_of_work"
	ReasonCommand         Reason = "command"
	ReasonUnbound         Reason = "unbound"
)

const (
	policyDeniedText = "Your message could not be relayed."
	commandPoWText   = "You need to solve the proof-of-work puzzle before sending messages or using commands."
	ackEmoji         = "✅"
)

// Outcome is the full result of handling one inbound message.
type Outcome struct {
	Admitted bool
	Reason   Reason
	Relay    relay.Result
	// Reply is the text sent back to the source channel, if any.
	Reply string
}

type Options struct {
	Stores    store.Provider
	Router    *bridge.Router
	Publisher relay.Publisher
	Suggester command.Suggester
	Version   string
}

type Core struct {
	Identities *identity.Service
	Gate       *reputation.Gate
	Registry   *registry.Registry
	Relay      *relay.Engine
	Commands   *command.Dispatcher
	Filter     *moderation.Filter

	bans          store.BanStore
	router        *bridge.Router
	filterPenalty float64
}

var _ bridge.InboundHandler = (*Core)(nil)

func New(cfg config.Config, opts Options) *Core {
	stores := opts.Stores
	ids := identity.New(stores.Identities(), cfg.IdentitySalt)
	reg := registry.New(stores.Channels(), stores.Categories())

	engine := relay.New(reg, stores.Messages(), opts.Router, relay.Config{
		HeaderWindow:    cfg.Relay.HeaderWindow,
		DeliveryTimeout: cfg.Relay.DeliveryTimeout,
		DeliveryRate:    cfg.Relay.DeliveryRate,
		DeliveryBurst:   cfg.Relay.DeliveryBurst,
	})
	if opts.Publisher != nil {
		engine.WithPublisher(opts.Publisher)
	}

	table := command.Commands(command.Deps{
		Identities: ids,
		Registry:   reg,
		Bans:       stores.Bans(),
		Relay:      engine,
		Prefix:     cfg.CommandPrefix,
		Version:    opts.Version,
	})
	dispatcher := command.NewDispatcher(table, cfg.CommandPrefix)
	if opts.Suggester != nil {
		dispatcher.WithSuggester(opts.Suggester, ids, stores.Bans())
	}

	return &Core{
		Identities:    ids,
		Gate:          reputation.NewGate(stores.Bans(), ids),
		Registry:      reg,
		Relay:         engine,
		Commands:      dispatcher,
		Filter:        moderation.NewFilter(stores.Bans()),
		bans:          stores.Bans(),
		router:        opts.Router,
		filterPenalty: cfg.Moderation.FilterPenalty,
	}
}

// OnInboundMessage reports whether msg was admitted for relay.
func (c *Core) OnInboundMessage(ctx context.Context, msg model.InboundMessage) (bool, error) {
	out, err := c.Handle(ctx, msg)
	return out.Admitted, err
}

// Handle runs msg through bans, commands, the channel binding, the content
// filter, the gate and the relay, in that order.
func (c *Core) Handle(ctx context.Context, msg model.InboundMessage) (Outcome, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Platform: logger.Ptr(msg.Channel.Platform),
		Channel:  logger.Ptr(msg.Channel.String()),
	})

	out, err := c.handle(ctx, msg)
	outcome := "admitted"
	switch {
	case err != nil:
		outcome = "error"
	case !out.Admitted:
		outcome = string(out.Reason)
	}
	metrics.InboundMessages.WithLabelValues(msg.Channel.Platform, outcome).Inc()
	return out, err
}

func (c *Core) handle(ctx context.Context, msg model.InboundMessage) (Outcome, error) {
	nativeID := identity.QualifiedID(msg.Channel.Platform, msg.PlatformUserID)
	hash := c.Identities.HashOf(nativeID)
	ctx = logger.WithLogFields(ctx, logger.LogFields{IdentityHash: logger.Ptr(model.ShortHash(hash))})

	if reason, err := c.checkBans(ctx, hash, msg.SpaceID); err != nil || reason != ReasonNone {
		if err != nil {
			return Outcome{}, err
		}
		metrics.GateVerdicts.WithLabelValues(string(reason)).Inc()
		return c.deny(ctx, msg, reason, policyDeniedText), nil
	}

	if c.Commands.IsCommand(msg.Content) {
		return c.runCommand(ctx, nativeID, msg)
	}

	// Traffic in unbound channels stays local: no history, no replies.
	if _, bound, err := c.Registry.CategoryOf(ctx, msg.Channel); err != nil {
		return Outcome{}, fmt.Errorf("resolving channel binding: %w", err)
	} else if !bound {
		return Outcome{Reason: ReasonUnbound}, nil
	}

	if word, hit, err := c.Filter.Match(ctx, msg.Content); err != nil {
		return Outcome{}, err
	} else if hit {
		return c.filtered(ctx, nativeID, msg, word)
	}

	author, verdict, err := c.admit(ctx, nativeID, msg)
	if err != nil {
		return Outcome{}, err
	}
	metrics.GateVerdicts.WithLabelValues(verdictLabel(verdict)).Inc()

	if verdict.Notice {
		c.feedback(ctx, msg, fmt.Sprintf(
			"Heads up: your message rate raised your proof-of-work difficulty to %.2f. Slow down to bring it back.",
			verdict.Difficulty))
	}
	if !verdict.Admitted {
		if verdict.Reason == reputation.ReasonBanned {
			return c.deny(ctx, msg, ReasonBanned, policyDeniedText), nil
		}
		return c.deny(ctx, msg, ReasonProofOfWork, fmt.Sprintf(
			"Proof of work failed (difficulty %.2f). Send the message again to retry.", verdict.Difficulty)), nil
	}

	result, err := c.Relay.Relay(ctx, relay.Message{
		Source:          msg.Channel,
		SourcePermalink: msg.SourcePermalink,
		Author:          author,
		DisplayName:     msg.DisplayName,
		Content:         msg.Content,
		Attachments:     msg.Attachments,
		Embeds:          msg.Embeds,
		ReplyRef:        msg.ReplyRef,
	})
	if err != nil {
		return Outcome{Admitted: true, Relay: result}, fmt.Errorf("relaying message: %w", err)
	}

	if result.Category != "" {
		c.acknowledge(ctx, msg)
	}
	return Outcome{Admitted: true, Relay: result}, nil
}

func verdictLabel(v reputation.Verdict) string {
	if v.Admitted {
		return "admitted"
	}
	return string(v.Reason)
}

func (c *Core) checkBans(ctx context.Context, hash, spaceID string) (Reason, error) {
	banned, err := c.bans.Contains(ctx, model.BanKindIdentity, hash)
	if err != nil {
		return ReasonNone, fmt.Errorf("checking identity ban: %w", err)
	}
	if banned {
		return ReasonBanned, nil
	}
	if spaceID == "" {
		return ReasonNone, nil
	}
	banned, err = c.bans.Contains(ctx, model.BanKindSpace, spaceID)
	if err != nil {
		return ReasonNone, fmt.Errorf("checking space ban: %w", err)
	}
	if banned {
		return ReasonSpaceBanned, nil
	}
	return ReasonNone, nil
}

// resolve loads the author and records the observed profile. Callers hold
// the identity lock.
func (c *Core) resolve(ctx context.Context, nativeID string, msg model.InboundMessage) (*model.Identity, error) {
	author, err := c.Identities.Resolve(ctx, nativeID)
	if err != nil {
		return nil, err
	}
	if err := c.Identities.RecordProfile(ctx, author, msg.DisplayName, msg.AvatarRef); err != nil {
		return nil, err
	}
	return author, nil
}

// admit runs the gate with the author's lock held and returns a snapshot
// safe to use after the lock is released.
func (c *Core) admit(ctx context.Context, nativeID string, msg model.InboundMessage) (*model.Identity, reputation.Verdict, error) {
	unlock := c.Identities.Lock(nativeID)
	defer unlock()

	author, err := c.resolve(ctx, nativeID, msg)
	if err != nil {
		return nil, reputation.Verdict{}, err
	}
	verdict, err := c.Gate.Check(ctx, author, msg.Content)
	if err != nil {
		return nil, reputation.Verdict{}, fmt.Errorf("running gate: %w", err)
	}
	return author.Clone(), verdict, nil
}

// runCommand puts the caller through the gate, then releases the lock before
// dispatch so commands may mutate any identity, the caller's included.
func (c *Core) runCommand(ctx context.Context, nativeID string, msg model.InboundMessage) (Outcome, error) {
	unlock := c.Identities.Lock(nativeID)
	caller, err := c.resolve(ctx, nativeID, msg)
	if err != nil {
		unlock()
		return Outcome{}, err
	}
	verdict, err := c.Gate.Verify(ctx, caller, msg.Content)
	unlock()
	if err != nil {
		return Outcome{}, fmt.Errorf("running gate: %w", err)
	}
	if !verdict.Admitted {
		metrics.GateVerdicts.WithLabelValues(verdictLabel(verdict)).Inc()
		if verdict.Reason == reputation.ReasonBanned {
			return c.deny(ctx, msg, ReasonBanned, policyDeniedText), nil
		}
		return c.deny(ctx, msg, ReasonProofOfWork, commandPoWText), nil
	}

	reply, err := c.Commands.Dispatch(ctx, command.Invocation{
		Caller:  caller,
		Channel: msg.Channel,
		SpaceID: msg.SpaceID,
	}, msg.Content)
	if err != nil {
		slog.InfoContext(ctx, "command failed", "error", err)
		reply = c.Commands.Reply(err)
	}
	if reply != "" {
		c.feedback(ctx, msg, reply)
	}
	return Outcome{Reason: ReasonCommand, Reply: reply}, nil
}

func (c *Core) filtered(ctx context.Context, nativeID string, msg model.InboundMessage, word string) (Outcome, error) {
	unlock := c.Identities.Lock(nativeID)
	_, err := c.resolve(ctx, nativeID, msg)
	unlock()
	if err != nil {
		return Outcome{}, err
	}

	if c.filterPenalty > 0 {
		if _, err := c.Identities.AddPenalty(ctx, nativeID, c.filterPenalty); err != nil {
			return Outcome{}, fmt.Errorf("applying filter penalty: %w", err)
		}
	}
	slog.InfoContext(ctx, "message blocked by content filter", "word", word)
	metrics.GateVerdicts.WithLabelValues(string(ReasonContentFiltered)).Inc()
	return c.deny(ctx, msg, ReasonContentFiltered, policyDeniedText), nil
}

func (c *Core) deny(ctx context.Context, msg model.InboundMessage, reason Reason, text string) Outcome {
	slog.InfoContext(ctx, "message not relayed", "reason", reason)
	c.feedback(ctx, msg, text)
	return Outcome{Reason: reason, Reply: text}
}

// feedback replies to the sender in the source channel as the bot.
func (c *Core) feedback(ctx context.Context, msg model.InboundMessage, text string) {
	if c.router == nil {
		return
	}
	_, err := c.router.Deliver(ctx, bridge.Delivery{
		Endpoint:     msg.Channel,
		Content:      text,
		ThreadTarget: msg.SourcePermalink,
	})
	if err != nil {
		slog.WarnContext(ctx, "failed to send feedback", "error", err)
	}
}

// acknowledge reacts to the source message when its channel asked for it.
func (c *Core) acknowledge(ctx context.Context, msg model.InboundMessage) {
	if c.router == nil || msg.SourcePermalink == "" {
		return
	}
	ch, err := c.Registry.Channel(ctx, msg.Channel)
	if err != nil || !ch.Options.React {
		return
	}
	if err := c.router.React(ctx, msg.Channel, msg.SourcePermalink, ackEmoji); err != nil {
		slog.WarnContext(ctx, "failed to acknowledge message", "error", err)
	}
}

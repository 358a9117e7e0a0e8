// Package bus carries relay envelopes between bridges over Redis pub/sub.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JushBJJ/Wormhole/common/id"
	"github.com/JushBJJ/Wormhole/common/logger"
	"github.com/JushBJJ/Wormhole/internal/model"
)

// ErrTransportUnavailable wraps every failure to reach Redis.
var ErrTransportUnavailable = errors.New("bus transport unavailable")

type Config struct {
	Topic      string        // pub/sub channel shared by all bridges
	BridgeName string        // stamped on published envelopes; own envelopes are skipped
	DedupeTTL  time.Duration // how long a seen envelope id is remembered
	RetryDelay time.Duration // pause before resubscribing after a dropped connection
}

// Handler receives envelopes published by other bridges.
type Handler interface {
	OnEnvelope(ctx context.Context, env model.Envelope) error
}

type Redis struct {
	client *redis.Client
	cfg    Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewRedis(client *redis.Client, cfg Config) *Redis {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = 10 * time.Minute
	}
	return &Redis{
		client:    client,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Publish stamps env with a fresh id and this bridge's name and sends it.
func (b *Redis) Publish(ctx context.Context, env model.Envelope) (model.Envelope, error) {
	if env.ID == "" {
		env.ID = id.NewString()
	}
	env.FromBridge = b.cfg.BridgeName

	payload, err := json.Marshal(env)
	if err != nil {
		return env, fmt.Errorf("encoding envelope: %w", err)
	}
	if err := b.client.Publish(ctx, b.cfg.Topic, payload).Err(); err != nil {
		return env, fmt.Errorf("%w: publish: %w", ErrTransportUnavailable, err)
	}

	slog.DebugContext(ctx, "envelope published",
		"envelope_id", env.ID,
		"category", env.Category,
		"topic", b.cfg.Topic)
	return env, nil
}

// Run subscribes to the topic and hands foreign envelopes to handler,
// resubscribing whenever the connection drops. It returns when ctx is
// cancelled or Stop is called.
func (b *Redis) Run(ctx context.Context, handler Handler) error {
	defer close(b.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "wormhole.bus"})
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-b.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	slog.InfoContext(ctx, "bus subscriber started", "topic", b.cfg.Topic, "bridge", b.cfg.BridgeName)

	for {
		err := b.subscribe(ctx, handler)
		if ctx.Err() != nil {
			slog.InfoContext(ctx, "bus subscriber stopped")
			return nil
		}
		slog.WarnContext(ctx, "bus connection lost, resubscribing",
			"error", err,
			"retry_in", b.cfg.RetryDelay)

		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "bus subscriber stopped")
			return nil
		case <-time.After(b.cfg.RetryDelay):
		}
	}
}

func (b *Redis) Stop() {
	select {
	case <-b.stopCh:
	default:
		close(b.stopCh)
	}
	<-b.stoppedCh
}

// subscribe holds one subscription until it fails.
func (b *Redis) subscribe(ctx context.Context, handler Handler) error {
	sub := b.client.Subscribe(ctx, b.cfg.Topic)
	defer sub.Close()
	// ReceiveMessage ignores cancellation; closing the subscription unblocks it.
	release := context.AfterFunc(ctx, func() { _ = sub.Close() })
	defer release()

	// Receive blocks until the server confirms the subscription.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("%w: subscribe: %w", ErrTransportUnavailable, err)
	}

	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			return fmt.Errorf("%w: receive: %w", ErrTransportUnavailable, err)
		}
		b.handle(ctx, handler, msg.Payload)
	}
}

func (b *Redis) handle(ctx context.Context, handler Handler, payload string) {
	var env model.Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		slog.WarnContext(ctx, "dropping malformed envelope", "error", err)
		return
	}
	if env.FromBridge == b.cfg.BridgeName {
		return
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		EnvelopeID: logger.Ptr(env.ID),
		Category:   logger.Ptr(env.Category),
	})

	if env.ID != "" {
		fresh, err := b.markSeen(ctx, env.ID)
		if err != nil {
			slog.WarnContext(ctx, "envelope dedupe unavailable, delivering anyway", "error", err)
		} else if !fresh {
			slog.DebugContext(ctx, "dropping duplicate envelope")
			return
		}
	}

	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in envelope handler", "panic", r)
		}
	}()
	if err := handler.OnEnvelope(ctx, env); err != nil {
		slog.ErrorContext(ctx, "envelope handling failed", "error", err, "from_bridge", env.FromBridge)
	}
}

// markSeen records id and reports whether it was new.
func (b *Redis) markSeen(ctx context.Context, envelopeID string) (bool, error) {
	key := "wormhole:bus:seen:" + b.cfg.BridgeName + ":" + envelopeID
	return b.client.SetNX(ctx, key, 1, b.cfg.DedupeTTL).Result()
}

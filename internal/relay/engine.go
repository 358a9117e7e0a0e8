// Package relay fans admitted messages out to every other channel of their
// category.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/JushBJJ/Wormhole/common/logger"
	"github.com/JushBJJ/Wormhole/common/ratelimit"
	"github.com/JushBJJ/Wormhole/internal/bridge"
	"github.com/JushBJJ/Wormhole/internal/metrics"
	"github.com/JushBJJ/Wormhole/internal/model"
	"github.com/JushBJJ/Wormhole/internal/store"
)

// ErrDraining is returned once shutdown has begun.
var ErrDraining = errors.New("relay is draining")

// Registry is the membership view the engine needs.
type Registry interface {
	CategoryOf(ctx context.Context, endpoint model.Endpoint) (string, bool, error)
	MembersOf(ctx context.Context, category string) ([]model.Channel, error)
	Remove(ctx context.Context, endpoint model.Endpoint) (bool, error)
}

// Deliverer posts one copy. *bridge.Router satisfies it.
type Deliverer interface {
	Deliver(ctx context.Context, d bridge.Delivery) (string, error)
}

// Publisher hands locally sourced messages to the bus.
type Publisher interface {
	Publish(ctx context.Context, env model.Envelope) (model.Envelope, error)
}

type Config struct {
	HeaderWindow    time.Duration
	DeliveryTimeout time.Duration
	DeliveryRate    float64
	DeliveryBurst   int
}

// Message is an admitted message ready for fan-out.
type Message struct {
	Source          model.Endpoint
	SourcePermalink string
	Author          *model.Identity
	// DisplayName is the name the message was sent under. Empty falls back
	// to the author's last observed name.
	DisplayName string
	Content     string
	Attachments []string
	Embeds      []model.Embed
	ReplyRef    string
}

func (m Message) displayName() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.Author.DisplayName()
}

// Result summarises one fan-out.
type Result struct {
	Category  string
	Record    *model.MessageRecord
	Delivered int
	Failed    int
	Skipped   int
	Removed   []model.Endpoint
}

type outcome struct {
	endpoint  model.Endpoint
	permalink string
	err       error
}

type headerMark struct {
	author string
	at     time.Time
}

type Engine struct {
	registry  Registry
	messages  store.MessageStore
	out       Deliverer
	publisher Publisher
	cfg       Config
	pacing    *ratelimit.Pool
	now       func() time.Time

	headerMu sync.Mutex
	headers  map[string]headerMark

	drainMu  sync.Mutex
	draining bool
	inflight sync.WaitGroup
}

func New(registry Registry, messages store.MessageStore, out Deliverer, cfg Config) *Engine {
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 15 * time.Second
	}
	return &Engine{
		registry: registry,
		messages: messages,
		out:      out,
		cfg:      cfg,
		pacing:   ratelimit.NewPool(cfg.DeliveryRate, cfg.DeliveryBurst),
		now:      time.Now,
		headers:  make(map[string]headerMark),
	}
}

// WithPublisher enables republishing local messages on the bus.
func (e *Engine) WithPublisher(p Publisher) *Engine {
	e.publisher = p
	return e
}

func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// begin registers an in-flight fan-out unless shutdown has started.
func (e *Engine) begin() bool {
	e.drainMu.Lock()
	defer e.drainMu.Unlock()
	if e.draining {
		return false
	}
	e.inflight.Add(1)
	return true
}

// Drain refuses new fan-outs and waits up to timeout for running ones.
// It reports whether everything finished in time.
func (e *Engine) Drain(timeout time.Duration) bool {
	e.drainMu.Lock()
	e.draining = true
	e.drainMu.Unlock()

	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Relay delivers msg to every other member of its source channel's category.
// A source without a category is a no-op with an empty Result.
func (e *Engine) Relay(ctx context.Context, msg Message) (Result, error) {
	if !e.begin() {
		return Result{}, ErrDraining
	}
	defer e.inflight.Done()

	// In-flight fan-outs finish even when the caller goes away.
	ctx = context.WithoutCancel(ctx)

	category, ok, err := e.registry.CategoryOf(ctx, msg.Source)
	if err != nil {
		return Result{}, fmt.Errorf("resolving category: %w", err)
	}
	if !ok {
		return Result{}, nil
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Category:     logger.Ptr(category),
		Channel:      logger.Ptr(msg.Source.String()),
		IdentityHash: logger.Ptr(msg.Author.ShortHash()),
	})
	sc := logger.StartSpan(ctx, "relay.fan_out")
	defer sc.End()
	ctx = sc.Context()
	sc.SetAttributes(attribute.String("wormhole.category", category))

	members, err := e.registry.MembersOf(ctx, category)
	if err != nil {
		sc.RecordError(err)
		return Result{}, fmt.Errorf("listing members: %w", err)
	}

	attr := &bridge.Attribution{
		DisplayName: msg.displayName(),
		ShortHash:   msg.Author.ShortHash(),
		AvatarRef:   msg.Author.AvatarRef,
	}
	withHeader := e.claimHeader(category, msg.Author.Hash)

	var parent *model.MessageRecord
	if msg.ReplyRef != "" {
		parent = e.lookupParent(ctx, msg.ReplyRef)
	}

	var targets []model.Channel
	skipped := 0
	for _, m := range members {
		if m.Endpoint == msg.Source {
			continue
		}
		if m.Options.IsMuted(msg.Author.Hash) {
			skipped++
			continue
		}
		targets = append(targets, m)
	}

	outcomes := e.fanOut(ctx, targets, func(dst model.Channel) bridge.Delivery {
		d := bridge.Delivery{
			Endpoint:    dst.Endpoint,
			Attribution: attr,
			Content:     msg.Content,
			Attachments: msg.Attachments,
			Embeds:      msg.Embeds,
			Impersonate: true,
		}
		if parent != nil {
			d.ThreadTarget = threadTarget(parent, dst.Endpoint)
		}
		return d
	}, withHeader)

	result := e.settle(ctx, category, outcomes)
	result.Skipped = skipped

	record := &model.MessageRecord{
		ContentHash:     model.ContentHash(msg.Content, msg.Author.Hash, msg.Source),
		AuthorHash:      msg.Author.Hash,
		Source:          msg.Source,
		SourcePermalink: msg.SourcePermalink,
		Category:        category,
		DeliveredLinks:  delivered(outcomes),
		CreatedAt:       e.now().UTC(),
	}
	if err := e.messages.Save(ctx, record); err != nil {
		sc.RecordError(err)
		return result, fmt.Errorf("saving message record: %w", err)
	}
	result.Record = record

	if e.publisher != nil {
		e.publish(ctx, category, attr, msg)
	}

	slog.InfoContext(ctx, "message relayed",
		"delivered", result.Delivered,
		"failed", result.Failed,
		"skipped", result.Skipped,
		"removed", len(result.Removed),
		"threaded", parent != nil)
	return result, nil
}

// OnEnvelope relays a message published by another bridge. The envelope
// text already carries attribution and is never republished.
func (e *Engine) OnEnvelope(ctx context.Context, env model.Envelope) error {
	_, err := e.RelayEnvelope(ctx, env)
	return err
}

func (e *Engine) RelayEnvelope(ctx context.Context, env model.Envelope) (Result, error) {
	if !e.begin() {
		return Result{}, ErrDraining
	}
	defer e.inflight.Done()
	ctx = context.WithoutCancel(ctx)

	metrics.BusEnvelopes.WithLabelValues("received").Inc()

	sc := logger.StartSpan(ctx, "relay.envelope")
	defer sc.End()
	ctx = sc.Context()

	members, err := e.registry.MembersOf(ctx, env.Category)
	if err != nil {
		sc.RecordError(err)
		return Result{}, fmt.Errorf("listing members: %w", err)
	}
	if len(members) == 0 {
		return Result{Category: env.Category}, nil
	}

	// A foreign message breaks any run of collapsed headers.
	e.markHeader(env.Category, "bus:"+env.FromBridge)

	var embeds []model.Embed
	if env.HasEmbed() {
		var embed model.Embed
		if err := json.Unmarshal(env.Embed, &embed); err != nil {
			slog.WarnContext(ctx, "ignoring malformed envelope embed", "error", err)
		} else {
			embeds = append(embeds, embed)
		}
	}

	outcomes := e.fanOut(ctx, members, func(dst model.Channel) bridge.Delivery {
		return bridge.Delivery{Endpoint: dst.Endpoint, Content: env.Message, Embeds: embeds}
	}, false)
	result := e.settle(ctx, env.Category, outcomes)

	record := &model.MessageRecord{
		ContentHash:    model.ContentHash(env.Message, env.FromBridge, busEndpoint(env)),
		Source:         busEndpoint(env),
		Category:       env.Category,
		DeliveredLinks: delivered(outcomes),
		CreatedAt:      e.now().UTC(),
	}
	if err := e.messages.Save(ctx, record); err != nil {
		sc.RecordError(err)
		return result, fmt.Errorf("saving message record: %w", err)
	}
	result.Record = record

	slog.InfoContext(ctx, "envelope relayed",
		"envelope_id", env.ID,
		"from_bridge", env.FromBridge,
		"category", env.Category,
		"delivered", result.Delivered,
		"failed", result.Failed)
	return result, nil
}

// Broadcast sends text as the bot to every member of category, the source
// included, with no header and no record.
func (e *Engine) Broadcast(ctx context.Context, category, text string) (Result, error) {
	if !e.begin() {
		return Result{}, ErrDraining
	}
	defer e.inflight.Done()
	ctx = context.WithoutCancel(ctx)

	members, err := e.registry.MembersOf(ctx, category)
	if err != nil {
		return Result{}, fmt.Errorf("listing members: %w", err)
	}
	outcomes := e.fanOut(ctx, members, func(dst model.Channel) bridge.Delivery {
		return bridge.Delivery{Endpoint: dst.Endpoint, Content: text}
	}, false)
	return e.settle(ctx, category, outcomes), nil
}

func busEndpoint(env model.Envelope) model.Endpoint {
	return model.Endpoint{Platform: "bus", ChannelID: env.FromBridge + "/" + env.Category}
}

// claimHeader decides whether this message needs an attribution header and
// records it as the latest header-bearing message when it does. The check
// and update happen under one lock.
func (e *Engine) claimHeader(category, author string) bool {
	e.headerMu.Lock()
	defer e.headerMu.Unlock()

	now := e.now()
	last, ok := e.headers[category]
	if ok && last.author == author && now.Sub(last.at) <= e.cfg.HeaderWindow {
		return false
	}
	e.headers[category] = headerMark{author: author, at: now}
	return true
}

func (e *Engine) markHeader(category, author string) {
	e.headerMu.Lock()
	defer e.headerMu.Unlock()
	e.headers[category] = headerMark{author: author, at: e.now()}
}

func (e *Engine) lookupParent(ctx context.Context, replyRef string) *model.MessageRecord {
	parent, err := e.messages.GetByPermalink(ctx, replyRef)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.WarnContext(ctx, "reply lookup failed, delivering unthreaded", "error", err)
		}
		return nil
	}
	return parent
}

// threadTarget finds the copy of parent that lives in dst.
func threadTarget(parent *model.MessageRecord, dst model.Endpoint) string {
	if link, ok := parent.LinkFor(dst); ok {
		return link
	}
	if parent.Source == dst {
		return parent.SourcePermalink
	}
	return ""
}

// fanOut delivers to every target concurrently and waits for all of them.
// One failing destination never cancels its siblings.
func (e *Engine) fanOut(ctx context.Context, targets []model.Channel, build func(model.Channel) bridge.Delivery, withHeader bool) []outcome {
	start := time.Now()
	defer func() { metrics.FanOutDuration.Observe(time.Since(start).Seconds()) }()

	outcomes := make([]outcome, len(targets))
	var wg sync.WaitGroup
	for i, dst := range targets {
		wg.Add(1)
		go func(i int, dst model.Channel) {
			defer wg.Done()
			d := build(dst)
			link, err := e.deliverOne(ctx, d, withHeader)
			outcomes[i] = outcome{endpoint: dst.Endpoint, permalink: link, err: err}
		}(i, dst)
	}
	wg.Wait()
	return outcomes
}

// deliverOne paces, delivers, and falls back to a bot-authored copy when the
// destination refuses impersonation.
func (e *Engine) deliverOne(ctx context.Context, d bridge.Delivery, withHeader bool) (link string, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in delivery",
				"channel", d.Endpoint.String(),
				"panic", r)
			err = fmt.Errorf("delivery panic: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.DeliveryTimeout)
	defer cancel()

	if err := e.pacing.Wait(ctx, d.Endpoint.String()); err != nil {
		return "", fmt.Errorf("waiting for delivery slot: %w", err)
	}

	if d.Impersonate {
		link, err = e.out.Deliver(ctx, d)
		if !errors.Is(err, bridge.ErrImpersonationForbidden) {
			return link, err
		}
		metrics.Deliveries.WithLabelValues(d.Endpoint.Platform, "impersonation_fallback").Inc()
		d.Impersonate = false
	}
	if !withHeader {
		d.Attribution = nil
	}
	return e.out.Deliver(ctx, d)
}

// settle classifies outcomes and unsubscribes destinations that refused
// permission. Registry mutation happens only after all I/O is done.
func (e *Engine) settle(ctx context.Context, category string, outcomes []outcome) Result {
	result := Result{Category: category}
	var denied []model.Endpoint

	for _, o := range outcomes {
		switch {
		case o.err == nil:
			result.Delivered++
			metrics.Deliveries.WithLabelValues(o.endpoint.Platform, "ok").Inc()
		case errors.Is(o.err, bridge.ErrPermissionDenied):
			result.Failed++
			denied = append(denied, o.endpoint)
			metrics.Deliveries.WithLabelValues(o.endpoint.Platform, "permission_denied").Inc()
			slog.WarnContext(ctx, "delivery permission denied",
				"destination", o.endpoint.String(),
				"error", o.err)
		default:
			result.Failed++
			metrics.Deliveries.WithLabelValues(o.endpoint.Platform, "transient").Inc()
			slog.WarnContext(ctx, "delivery failed",
				"destination", o.endpoint.String(),
				"error", o.err)
		}
	}

	for _, ep := range denied {
		removed, err := e.registry.Remove(ctx, ep)
		if err != nil {
			slog.ErrorContext(ctx, "failed to remove unreachable channel",
				"destination", ep.String(),
				"error", err)
			continue
		}
		if removed {
			result.Removed = append(result.Removed, ep)
			metrics.ChannelsRemoved.Inc()
		}
	}
	return result
}

func delivered(outcomes []outcome) []model.DeliveredLink {
	var links []model.DeliveredLink
	for _, o := range outcomes {
		if o.err == nil && o.permalink != "" {
			links = append(links, model.DeliveredLink{Endpoint: o.endpoint, Permalink: o.permalink})
		}
	}
	return links
}

// publish hands a sanitized copy to the bus. Failure never affects the
// local fan-out.
func (e *Engine) publish(ctx context.Context, category string, attr *bridge.Attribution, msg Message) {
	text := bridge.Delivery{
		Attribution: attr,
		Content:     msg.Content,
		Attachments: msg.Attachments,
	}.Body()

	env := model.Envelope{Message: text, Category: category}
	if len(msg.Embeds) > 0 {
		raw, err := json.Marshal(msg.Embeds[0])
		if err == nil {
			env.Embed = raw
		}
	}

	sent, err := e.publisher.Publish(ctx, env)
	if err != nil {
		metrics.BusEnvelopes.WithLabelValues("failed").Inc()
		slog.WarnContext(ctx, "bus publish failed", "error", err)
		return
	}
	metrics.BusEnvelopes.WithLabelValues("published").Inc()
	slog.DebugContext(ctx, "message published to bus", "envelope_id", sent.ID)
}

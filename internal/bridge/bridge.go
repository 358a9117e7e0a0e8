// Package bridge is the delivery boundary between the relay and chat platforms.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JushBJJ/Wormhole/internal/model"
)

var (
	// ErrPermissionDenied means the bot can no longer post to the endpoint.
	ErrPermissionDenied = errors.New("delivery permission denied")
	// ErrImpersonationForbidden means the platform refused an author-attributed
	// delivery; the caller retries as the bot with the attribution in the body.
	ErrImpersonationForbidden = errors.New("impersonation forbidden")
	ErrNoDeliverer            = errors.New("no deliverer for platform")
)

// Attribution is the public face of an author. It never carries a native id.
type Attribution struct {
	DisplayName string
	ShortHash   string
	AvatarRef   string
}

// Header is the attribution line prepended to bodies sent as the bot.
func (a Attribution) Header() string {
	return fmt.Sprintf("%s (%s)", a.DisplayName, a.ShortHash)
}

type Delivery struct {
	Endpoint model.Endpoint
	// Attribution is nil when the header was collapsed or the text already
	// carries it.
	Attribution *Attribution
	Content     string
	Attachments []string
	Embeds      []model.Embed
	// ThreadTarget is the destination-local permalink to reply to.
	ThreadTarget string
	// Impersonate asks the deliverer to post under the author's identity.
	Impersonate bool
}

// Body renders the text a platform without rich embeds should send.
func (d Delivery) Body() string {
	var parts []string
	if d.Attribution != nil && !d.Impersonate {
		parts = append(parts, d.Attribution.Header())
	}
	if d.Content != "" {
		parts = append(parts, d.Content)
	}
	parts = append(parts, d.Attachments...)
	for _, e := range d.Embeds {
		if e.URL != "" {
			parts = append(parts, e.URL)
		}
	}
	return strings.Join(parts, "\n")
}

type Deliverer interface {
	Platform() string
	// Deliver posts d and returns the permalink of the new message.
	Deliver(ctx context.Context, d Delivery) (string, error)
}

// Reactor is implemented by deliverers that can acknowledge a source message.
type Reactor interface {
	React(ctx context.Context, endpoint model.Endpoint, permalink, emoji string) error
}

// Router dispatches deliveries to the deliverer registered for each platform.
type Router struct {
	deliverers map[string]Deliverer
}

func NewRouter(deliverers ...Deliverer) *Router {
	r := &Router{deliverers: make(map[string]Deliverer)}
	for _, d := range deliverers {
		r.Register(d)
	}
	return r
}

func (r *Router) Register(d Deliverer) {
	r.deliverers[d.Platform()] = d
}

func (r *Router) Platforms() []string {
	out := make([]string, 0, len(r.deliverers))
	for p := range r.deliverers {
		out = append(out, p)
	}
	return out
}

func (r *Router) Deliver(ctx context.Context, d Delivery) (string, error) {
	deliverer, ok := r.deliverers[d.Endpoint.Platform]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoDeliverer, d.Endpoint.Platform)
	}
	return deliverer.Deliver(ctx, d)
}

// React acknowledges a message when the endpoint's deliverer supports it.
func (r *Router) React(ctx context.Context, endpoint model.Endpoint, permalink, emoji string) error {
	deliverer, ok := r.deliverers[endpoint.Platform]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoDeliverer, endpoint.Platform)
	}
	reactor, ok := deliverer.(Reactor)
	if !ok {
		return nil
	}
	return reactor.React(ctx, endpoint, permalink, emoji)
}

// InboundHandler is the core entry point bridges feed. It reports whether
// the message was admitted for relay.
type InboundHandler interface {
	OnInboundMessage(ctx context.Context, msg model.InboundMessage) (bool, error)
}

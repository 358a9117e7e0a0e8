package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JushBJJ/Wormhole/internal/identity"
	"github.com/JushBJJ/Wormhole/internal/model"
	"github.com/JushBJJ/Wormhole/internal/registry"
	"github.com/JushBJJ/Wormhole/internal/relay"
	"github.com/JushBJJ/Wormhole/internal/reputation"
)

type Identities interface {
	Lookup(ctx context.Context, hashOrID string) (*model.Identity, error)
	Count(ctx context.Context) (int, error)
	SetRole(ctx context.Context, hashOrID string, role model.Role) (*model.Identity, error)
	AddPenalty(ctx context.Context, hashOrID string, delta float64) (*model.Identity, error)
	ResetPenalty(ctx context.Context, hashOrID string) (*model.Identity, error)
	ResetDifficulty(ctx context.Context, hashOrID string) (*model.Identity, error)
}

type Registry interface {
	Join(ctx context.Context, endpoint model.Endpoint, category, spaceID string) error
	Leave(ctx context.Context, endpoint model.Endpoint) (string, error)
	Channel(ctx context.Context, endpoint model.Endpoint) (*model.Channel, error)
	SetOptions(ctx context.Context, endpoint model.Endpoint, opts model.ChannelOptions) error
	Declare(ctx context.Context, category string) (string, bool, error)
	Undeclare(ctx context.Context, category string) (int, error)
	Summaries(ctx context.Context) ([]model.CategorySummary, error)
}

type Bans interface {
	Add(ctx context.Context, kind model.BanKind, value string) (bool, error)
	Remove(ctx context.Context, kind model.BanKind, value string) (bool, error)
	List(ctx context.Context, kind model.BanKind) ([]model.Ban, error)
}

type Broadcaster interface {
	Broadcast(ctx context.Context, category, text string) (relay.Result, error)
}

type Deps struct {
	Identities Identities
	Registry   Registry
	Bans       Bans
	Relay      Broadcaster
	Prefix     string
	Version    string
}

// Commands builds the full command table over deps.
func Commands(deps Deps) *Table {
	h := &handlers{Deps: deps}
	t := NewTable()
	h.table = t

	who := Param{Name: "who"}

	// general
	t.Register(Spec{Name: "ping", Scope: ScopeGeneral, Description: "Check that the relay is alive", Run: h.ping})
	t.Register(Spec{Name: "help", Scope: ScopeGeneral, Description: "List commands or describe one", Params: []Param{{Name: "command", Optional: true}}, Run: h.help})
	t.Register(Spec{Name: "info", Scope: ScopeGeneral, Description: "Show relay statistics", Run: h.info})
	t.Register(Spec{Name: "privacy", Scope: ScopeGeneral, Description: "Show what the relay stores", Run: h.privacy})
	t.Register(Spec{Name: "pow", Scope: ScopeGeneral, Description: "Show your proof-of-work status", Run: h.pow})
	t.Register(Spec{Name: "whois", Scope: ScopeGeneral, Description: "Look up a user by hash prefix", Params: []Param{who}, Run: h.whois})

	// relay
	t.Register(Spec{Name: "categories", Scope: ScopeRelay, Description: "List categories and member counts", Run: h.categories})
	t.Register(Spec{Name: "join", Scope: ScopeRelay, Description: "Relay this channel into a category", Params: []Param{{Name: "category"}}, Run: h.join})
	t.Register(Spec{Name: "leave", Scope: ScopeRelay, Description: "Stop relaying this channel", Run: h.leave})
	t.Register(Spec{Name: "react", Scope: ScopeRelay, Description: "Acknowledge relayed messages with a reaction", Params: []Param{{Name: "state", Kind: KindSwitch}}, Run: h.react})
	t.Register(Spec{Name: "mute", Scope: ScopeRelay, Description: "Stop receiving a user's messages in this channel", Params: []Param{who}, Run: h.mute})
	t.Register(Spec{Name: "unmute", Scope: ScopeRelay, Description: "Receive a muted user's messages again", Params: []Param{who}, Run: h.unmute})

	// admin
	admin := func(s Spec) {
		s.Scope = ScopeAdmin
		s.AdminOnly = true
		t.Register(s)
	}
	admin(Spec{Name: "webhook", Description: "Set or clear this channel's delivery webhook", Params: []Param{{Name: "url"}}, Run: h.webhook})
	admin(Spec{Name: "add_category", Description: "Declare a category", Params: []Param{{Name: "name"}}, Run: h.addCategory})
	admin(Spec{Name: "remove_category", Description: "Remove a category and unbind its channels", Params: []Param{{Name: "name"}}, Run: h.removeCategory})
	admin(Spec{Name: "ban", Description: "Ban a user", Params: []Param{who}, Run: h.ban})
	admin(Spec{Name: "unban", Description: "Lift a user ban", Params: []Param{who}, Run: h.unban})
	admin(Spec{Name: "ban_space", Description: "Ban a server or group", Params: []Param{{Name: "space"}}, Run: h.banSpace})
	admin(Spec{Name: "unban_space", Description: "Lift a server or group ban", Params: []Param{{Name: "space"}}, Run: h.unbanSpace})
	admin(Spec{Name: "promote", Description: "Grant the admin role", Params: []Param{who}, Run: h.promote})
	admin(Spec{Name: "demote", Description: "Revoke the admin role", Params: []Param{who}, Run: h.demote})
	admin(Spec{Name: "penalty", Description: "Add to a user's difficulty penalty", Params: []Param{who, {Name: "delta", Kind: KindFloat}}, Run: h.penalty})
	admin(Spec{Name: "reset_penalty", Description: "Clear a user's penalty", Params: []Param{who}, Run: h.resetPenalty})
	admin(Spec{Name: "reset_difficulty", Description: "Clear a user's organic difficulty and history", Params: []Param{who}, Run: h.resetDifficulty})
	admin(Spec{Name: "broadcast", Description: "Send an announcement to every channel of a category", Params: []Param{{Name: "category"}, {Name: "text", Kind: KindRest}}, Run: h.broadcast})
	admin(Spec{Name: "add_word", Description: "Ban a word", Params: []Param{{Name: "word"}}, Run: h.addWord})
	admin(Spec{Name: "remove_word", Description: "Unban a word", Params: []Param{{Name: "word"}}, Run: h.removeWord})
	admin(Spec{Name: "words", Description: "List banned words", Run: h.words})

	return t
}

type handlers struct {
	Deps
	table *Table
}

func (h *handlers) ping(context.Context, Invocation) (string, error) {
	return "Pong!", nil
}

func (h *handlers) help(_ context.Context, inv Invocation) (string, error) {
	admin := inv.Caller.IsAdmin()
	if inv.Args.Has("command") {
		spec, ok := h.table.Lookup(inv.Args.String("command"))
		if !ok || (spec.AdminOnly && !admin) {
			return "", fmt.Errorf("%w: %s", ErrUnknownCommand, inv.Args.String("command"))
		}
		return fmt.Sprintf("%s%s: %s", h.Prefix, spec.Usage(), spec.Description), nil
	}

	var b strings.Builder
	for _, scope := range []Scope{ScopeGeneral, ScopeRelay, ScopeAdmin} {
		var lines []string
		for _, spec := range h.table.Specs() {
			if spec.Scope != scope || (spec.AdminOnly && !admin) {
				continue
			}
			lines = append(lines, fmt.Sprintf("  %s%s: %s", h.Prefix, spec.Usage(), spec.Description))
		}
		if len(lines) == 0 {
			continue
		}
		fmt.Fprintf(&b, "%s:\n%s\n", scope, strings.Join(lines, "\n"))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (h *handlers) info(ctx context.Context, _ Invocation) (string, error) {
	users, err := h.Identities.Count(ctx)
	if err != nil {
		return "", err
	}
	summaries, err := h.Registry.Summaries(ctx)
	if err != nil {
		return "", err
	}
	channels := 0
	for _, s := range summaries {
		channels += s.Members
	}
	return fmt.Sprintf("Wormhole %s\nusers: %d\ncategories: %d\nchannels: %d",
		h.Version, users, len(summaries), channels), nil
}

func (h *handlers) privacy(context.Context, Invocation) (string, error) {
	return "Stored: a salted hash of your user id, your display names and avatar, " +
		"your reputation counters, relayed channel ids, and links to relayed copies.\n" +
		"Not stored: message text, server names, channel names.", nil
}

func (h *handlers) pow(_ context.Context, inv Invocation) (string, error) {
	c := inv.Caller
	return fmt.Sprintf("hash: %s\ndifficulty: %.3f (%d leading zeros)\npenalty: %.2f\nnonce: %d\ncan send: %t",
		c.ShortHash(), c.Difficulty, reputation.RequiredZeros(c.Difficulty), c.DifficultyPenalty, c.Nonce, c.CanSend), nil
}

// whois by native id is limited to admins and the user themself.
func (h *handlers) whois(ctx context.Context, inv Invocation) (string, error) {
	target := inv.Args.String("who")
	if strings.Contains(target, ":") && !inv.Caller.IsAdmin() && target != inv.Caller.ID {
		return "", ErrAdminRequired
	}
	i, err := h.lookup(ctx, target)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s\nnames: %s\nrole: %s\ndifficulty: %.3f",
		i.ShortHash(), strings.Join(i.Names, ", "), i.Role, i.Difficulty), nil
}

func (h *handlers) categories(ctx context.Context, _ Invocation) (string, error) {
	summaries, err := h.Registry.Summaries(ctx)
	if err != nil {
		return "", err
	}
	if len(summaries) == 0 {
		return "No categories yet.", nil
	}
	lines := make([]string, len(summaries))
	for i, s := range summaries {
		lines[i] = fmt.Sprintf("%s (%d)", s.Name, s.Members)
	}
	return "Categories:\n" + strings.Join(lines, "\n"), nil
}

func (h *handlers) join(ctx context.Context, inv Invocation) (string, error) {
	category := inv.Args.String("category")
	err := h.Registry.Join(ctx, inv.Channel, category, inv.SpaceID)
	switch {
	case errors.Is(err, registry.ErrAlreadyJoined):
		return "This channel is already in a category. Leave it first.", nil
	case errors.Is(err, registry.ErrUnknownCategory):
		return fmt.Sprintf("Unknown category %q. See %scategories.", category, h.Prefix), nil
	case err != nil:
		return "", err
	}
	return fmt.Sprintf("Connected to %s.", strings.ToLower(category)), nil
}

func (h *handlers) leave(ctx context.Context, inv Invocation) (string, error) {
	prev, err := h.Registry.Leave(ctx, inv.Channel)
	if errors.Is(err, registry.ErrNotJoined) {
		return "This channel is not in a category.", nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Left %s.", prev), nil
}

// updateOptions applies fn to the channel's options.
func (h *handlers) updateOptions(ctx context.Context, endpoint model.Endpoint, fn func(*model.ChannelOptions)) error {
	ch, err := h.Registry.Channel(ctx, endpoint)
	if err != nil {
		return registry.ErrNotJoined
	}
	opts := ch.Options
	fn(&opts)
	return h.Registry.SetOptions(ctx, endpoint, opts)
}

func (h *handlers) optionReply(err error, ok string) (string, error) {
	if errors.Is(err, registry.ErrNotJoined) {
		return "This channel is not in a category.", nil
	}
	if err != nil {
		return "", err
	}
	return ok, nil
}

func (h *handlers) react(ctx context.Context, inv Invocation) (string, error) {
	on := inv.Args.Switch("state")
	err := h.updateOptions(ctx, inv.Channel, func(o *model.ChannelOptions) { o.React = on })
	if on {
		return h.optionReply(err, "Reactions on.")
	}
	return h.optionReply(err, "Reactions off.")
}

func (h *handlers) mute(ctx context.Context, inv Invocation) (string, error) {
	target, err := h.lookup(ctx, inv.Args.String("who"))
	if err != nil {
		return "", err
	}
	err = h.updateOptions(ctx, inv.Channel, func(o *model.ChannelOptions) {
		if !o.IsMuted(target.Hash) {
			o.MutedUsers = append(o.MutedUsers, target.Hash)
		}
	})
	return h.optionReply(err, fmt.Sprintf("Muted %s here.", target.ShortHash()))
}

func (h *handlers) unmute(ctx context.Context, inv Invocation) (string, error) {
	target, err := h.lookup(ctx, inv.Args.String("who"))
	if err != nil {
		return "", err
	}
	err = h.updateOptions(ctx, inv.Channel, func(o *model.ChannelOptions) {
		kept := o.MutedUsers[:0]
		for _, m := range o.MutedUsers {
			if m != target.Hash {
				kept = append(kept, m)
			}
		}
		o.MutedUsers = kept
	})
	return h.optionReply(err, fmt.Sprintf("Unmuted %s here.", target.ShortHash()))
}

func (h *handlers) webhook(ctx context.Context, inv Invocation) (string, error) {
	url := inv.Args.String("url")
	if strings.EqualFold(url, "off") {
		url = ""
	} else if !strings.HasPrefix(url, "https://") {
		return "", fmt.Errorf("%w: webhook url must start with https://", ErrBadArguments)
	}
	err := h.updateOptions(ctx, inv.Channel, func(o *model.ChannelOptions) { o.WebhookURL = url })
	if url == "" {
		return h.optionReply(err, "Webhook cleared.")
	}
	return h.optionReply(err, "Webhook set.")
}

func (h *handlers) addCategory(ctx context.Context, inv Invocation) (string, error) {
	name, created, err := h.Registry.Declare(ctx, inv.Args.String("name"))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrBadArguments, err)
	}
	if !created {
		return fmt.Sprintf("Category %s already exists.", name), nil
	}
	return fmt.Sprintf("Category %s added.", name), nil
}

func (h *handlers) removeCategory(ctx context.Context, inv Invocation) (string, error) {
	name := strings.ToLower(inv.Args.String("name"))
	n, err := h.Registry.Undeclare(ctx, name)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Category %s removed; %d channel(s) unbound.", name, n), nil
}

func (h *handlers) ban(ctx context.Context, inv Invocation) (string, error) {
	target, err := h.lookup(ctx, inv.Args.String("who"))
	if err != nil {
		return "", err
	}
	if target.Hash == inv.Caller.Hash {
		return "", fmt.Errorf("%w: refusing to ban yourself", ErrBadArguments)
	}
	added, err := h.Bans.Add(ctx, model.BanKindIdentity, target.Hash)
	if err != nil {
		return "", err
	}
	if !added {
		return fmt.Sprintf("%s is already banned.", target.ShortHash()), nil
	}
	return fmt.Sprintf("Banned %s.", target.ShortHash()), nil
}

func (h *handlers) unban(ctx context.Context, inv Invocation) (string, error) {
	target, err := h.lookup(ctx, inv.Args.String("who"))
	if err != nil {
		return "", err
	}
	removed, err := h.Bans.Remove(ctx, model.BanKindIdentity, target.Hash)
	if err != nil {
		return "", err
	}
	if !removed {
		return fmt.Sprintf("%s was not banned.", target.ShortHash()), nil
	}
	return fmt.Sprintf("Unbanned %s.", target.ShortHash()), nil
}

func (h *handlers) banSpace(ctx context.Context, inv Invocation) (string, error) {
	space := inv.Args.String("space")
	if _, err := h.Bans.Add(ctx, model.BanKindSpace, space); err != nil {
		return "", err
	}
	return fmt.Sprintf("Banned space %s.", space), nil
}

func (h *handlers) unbanSpace(ctx context.Context, inv Invocation) (string, error) {
	space := inv.Args.String("space")
	removed, err := h.Bans.Remove(ctx, model.BanKindSpace, space)
	if err != nil {
		return "", err
	}
	if !removed {
		return fmt.Sprintf("Space %s was not banned.", space), nil
	}
	return fmt.Sprintf("Unbanned space %s.", space), nil
}

func (h *handlers) promote(ctx context.Context, inv Invocation) (string, error) {
	i, err := h.Identities.SetRole(ctx, inv.Args.String("who"), model.RoleAdmin)
	if err != nil {
		return "", h.notFound(err, inv.Args.String("who"))
	}
	return fmt.Sprintf("%s is now an admin.", i.ShortHash()), nil
}

func (h *handlers) demote(ctx context.Context, inv Invocation) (string, error) {
	i, err := h.Identities.SetRole(ctx, inv.Args.String("who"), model.RoleUser)
	if err != nil {
		return "", h.notFound(err, inv.Args.String("who"))
	}
	return fmt.Sprintf("%s is no longer an admin.", i.ShortHash()), nil
}

func (h *handlers) penalty(ctx context.Context, inv Invocation) (string, error) {
	i, err := h.Identities.AddPenalty(ctx, inv.Args.String("who"), inv.Args.Float("delta"))
	if err != nil {
		return "", h.notFound(err, inv.Args.String("who"))
	}
	return fmt.Sprintf("%s penalty is now %.2f (difficulty %.3f).", i.ShortHash(), i.DifficultyPenalty, i.Difficulty), nil
}

func (h *handlers) resetPenalty(ctx context.Context, inv Invocation) (string, error) {
	i, err := h.Identities.ResetPenalty(ctx, inv.Args.String("who"))
	if err != nil {
		return "", h.notFound(err, inv.Args.String("who"))
	}
	return fmt.Sprintf("%s penalty cleared (difficulty %.3f).", i.ShortHash(), i.Difficulty), nil
}

func (h *handlers) resetDifficulty(ctx context.Context, inv Invocation) (string, error) {
	i, err := h.Identities.ResetDifficulty(ctx, inv.Args.String("who"))
	if err != nil {
		return "", h.notFound(err, inv.Args.String("who"))
	}
	return fmt.Sprintf("%s difficulty reset to %.3f.", i.ShortHash(), i.Difficulty), nil
}

func (h *handlers) broadcast(ctx context.Context, inv Invocation) (string, error) {
	category := strings.ToLower(inv.Args.String("category"))
	text := fmt.Sprintf("📢 BROADCAST by %s (%s)\n%s", inv.Caller.DisplayName(), inv.Caller.ShortHash(), inv.Args.String("text"))
	result, err := h.Relay.Broadcast(ctx, category, text)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Broadcast to %d channel(s) in %s.", result.Delivered, category), nil
}

func (h *handlers) addWord(ctx context.Context, inv Invocation) (string, error) {
	word := strings.ToLower(inv.Args.String("word"))
	if _, err := h.Bans.Add(ctx, model.BanKindWord, word); err != nil {
		return "", err
	}
	return fmt.Sprintf("Banned word %q.", word), nil
}

func (h *handlers) removeWord(ctx context.Context, inv Invocation) (string, error) {
	word := strings.ToLower(inv.Args.String("word"))
	removed, err := h.Bans.Remove(ctx, model.BanKindWord, word)
	if err != nil {
		return "", err
	}
	if !removed {
		return fmt.Sprintf("%q was not banned.", word), nil
	}
	return fmt.Sprintf("Unbanned word %q.", word), nil
}

func (h *handlers) words(ctx context.Context, _ Invocation) (string, error) {
	bans, err := h.Bans.List(ctx, model.BanKindWord)
	if err != nil {
		return "", err
	}
	if len(bans) == 0 {
		return "No banned words.", nil
	}
	ws := make([]string, len(bans))
	for i, b := range bans {
		ws[i] = b.Value
	}
	return "Banned words: " + strings.Join(ws, ", "), nil
}

func (h *handlers) lookup(ctx context.Context, who string) (*model.Identity, error) {
	i, err := h.Identities.Lookup(ctx, who)
	if err != nil {
		return nil, h.notFound(err, who)
	}
	return i, nil
}

func (h *handlers) notFound(err error, who string) error {
	if errors.Is(err, identity.ErrNotFound) {
		return fmt.Errorf("%w: no user matches %q", ErrBadArguments, who)
	}
	return err
}

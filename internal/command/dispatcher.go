package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/JushBJJ/Wormhole/internal/model"
	"github.com/JushBJJ/Wormhole/internal/moderation"
)

// Penalizer applies moderation outcomes to the author of a suggestion request.
type Penalizer interface {
	AddPenalty(ctx context.Context, hashOrID string, delta float64) (*model.Identity, error)
}

type Dispatcher struct {
	table     *Table
	prefix    string
	suggester Suggester
	penalties Penalizer
	bans      Bans
}

func NewDispatcher(table *Table, prefix string) *Dispatcher {
	return &Dispatcher{table: table, prefix: prefix}
}

// WithSuggester enables fuzzy matching of unknown commands. The signal that
// comes back with each suggestion is enforced through penalties and bans.
func (d *Dispatcher) WithSuggester(s Suggester, penalties Penalizer, bans Bans) *Dispatcher {
	d.suggester = s
	d.penalties = penalties
	d.bans = bans
	return d
}

func (d *Dispatcher) Prefix() string {
	return d.prefix
}

func (d *Dispatcher) IsCommand(text string) bool {
	_, _, ok := Parse(d.prefix, text)
	return ok
}

// Dispatch runs text as a command for inv.Caller and returns the reply.
func (d *Dispatcher) Dispatch(ctx context.Context, inv Invocation, text string) (string, error) {
	name, raw, ok := Parse(d.prefix, text)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, text)
	}

	spec, ok := d.table.Lookup(name)
	if !ok {
		return d.suggest(ctx, inv, name, text)
	}
	return d.run(ctx, spec, inv, raw)
}

func (d *Dispatcher) run(ctx context.Context, spec *Spec, inv Invocation, raw []string) (string, error) {
	if spec.AdminOnly && !inv.Caller.IsAdmin() {
		return "", ErrAdminRequired
	}
	args, err := spec.Bind(raw)
	if err != nil {
		return "", err
	}
	inv.Args = args

	slog.InfoContext(ctx, "running command",
		"command", spec.Name,
		"identity_hash", inv.Caller.ShortHash())
	return spec.Run(ctx, inv)
}

func (d *Dispatcher) suggest(ctx context.Context, inv Invocation, name, text string) (string, error) {
	unknown := fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	if d.suggester == nil {
		return "", unknown
	}

	visible := d.table.Names(inv.Caller.IsAdmin())
	usages := make([]string, 0, len(visible))
	for _, n := range visible {
		spec, _ := d.table.Lookup(n)
		usages = append(usages, spec.Usage()+": "+spec.Description)
	}

	s, err := d.suggester.Suggest(ctx, text, usages)
	if err != nil {
		slog.WarnContext(ctx, "command suggestion failed", "error", err)
		return "", unknown
	}
	if flagged := d.enforce(ctx, inv.Caller, s.Signal); flagged {
		return "", unknown
	}

	spec, ok := d.table.Lookup(s.Command)
	if !ok || (spec.AdminOnly && !inv.Caller.IsAdmin()) {
		return "", unknown
	}
	if s.Confidence >= autoRunConfidence {
		if _, err := spec.Bind(s.Args); err == nil {
			return d.run(ctx, spec, inv, s.Args)
		}
	}
	return fmt.Sprintf("Unknown command. Did you mean %s%s?", d.prefix, spec.Usage()), nil
}

// enforce applies the moderation signal to a non-admin caller.
// enforce applies the moderation action for sig and reports whether the
// input was flagged. Flagged input is never run or suggested.
func (d *Dispatcher) enforce(ctx context.Context, caller *model.Identity, sig moderation.Signal) bool {
	action := moderation.Decide(sig)
	if action.IsZero() {
		return false
	}
	if caller.IsAdmin() {
		return true
	}
	if action.Ban && d.bans != nil {
		if _, err := d.bans.Add(ctx, model.BanKindIdentity, caller.Hash); err != nil {
			slog.ErrorContext(ctx, "failed to apply moderation ban", "error", err)
			return true
		}
		slog.WarnContext(ctx, "identity banned by moderation signal", "identity_hash", caller.ShortHash())
		return true
	}
	if action.Penalty > 0 && d.penalties != nil {
		if _, err := d.penalties.AddPenalty(ctx, caller.Hash, action.Penalty); err != nil {
			slog.ErrorContext(ctx, "failed to apply moderation penalty", "error", err)
			return true
		}
		slog.InfoContext(ctx, "penalty applied by moderation signal",
			"identity_hash", caller.ShortHash(),
			"penalty", action.Penalty)
	}
	return true
}

// Reply renders a dispatch error for the user.
func (d *Dispatcher) Reply(err error) string {
	switch {
	case errors.Is(err, ErrAdminRequired):
		return "You must be an admin to use this command."
	case errors.Is(err, ErrBadArguments):
		return err.Error()
	case errors.Is(err, ErrUnknownCommand):
		return fmt.Sprintf("Unknown command. Try %shelp.", d.prefix)
	default:
		return "Something went wrong running that command."
	}
}

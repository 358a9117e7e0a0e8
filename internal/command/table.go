// Package command is the chat command surface: a table of typed commands,
// a parser, and a dispatcher that enforces roles.
package command

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/JushBJJ/Wormhole/internal/model"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrAdminRequired  = errors.New("admin role required")
	ErrBadArguments   = errors.New("bad arguments")
)

type Scope string

const (
	ScopeGeneral Scope = "general"
	ScopeRelay   Scope = "relay"
	ScopeAdmin   Scope = "admin"
)

type Kind int

const (
	KindString Kind = iota
	KindFloat
	// KindSwitch accepts on/off.
	KindSwitch
	// KindRest swallows the remaining words; it must be last.
	KindRest
)

type Param struct {
	Name     string
	Kind     Kind
	Optional bool
}

// Invocation is one parsed call.
type Invocation struct {
	Caller  *model.Identity
	Channel model.Endpoint
	SpaceID string
	Args    Args
}

// Handler runs a command and returns the reply for the caller's channel.
type Handler func(ctx context.Context, inv Invocation) (string, error)

type Spec struct {
	Name        string
	Scope       Scope
	Description string
	Params      []Param
	AdminOnly   bool
	Run         Handler
}

// Usage renders the call signature, e.g. "penalty <who> <delta>".
func (s *Spec) Usage() string {
	var b strings.Builder
	b.WriteString(s.Name)
	for _, p := range s.Params {
		if p.Optional {
			fmt.Fprintf(&b, " [%s]", p.Name)
		} else {
			fmt.Fprintf(&b, " <%s>", p.Name)
		}
	}
	return b.String()
}

// Bind checks raw words against the parameter schema.
func (s *Spec) Bind(raw []string) (Args, error) {
	args := Args{values: make(map[string]any)}
	for i, p := range s.Params {
		if p.Kind == KindRest {
			if i >= len(raw) {
				if !p.Optional {
					return args, fmt.Errorf("%w: missing %s; usage: %s", ErrBadArguments, p.Name, s.Usage())
				}
				return args, nil
			}
			args.values[p.Name] = strings.Join(raw[i:], " ")
			return args, nil
		}
		if i >= len(raw) {
			if p.Optional {
				continue
			}
			return args, fmt.Errorf("%w: missing %s; usage: %s", ErrBadArguments, p.Name, s.Usage())
		}
		v, err := convert(p, raw[i])
		if err != nil {
			return args, fmt.Errorf("%w: %s: %w; usage: %s", ErrBadArguments, p.Name, err, s.Usage())
		}
		args.values[p.Name] = v
	}
	if len(raw) > len(s.Params) {
		return args, fmt.Errorf("%w: too many arguments; usage: %s", ErrBadArguments, s.Usage())
	}
	return args, nil
}

func convert(p Param, word string) (any, error) {
	switch p.Kind {
	case KindFloat:
		return strconv.ParseFloat(word, 64)
	case KindSwitch:
		switch strings.ToLower(word) {
		case "on", "true", "yes":
			return true, nil
		case "off", "false", "no":
			return false, nil
		}
		return nil, fmt.Errorf("want on or off, got %q", word)
	default:
		return word, nil
	}
}

// Args holds bound parameter values.
type Args struct {
	values map[string]any
}

func (a Args) Has(name string) bool {
	_, ok := a.values[name]
	return ok
}

func (a Args) String(name string) string {
	s, _ := a.values[name].(string)
	return s
}

func (a Args) Float(name string) float64 {
	f, _ := a.values[name].(float64)
	return f
}

func (a Args) Switch(name string) bool {
	b, _ := a.values[name].(bool)
	return b
}

// Table maps names to commands.
type Table struct {
	specs map[string]*Spec
}

func NewTable() *Table {
	return &Table{specs: make(map[string]*Spec)}
}

func (t *Table) Register(spec Spec) {
	t.specs[spec.Name] = &spec
}

func (t *Table) Lookup(name string) (*Spec, bool) {
	s, ok := t.specs[strings.ToLower(name)]
	return s, ok
}

// Names lists the commands visible to a caller, sorted.
func (t *Table) Names(admin bool) []string {
	out := make([]string, 0, len(t.specs))
	for name, s := range t.specs {
		if s.AdminOnly && !admin {
			continue
		}
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Specs returns every command in name order.
func (t *Table) Specs() []*Spec {
	out := make([]*Spec, 0, len(t.specs))
	for _, s := range t.specs {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b *Spec) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Parse splits "<prefix>name arg..." into the lowercased name and its
// words. ok is false when text is not a command.
func Parse(prefix, text string) (name string, args []string, ok bool) {
	rest, found := strings.CutPrefix(strings.TrimSpace(text), prefix)
	if !found {
		return "", nil, false
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 || strings.HasPrefix(rest, " ") {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

package provider

import (
	"errors"
	"fmt"
	"strings"
)

type OptionType int

const (
	StringOption OptionType = iota
	IntOption
	BoolOption
)

// OptionSpec describes one accepted option: its user-facing name (without
// the leading dashes), coercion type, requiredness, default and help text.
type OptionSpec struct {
	Name     string
	Help     string
	Type     OptionType
	Required bool
	// Default is used when the option is not given. Must match Type
	// (string, int or bool); nil means the type's zero value.
	Default any
}

// CommandSpec describes one invocable command: the hyphenated user-facing
// name, its options and the handler invoked for it. The internal handler
// identifier is derived from Name via HandlerIdent.
type CommandSpec struct {
	Name    string
	Help    string
	Options []OptionSpec
	Handler HandlerFunc
}

// HandlerIdent derives the internal handler identifier from a user-facing
// command name. The mapping is a plain hyphen to underscore transliteration
// so that it stays reversible; Grammar rejects command names containing
// underscores for the same reason.
func HandlerIdent(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}

// Grammar collects one provider's declared options and commands. It is
// handed to Provider.RegisterGrammar and consumed by the command composer.
// Registration mistakes (duplicate names, missing handlers) are collected
// and surfaced through Err so startup can fail loudly.
type Grammar struct {
	provider    string
	credentials string
	globals     []OptionSpec
	commands    []CommandSpec
	idents      map[string]string      // handler ident -> command name
	handlers    map[string]HandlerFunc // handler ident -> handler
	errs        []error
}

func NewGrammar(provider string) *Grammar {
	return &Grammar{
		provider: provider,
		idents:   map[string]string{},
		handlers: map[string]HandlerFunc{},
	}
}

// SetCredentialsHelp sets the long help text explaining how the provider
// resolves its credentials, shown in the provider's help output.
func (g *Grammar) SetCredentialsHelp(text string) {
	g.credentials = text
}

// GlobalOption declares an option accepted by every command of the provider.
func (g *Grammar) GlobalOption(o OptionSpec) {
	if err := g.checkOption(o); err != nil {
		g.fail(err)
		return
	}
	for _, existing := range g.globals {
		if existing.Name == o.Name {
			g.fail(fmt.Errorf("global option %q registered twice", o.Name))
			return
		}
	}
	for _, c := range g.commands {
		for _, existing := range c.Options {
			if existing.Name == o.Name {
				g.fail(fmt.Errorf("global option %q collides with an option of command %q", o.Name, c.Name))
				return
			}
		}
	}
	g.globals = append(g.globals, o)
}

// Command declares one command. The handler must be set and the command
// name must be hyphenated and unique after transliteration.
func (g *Grammar) Command(c CommandSpec) {
	if c.Name == "" {
		g.fail(errors.New("command with empty name"))
		return
	}
	if strings.Contains(c.Name, "_") {
		g.fail(fmt.Errorf("command name %q must use hyphens, not underscores", c.Name))
		return
	}
	if c.Handler == nil {
		g.fail(fmt.Errorf("command %q has no handler", c.Name))
		return
	}
	ident := HandlerIdent(c.Name)
	if other, ok := g.idents[ident]; ok {
		g.fail(fmt.Errorf("commands %q and %q resolve to the same handler identifier %q", other, c.Name, ident))
		return
	}
	seen := map[string]struct{}{}
	for _, o := range c.Options {
		if err := g.checkOption(o); err != nil {
			g.fail(fmt.Errorf("command %q: %w", c.Name, err))
			return
		}
		if _, ok := seen[o.Name]; ok {
			g.fail(fmt.Errorf("command %q: option %q registered twice", c.Name, o.Name))
			return
		}
		for _, global := range g.globals {
			if global.Name == o.Name {
				g.fail(fmt.Errorf("command %q: option %q collides with a global option", c.Name, o.Name))
				return
			}
		}
		seen[o.Name] = struct{}{}
	}
	g.idents[ident] = c.Name
	g.handlers[ident] = c.Handler
	g.commands = append(g.commands, c)
}

// Handler resolves the handler registered for a canonical identifier. The
// dispatcher derives the identifier from the parsed command token and looks
// it up here; a miss means a registration/dispatch mismatch.
func (g *Grammar) Handler(ident string) (HandlerFunc, bool) {
	h, ok := g.handlers[ident]
	return h, ok
}

func (g *Grammar) checkOption(o OptionSpec) error {
	if o.Name == "" {
		return errors.New("option with empty name")
	}
	if o.Default == nil {
		return nil
	}
	var ok bool
	switch o.Type {
	case StringOption:
		_, ok = o.Default.(string)
	case IntOption:
		_, ok = o.Default.(int)
	case BoolOption:
		_, ok = o.Default.(bool)
	}
	if !ok {
		return fmt.Errorf("option %q default %v does not match its declared type", o.Name, o.Default)
	}
	return nil
}

func (g *Grammar) fail(err error) {
	g.errs = append(g.errs, err)
}

func (g *Grammar) Provider() string {
	return g.provider
}

func (g *Grammar) CredentialsHelp() string {
	return g.credentials
}

func (g *Grammar) GlobalOptions() []OptionSpec {
	return g.globals
}

// Commands returns the declared commands in registration order.
func (g *Grammar) Commands() []CommandSpec {
	return g.commands
}

// Err returns all registration errors joined, or nil.
func (g *Grammar) Err() error {
	if len(g.errs) == 0 {
		return nil
	}
	return fmt.Errorf("provider %s: %w", g.provider, errors.Join(g.errs...))
}

package provider

import (
	"context"

	"github.com/pgacloud/pgacloud/pkg/logging"
)

// Provider defines the capability set every cloud provider implementation
// exposes to the dispatcher: a help summary and declarative grammar
// registration. Handlers are attached to the command specs declared during
// registration; the dispatcher never inspects a provider's concrete type.
type Provider interface {
	// Summary returns the one line help shown next to the provider name.
	Summary() string

	// RegisterGrammar declares the provider's global options, commands and
	// per command options on the given builder. It must not retain the
	// builder and must produce the same grammar on every call.
	RegisterGrammar(g *Grammar)
}

// HandlerFunc executes one command. It returns the success payload to be
// serialized as the result envelope, or an error for the error envelope.
// Handlers must not write to stdout; progress goes to the diagnostic log.
type HandlerFunc func(ctx context.Context, args *Args) (map[string]any, error)

// Factory loads one provider candidate.
type Factory func(ctx context.Context, log *logging.Logger) (Provider, error)

// Candidate is one entry of the static provider table scanned at startup.
type Candidate struct {
	Name string
	Load Factory
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/pgacloud/pgacloud/pkg/envelope"
	"github.com/pgacloud/pgacloud/pkg/logging"
	"github.com/pgacloud/pgacloud/pkg/provider"
)

const (
	ExitSuccess      = 0
	ExitHandlerError = 1
	ExitUsageError   = 2
)

// errHandlerFailed marks a run whose failure was already written as the
// error envelope; Run maps it to exit code 1 without further output.
var errHandlerFailed = errors.New("handler failed")

type Config struct {
	Registry *provider.Registry `validate:"required"`
	Log      *logging.Logger    `validate:"required"`
	Stdout   io.Writer          `validate:"required"`
	Stderr   io.Writer          `validate:"required"`
	Version  string
}

// App is the composed command tree for one process run: the provider
// positional with each provider's registered grammar underneath, the
// leading --debug flag and the result envelope around handler invocations.
type App struct {
	cfg  Config
	env  *envelope.Writer
	root *cobra.Command
}

// New composes the full grammar from the registry. Registration mistakes in
// a provider's grammar are returned as errors so startup can fail loudly.
func New(cfg Config) (*App, error) {
	if err := validator.New().Struct(cfg); err != nil {
		panic(fmt.Errorf("invalid config: %w", err).Error())
	}

	app := &App{cfg: cfg, env: envelope.NewWriter(cfg.Stdout)}

	root, err := app.buildRoot()
	if err != nil {
		return nil, err
	}
	app.root = root
	return app, nil
}

// Run parses argv against the composed grammar, dispatches at most one
// handler and returns the process exit code. Usage errors print the error
// and usage text to stderr; handler failures have already produced the
// error envelope by the time they surface here.
func (a *App) Run(ctx context.Context, argv []string) int {
	a.root.SetArgs(argv)
	cmd, err := a.root.ExecuteContextC(ctx)
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, errHandlerFailed):
		return ExitHandlerError
	default:
		fmt.Fprintln(a.cfg.Stderr, "Error:", err)
		fmt.Fprintln(a.cfg.Stderr, cmd.UsageString())
		return ExitUsageError
	}
}

func (a *App) buildRoot() (*cobra.Command, error) {
	var debug, noDebug bool

	root := &cobra.Command{
		Use:           "pgacloud",
		Short:         "Provision managed PostgreSQL instances in a cloud provider",
		Version:       a.cfg.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debug && !noDebug {
				a.cfg.Log.SetLevel(slog.LevelDebug)
			}
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "send debug messages to stderr")
	root.PersistentFlags().BoolVar(&noDebug, "no-debug", false, "do not send debug messages to stderr")
	root.SetOut(a.cfg.Stdout)
	root.SetErr(a.cfg.Stderr)

	for _, name := range a.cfg.Registry.Names() {
		d, _ := a.cfg.Registry.Get(name)
		providerCmd, err := a.buildProviderCommand(d)
		if err != nil {
			return nil, err
		}
		root.AddCommand(providerCmd)
	}
	return root, nil
}

func (a *App) buildProviderCommand(d provider.Descriptor) (*cobra.Command, error) {
	g := provider.NewGrammar(d.Name)
	d.Provider.RegisterGrammar(g)
	if err := g.Err(); err != nil {
		return nil, err
	}

	cmd := &cobra.Command{
		Use:   d.Name,
		Short: d.Summary,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return fmt.Errorf("unknown command %q for %q", args[0], cmd.CommandPath())
		},
	}
	if credentials := g.CredentialsHelp(); credentials != "" {
		cmd.Long = fmt.Sprintf("%s\n\n%s", d.Summary, credentials)
	}

	for _, o := range g.GlobalOptions() {
		if err := addOption(cmd.PersistentFlags(), o); err != nil {
			return nil, fmt.Errorf("provider %s: %w", d.Name, err)
		}
		if o.Required {
			if err := cmd.MarkPersistentFlagRequired(o.Name); err != nil {
				return nil, err
			}
		}
	}

	for _, spec := range g.Commands() {
		leaf, err := a.buildCommand(g, spec)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", d.Name, err)
		}
		cmd.AddCommand(leaf)
	}
	return cmd, nil
}

func (a *App) buildCommand(g *provider.Grammar, spec provider.CommandSpec) (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:   spec.Name,
		Short: spec.Help,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			args, err := collectArgs(cmd.Flags(), g, spec)
			if err != nil {
				return a.fail(err)
			}
			handler, ok := g.Handler(args.Command)
			if !ok {
				a.cfg.Log.Errorf("no handler registered for %s %s", g.Provider(), spec.Name)
				return a.fail(fmt.Errorf("internal error: no handler for command %s", spec.Name))
			}
			payload, err := handler(cmd.Context(), args)
			if err != nil {
				return a.fail(err)
			}
			if err := a.env.Success(payload); err != nil {
				a.cfg.Log.Errorf("writing result envelope: %v", err)
				return errHandlerFailed
			}
			return nil
		},
	}

	for _, o := range spec.Options {
		if err := addOption(cmd.Flags(), o); err != nil {
			return nil, fmt.Errorf("command %s: %w", spec.Name, err)
		}
		if o.Required {
			if err := cmd.MarkFlagRequired(o.Name); err != nil {
				return nil, err
			}
		}
	}
	return cmd, nil
}

// fail writes the error envelope and returns the sentinel carried up to Run.
func (a *App) fail(err error) error {
	if emitErr := a.env.Error(err); emitErr != nil {
		a.cfg.Log.Errorf("writing error envelope: %v", emitErr)
	}
	return errHandlerFailed
}

func addOption(fs *pflag.FlagSet, o provider.OptionSpec) error {
	switch o.Type {
	case provider.StringOption:
		def, _ := o.Default.(string)
		fs.String(o.Name, def, o.Help)
	case provider.IntOption:
		def, _ := o.Default.(int)
		fs.Int(o.Name, def, o.Help)
	case provider.BoolOption:
		def, _ := o.Default.(bool)
		fs.Bool(o.Name, def, o.Help)
	default:
		return fmt.Errorf("option %q has unknown type", o.Name)
	}
	return nil
}

// collectArgs reads the parsed global and command option values into the
// typed bundle handed to the handler. The command is recorded under its
// canonical handler identifier.
func collectArgs(fs *pflag.FlagSet, g *provider.Grammar, spec provider.CommandSpec) (*provider.Args, error) {
	values := map[string]any{}
	for _, opts := range [][]provider.OptionSpec{g.GlobalOptions(), spec.Options} {
		for _, o := range opts {
			switch o.Type {
			case provider.StringOption:
				v, err := fs.GetString(o.Name)
				if err != nil {
					return nil, err
				}
				values[o.Name] = v
			case provider.IntOption:
				v, err := fs.GetInt(o.Name)
				if err != nil {
					return nil, err
				}
				values[o.Name] = v
			case provider.BoolOption:
				v, err := fs.GetBool(o.Name)
				if err != nil {
					return nil, err
				}
				values[o.Name] = v
			}
		}
	}
	return provider.NewArgs(g.Provider(), provider.HandlerIdent(spec.Name), values), nil
}

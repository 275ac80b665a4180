package cli_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/pgacloud/pgacloud/pkg/cli"
	"github.com/pgacloud/pgacloud/pkg/logging"
	"github.com/pgacloud/pgacloud/pkg/provider"
	"github.com/stretchr/testify/require"
)

type testProvider struct {
	summary     string
	credentials string
	globals     []provider.OptionSpec
	commands    []provider.CommandSpec
}

func (p *testProvider) Summary() string { return p.summary }

func (p *testProvider) RegisterGrammar(g *provider.Grammar) {
	if p.credentials != "" {
		g.SetCredentialsHelp(p.credentials)
	}
	for _, o := range p.globals {
		g.GlobalOption(o)
	}
	for _, c := range p.commands {
		g.Command(c)
	}
}

func candidate(name string, p *testProvider) provider.Candidate {
	return provider.Candidate{
		Name: name,
		Load: func(ctx context.Context, log *logging.Logger) (provider.Provider, error) {
			return p, nil
		},
	}
}

type runResult struct {
	code   int
	stdout string
	stderr string
}

func run(t *testing.T, candidates []provider.Candidate, argv ...string) runResult {
	t.Helper()

	var stdout, stderr bytes.Buffer
	log := logging.New(&logging.Config{Output: &stderr, Level: slog.LevelWarn})

	reg, err := provider.Discover(context.Background(), log, candidates)
	require.NoError(t, err)

	app, err := cli.New(cli.Config{
		Registry: reg,
		Log:      log,
		Stdout:   &stdout,
		Stderr:   &stderr,
		Version:  "1.0.0-test",
	})
	require.NoError(t, err)

	code := app.Run(context.Background(), argv)
	return runResult{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func vpcsProvider() *testProvider {
	return &testProvider{
		summary: "Amazon AWS RDS PostgreSQL",
		commands: []provider.CommandSpec{{
			Name: "get-vpcs",
			Help: "list VPCs in the region",
			Handler: func(ctx context.Context, args *provider.Args) (map[string]any, error) {
				return map[string]any{"vpcs": []map[string]any{{"Id": "vpc-1"}}}, nil
			},
		}},
	}
}

func TestRun(t *testing.T) {
	t.Run("success envelope", func(t *testing.T) {
		r := require.New(t)

		res := run(t, []provider.Candidate{candidate("rds", vpcsProvider())}, "rds", "get-vpcs")

		r.Equal(cli.ExitSuccess, res.code)
		r.Equal(`{
    "vpcs": [
        {
            "Id": "vpc-1"
        }
    ]
}
`, res.stdout)
	})

	t.Run("error envelope", func(t *testing.T) {
		r := require.New(t)

		p := &testProvider{
			summary: "Amazon AWS RDS PostgreSQL",
			commands: []provider.CommandSpec{{
				Name: "create-instance",
				Options: []provider.OptionSpec{
					{Name: "name", Required: true},
					{Name: "instance-type", Required: true},
				},
				Handler: func(ctx context.Context, args *provider.Args) (map[string]any, error) {
					return nil, errors.New("Invalid DB Instance class: bad")
				},
			}},
		}

		res := run(t, []provider.Candidate{candidate("rds", p)},
			"rds", "create-instance", "--name", "foo", "--instance-type", "bad")

		r.Equal(cli.ExitHandlerError, res.code)
		r.Equal(`{
    "error": "Invalid DB Instance class: bad"
}
`, res.stdout)
	})

	t.Run("missing required option is a usage error", func(t *testing.T) {
		r := require.New(t)

		p := &testProvider{
			summary: "Azure Database for PostgreSQL",
			globals: []provider.OptionSpec{{Name: "resource-group", Required: true}},
			commands: []provider.CommandSpec{{
				Name:    "create-instance",
				Options: []provider.OptionSpec{{Name: "name", Required: true}},
				Handler: func(ctx context.Context, args *provider.Args) (map[string]any, error) {
					t.Fatal("handler must not run on usage errors")
					return nil, nil
				},
			}},
		}

		res := run(t, []provider.Candidate{candidate("azure", p)}, "azure", "create-instance")

		r.Equal(cli.ExitUsageError, res.code)
		r.Empty(res.stdout)
		r.Contains(res.stderr, "required flag(s)")
		r.Contains(res.stderr, "Usage:")
	})

	t.Run("unknown provider is a usage error", func(t *testing.T) {
		r := require.New(t)

		res := run(t, []provider.Candidate{candidate("rds", vpcsProvider())},
			"unknownprovider", "create-instance")

		r.Equal(cli.ExitUsageError, res.code)
		r.Empty(res.stdout)
		r.Contains(res.stderr, `unknown command "unknownprovider"`)
	})

	t.Run("unknown command is a usage error", func(t *testing.T) {
		r := require.New(t)

		res := run(t, []provider.Candidate{candidate("rds", vpcsProvider())}, "rds", "drop-everything")

		r.Equal(cli.ExitUsageError, res.code)
		r.Empty(res.stdout)
		r.Contains(res.stderr, `unknown command "drop-everything" for "pgacloud rds"`)
	})

	t.Run("invalid option value is a usage error", func(t *testing.T) {
		r := require.New(t)

		p := &testProvider{
			summary: "Amazon AWS RDS PostgreSQL",
			commands: []provider.CommandSpec{{
				Name:    "create-instance",
				Options: []provider.OptionSpec{{Name: "storage-size", Type: provider.IntOption}},
				Handler: func(ctx context.Context, args *provider.Args) (map[string]any, error) {
					return map[string]any{}, nil
				},
			}},
		}

		res := run(t, []provider.Candidate{candidate("rds", p)},
			"rds", "create-instance", "--storage-size", "lots")

		r.Equal(cli.ExitUsageError, res.code)
		r.Empty(res.stdout)
		r.Contains(res.stderr, "invalid argument")
	})

	t.Run("help produces no envelope", func(t *testing.T) {
		r := require.New(t)

		invoked := false
		p := vpcsProvider()
		p.commands[0].Handler = func(ctx context.Context, args *provider.Args) (map[string]any, error) {
			invoked = true
			return map[string]any{}, nil
		}
		candidates := []provider.Candidate{candidate("rds", p)}

		for _, argv := range [][]string{
			{"--help"},
			{},
			{"rds"},
			{"rds", "--help"},
			{"rds", "get-vpcs", "--help"},
		} {
			res := run(t, candidates, argv...)
			r.Equal(cli.ExitSuccess, res.code, "argv %v", argv)
			r.NotContains(res.stdout, "{", "argv %v", argv)
			r.False(invoked)
		}
	})

	t.Run("provider help lists summary and credentials", func(t *testing.T) {
		r := require.New(t)

		p := vpcsProvider()
		p.credentials = "Credentials are read from ~/.aws/config by default"

		res := run(t, []provider.Candidate{candidate("rds", p)}, "rds")

		r.Equal(cli.ExitSuccess, res.code)
		r.Contains(res.stdout, "Amazon AWS RDS PostgreSQL")
		r.Contains(res.stdout, "Credentials are read from")
		r.Contains(res.stdout, "get-vpcs")
	})

	t.Run("typed args reach the handler", func(t *testing.T) {
		r := require.New(t)

		var got *provider.Args
		p := &testProvider{
			summary: "Amazon AWS RDS PostgreSQL",
			globals: []provider.OptionSpec{{Name: "region", Default: "us-east-1"}},
			commands: []provider.CommandSpec{{
				Name: "create-instance",
				Options: []provider.OptionSpec{
					{Name: "name", Required: true},
					{Name: "storage-size", Type: provider.IntOption, Required: true},
					{Name: "storage-type", Default: "gp2"},
					{Name: "multi-az", Type: provider.BoolOption},
				},
				Handler: func(ctx context.Context, args *provider.Args) (map[string]any, error) {
					got = args
					return map[string]any{}, nil
				},
			}},
		}

		res := run(t, []provider.Candidate{candidate("rds", p)},
			"rds", "create-instance", "--name", "test1", "--storage-size", "100", "--multi-az")

		r.Equal(cli.ExitSuccess, res.code)
		r.Equal("rds", got.Provider)
		r.Equal("create_instance", got.Command)
		r.Equal("test1", got.String("name"))
		r.Equal(100, got.Int("storage-size"))
		r.Equal("gp2", got.String("storage-type"))
		r.Equal("us-east-1", got.String("region"))
		r.True(got.Bool("multi-az"))
	})

	t.Run("debug flag gates handler diagnostics", func(t *testing.T) {
		r := require.New(t)

		newCandidates := func() []provider.Candidate {
			return []provider.Candidate{{
				Name: "rds",
				Load: func(ctx context.Context, log *logging.Logger) (provider.Provider, error) {
					return &testProvider{
						summary: "Amazon AWS RDS PostgreSQL",
						commands: []provider.CommandSpec{{
							Name: "get-vpcs",
							Handler: func(ctx context.Context, args *provider.Args) (map[string]any, error) {
								log.Debugf("Fetching VPCs...")
								return map[string]any{"vpcs": []string{}}, nil
							},
						}},
					}, nil
				},
			}}
		}

		res := run(t, newCandidates(), "--debug", "rds", "get-vpcs")
		r.Equal(cli.ExitSuccess, res.code)
		r.Contains(res.stderr, "Fetching VPCs...")

		res = run(t, newCandidates(), "rds", "get-vpcs")
		r.Equal(cli.ExitSuccess, res.code)
		r.NotContains(res.stderr, "Fetching VPCs...")

		res = run(t, newCandidates(), "--debug", "--no-debug", "rds", "get-vpcs")
		r.Equal(cli.ExitSuccess, res.code)
		r.NotContains(res.stderr, "Fetching VPCs...")
	})

	t.Run("version", func(t *testing.T) {
		r := require.New(t)

		res := run(t, []provider.Candidate{candidate("rds", vpcsProvider())}, "--version")

		r.Equal(cli.ExitSuccess, res.code)
		r.Contains(res.stdout, "1.0.0-test")
	})
}

func TestNewRegistrationErrors(t *testing.T) {
	tests := []struct {
		name     string
		provider *testProvider
		wantErr  string
	}{
		{
			name: "duplicate option within a command",
			provider: &testProvider{
				summary: "broken",
				commands: []provider.CommandSpec{{
					Name:    "create-instance",
					Options: []provider.OptionSpec{{Name: "name"}, {Name: "name"}},
					Handler: func(ctx context.Context, args *provider.Args) (map[string]any, error) { return nil, nil },
				}},
			},
			wantErr: "registered twice",
		},
		{
			name: "command without handler",
			provider: &testProvider{
				summary:  "broken",
				commands: []provider.CommandSpec{{Name: "create-instance"}},
			},
			wantErr: "no handler",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := require.New(t)

			var stdout, stderr bytes.Buffer
			log := logging.New(&logging.Config{Output: &stderr, Level: slog.LevelWarn})
			reg, err := provider.Discover(context.Background(), log, []provider.Candidate{candidate("broken", tt.provider)})
			r.NoError(err)

			_, err = cli.New(cli.Config{Registry: reg, Log: log, Stdout: &stdout, Stderr: &stderr})
			r.Error(err)
			r.Contains(err.Error(), tt.wantErr)
		})
	}
}

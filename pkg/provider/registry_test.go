package provider_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/pgacloud/pgacloud/pkg/logging"
	"github.com/pgacloud/pgacloud/pkg/provider"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	summary  string
	commands []provider.CommandSpec
}

func (f *fakeProvider) Summary() string { return f.summary }

func (f *fakeProvider) RegisterGrammar(g *provider.Grammar) {
	for _, c := range f.commands {
		g.Command(c)
	}
}

func loadFake(summary string) provider.Factory {
	return func(ctx context.Context, log *logging.Logger) (provider.Provider, error) {
		return &fakeProvider{summary: summary}, nil
	}
}

func loadBroken(err error) provider.Factory {
	return func(ctx context.Context, log *logging.Logger) (provider.Provider, error) {
		return nil, err
	}
}

func TestDiscover(t *testing.T) {
	ctx := context.Background()

	t.Run("loads eligible candidates", func(t *testing.T) {
		r := require.New(t)

		reg, err := provider.Discover(ctx, logging.NewTestLog(), []provider.Candidate{
			{Name: "rds", Load: loadFake("Amazon AWS RDS PostgreSQL")},
			{Name: "azure", Load: loadFake("Azure Database for PostgreSQL")},
		})
		r.NoError(err)

		r.Equal([]string{"azure", "rds"}, reg.Names())
		d, ok := reg.Get("rds")
		r.True(ok)
		r.Equal("Amazon AWS RDS PostgreSQL", d.Summary)
		r.NotNil(d.Provider)
		_, ok = reg.Get("gcp")
		r.False(ok)
	})

	t.Run("load failure skips candidate with warning", func(t *testing.T) {
		r := require.New(t)

		var out bytes.Buffer
		log := logging.New(&logging.Config{Output: &out, Level: slog.LevelWarn})

		reg, err := provider.Discover(ctx, log, []provider.Candidate{
			{Name: "starlight", Load: loadBroken(errors.New("not generally available"))},
			{Name: "rds", Load: loadFake("Amazon AWS RDS PostgreSQL")},
		})
		r.NoError(err)

		r.Equal([]string{"rds"}, reg.Names())
		r.Contains(out.String(), "skipping provider starlight")
		r.Contains(out.String(), "not generally available")
	})

	t.Run("private prefix is never a provider", func(t *testing.T) {
		r := require.New(t)

		reg, err := provider.Discover(ctx, logging.NewTestLog(), []provider.Candidate{
			{Name: "_abstract", Load: loadFake("helper")},
			{Name: "rds", Load: loadFake("Amazon AWS RDS PostgreSQL")},
		})
		r.NoError(err)

		r.Equal([]string{"rds"}, reg.Names())
	})

	t.Run("duplicate names fail fast", func(t *testing.T) {
		r := require.New(t)

		_, err := provider.Discover(ctx, logging.NewTestLog(), []provider.Candidate{
			{Name: "rds", Load: loadFake("one")},
			{Name: "rds", Load: loadFake("two")},
		})
		r.Error(err)
		r.Contains(err.Error(), `duplicate provider name "rds"`)
	})

	t.Run("missing factory skips candidate", func(t *testing.T) {
		r := require.New(t)

		var out bytes.Buffer
		log := logging.New(&logging.Config{Output: &out, Level: slog.LevelWarn})

		reg, err := provider.Discover(ctx, log, []provider.Candidate{
			{Name: "rds"},
		})
		r.NoError(err)
		r.Empty(reg.Names())
		r.Contains(out.String(), "no factory")
	})
}

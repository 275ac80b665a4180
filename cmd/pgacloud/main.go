package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/pgacloud/pgacloud/pkg/cli"
	"github.com/pgacloud/pgacloud/pkg/logging"
	"github.com/pgacloud/pgacloud/pkg/provider"
	"github.com/pgacloud/pgacloud/pkg/providers"
)

// These should be set via `go build` during a release.
var (
	GitCommit = "undefined"
	GitRef    = "no-ref"
	Version   = "local"
)

func main() {
	log := logging.New(&logging.Config{
		Output: os.Stderr,
		Level:  slog.LevelWarn,
	})

	ctx := context.Background()
	registry, err := provider.Discover(ctx, log, providers.Table())
	if err != nil {
		log.Fatalf("discovering providers: %v", err)
	}

	app, err := cli.New(cli.Config{
		Registry: registry,
		Log:      log,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
		Version:  Version,
	})
	if err != nil {
		log.Fatalf("building command tree: %v", err)
	}

	os.Exit(app.Run(ctx, os.Args[1:]))
}

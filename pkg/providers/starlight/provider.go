package starlight

import (
	"context"
	"errors"

	"github.com/pgacloud/pgacloud/pkg/logging"
	"github.com/pgacloud/pgacloud/pkg/provider"
)

// Load reports EDB Starlight as unavailable. Discovery logs the warning and
// leaves the provider out of the command tree.
func Load(ctx context.Context, log *logging.Logger) (provider.Provider, error) {
	return nil, errors.New("starlight support is not generally available")
}

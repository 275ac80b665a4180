package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/pgacloud/pgacloud/pkg/logging"
)

// PrivatePrefix marks candidate names reserved for shared helper code.
// Candidates with this prefix are never treated as providers.
const PrivatePrefix = "_"

// Descriptor identifies one loaded provider: the name used as the top level
// sub-command token, its help summary and the provider itself.
type Descriptor struct {
	Name     string
	Summary  string
	Provider Provider
}

// Registry holds the providers discovered at startup. It is built once and
// read-only afterwards.
type Registry struct {
	descriptors map[string]Descriptor
}

// Discover loads every eligible candidate from the table. A candidate that
// fails to load is reported as a warning and skipped so the remaining
// providers stay usable; duplicate names fail discovery outright.
func Discover(ctx context.Context, log *logging.Logger, candidates []Candidate) (*Registry, error) {
	descriptors := make(map[string]Descriptor, len(candidates))
	for _, c := range candidates {
		if c.Name == "" || strings.HasPrefix(c.Name, PrivatePrefix) {
			continue
		}
		if _, ok := descriptors[c.Name]; ok {
			return nil, fmt.Errorf("duplicate provider name %q", c.Name)
		}
		if c.Load == nil {
			log.Warnf("skipping provider %s: no factory", c.Name)
			continue
		}
		p, err := c.Load(ctx, log.WithField("provider", c.Name))
		if err != nil {
			log.Warnf("skipping provider %s: %v", c.Name, err)
			continue
		}
		descriptors[c.Name] = Descriptor{Name: c.Name, Summary: p.Summary(), Provider: p}
	}
	return &Registry{descriptors: descriptors}, nil
}

func (r *Registry) Get(name string) (Descriptor, bool) {
	d, ok := r.descriptors[name]
	return d, ok
}

// Names returns the discovered provider names sorted alphabetically.
func (r *Registry) Names() []string {
	names := lo.Keys(r.descriptors)
	sort.Strings(names)
	return names
}

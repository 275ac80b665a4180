package providers

import (
	"github.com/pgacloud/pgacloud/pkg/provider"
	"github.com/pgacloud/pgacloud/pkg/providers/azure"
	"github.com/pgacloud/pgacloud/pkg/providers/rds"
	"github.com/pgacloud/pgacloud/pkg/providers/starlight"
)

// Table lists every provider candidate known to the tool. Names starting
// with an underscore are reserved and skipped by discovery.
func Table() []provider.Candidate {
	return []provider.Candidate{
		{Name: "azure", Load: azure.Load},
		{Name: "rds", Load: rds.Load},
		{Name: "starlight", Load: starlight.Load},
	}
}

package naming

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// RuleName builds the name of the network access rule that grants the
// caller's public IP access to a database instance. The instance name and
// the IP are embedded so the rule is recognizable in the cloud console,
// the random suffix keeps repeated runs from colliding.
func RuleName(instance, ip string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
	return fmt.Sprintf("pgacloud_%s_%s_%s", instance, strings.ReplaceAll(ip, ".", "-"), suffix)
}

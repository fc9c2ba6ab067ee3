package runorch

import (
	"context"
	"fmt"
	"os"

	"github.com/voratiq/voratiq/internal/auth"
	"github.com/voratiq/voratiq/internal/gitutil"
	"github.com/voratiq/voratiq/internal/types"
)

// ValidatePreconditions checks a run's entry conditions: a clean working tree, a
// readable spec file, and verified provider credentials for every agent
// about to compete. Each distinct provider is verified exactly once,
// regardless of how many agents in the competition share it.
func ValidatePreconditions(ctx context.Context, repoRoot, specPath string, agents []types.AgentDefinition, registry *auth.Registry) error {
	if err := gitutil.IsClean(ctx, repoRoot, gitutil.DefaultTimeout); err != nil {
		return err
	}
	if _, err := os.Stat(specPath); err != nil {
		return fmt.Errorf("read spec %s: %w", specPath, err)
	}

	verified := make(map[string]bool, len(agents))
	for _, a := range agents {
		if verified[a.Provider] {
			continue
		}
		p, err := registry.Lookup(a.Provider)
		if err != nil {
			return err
		}
		if err := p.Verify(); err != nil {
			return fmt.Errorf("verify provider %s: %w", a.Provider, err)
		}
		verified[a.Provider] = true
	}
	return nil
}

package auth

import (
	"fmt"
)

// Registry resolves a provider name to its Provider implementation.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds a Registry seeded with the built-in providers:
// claude, codex, gemini.
func NewRegistry() *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	r.Register(&ClaudeProvider{})
	r.Register(NewConfigDirProvider("codex", ".codex"))
	r.Register(NewConfigDirProvider("gemini", ".gemini"))
	return r
}

// Register adds or replaces a provider by its Name().
func (r *Registry) Register(p Provider) {
	r.providers[p.Name()] = p
}

// Lookup returns the provider registered under name.
func (r *Registry) Lookup(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, errUnknownProvider(name)
	}
	return p, nil
}

// AgentRequest is one agent's staging request: which provider to use and
// where its sandbox HOME should live.
type AgentRequest struct {
	AgentID     string
	Provider    string
	SandboxHome string
}

// Plan stages auth for every request. verify is invoked exactly once per
// unique provider name referenced. On any partial failure, already-staged
// contexts are torn down before the error is returned, so a failed plan
// never leaks staged secrets.
func (r *Registry) Plan(requests []AgentRequest) ([]*Context, error) {
	verified := make(map[string]bool, len(requests))
	var staged []*Context

	teardownAll := func() {
		for _, c := range staged {
			_ = c.Teardown()
		}
	}

	for _, req := range requests {
		p, err := r.Lookup(req.Provider)
		if err != nil {
			teardownAll()
			return nil, err
		}

		if !verified[req.Provider] {
			if err := p.Verify(); err != nil {
				teardownAll()
				return nil, fmt.Errorf("verify provider %s: %w", req.Provider, err)
			}
			verified[req.Provider] = true
		}

		if _, err := BuildSandboxHome(req.SandboxHome); err != nil {
			teardownAll()
			return nil, err
		}

		result, err := p.Stage(req.SandboxHome)
		if err != nil {
			teardownAll()
			return nil, fmt.Errorf("stage provider %s for agent %s: %w", req.Provider, req.AgentID, err)
		}

		staged = append(staged, &Context{
			AgentID:  req.AgentID,
			Provider: req.Provider,
			Result:   result,
		})
	}

	return staged, nil
}

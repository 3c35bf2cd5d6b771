package sandbox

import "fmt"

// ManagerConfig contains configuration for manager construction.
type ManagerConfig struct {
	RepoRoot          string // working copy git worktrees are added from
	CanonicalStateDir string // state root: <CanonicalStateDir>/.runs/<runId>/workers/<taskId>
	DataDir           string // worktree root: <DataDir>/worktrees/<owner>/<repo>/issue-<N>-workers/<runId>/<taskId>
	GitBin            string // defaults to "git" if empty
}

// ManagerFactory is a function that creates a Manager. Keeping this as a
// name-keyed registry (rather than a single concrete constructor) lets
// tests register a "fake" backend without an import cycle between engine
// and sandbox/worktree.
type ManagerFactory func(cfg ManagerConfig) (Manager, error)

var managerFactories = map[string]ManagerFactory{}

// RegisterManager registers a manager factory by name.
func RegisterManager(name string, factory ManagerFactory) {
	managerFactories[name] = factory
}

// NewManager creates a Manager for the named backend. Empty string selects
// "worktree", the only production backend.
func NewManager(name string, cfg ManagerConfig) (Manager, error) {
	if name == "" {
		name = "worktree"
	}
	factory, ok := managerFactories[name]
	if !ok {
		return nil, fmt.Errorf("sandbox manager %q not registered", name)
	}
	return factory(cfg)
}

// Package activity holds the Temporal activities that do the engine's
// actual I/O: running a phase's prompt against an AgentProvider (C3) and
// provisioning/cleaning up worker sandboxes (C4). The generic internal/engine
// workflow never touches a filesystem or a provider SDK directly; it only
// schedules these activities and reacts to their results.
package activity

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/hansjm10/jeeves/internal/notify"
	"github.com/hansjm10/jeeves/internal/provider"
	"github.com/hansjm10/jeeves/internal/sandbox"
	"github.com/hansjm10/jeeves/internal/state"
	"github.com/hansjm10/jeeves/internal/state/sqlite"
)

// Activity name constants, registered by cmd/jeeves-worker and referenced
// by name from internal/engine so the workflow package never imports this
// package's concrete activity methods directly.
const (
	ActivityRunPhase               = "RunPhase"
	ActivityAdvancePhase           = "AdvancePhase"
	ActivityRecordRun              = "RecordRun"
	ActivityUpsertMemory           = "UpsertMemory"
	ActivityGetReadyTasks          = "GetReadyTasks"
	ActivitySetTaskStatus          = "SetTaskStatus"
	ActivityProvisionWorkerSandbox = "ProvisionWorkerSandbox"
	ActivityCleanupWorkerSandbox   = "CleanupWorkerSandbox"
	ActivityRunWorkerTask          = "RunWorkerTask"
	ActivityNotifyRunComplete      = "NotifyRunComplete"
)

// Activities bundles the dependencies every activity method needs. A
// Temporal worker registers the bound methods (a.RunPhase, a.AdvancePhase,
// ...), mirroring the teacher's *Activities receiver pattern.
type Activities struct {
	// StateRoot is the directory under which one subdirectory per issue
	// coordinate holds that issue's state store.
	StateRoot string
	// RepoRoot is the primary checkout that non-fanout phases execute in.
	RepoRoot string
	// TemplateRoot resolves a phase's Prompt field to a template file.
	TemplateRoot string
	// MCPServers lists the MCP server names reachable from phase runs.
	MCPServers []string

	Provider provider.AgentProvider
	Sandbox  sandbox.Manager
	// Notifier posts the terminal-state Slack notification; a disabled
	// *notify.Client (the zero value from notify.New with an empty token or
	// channel) makes NotifyRunComplete a no-op.
	Notifier *notify.Client
	// EnableMirror attaches the internal/state/sqlite relational mirror to
	// every store storeFor opens. A mirror that fails to open is never
	// fatal: the store falls back to JSON-only reads, per state.Store's own
	// "missing mirror is never fatal" contract.
	EnableMirror bool

	// stateDirOverride, when set, roots storeFor at this directory instead
	// of StateRoot/<coordinate>. RunWorkerTask sets it on a scoped copy so a
	// fanout task's last-run.log/sdk-output.json land under its own worker
	// state dir instead of the shared issue directory.
	stateDirOverride string

	// mirrorMu guards mirrors. storeFor is called once per activity
	// invocation, so the mirror's *sql.DB connection is cached per state
	// directory here rather than opened and discarded on every call.
	mirrorMu sync.Mutex
	mirrors  map[string]*sqlite.Mirror
}

// storeFor opens (creating if absent) the state store for an issue
// coordinate such as "acme/widgets#42".
func (a *Activities) storeFor(issueCoordinate string) (*state.Store, error) {
	dir := a.stateDirOverride
	if dir == "" {
		dir = filepath.Join(a.StateRoot, sanitizeCoordinate(issueCoordinate))
	}
	store, err := state.New(dir)
	if err != nil {
		return nil, err
	}
	if a.EnableMirror {
		if mirror := a.mirrorFor(dir); mirror != nil {
			store.SetMirror(mirror)
		}
	}
	return store, nil
}

// mirrorFor returns the cached relational mirror for dir, opening it on
// first use. A mirror that fails to open is never fatal: it is logged
// nowhere special and simply left unattached, so the caller falls back to
// JSON-only reads per state.Store's own contract.
func (a *Activities) mirrorFor(dir string) *sqlite.Mirror {
	a.mirrorMu.Lock()
	defer a.mirrorMu.Unlock()
	if m, ok := a.mirrors[dir]; ok {
		return m
	}
	m, err := sqlite.Open(filepath.Join(dir, "mirror.db"))
	if err != nil {
		return nil
	}
	if a.mirrors == nil {
		a.mirrors = make(map[string]*sqlite.Mirror)
	}
	a.mirrors[dir] = m
	return m
}

// sanitizeCoordinate maps an "owner/repo#N" coordinate to a single
// filesystem-safe path segment.
func sanitizeCoordinate(coordinate string) string {
	r := strings.NewReplacer("/", "__", "#", "__")
	return r.Replace(coordinate)
}

func (a *Activities) templatePath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(a.TemplateRoot, name)
}

func (a *Activities) hasMCPServer(name string) bool {
	if name == "" {
		return true
	}
	for _, s := range a.MCPServers {
		if s == name {
			return true
		}
	}
	return false
}

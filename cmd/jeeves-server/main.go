// Package main is the jeeves viewer API: the Event Bus's HTTP/SSE surface
// (C5), fed by a TailerManager per tracked issue.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hansjm10/jeeves/internal/eventbus"
	"github.com/hansjm10/jeeves/internal/metrics"
	"github.com/hansjm10/jeeves/internal/model"
	"github.com/hansjm10/jeeves/internal/sandbox"
	_ "github.com/hansjm10/jeeves/internal/sandbox/worktree"
	"github.com/hansjm10/jeeves/internal/state"
)

// errNoActiveRun means an issue has no currently-running RunRecord, so
// there is no runID to derive fanout worker sandbox paths from yet.
var errNoActiveRun = errors.New("no active run for issue")

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	stateRoot := envOr("JEEVES_STATE_ROOT", "./.jeeves-state")
	repoRoot := envOr("JEEVES_REPO_ROOT", ".")
	dataDir := envOr("JEEVES_DATA_DIR", "./.jeeves-data")
	addr := envOr("JEEVES_SERVER_ADDR", ":8080")

	sandboxMgr, err := sandbox.NewManager("", sandbox.ManagerConfig{
		RepoRoot:          repoRoot,
		CanonicalStateDir: stateRoot,
		DataDir:           dataDir,
	})
	if err != nil {
		logger.Error("failed to construct sandbox manager", "err", err)
		os.Exit(1)
	}

	m := metrics.New()
	reg := prometheus.NewRegistry()
	if err := metrics.RegisterWith(reg, m); err != nil {
		logger.Error("failed to register metrics", "err", err)
		os.Exit(1)
	}

	bus := eventbus.New(m)
	stores := newStoreCache(stateRoot)

	tracker := newIssueTracker(bus, stores, sandboxMgr, logger)

	srv := eventbus.NewServer(bus, stores.storeFor)

	mux := http.NewServeMux()
	mux.Handle("/", srv)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutting down")
		cancel()
	}()

	go tracker.Run(ctx)

	logger.Info("viewer API listening", "addr", addr)
	httpServer := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}

// storeCache opens (and caches) one *state.Store per issue coordinate under
// stateRoot, mirroring internal/activity's storeFor without depending on
// that package.
type storeCache struct {
	root string

	mu     sync.Mutex
	stores map[string]*state.Store
}

func newStoreCache(root string) *storeCache {
	return &storeCache{root: root, stores: make(map[string]*state.Store)}
}

func (c *storeCache) storeFor(issueCoordinate string) (*state.Store, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.stores[issueCoordinate]; ok {
		return s, nil
	}
	s, err := state.New(filepath.Join(c.root, sanitizeCoordinate(issueCoordinate)))
	if err != nil {
		return nil, err
	}
	c.stores[issueCoordinate] = s
	return s, nil
}

// issues returns the directory name (the sanitized coordinate, e.g.
// acme__widgets__42) of every issue currently holding a state directory
// under root.
func (c *storeCache) issues() ([]string, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var coords []string
	for _, entry := range entries {
		if entry.IsDir() {
			coords = append(coords, entry.Name())
		}
	}
	return coords, nil
}

// sanitizeCoordinate must match internal/activity's sanitizeCoordinate so
// the viewer reads the same per-issue directories the worker writes.
func sanitizeCoordinate(coord string) string {
	return strings.NewReplacer("/", "__", "#", "__").Replace(coord)
}

// issueTracker owns one eventbus.TailerManager per issue coordinate it
// discovers under stateRoot, starting and stopping managers as issues
// appear and disappear.
type issueTracker struct {
	bus        *eventbus.Bus
	stores     *storeCache
	sandboxMgr sandbox.Manager
	logger     *slog.Logger

	mu       sync.Mutex
	managers map[string]context.CancelFunc
}

func newIssueTracker(bus *eventbus.Bus, stores *storeCache, sandboxMgr sandbox.Manager, logger *slog.Logger) *issueTracker {
	return &issueTracker{
		bus:        bus,
		stores:     stores,
		sandboxMgr: sandboxMgr,
		logger:     logger,
		managers:   make(map[string]context.CancelFunc),
	}
}

// issueScanInterval governs how often the tracker notices a newly created
// or removed issue state directory.
const issueScanInterval = 5 * time.Second

// Run polls stateRoot for issue directories and keeps one TailerManager
// goroutine running per issue found, until ctx is cancelled.
func (t *issueTracker) Run(ctx context.Context) {
	t.reconcile(ctx)
	ticker := time.NewTicker(issueScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			t.mu.Lock()
			for _, cancel := range t.managers {
				cancel()
			}
			t.mu.Unlock()
			return
		case <-ticker.C:
			t.reconcile(ctx)
		}
	}
}

func (t *issueTracker) reconcile(ctx context.Context) {
	coords, err := t.stores.issues()
	if err != nil {
		t.logger.Error("listing issues", "err", err)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	seen := make(map[string]bool, len(coords))
	for _, coord := range coords {
		seen[coord] = true
		if _, ok := t.managers[coord]; ok {
			continue
		}
		mgrCtx, cancel := context.WithCancel(ctx)
		t.managers[coord] = cancel
		go t.runManagerFor(mgrCtx, coord)
	}
	for coord, cancel := range t.managers {
		if !seen[coord] {
			cancel()
			delete(t.managers, coord)
		}
	}
}

func (t *issueTracker) runManagerFor(ctx context.Context, issueCoordinate string) {
	store, err := t.stores.storeFor(issueCoordinate)
	if err != nil {
		t.logger.Error("opening store", "issue", issueCoordinate, "err", err)
		return
	}

	activeTaskIDs := func() ([]string, error) {
		tasks, err := store.GetTasks()
		if err != nil {
			return nil, err
		}
		var ids []string
		for _, task := range tasks.Tasks {
			if task.Status == model.TaskStatusRunning {
				ids = append(ids, task.ID)
			}
		}
		return ids, nil
	}

	derivePaths := func(taskID string) (string, string, error) {
		runs, err := store.ListRunRecords()
		if err != nil {
			return "", "", err
		}
		var runID, coord string
		for _, rec := range runs {
			if rec.Running {
				runID = rec.RunID
				coord = rec.IssueCoordinate
				break
			}
		}
		if runID == "" {
			return "", "", errNoActiveRun
		}

		paths, err := t.sandboxMgr.DerivePaths(coord, taskID, runID)
		if err != nil {
			return "", "", err
		}
		return filepath.Join(paths.StateDir, "last-run.log"), filepath.Join(paths.StateDir, "sdk-output.json"), nil
	}

	mgr := eventbus.NewTailerManager(
		t.bus,
		issueCoordinate,
		store.RunLogPath(),
		store.SDKOutputPath(),
		activeTaskIDs,
		derivePaths,
	)
	mgr.Run(ctx, eventbus.DefaultPollInterval)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Package main is the jeeves Temporal worker entry point: it registers the
// single generic Drive workflow and every internal/activity method by name,
// and wires in the Prometheus interceptor.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/worker"

	jeevesactivity "github.com/hansjm10/jeeves/internal/activity"
	jeevesclient "github.com/hansjm10/jeeves/internal/client"
	"github.com/hansjm10/jeeves/internal/engine"
	"github.com/hansjm10/jeeves/internal/metrics"
	"github.com/hansjm10/jeeves/internal/notify"
	"github.com/hansjm10/jeeves/internal/provider/anthropic"
	"github.com/hansjm10/jeeves/internal/sandbox"
	_ "github.com/hansjm10/jeeves/internal/sandbox/worktree"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil)).With("component", "jeeves-worker")

	temporalAddr := os.Getenv("TEMPORAL_ADDRESS")
	if temporalAddr == "" {
		temporalAddr = "localhost:7233"
	}

	c, err := client.Dial(client.Options{
		HostPort: temporalAddr,
		Logger:   temporalLogger{logger: logger},
	})
	if err != nil {
		logger.Error("failed to connect to Temporal", "err", err)
		os.Exit(1)
	}
	defer c.Close()
	logger.Info("connected to Temporal", "address", temporalAddr, "task_queue", jeevesclient.TaskQueue)

	repoRoot := envOr("JEEVES_REPO_ROOT", ".")
	stateRoot := envOr("JEEVES_STATE_ROOT", "./.jeeves-state")
	templateRoot := envOr("JEEVES_TEMPLATE_ROOT", "./prompts")
	dataDir := envOr("JEEVES_DATA_DIR", "./.jeeves-data")
	mcpServers := splitNonEmpty(os.Getenv("JEEVES_MCP_SERVERS"))

	sandboxMgr, err := sandbox.NewManager("", sandbox.ManagerConfig{
		RepoRoot:          repoRoot,
		CanonicalStateDir: stateRoot,
		DataDir:           dataDir,
	})
	if err != nil {
		logger.Error("failed to construct sandbox manager", "err", err)
		os.Exit(1)
	}

	activities := &jeevesactivity.Activities{
		StateRoot:    stateRoot,
		RepoRoot:     repoRoot,
		TemplateRoot: templateRoot,
		MCPServers:   mcpServers,
		Provider:     anthropic.New(),
		Sandbox:      sandboxMgr,
		Notifier:     notify.New(os.Getenv("SLACK_BOT_TOKEN"), os.Getenv("SLACK_NOTIFY_CHANNEL")),
		EnableMirror: envBool("JEEVES_ENABLE_MIRROR"),
	}

	m := metrics.New()
	reg := prometheus.NewRegistry()
	if err := metrics.RegisterWith(reg, m); err != nil {
		logger.Error("failed to register metrics", "err", err)
		os.Exit(1)
	}
	go serveMetrics(logger, reg)

	w := worker.New(c, jeevesclient.TaskQueue, worker.Options{
		Interceptors: []interceptor.WorkerInterceptor{metrics.NewInterceptor(m)},
		Logger:       temporalLogger{logger: logger},
	})

	w.RegisterWorkflow(engine.Drive)

	w.RegisterActivityWithOptions(activities.RunPhase, activityOptions(jeevesactivity.ActivityRunPhase))
	w.RegisterActivityWithOptions(activities.AdvancePhase, activityOptions(jeevesactivity.ActivityAdvancePhase))
	w.RegisterActivityWithOptions(activities.RecordRun, activityOptions(jeevesactivity.ActivityRecordRun))
	w.RegisterActivityWithOptions(activities.UpsertMemory, activityOptions(jeevesactivity.ActivityUpsertMemory))
	w.RegisterActivityWithOptions(activities.GetReadyTasks, activityOptions(jeevesactivity.ActivityGetReadyTasks))
	w.RegisterActivityWithOptions(activities.SetTaskStatus, activityOptions(jeevesactivity.ActivitySetTaskStatus))
	w.RegisterActivityWithOptions(activities.ProvisionWorkerSandbox, activityOptions(jeevesactivity.ActivityProvisionWorkerSandbox))
	w.RegisterActivityWithOptions(activities.CleanupWorkerSandbox, activityOptions(jeevesactivity.ActivityCleanupWorkerSandbox))
	w.RegisterActivityWithOptions(activities.RunWorkerTask, activityOptions(jeevesactivity.ActivityRunWorkerTask))
	w.RegisterActivityWithOptions(activities.NotifyRunComplete, activityOptions(jeevesactivity.ActivityNotifyRunComplete))

	logger.Info("worker started")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutting down")
		cancel()
	}()

	if err := w.Run(worker.InterruptCh()); err != nil {
		logger.Error("worker failed", "err", err)
		os.Exit(1)
	}

	<-ctx.Done()
}

func activityOptions(name string) worker.RegisterActivityOptions {
	return worker.RegisterActivityOptions{Name: name}
}

func serveMetrics(logger *slog.Logger, reg *prometheus.Registry) {
	addr := envOr("JEEVES_METRICS_ADDR", ":9090")
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	logger.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "err", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes"
}

// temporalLogger adapts a *slog.Logger to go.temporal.io/sdk/log.Logger so
// Temporal's client and worker both log through the same handler (and the
// same "component": "jeeves-worker" attribute) as everything else this
// process logs.
type temporalLogger struct {
	logger *slog.Logger
}

func (l temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, toSlogArgs(keyvals)...)
}

func (l temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, toSlogArgs(keyvals)...)
}

func (l temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, toSlogArgs(keyvals)...)
}

func (l temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, toSlogArgs(keyvals)...)
}

// toSlogArgs converts Temporal's alternating key-value pairs to slog.Attr
// args, tolerating an odd-length tail instead of dropping it silently.
func toSlogArgs(keyvals []interface{}) []any {
	if len(keyvals) == 0 {
		return nil
	}
	args := make([]any, 0, len(keyvals))
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, _ := keyvals[i].(string)
		args = append(args, slog.Any(key, keyvals[i+1]))
	}
	if len(keyvals)%2 != 0 {
		args = append(args, slog.Any("MISSING_VALUE", keyvals[len(keyvals)-1]))
	}
	return args
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

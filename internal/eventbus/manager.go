package eventbus

import (
	"context"
	"time"
)

// DefaultPollInterval is how often TailerManager re-checks every tailer,
// within spec's 100-250ms budget for viewer responsiveness.
const DefaultPollInterval = 150 * time.Millisecond

type workerTailers struct {
	log *Tailer
	sdk *SDKTailer
}

// TailerManager owns the primary per-issue log/sdk tailers plus one tailer
// pair per currently-active worker task, reconciling the worker set each
// tick against activeTaskIDs. A task ID that stops being active is polled
// one more cycle (to drain its last lines before the sandbox is cleaned up)
// and then dropped.
type TailerManager struct {
	bus             *Bus
	issueCoordinate string

	primaryLog *Tailer
	primarySDK *SDKTailer

	activeTaskIDs func() ([]string, error)
	derivePaths   func(taskID string) (logPath, sdkPath string, err error)

	workers     map[string]*workerTailers
	drainedOnce map[string]bool
}

// NewTailerManager creates a manager for one issue's primary log/sdk files
// plus its fanout workers. activeTaskIDs should return the task IDs
// currently dispatched by a fanout phase; derivePaths resolves one task ID
// to its worker state dir's last-run.log/sdk-output.json paths.
func NewTailerManager(
	bus *Bus,
	issueCoordinate string,
	primaryLogPath, primarySDKPath string,
	activeTaskIDs func() ([]string, error),
	derivePaths func(taskID string) (logPath, sdkPath string, err error),
) *TailerManager {
	return &TailerManager{
		bus:             bus,
		issueCoordinate: issueCoordinate,
		primaryLog:      NewTailer(primaryLogPath, issueCoordinate, ""),
		primarySDK:      NewSDKTailer(primarySDKPath, issueCoordinate, ""),
		activeTaskIDs:   activeTaskIDs,
		derivePaths:     derivePaths,
		workers:         make(map[string]*workerTailers),
		drainedOnce:     make(map[string]bool),
	}
}

// Run polls every tailer at interval until ctx is cancelled.
func (m *TailerManager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *TailerManager) tick() {
	_ = m.primaryLog.Poll(m.bus)
	_ = m.primarySDK.Poll(m.bus)

	ids, err := m.activeTaskIDs()
	if err != nil {
		return
	}
	active := make(map[string]bool, len(ids))
	for _, id := range ids {
		active[id] = true
		delete(m.drainedOnce, id)
		if _, ok := m.workers[id]; !ok {
			logPath, sdkPath, derr := m.derivePaths(id)
			if derr != nil {
				continue
			}
			m.workers[id] = &workerTailers{
				log: NewTailer(logPath, m.issueCoordinate, id),
				sdk: NewSDKTailer(sdkPath, m.issueCoordinate, id),
			}
		}
		wt := m.workers[id]
		_ = wt.log.Poll(m.bus)
		_ = wt.sdk.Poll(m.bus)
	}

	for id, wt := range m.workers {
		if active[id] {
			continue
		}
		_ = wt.log.Poll(m.bus)
		_ = wt.sdk.Poll(m.bus)
		if m.drainedOnce[id] {
			delete(m.workers, id)
			delete(m.drainedOnce, id)
			continue
		}
		m.drainedOnce[id] = true
	}
}

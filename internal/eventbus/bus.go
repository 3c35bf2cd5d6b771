// Package eventbus implements the Event Bus (C5): a process-wide,
// many-writer/many-reader fan-out of an issue's progress, modeled on the
// teacher's internal/server/sse.go snapshot-then-poll loop but generalized
// from a single status poll into a push model fed by internal/eventbus's
// file tailers, with a snapshot-then-tail subscribe contract so a new
// viewer connection never starts from a blank screen.
package eventbus

import (
	"sort"
	"sync"
	"time"

	"github.com/hansjm10/jeeves/internal/metrics"
	"github.com/hansjm10/jeeves/internal/model"
)

// Kind is one of the four event categories the bus carries.
type Kind string

const (
	KindState  Kind = "state"
	KindLog    Kind = "log"
	KindWorker Kind = "worker"
	KindSDK    Kind = "sdk"
)

// SDKProgress is the message-count/tool-count/completion triple an
// SDKTailer derives from sdk-output.json without replaying every event.
type SDKProgress struct {
	MessageCount int  `json:"message_count"`
	ToolCount    int  `json:"tool_count"`
	Completed    bool `json:"completed"`
}

// Event is one item on the bus.
type Event struct {
	Kind            Kind             `json:"kind"`
	IssueCoordinate string           `json:"issue_coordinate"`
	TaskID          string           `json:"task_id,omitempty"`
	Timestamp       time.Time        `json:"timestamp"`
	Line            string           `json:"line,omitempty"`
	SDK             *SDKProgress     `json:"sdk,omitempty"`
	Run             *model.RunRecord `json:"run,omitempty"`
	Worker          *model.WorkerStatus `json:"worker,omitempty"`
}

// Per-issue ring buffer caps, matched to spec's 10k-lines/500-structured
// budget so a long-running issue never grows Bus's memory unbounded.
const (
	maxLogEvents        = 10000
	maxStructuredEvents = 500
)

type issueRing struct {
	logs       []Event
	structured []Event
}

func (r *issueRing) append(e Event) {
	if e.Kind == KindLog {
		r.logs = append(r.logs, e)
		if len(r.logs) > maxLogEvents {
			r.logs = r.logs[len(r.logs)-maxLogEvents:]
		}
		return
	}
	r.structured = append(r.structured, e)
	if len(r.structured) > maxStructuredEvents {
		r.structured = r.structured[len(r.structured)-maxStructuredEvents:]
	}
}

func (r *issueRing) snapshot() []Event {
	out := make([]Event, 0, len(r.logs)+len(r.structured))
	out = append(out, r.logs...)
	out = append(out, r.structured...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

type subscriber struct {
	ch chan Event
}

// Bus fans published events out to subscribers scoped by issue coordinate,
// replaying each issue's recent ring buffer to a new subscriber before its
// channel starts delivering live events.
type Bus struct {
	mu    sync.Mutex
	rings map[string]*issueRing
	subs  map[string]map[*subscriber]struct{}
	m     *metrics.Metrics
}

// New creates an empty Bus. m may be nil to disable drop-rate metrics.
func New(m *metrics.Metrics) *Bus {
	return &Bus{
		rings: make(map[string]*issueRing),
		subs:  make(map[string]map[*subscriber]struct{}),
		m:     m,
	}
}

// Publish appends e to its issue's ring buffer and fans it out to every
// subscriber of that issue. A subscriber whose buffered channel is full has
// the event dropped for it rather than blocking the publisher, matching the
// teacher's "never let a slow reader stall the writer" SSE push loop.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.Lock()
	r, ok := b.rings[e.IssueCoordinate]
	if !ok {
		r = &issueRing{}
		b.rings[e.IssueCoordinate] = r
	}
	r.append(e)

	var targets []*subscriber
	for s := range b.subs[e.IssueCoordinate] {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	for _, s := range targets {
		select {
		case s.ch <- e:
		default:
			if b.m != nil {
				b.m.EventBusDroppedTotal.Inc()
			}
		}
	}
}

// Subscribe returns a snapshot of an issue's recent events plus a channel
// that will receive events published after the snapshot was taken. The
// caller must invoke cancel when done to release the subscription.
func (b *Bus) Subscribe(issueCoordinate string) (snapshot []Event, events <-chan Event, cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if r, ok := b.rings[issueCoordinate]; ok {
		snapshot = r.snapshot()
	}

	s := &subscriber{ch: make(chan Event, 256)}
	if b.subs[issueCoordinate] == nil {
		b.subs[issueCoordinate] = make(map[*subscriber]struct{})
	}
	b.subs[issueCoordinate][s] = struct{}{}

	cancel = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if set, ok := b.subs[issueCoordinate]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(b.subs, issueCoordinate)
			}
		}
		close(s.ch)
	}
	return snapshot, s.ch, cancel
}

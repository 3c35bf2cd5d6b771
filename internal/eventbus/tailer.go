package eventbus

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/hansjm10/jeeves/internal/sdkevent"
)

// Tailer incrementally reads new, newline-terminated lines appended to a
// last-run.log file and publishes one KindLog event per line, tracking a
// byte offset across polls the way a `tail -f` would rather than re-reading
// the whole file each time.
type Tailer struct {
	Path            string
	IssueCoordinate string
	TaskID          string

	offset int64
}

// NewTailer creates a Tailer for a specific file path, issue coordinate and
// (for fanout phases) worker task ID. TaskID is empty for the primary
// per-issue log.
func NewTailer(path, issueCoordinate, taskID string) *Tailer {
	return &Tailer{Path: path, IssueCoordinate: issueCoordinate, TaskID: taskID}
}

// Poll reads whatever bytes were appended since the last call and publishes
// one event per complete line. A missing file (not yet created by the
// activity writing it) is not an error.
func (t *Tailer) Poll(bus *Bus) error {
	f, err := os.Open(t.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return err
	}

	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			// An unterminated trailing line is left for the next poll.
			return nil
		}
		if err != nil {
			return err
		}
		bus.Publish(Event{
			Kind:            KindLog,
			IssueCoordinate: t.IssueCoordinate,
			TaskID:          t.TaskID,
			Line:            strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r"),
		})
		t.offset += int64(len(line))
	}
}

// SDKTailer watches sdk-output.json and publishes the message-count/
// tool-count/completion triple whenever it changes, rather than re-emitting
// every individual event already visible on the KindLog stream.
type SDKTailer struct {
	Path            string
	IssueCoordinate string
	TaskID          string

	lastModTime int64
	lastSize    int64
}

// NewSDKTailer creates an SDKTailer for one sdk-output.json path.
func NewSDKTailer(path, issueCoordinate, taskID string) *SDKTailer {
	return &SDKTailer{Path: path, IssueCoordinate: issueCoordinate, TaskID: taskID}
}

// Poll re-parses sdk-output.json if it changed since the last poll and
// publishes a KindSDK progress event.
func (t *SDKTailer) Poll(bus *Bus) error {
	info, err := os.Stat(t.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	modTime := info.ModTime().UnixNano()
	if modTime == t.lastModTime && info.Size() == t.lastSize {
		return nil
	}

	data, err := os.ReadFile(t.Path)
	if err != nil {
		return err
	}
	var doc sdkevent.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		// A partial write caught mid-flush; retry next poll rather than
		// publishing a progress event for malformed JSON.
		return nil
	}
	t.lastModTime = modTime
	t.lastSize = info.Size()

	progress := SDKProgress{Completed: doc.Success}
	for _, e := range doc.Events {
		switch e.Type {
		case sdkevent.EventAssistant:
			progress.MessageCount++
		case sdkevent.EventToolUse:
			progress.ToolCount += len(e.ToolUses)
		case sdkevent.EventResult:
			progress.Completed = true
		}
	}

	bus.Publish(Event{
		Kind:            KindSDK,
		IssueCoordinate: t.IssueCoordinate,
		TaskID:          t.TaskID,
		SDK:             &progress,
	})
	return nil
}

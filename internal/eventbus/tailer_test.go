package eventbus_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hansjm10/jeeves/internal/eventbus"
	"github.com/hansjm10/jeeves/internal/sdkevent"
)

func TestTailer_PollIsNoopWhenFileMissing(t *testing.T) {
	bus := eventbus.New(nil)
	tailer := eventbus.NewTailer(filepath.Join(t.TempDir(), "missing.log"), "acme/widgets#1", "")
	require.NoError(t, tailer.Poll(bus))
}

func TestTailer_PollReadsOnlyAppendedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last-run.log")
	require.NoError(t, os.WriteFile(path, []byte("line one\nline two\n"), 0o644))

	bus := eventbus.New(nil)
	_, events, cancel := bus.Subscribe("acme/widgets#1")
	defer cancel()

	tailer := eventbus.NewTailer(path, "acme/widgets#1", "")
	require.NoError(t, tailer.Poll(bus))

	first := <-events
	second := <-events
	assert.Equal(t, "line one", first.Line)
	assert.Equal(t, "line two", second.Line)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("line three\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, tailer.Poll(bus))
	third := <-events
	assert.Equal(t, "line three", third.Line)

	select {
	case e := <-events:
		t.Fatalf("unexpected extra event: %+v", e)
	default:
	}
}

func TestTailer_ScopesEventsToTaskID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last-run.log")
	require.NoError(t, os.WriteFile(path, []byte("worker line\n"), 0o644))

	bus := eventbus.New(nil)
	tailer := eventbus.NewTailer(path, "acme/widgets#1", "task-a")
	require.NoError(t, tailer.Poll(bus))

	snapshot, _, cancel := bus.Subscribe("acme/widgets#1")
	defer cancel()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "task-a", snapshot[0].TaskID)
}

func TestSDKTailer_PublishesProgressOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sdk-output.json")
	doc := sdkevent.Document{}
	doc.Append(sdkevent.Event{Type: sdkevent.EventAssistant})
	doc.Append(sdkevent.Event{Type: sdkevent.EventToolUse, ToolUses: []sdkevent.ToolUse{{}, {}}})
	writeDocument(t, path, &doc)

	bus := eventbus.New(nil)
	_, events, cancel := bus.Subscribe("acme/widgets#1")
	defer cancel()

	tailer := eventbus.NewSDKTailer(path, "acme/widgets#1", "")
	require.NoError(t, tailer.Poll(bus))

	e := <-events
	require.NotNil(t, e.SDK)
	assert.Equal(t, 1, e.SDK.MessageCount)
	assert.Equal(t, 2, e.SDK.ToolCount)
	assert.False(t, e.SDK.Completed)
}

func TestSDKTailer_PollIsNoopWhenUnchanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sdk-output.json")
	doc := sdkevent.Document{}
	doc.Append(sdkevent.Event{Type: sdkevent.EventAssistant})
	writeDocument(t, path, &doc)

	bus := eventbus.New(nil)
	_, events, cancel := bus.Subscribe("acme/widgets#1")
	defer cancel()

	tailer := eventbus.NewSDKTailer(path, "acme/widgets#1", "")
	require.NoError(t, tailer.Poll(bus))
	<-events

	require.NoError(t, tailer.Poll(bus))
	select {
	case e := <-events:
		t.Fatalf("unexpected repeat event for unchanged file: %+v", e)
	default:
	}
}

func TestSDKTailer_IgnoresMalformedJSONUntilNextPoll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sdk-output.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"events": [`), 0o644))

	bus := eventbus.New(nil)
	tailer := eventbus.NewSDKTailer(path, "acme/widgets#1", "")
	require.NoError(t, tailer.Poll(bus))

	doc := sdkevent.Document{}
	doc.Append(sdkevent.Event{Type: sdkevent.EventResult, Success: boolPtr(true)})
	writeDocument(t, path, &doc)

	_, events, cancel := bus.Subscribe("acme/widgets#1")
	defer cancel()
	require.NoError(t, tailer.Poll(bus))
	e := <-events
	assert.True(t, e.SDK.Completed)
}

func writeDocument(t *testing.T, path string, doc *sdkevent.Document) {
	t.Helper()
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func boolPtr(b bool) *bool { return &b }

package eventbus_test

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hansjm10/jeeves/internal/eventbus"
	"github.com/hansjm10/jeeves/internal/model"
	"github.com/hansjm10/jeeves/internal/state"
)

func newTestServer(t *testing.T) (*eventbus.Server, *eventbus.Bus, *state.Store) {
	t.Helper()
	dir := t.TempDir()
	store, err := state.New(dir)
	require.NoError(t, err)

	bus := eventbus.New(nil)
	srv := eventbus.NewServer(bus, func(issueCoordinate string) (*state.Store, error) {
		return store, nil
	})
	return srv, bus, store
}

func TestServer_HealthCheck(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestServer_GetIssueReturnsStoredIssue(t *testing.T) {
	srv, _, store := newTestServer(t)
	require.NoError(t, store.PutIssue(model.Issue{Repo: "acme/widgets", IssueNumber: 1, Title: "fix the thing"}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/issues/acme%2Fwidgets%231", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var issue model.Issue
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &issue))
	assert.Equal(t, "fix the thing", issue.Title)
}

func TestServer_GetIssueNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/issues/acme%2Fwidgets%239", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_GetRun(t *testing.T) {
	srv, _, store := newTestServer(t)
	require.NoError(t, store.PutRunRecord(model.RunRecord{RunID: "run-1", Running: false}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/issues/acme%2Fwidgets%231/runs/run-1", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var rr model.RunRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rr))
	assert.Equal(t, "run-1", rr.RunID)
}

func TestServer_EventsStreamsSnapshotThenLiveEvents(t *testing.T) {
	srv, bus, _ := newTestServer(t)

	bus.Publish(eventbus.Event{Kind: eventbus.KindLog, IssueCoordinate: "acme/widgets#1", Line: "before connect"})

	httpSrv := httptest.NewServer(srv)
	defer httpSrv.Close()

	resp, err := http.Get(httpSrv.URL + "/api/v1/issues/acme%2Fwidgets%231/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	reader := bufio.NewReader(resp.Body)

	eventLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(eventLine, "event: log"))
	dataLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, dataLine, "before connect")

	done := make(chan struct{})
	go func() {
		bus.Publish(eventbus.Event{Kind: eventbus.KindLog, IssueCoordinate: "acme/widgets#1", Line: "after connect"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish did not complete")
	}

	liveEventLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	_ = liveEventLine
	liveDataLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, liveDataLine, "after connect")
}

package github

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hansjm10/jeeves/internal/model"
)

func TestParseCoordinate_Valid(t *testing.T) {
	owner, repo, number, err := parseCoordinate("acme/widgets#42")
	require.NoError(t, err)
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "widgets", repo)
	assert.Equal(t, 42, number)
}

func TestParseCoordinate_MissingHash(t *testing.T) {
	_, _, _, err := parseCoordinate("acme/widgets")
	assert.Error(t, err)
}

func TestParseCoordinate_MissingSlash(t *testing.T) {
	_, _, _, err := parseCoordinate("widgets#42")
	assert.Error(t, err)
}

func TestParseCoordinate_NonNumericIssue(t *testing.T) {
	_, _, _, err := parseCoordinate("acme/widgets#abc")
	assert.Error(t, err)
}

func TestFetchIssue_MapsTitleAndBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/issues/42", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"number": 42, "title": "fix the thing", "body": "steps to reproduce"}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	p := New("")
	baseURL, err := url.Parse(server.URL + "/")
	require.NoError(t, err)
	p.client.BaseURL = baseURL

	issue, err := p.FetchIssue(context.Background(), "acme/widgets#42")
	require.NoError(t, err)
	assert.Equal(t, "acme/widgets", issue.Repo)
	assert.Equal(t, 42, issue.IssueNumber)
	assert.Equal(t, "fix the thing", issue.Title)
	assert.Equal(t, "steps to reproduce", issue.Description)
	assert.Equal(t, model.ProviderGitHub, issue.Provider)
	assert.Equal(t, "issue/42", issue.Branch)
}

func TestFetchIssue_InvalidCoordinate(t *testing.T) {
	p := New("")
	_, err := p.FetchIssue(context.Background(), "not-a-coordinate")
	assert.Error(t, err)
}

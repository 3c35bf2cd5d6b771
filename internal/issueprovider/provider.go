// Package issueprovider defines the IssueProvider interface: the only
// contract through which an issue-tracking system is ever addressed. No
// caller ever imports a tracker-specific client type directly.
package issueprovider

import (
	"context"

	"github.com/hansjm10/jeeves/internal/model"
)

// IssueProvider fetches the fields that populate an Issue record from a
// tracker-specific coordinate (e.g. "owner/repo#42" for GitHub).
type IssueProvider interface {
	// FetchIssue retrieves the issue's current title, description and
	// provider metadata. It never mutates tracker state.
	FetchIssue(ctx context.Context, coordinate string) (*model.Issue, error)
}

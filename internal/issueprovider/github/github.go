// Package github is a thin google/go-github + oauth2 adapter implementing
// issueprovider.IssueProvider, grounded on the teacher's own GitHubActivities
// token-source and client-construction idiom but reduced to a read-only
// issue fetch: this repo never opens pull requests or mutates tracker state.
package github

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	"github.com/hansjm10/jeeves/internal/model"
)

// Provider fetches issues from github.com (or a GitHub Enterprise instance)
// using a personal access or app-installation token.
type Provider struct {
	client *github.Client
}

// New builds a Provider authenticated with token. An empty token yields an
// unauthenticated client, which GitHub rate-limits heavily — callers should
// always supply one in production.
func New(token string) *Provider {
	if token == "" {
		return &Provider{client: github.NewClient(nil)}
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(context.Background(), ts)
	return &Provider{client: github.NewClient(tc)}
}

// FetchIssue retrieves owner/repo#number and maps it onto model.Issue.
// coordinate must be of the form "owner/repo#number".
func (p *Provider) FetchIssue(ctx context.Context, coordinate string) (*model.Issue, error) {
	owner, repo, number, err := parseCoordinate(coordinate)
	if err != nil {
		return nil, err
	}

	issue, _, err := p.client.Issues.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", coordinate, err)
	}

	return &model.Issue{
		Version:     model.SchemaVersion,
		Repo:        owner + "/" + repo,
		IssueNumber: number,
		Title:       issue.GetTitle(),
		Description: issue.GetBody(),
		Provider:    model.ProviderGitHub,
		Branch:      fmt.Sprintf("issue/%d", number),
	}, nil
}

// parseCoordinate splits "owner/repo#number" into its three parts.
func parseCoordinate(coordinate string) (owner, repo string, number int, err error) {
	repoPart, numberPart, ok := strings.Cut(coordinate, "#")
	if !ok {
		return "", "", 0, fmt.Errorf("invalid issue coordinate %q: missing '#number'", coordinate)
	}
	owner, repo, ok = strings.Cut(repoPart, "/")
	if !ok {
		return "", "", 0, fmt.Errorf("invalid issue coordinate %q: missing 'owner/repo'", coordinate)
	}
	number, err = strconv.Atoi(numberPart)
	if err != nil {
		return "", "", 0, fmt.Errorf("invalid issue coordinate %q: %w", coordinate, err)
	}
	return owner, repo, number, nil
}

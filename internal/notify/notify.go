// Package notify is the optional Slack notification hook, grounded on the
// teacher's SlackActivities/NotifySlack call-site convention
// (internal/workflow/bugfix.go's `NotifySlack(ctx, channel, message,
// threadTS)`) but reduced to the single terminal-state hook this spec
// needs: HITL approval runs through the engine's own approve/reject
// signals, not through a Slack round trip.
package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/hansjm10/jeeves/internal/model"
)

// Client posts a best-effort notification when a run reaches a terminal
// state. A Client built with an empty token or channel is permanently
// disabled: every call becomes a silent no-op rather than an error, so a
// deployment that never sets SLACK_BOT_TOKEN is unaffected.
type Client struct {
	slack   *slack.Client
	channel string
}

// New builds a Client. Pass the bot token from SLACK_BOT_TOKEN and the
// target channel from SLACK_NOTIFY_CHANNEL; either being empty disables
// notification.
func New(token, channel string) *Client {
	if token == "" || channel == "" {
		return &Client{}
	}
	return &Client{slack: slack.New(token), channel: channel}
}

// Enabled reports whether this Client will actually post anything.
func (c *Client) Enabled() bool {
	return c.slack != nil
}

// NotifyRunComplete posts a one-line summary of a run's terminal outcome.
// Failures to post are returned to the caller (the NotifyRunComplete
// activity passes them on, and the engine logs them as a warning - a
// notification failure never fails the run).
func (c *Client) NotifyRunComplete(ctx context.Context, issueCoordinate string, reason model.CompletionReason, lastErr string) error {
	if !c.Enabled() {
		return nil
	}

	text := fmt.Sprintf("jeeves: %s finished (%s)", issueCoordinate, reason)
	if lastErr != "" {
		text += fmt.Sprintf("\nerror: %s", lastErr)
	}

	_, _, err := c.slack.PostMessageContext(ctx, c.channel, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("notify slack: %w", err)
	}
	return nil
}

// Package anthropic is the one reference AgentProvider implementation the
// core ships, talking to the Claude Messages API directly. It is the only
// package outside internal/provider/fake allowed to import
// anthropic-sdk-go (spec §1's provider boundary).
package anthropic

import (
	"context"
	"log/slog"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hansjm10/jeeves/internal/provider"
	"github.com/hansjm10/jeeves/internal/sdkevent"
)

// Model is the Claude model used for phase prompts. Kept as a package
// variable rather than a constant so tests and operators can override it.
var Model = sdk.ModelClaudeSonnet4_5

// Provider runs a phase prompt through the Claude Messages API and
// translates the response into the jeeves.sdk.v1 event vocabulary.
type Provider struct {
	client    sdk.Client
	maxTokens int64
}

// New constructs a Provider using ANTHROPIC_API_KEY from the environment,
// the same convention the SDK's NewClient() follows.
func New() *Provider {
	return &Provider{client: sdk.NewClient(), maxTokens: 4096}
}

func (p *Provider) Run(ctx context.Context, prompt string, opts provider.Options) (<-chan sdkevent.Event, error) {
	maxTokens := int64(opts.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	ch := make(chan sdkevent.Event, 8)
	go func() {
		defer close(ch)

		emit := func(e sdkevent.Event) {
			select {
			case ch <- e:
			case <-ctx.Done():
			}
		}

		emit(sdkevent.Event{Type: sdkevent.EventSystem, Text: "phase started"})

		msg, err := p.client.Messages.New(ctx, sdk.MessageNewParams{
			Model:     Model,
			MaxTokens: maxTokens,
			Messages: []sdk.MessageParam{
				{
					Role: sdk.MessageParamRoleUser,
					Content: []sdk.ContentBlockParamUnion{
						{OfText: &sdk.TextBlockParam{Text: prompt}},
					},
				},
			},
		})
		if err != nil {
			slog.ErrorContext(ctx, "anthropic provider: Messages.New failed", "err", err)
			emit(sdkevent.Event{Type: sdkevent.EventError, Error: err.Error()})
			emit(sdkevent.Event{Type: sdkevent.EventResult, Success: boolPtr(false)})
			return
		}

		var sawToolUse bool
		for _, block := range msg.Content {
			switch block.Type {
			case "text":
				if block.Text != "" {
					emit(sdkevent.Event{Type: sdkevent.EventAssistant, Text: block.Text})
				}
			case "tool_use":
				sawToolUse = true
				emit(sdkevent.Event{
					Type: sdkevent.EventToolUse,
					ToolUses: []sdkevent.ToolUse{
						{Name: block.Name, Input: block.Input},
					},
				})
			}
		}

		success := msg.StopReason != "refusal" && msg.StopReason != "error"
		_ = sawToolUse
		emit(sdkevent.Event{Type: sdkevent.EventResult, Success: boolPtr(success)})
	}()

	return ch, nil
}

func boolPtr(b bool) *bool { return &b }

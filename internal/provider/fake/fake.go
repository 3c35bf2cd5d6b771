// Package fake provides a deterministic, in-process AgentProvider used by
// the engine's own tests (spec §8's "fake provider" scenarios) without
// exercising any real LLM SDK.
package fake

import (
	"context"
	"time"

	"github.com/hansjm10/jeeves/internal/provider"
	"github.com/hansjm10/jeeves/internal/sdkevent"
)

// Provider replays a fixed sequence of events, recording the prompt it was
// given so tests can assert on prompt assembly.
type Provider struct {
	Events []sdkevent.Event

	// CapturedPrompt is set after Run is called.
	CapturedPrompt string
	CapturedOpts   provider.Options
}

// NewResultOnly returns a Provider that yields one assistant event ("done")
// followed by a successful result event, matching spec §8 scenario 1's trivial fixture.
func NewResultOnly() *Provider {
	ok := true
	return &Provider{
		Events: []sdkevent.Event{
			{Type: sdkevent.EventAssistant, Text: "done"},
			{Type: sdkevent.EventResult, Success: &ok},
		},
	}
}

func (p *Provider) Run(ctx context.Context, prompt string, opts provider.Options) (<-chan sdkevent.Event, error) {
	p.CapturedPrompt = prompt
	p.CapturedOpts = opts

	ch := make(chan sdkevent.Event, len(p.Events))
	go func() {
		defer close(ch)
		for _, e := range p.Events {
			if e.Timestamp.IsZero() {
				e.Timestamp = time.Now().UTC()
			}
			select {
			case <-ctx.Done():
				return
			case ch <- e:
			}
		}
	}()
	return ch, nil
}

// Package provider defines the AgentProvider boundary (spec §4.2/§1): the
// narrow interface through which the core sees an LLM coding agent. The
// core's own code never talks to an LLM SDK directly outside of the one
// reference implementation in internal/provider/anthropic.
package provider

import (
	"context"

	"github.com/hansjm10/jeeves/internal/sdkevent"
)

// Options carries the inputs a provider run needs beyond the prompt text.
type Options struct {
	WorkingDir     string
	PermissionMode string
	MCPServers     []string // names of MCP servers reachable from this run
	MaxTokens      int
}

// AgentProvider runs one phase's prompt against an LLM coding agent and
// yields its event stream. Run must honor ctx cancellation by terminating
// the underlying process/request promptly.
type AgentProvider interface {
	Run(ctx context.Context, prompt string, opts Options) (<-chan sdkevent.Event, error)
}

// Package main is the jeeves-state-mcp entry point: an MCP stdio server
// exposing internal/state.Store as the eleven state_* tools, launched as a
// subprocess of the provider CLI so the provider's only path to state
// mutation is through these tool calls.
package main

import (
	"log/slog"
	"os"

	"github.com/hansjm10/jeeves/internal/state"
	"github.com/hansjm10/jeeves/internal/statemcp"
)

func main() {
	// Stdout is reserved for the MCP protocol stream; every log line goes
	// to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	statePath := os.Getenv("JEEVES_MCP_STATE_PATH")
	if statePath == "" {
		logger.Error("JEEVES_MCP_STATE_PATH is not set")
		os.Exit(1)
	}

	store, err := state.New(statePath)
	if err != nil {
		logger.Error("failed to open state directory", "path", statePath, "err", err)
		os.Exit(1)
	}

	srv := statemcp.NewServer(store)
	if err := srv.ServeStdio(); err != nil {
		logger.Error("state mcp server stopped", "err", err)
		os.Exit(1)
	}
}

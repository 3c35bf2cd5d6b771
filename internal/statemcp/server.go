// Package statemcp is the MCP server a provider CLI talks to for every
// state mutation: one tool per internal/state.Store operation, wired over
// stdio so the provider process (launched as a subprocess by
// internal/activity) can reach it without touching the state directory
// directly.
package statemcp

import (
	"fmt"

	"github.com/mark3labs/mcp-go/server"

	"github.com/hansjm10/jeeves/internal/state"
)

// Server wraps the mcp-go stdio server around a single *state.Store.
type Server struct {
	mcpServer *server.MCPServer
	store     *state.Store
}

// NewServer builds the server and registers every state_* tool against
// store. store is the already-opened state directory the provider subprocess
// has been scoped to for this task or run.
func NewServer(store *state.Store) *Server {
	mcpServer := server.NewMCPServer(
		"jeeves-state-mcp",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	s := &Server{
		mcpServer: mcpServer,
		store:     store,
	}
	s.setupTools()
	return s
}

// ServeStdio blocks, serving tool calls over stdin/stdout until the client
// closes the connection or ctx's underlying process is killed.
func (s *Server) ServeStdio() error {
	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("state mcp stdio server: %w", err)
	}
	return nil
}

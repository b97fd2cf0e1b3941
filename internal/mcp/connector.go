package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"orchestrator/internal/apperrors"
	"orchestrator/internal/logging"
)

const protocolVersion = "2024-11-05"

// Connector owns one MCP server session for the lifetime of a workspace
// session (spec §4.2).
type Connector interface {
	// Connect performs the init handshake and discovers tools.
	Connect(ctx context.Context) error
	// CallTool invokes one discovered tool and returns its unwrapped result.
	CallTool(ctx context.Context, tool string, arguments map[string]any) (any, error)
	// Tools returns the cached tool list from the last discovery.
	Tools() []ToolInfo
	// Disconnect signals the transport to close and waits for it to finish.
	Disconnect(ctx context.Context) error
	// Name is the configured server name this connector serves.
	Name() string
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeParams struct {
	ProtocolVersion string     `json:"protocolVersion"`
	Capabilities    struct{}   `json:"capabilities"`
	ClientInfo      clientInfo `json:"clientInfo"`
}

var defaultClientInfo = clientInfo{Name: "orchestrator-mcp-client", Version: "1.0.0"}

func buildInitializeRequest(id int64) (*Request, error) {
	return NewRequest(id, "initialize", initializeParams{
		ProtocolVersion: protocolVersion,
		ClientInfo:      defaultClientInfo,
	})
}

func buildInitializedNotification() (*Request, error) {
	return NewNotification("notifications/initialized", nil)
}

type toolsListResult struct {
	Tools []ToolInfo `json:"tools"`
}

func parseToolsList(raw json.RawMessage, serverName string) ([]ToolInfo, error) {
	var result toolsListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse tools/list result: %w", err)
	}
	for i := range result.Tools {
		result.Tools[i].ServerName = serverName
	}
	return result.Tools, nil
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

func buildCallToolRequest(id int64, tool string, arguments map[string]any) (*Request, error) {
	return NewRequest(id, "tools/call", callToolParams{Name: tool, Arguments: arguments})
}

// newMCPError converts a wire RPCError plus call context into the typed
// apperrors.MCPError used throughout the core (spec §7.5).
func newMCPError(server, tool string, rpcErr *RPCError) *apperrors.MCPError {
	return &apperrors.MCPError{Server: server, Tool: tool, Code: rpcErr.Code, Message: rpcErr.Message}
}

func nopLogger() logging.Logger { return logging.OrNop(nil) }

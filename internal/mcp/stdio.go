package mcp

import (
	"context"
	"fmt"
	"sync"

	"orchestrator/internal/logging"
)

// StdioConnector runs an MCP server as a local child process and
// communicates over line-delimited JSON-RPC on its stdin/stdout. A single
// per-connector mutex serializes each write + matching read so that
// request/response correlation never needs id-multiplexing (spec §4.2).
type StdioConnector struct {
	config ServerConfig
	ids    *RequestIDGenerator
	logger logging.Logger

	process *ProcessManager

	callMu sync.Mutex
	tools  []ToolInfo

	connectErr error
}

// NewStdioConnector constructs a connector bound to one stdio server
// config and the process-global id generator.
func NewStdioConnector(config ServerConfig, ids *RequestIDGenerator, logger logging.Logger) *StdioConnector {
	return &StdioConnector{
		config: config,
		ids:    ids,
		logger: logging.OrNop(logger).With("mcp.stdio." + config.Name),
	}
}

func (c *StdioConnector) Name() string { return c.config.Name }

func (c *StdioConnector) Connect(ctx context.Context) error {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	c.process = NewProcessManager(ProcessConfig{
		Command: c.config.Command,
		Args:    c.config.Args,
		Env:     c.config.ResolvedEnv(),
	})
	if err := c.process.Start(); err != nil {
		c.connectErr = err
		return err
	}

	if err := c.handshakeLocked(); err != nil {
		c.connectErr = err
		return err
	}
	return nil
}

func (c *StdioConnector) handshakeLocked() error {
	initReq, err := buildInitializeRequest(c.ids.Next())
	if err != nil {
		return err
	}
	if _, err := c.roundTripLocked(initReq); err != nil {
		return fmt.Errorf("mcp initialize handshake: %w", err)
	}

	notif, err := buildInitializedNotification()
	if err != nil {
		return err
	}
	if err := c.sendLocked(notif); err != nil {
		return fmt.Errorf("mcp initialized notification: %w", err)
	}

	listReq, err := NewRequest(c.ids.Next(), "tools/list", nil)
	if err != nil {
		return err
	}
	resp, err := c.roundTripLocked(listReq)
	if err != nil {
		return fmt.Errorf("mcp tools/list: %w", err)
	}
	tools, err := parseToolsList(resp.Result, c.config.Name)
	if err != nil {
		return err
	}
	c.tools = tools
	return nil
}

func (c *StdioConnector) sendLocked(req *Request) error {
	raw, err := Marshal(req)
	if err != nil {
		return err
	}
	return c.process.WriteLine(raw)
}

func (c *StdioConnector) roundTripLocked(req *Request) (*Response, error) {
	if err := c.sendLocked(req); err != nil {
		return nil, err
	}
	line, err := c.process.ReadLine()
	if err != nil {
		return nil, err
	}
	resp, err := UnmarshalResponse(line)
	if err != nil {
		return nil, fmt.Errorf("mcp response decode: %w", err)
	}
	return resp, nil
}

func (c *StdioConnector) Tools() []ToolInfo {
	c.callMu.Lock()
	defer c.callMu.Unlock()
	out := make([]ToolInfo, len(c.tools))
	copy(out, c.tools)
	return out
}

func (c *StdioConnector) CallTool(ctx context.Context, tool string, arguments map[string]any) (any, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	req, err := buildCallToolRequest(c.ids.Next(), tool, arguments)
	if err != nil {
		return nil, err
	}
	resp, err := c.roundTripLocked(req)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, newMCPError(c.config.Name, tool, resp.Error)
	}
	return UnwrapResult(resp.Result)
}

func (c *StdioConnector) Disconnect(ctx context.Context) error {
	c.callMu.Lock()
	defer c.callMu.Unlock()
	if c.process == nil {
		return nil
	}
	return c.process.Stop(defaultDisconnectTimeout)
}

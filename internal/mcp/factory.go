package mcp

import (
	"fmt"

	"orchestrator/internal/logging"
)

// NewConnector builds the transport-appropriate Connector for a server
// config (spec §4.2).
func NewConnector(config ServerConfig, ids *RequestIDGenerator, logger logging.Logger) (Connector, error) {
	switch config.Transport {
	case TransportStdio:
		return NewStdioConnector(config, ids, logger), nil
	case TransportSSE, TransportHTTP:
		return NewHTTPConnector(config, ids, logger), nil
	default:
		return nil, fmt.Errorf("mcp server %q: unsupported transport %q", config.Name, config.Transport)
	}
}

package mcp

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"orchestrator/internal/logging"
)

// Registry supervises N connectors for one workspace session, routing
// tool calls by server name (spec §4.3).
type Registry struct {
	ids    *RequestIDGenerator
	logger logging.Logger

	mu         sync.RWMutex
	connectors map[string]Connector
}

// processRequestIDs is the one RequestIDGenerator of the process; every
// registry hands it to the connectors it creates.
var processRequestIDs = NewRequestIDGenerator()

// NewRegistry constructs an empty registry. The process-wide
// RequestIDGenerator is shared by every stdio connector it creates, per
// spec §4.2/§5.
func NewRegistry(logger logging.Logger) *Registry {
	return &Registry{
		ids:        processRequestIDs,
		logger:     logging.OrNop(logger).With("mcp.registry"),
		connectors: make(map[string]Connector),
	}
}

// ConnectAll spawns all connectors concurrently and gathers results,
// logging (not failing) individual connector errors.
func (r *Registry) ConnectAll(ctx context.Context, configs []*ServerConfig) error {
	var wg sync.WaitGroup
	results := make(map[string]Connector, len(configs))
	var mu sync.Mutex

	for _, cfg := range configs {
		cfg := cfg
		wg.Add(1)
		go func() {
			defer wg.Done()
			connector, err := NewConnector(*cfg, r.ids, r.logger)
			if err != nil {
				r.logger.Error("mcp server %s: unsupported config: %v", cfg.Name, err)
				return
			}
			if err := connector.Connect(ctx); err != nil {
				r.logger.Error("mcp server %s: connect failed: %v", cfg.Name, err)
				return
			}
			mu.Lock()
			results[cfg.Name] = connector
			mu.Unlock()
		}()
	}
	wg.Wait()

	r.mu.Lock()
	for name, connector := range results {
		r.connectors[name] = connector
	}
	r.mu.Unlock()
	return nil
}

// DisconnectAll closes all connectors concurrently; tolerant of
// partially-failed connectors.
func (r *Registry) DisconnectAll(ctx context.Context) error {
	r.mu.Lock()
	connectors := make([]Connector, 0, len(r.connectors))
	for _, c := range r.connectors {
		connectors = append(connectors, c)
	}
	r.connectors = make(map[string]Connector)
	r.mu.Unlock()

	group, gctx := errgroup.WithContext(ctx)
	for _, connector := range connectors {
		connector := connector
		group.Go(func() error {
			if err := connector.Disconnect(gctx); err != nil {
				r.logger.Warn("mcp server %s: disconnect error: %v", connector.Name(), err)
			}
			return nil
		})
	}
	return group.Wait()
}

// CallTool is a pass-through to the named server's connector.
func (r *Registry) CallTool(ctx context.Context, server, tool string, arguments map[string]any) (any, error) {
	r.mu.RLock()
	connector, ok := r.connectors[server]
	r.mu.RUnlock()
	if !ok {
		return nil, &unknownServerError{server: server}
	}
	return connector.CallTool(ctx, tool, arguments)
}

// GetAllTools returns a mapping from server name to its cached tool list.
func (r *Registry) GetAllTools() map[string][]ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]ToolInfo, len(r.connectors))
	for name, connector := range r.connectors {
		out[name] = connector.Tools()
	}
	return out
}

// Connectors returns a snapshot of the currently connected server names.
func (r *Registry) Connectors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		names = append(names, name)
	}
	return names
}

type unknownServerError struct{ server string }

func (e *unknownServerError) Error() string {
	return "mcp: no connected server named " + e.server
}

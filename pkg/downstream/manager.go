package downstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/germanamz/nexus/pkg/progress"
)

// Version is the client implementation version advertised during the MCP
// initialize handshake.
const Version = "0.1.0"

// ServerHealth is one downstream server's entry in a health report.
type ServerHealth struct {
	Server     string `json:"server"`
	Address    string `json:"address"`
	Connected  bool   `json:"connected"`
	ToolsCount int    `json:"tools_count"`
}

// Manager owns the pool of downstream sessions, one per configured endpoint,
// and the registry merged from their discovery results. Sessions live for
// the manager's lifetime; an endpoint that fails to connect at startup stays
// failed until process restart.
type Manager struct {
	sessions []*Session
	byName   map[string]*Session
	registry *Registry
	logger   *slog.Logger
}

// NewManager creates a manager for the given endpoints. The logger may be
// nil, in which case slog.Default() is used.
func NewManager(endpoints []Endpoint, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		byName:   make(map[string]*Session, len(endpoints)),
		registry: NewRegistry(),
		logger:   logger,
	}

	for _, ep := range endpoints {
		s := NewSession(ep)
		m.sessions = append(m.sessions, s)
		m.byName[ep.Name] = s
	}

	return m
}

// ConnectAll connects every session and merges the Ready sessions' tools
// into the registry, in endpoint order. A failing endpoint is marked Failed
// and skipped; one unreachable server never prevents startup of the others.
func (m *Manager) ConnectAll(ctx context.Context) {
	for _, s := range m.sessions {
		name := s.Endpoint().Name

		m.logger.Info("connecting to downstream server",
			"server", name, "address", s.Endpoint().Address())

		if err := s.Connect(ctx); err != nil {
			m.logger.Warn("downstream server unreachable", "server", name, "error", err)
			s.Fail()

			continue
		}

		tools, err := s.ListTools(ctx)
		if err != nil {
			m.logger.Warn("downstream discovery failed", "server", name, "error", err)
			s.Fail()

			continue
		}

		for _, tool := range tools {
			if prev, collided := m.registry.Resolve(tool.Name); collided {
				m.logger.Warn("tool name collision, last registered wins",
					"tool", tool.Name, "previous", prev.Server, "winner", name)
			}

			m.registry.Register(Route{Tool: tool, Server: name})
		}

		m.logger.Info("downstream server ready", "server", name, "tools", len(tools))
	}

	m.logger.Info("downstream discovery complete", "total_tools", m.registry.Len())
}

// Resolve returns the route for a tool name.
func (m *Manager) Resolve(name string) (Route, bool) {
	return m.registry.Resolve(name)
}

// Catalog returns a stable snapshot of every registered tool descriptor.
func (m *Manager) Catalog() []Descriptor {
	return m.registry.Catalog()
}

// Routes returns all registered routes in catalog order.
func (m *Manager) Routes() []Route {
	return m.registry.Routes()
}

// Invoke calls a tool on the session that owns it, forwarding progress to
// sink. The tool must have been resolved to a route first.
func (m *Manager) Invoke(ctx context.Context, route Route, args map[string]any, sink progress.Sink) (string, error) {
	s, ok := m.byName[route.Server]
	if !ok {
		return "", fmt.Errorf("downstream: no session for server %q", route.Server)
	}

	return s.Invoke(ctx, route.Tool.Name, args, sink)
}

// Health reports the connection state of every downstream server, in
// endpoint order.
func (m *Manager) Health() []ServerHealth {
	health := make([]ServerHealth, 0, len(m.sessions))
	for _, s := range m.sessions {
		health = append(health, ServerHealth{
			Server:     s.Endpoint().Name,
			Address:    s.Endpoint().Address(),
			Connected:  s.State() == StateReady,
			ToolsCount: len(s.Tools()),
		})
	}

	return health
}

// Close closes every session and returns the combined errors.
func (m *Manager) Close() error {
	var errs []error
	for _, s := range m.sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("downstream: close %q: %w", s.Endpoint().Name, err))
		}
	}

	return errors.Join(errs...)
}

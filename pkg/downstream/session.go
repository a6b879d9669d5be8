// Package downstream manages the router's live MCP connections to the
// configured downstream tool servers: one long-lived session per endpoint,
// capability discovery, and the merged tool registry built from the results.
package downstream

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/germanamz/nexus/pkg/progress"
)

// State is the lifecycle state of a downstream session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	StateFailed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Endpoint identifies a configured downstream server. Exactly one of URL
// (SSE transport) or Command (spawned subprocess over stdio) must be set.
// Endpoints are immutable for the process lifetime.
type Endpoint struct {
	Name    string
	URL     string
	Command string
	Args    []string
}

// Address returns a human-readable connection target for health reporting.
func (e Endpoint) Address() string {
	if e.URL != "" {
		return e.URL
	}

	return strings.TrimSpace(e.Command + " " + strings.Join(e.Args, " "))
}

// Descriptor describes one tool declared by a downstream server. InputSchema
// is an opaque JSON Schema document forwarded verbatim to the planner and to
// the upward capability listing; the router never interprets it.
type Descriptor struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Session is the router's live connection handle to one downstream endpoint.
// It is created once at startup and lives until process shutdown; there is
// no reconnection, a session that fails stays failed.
//
// A session multiplexes concurrent Invoke calls over one connection and
// demultiplexes the resulting progress notification streams by progress
// token, so each caller only observes events for its own call.
type Session struct {
	endpoint Endpoint

	mu      sync.Mutex
	state   State
	session *mcp.ClientSession
	tools   []Descriptor
	sinks   map[string]progress.Sink
}

// NewSession creates a disconnected session for the given endpoint.
func NewSession(endpoint Endpoint) *Session {
	return &Session{
		endpoint: endpoint,
		sinks:    make(map[string]progress.Sink),
	}
}

// Endpoint returns the endpoint this session is bound to.
func (s *Session) Endpoint() Endpoint { return s.endpoint }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Tools returns the tools discovered on this session, in declaration order.
func (s *Session) Tools() []Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Descriptor(nil), s.tools...)
}

// Fail marks the session as permanently failed.
func (s *Session) Fail() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = StateFailed
}

// Connect establishes the MCP session using the endpoint's transport. The
// SDK performs the initialize handshake during Connect.
func (s *Session) Connect(ctx context.Context) error {
	var transport mcp.Transport
	if s.endpoint.URL != "" {
		transport = &mcp.SSEClientTransport{Endpoint: s.endpoint.URL}
	} else {
		transport = &mcp.CommandTransport{
			Command: exec.Command(s.endpoint.Command, s.endpoint.Args...), //nolint:gosec // command comes from operator config
		}
	}

	return s.connect(ctx, transport)
}

// connect dials the given transport. Split from Connect so tests can use
// mcp.NewInMemoryTransports.
func (s *Session) connect(ctx context.Context, transport mcp.Transport) error {
	s.mu.Lock()
	s.state = StateConnecting
	s.mu.Unlock()

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "nexus",
		Version: Version,
	}, &mcp.ClientOptions{
		ProgressNotificationHandler: s.handleProgress,
	})

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("downstream: connect %q: %w", s.endpoint.Name, err)
	}

	s.mu.Lock()
	s.session = session
	s.state = StateReady
	s.mu.Unlock()

	return nil
}

// ListTools fetches the tools declared by the downstream server and caches
// them on the session. Schemas are carried through byte-for-byte.
func (s *Session) ListTools(ctx context.Context) ([]Descriptor, error) {
	session := s.liveSession()
	if session == nil {
		return nil, fmt.Errorf("downstream: %q: not connected", s.endpoint.Name)
	}

	result, err := session.ListTools(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("downstream: list tools on %q: %w", s.endpoint.Name, err)
	}

	tools := make([]Descriptor, 0, len(result.Tools))
	for _, t := range result.Tools {
		schema, err := json.Marshal(t.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("downstream: tool %q on %q: marshal schema: %w", t.Name, s.endpoint.Name, err)
		}

		tools = append(tools, Descriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}

	s.mu.Lock()
	s.tools = tools
	s.mu.Unlock()

	return tools, nil
}

// Invoke calls a tool on the downstream server. Progress notifications
// emitted for this call are forwarded to sink, in arrival order, strictly
// before Invoke returns. A failed invocation leaves the session state
// unchanged.
func (s *Session) Invoke(ctx context.Context, tool string, args map[string]any, sink progress.Sink) (string, error) {
	session := s.liveSession()
	if session == nil {
		return "", fmt.Errorf("downstream: %q: not connected", s.endpoint.Name)
	}

	params := &mcp.CallToolParams{
		Name:      tool,
		Arguments: args,
	}

	if sink != nil {
		// Unique per in-flight call so concurrent invocations on the
		// same session do not observe each other's progress.
		token := "nexus-" + tool + "-" + uuid.NewString()
		params.Meta = mcp.Meta{"progressToken": token}

		s.mu.Lock()
		s.sinks[token] = sink
		s.mu.Unlock()

		defer func() {
			s.mu.Lock()
			delete(s.sinks, token)
			s.mu.Unlock()
		}()
	}

	result, err := session.CallTool(ctx, params)
	if err != nil {
		return "", fmt.Errorf("downstream: call %q on %q: %w", tool, s.endpoint.Name, err)
	}

	text := resultText(result)
	if result.IsError {
		return "", fmt.Errorf("downstream: tool %q on %q: %s", tool, s.endpoint.Name, text)
	}

	return text, nil
}

// Close terminates the MCP session. Safe to call on a session that never
// connected.
func (s *Session) Close() error {
	s.mu.Lock()
	session := s.session
	s.session = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	if session == nil {
		return nil
	}

	return session.Close()
}

func (s *Session) liveSession() *mcp.ClientSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReady {
		return nil
	}

	return s.session
}

// handleProgress routes an incoming progress notification to the sink
// registered for its token. Notifications with an unknown or missing token
// are dropped.
func (s *Session) handleProgress(ctx context.Context, req *mcp.ProgressNotificationClientRequest) {
	token, ok := req.Params.ProgressToken.(string)
	if !ok {
		return
	}

	s.mu.Lock()
	sink := s.sinks[token]
	s.mu.Unlock()

	if sink == nil {
		return
	}

	sink(ctx, progress.Event{
		Fraction: req.Params.Progress,
		Total:    req.Params.Total,
		Message:  req.Params.Message,
	})
}

// resultText renders the canonical text of a tool result: the text of the
// first content item when present, else a string rendering of it.
func resultText(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return ""
	}

	if tc, ok := result.Content[0].(*mcp.TextContent); ok {
		return tc.Text
	}

	return fmt.Sprintf("%v", result.Content[0])
}

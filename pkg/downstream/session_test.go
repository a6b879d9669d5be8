package downstream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/germanamz/nexus/pkg/progress"
)

// notify sends a progress notification for the request's token, if any.
func notify(ctx context.Context, req *mcp.CallToolRequest, fraction float64, message string) {
	token := req.Params.Meta["progressToken"]
	if token == nil {
		return
	}

	_ = req.Session.NotifyProgress(ctx, &mcp.ProgressNotificationParams{
		ProgressToken: token,
		Progress:      fraction,
		Total:         1,
		Message:       message,
	})
}

// newTestServer builds an MCP server with an echoing tool, a progress
// emitting tool, and an always-failing tool.
func newTestServer() *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "test-server",
		Version: "1.0.0",
	}, nil)

	server.AddTool(&mcp.Tool{
		Name:        "echo",
		Description: "Echo the text argument",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}}}`),
	}, func(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			Text string `json:"text"`
		}
		_ = json.Unmarshal(req.Params.Arguments, &args)

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: args.Text}},
		}, nil
	})

	server.AddTool(&mcp.Tool{
		Name:        "progressive",
		Description: "Emit progress while working",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"tag":{"type":"string"}}}`),
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			Tag string `json:"tag"`
		}
		_ = json.Unmarshal(req.Params.Arguments, &args)

		for _, f := range []float64{0.25, 0.5, 1} {
			notify(ctx, req, f, fmt.Sprintf("%s step", args.Tag))
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: args.Tag + " done"}},
		}, nil
	})

	server.AddTool(&mcp.Tool{
		Name:        "boom",
		Description: "Always fails",
		InputSchema: json.RawMessage(`{"type":"object"}`),
	}, func(_ context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: "it broke"}},
			IsError: true,
		}, nil
	})

	return server
}

// connectSession connects a Session to the given server over in-memory
// transports. The server goroutine is tied to t.Cleanup.
func connectSession(t *testing.T, server *mcp.Server) *Session {
	t.Helper()

	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.Run(ctx, serverTransport)
	}()
	t.Cleanup(func() {
		cancel()
		<-serverDone
	})

	s := NewSession(Endpoint{Name: "test"})
	require.NoError(t, s.connect(ctx, clientTransport))
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestSessionListTools(t *testing.T) {
	s := connectSession(t, newTestServer())

	tools, err := s.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 3)

	assert.Equal(t, "echo", tools[0].Name)
	assert.Equal(t, "Echo the text argument", tools[0].Description)
	assert.JSONEq(t,
		`{"type":"object","properties":{"text":{"type":"string"}}}`,
		string(tools[0].InputSchema))

	// Cached on the session for health reporting.
	assert.Len(t, s.Tools(), 3)
	assert.Equal(t, StateReady, s.State())
}

func TestSessionInvoke(t *testing.T) {
	s := connectSession(t, newTestServer())

	text, err := s.Invoke(context.Background(), "echo", map[string]any{"text": "hi"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hi", text)
}

func TestSessionInvokeToolError(t *testing.T) {
	s := connectSession(t, newTestServer())

	_, err := s.Invoke(context.Background(), "boom", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "it broke")

	// Invocation failure leaves the session usable.
	assert.Equal(t, StateReady, s.State())

	text, err := s.Invoke(context.Background(), "echo", map[string]any{"text": "still alive"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "still alive", text)
}

func TestSessionInvokeNotConnected(t *testing.T) {
	s := NewSession(Endpoint{Name: "down"})

	_, err := s.Invoke(context.Background(), "echo", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

func TestSessionInvokeProgressOrdering(t *testing.T) {
	s := connectSession(t, newTestServer())

	var events []progress.Event
	sink := func(_ context.Context, ev progress.Event) {
		events = append(events, ev)
	}

	text, err := s.Invoke(context.Background(), "progressive", map[string]any{"tag": "a"}, sink)
	require.NoError(t, err)
	assert.Equal(t, "a done", text)

	// All events arrive before the terminal result, non-decreasing.
	require.Len(t, events, 3)

	prev := 0.0
	for _, ev := range events {
		assert.GreaterOrEqual(t, ev.Fraction, prev)
		prev = ev.Fraction
	}
}

func TestSessionProgressDemuxConcurrentInvokes(t *testing.T) {
	s := connectSession(t, newTestServer())

	type stream struct {
		mu     sync.Mutex
		events []progress.Event
	}

	run := func(tag string, st *stream, done chan<- error) {
		sink := func(_ context.Context, ev progress.Event) {
			st.mu.Lock()
			st.events = append(st.events, ev)
			st.mu.Unlock()
		}

		_, err := s.Invoke(context.Background(), "progressive", map[string]any{"tag": tag}, sink)
		done <- err
	}

	var a, b stream
	done := make(chan error, 2)
	go run("alpha", &a, done)
	go run("beta", &b, done)

	require.NoError(t, <-done)
	require.NoError(t, <-done)

	require.NotEmpty(t, a.events)
	require.NotEmpty(t, b.events)

	for _, ev := range a.events {
		assert.Contains(t, ev.Message, "alpha")
	}
	for _, ev := range b.events {
		assert.Contains(t, ev.Message, "beta")
	}
}

func TestSessionConnectFailure(t *testing.T) {
	s := NewSession(Endpoint{Name: "bad", Command: "/nonexistent/definitely-not-a-binary"})

	err := s.Connect(context.Background())
	require.Error(t, err)
	assert.NotEqual(t, StateReady, s.State())
}

func TestEndpointAddress(t *testing.T) {
	assert.Equal(t, "http://localhost:8000/sse", Endpoint{URL: "http://localhost:8000/sse"}.Address())
	assert.Equal(t, "python server.py", Endpoint{Command: "python", Args: []string{"server.py"}}.Address())
}

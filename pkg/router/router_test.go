package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/germanamz/nexus/pkg/brain"
	"github.com/germanamz/nexus/pkg/downstream"
	"github.com/germanamz/nexus/pkg/progress"
)

// stubBrain returns canned plans and answers so orchestration can be tested
// without an LLM.
type stubBrain struct {
	plan      []brain.PlannedCall
	answer    string
	answerErr error
	synthesis string

	mu      sync.Mutex
	results []brain.ToolResult
}

func (s *stubBrain) Plan(context.Context, string, []downstream.Descriptor) []brain.PlannedCall {
	return s.plan
}

func (s *stubBrain) Synthesize(_ context.Context, _ string, results []brain.ToolResult) string {
	s.mu.Lock()
	s.results = results
	s.mu.Unlock()

	return s.synthesis
}

func (s *stubBrain) Answer(context.Context, string) (string, error) {
	return s.answer, s.answerErr
}

// recorder captures emitted progress events in order.
type recorder struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recorder) sink() progress.Sink {
	return func(_ context.Context, e progress.Event) {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
	}
}

func (r *recorder) fractions() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	fs := make([]float64, 0, len(r.events))
	for _, e := range r.events {
		fs = append(fs, e.Norm())
	}

	return fs
}

func testDownstream(t *testing.T) *downstream.Manager {
	t.Helper()

	server := mcp.NewServer(&mcp.Implementation{Name: "tool_server", Version: "1.0.0"}, nil)

	server.AddTool(&mcp.Tool{
		Name:        "echo",
		Description: "Echoes its text argument",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}}}`),
	}, func(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			Text string `json:"text"`
		}
		_ = json.Unmarshal(req.Params.Arguments, &args)

		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: "echo: " + args.Text}},
		}, nil
	})

	server.AddTool(&mcp.Tool{
		Name:        "boom",
		Description: "Always fails",
		InputSchema: json.RawMessage(`{"type":"object"}`),
	}, func(_ context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return nil, fmt.Errorf("boom failure")
	})

	ts := httptest.NewServer(mcp.NewSSEHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil))
	t.Cleanup(ts.Close)

	m := downstream.NewManager([]downstream.Endpoint{{Name: "tool_server", URL: ts.URL}}, nil)
	t.Cleanup(func() { _ = m.Close() })

	m.ConnectAll(context.Background())
	require.Len(t, m.Catalog(), 2)

	return m
}

func TestProcessQueryExecutesPlanAndSynthesizes(t *testing.T) {
	b := &stubBrain{
		plan: []brain.PlannedCall{
			{Tool: "echo", Arguments: map[string]any{"text": "hello"}},
		},
		synthesis: "final answer",
	}
	r := New(testDownstream(t), b, nil, nil)

	var rec recorder
	answer, err := r.ProcessQuery(context.Background(), "say hello", rec.sink())
	require.NoError(t, err)
	assert.Equal(t, "final answer", answer)

	require.Len(t, b.results, 1)
	assert.Equal(t, brain.ToolResult{Tool: "echo", Result: "echo: hello", Success: true}, b.results[0])

	fs := rec.fractions()
	require.NotEmpty(t, fs)
	assert.InDelta(t, progress.CheckpointReceived, fs[0], 1e-9)
	assert.InDelta(t, progress.CheckpointDone, fs[len(fs)-1], 1e-9)
}

func TestProcessQueryToolFailureDoesNotAbort(t *testing.T) {
	b := &stubBrain{
		plan: []brain.PlannedCall{
			{Tool: "boom", Arguments: map[string]any{}},
			{Tool: "echo", Arguments: map[string]any{"text": "still here"}},
		},
		synthesis: "partial answer",
	}
	r := New(testDownstream(t), b, nil, nil)

	answer, err := r.ProcessQuery(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Equal(t, "partial answer", answer)

	require.Len(t, b.results, 2)
	assert.Equal(t, "boom", b.results[0].Tool)
	assert.False(t, b.results[0].Success)
	assert.Contains(t, b.results[0].Result, "Error:")
	assert.Equal(t, brain.ToolResult{Tool: "echo", Result: "echo: still here", Success: true}, b.results[1])
}

func TestProcessQueryUnknownToolBecomesFailedResult(t *testing.T) {
	b := &stubBrain{
		plan:      []brain.PlannedCall{{Tool: "no_such_tool"}},
		synthesis: "done",
	}
	r := New(testDownstream(t), b, nil, nil)

	_, err := r.ProcessQuery(context.Background(), "q", nil)
	require.NoError(t, err)

	require.Len(t, b.results, 1)
	assert.False(t, b.results[0].Success)
	assert.Contains(t, b.results[0].Result, "unknown tool")
}

func TestProcessQueryEmptyPlanAnswersDirectly(t *testing.T) {
	b := &stubBrain{answer: "direct answer"}
	r := New(testDownstream(t), b, nil, nil)

	var rec recorder
	answer, err := r.ProcessQuery(context.Background(), "what is 2+2?", rec.sink())
	require.NoError(t, err)
	assert.Equal(t, "direct answer", answer)
	assert.Nil(t, b.results)

	fs := rec.fractions()
	require.NotEmpty(t, fs)
	assert.InDelta(t, progress.CheckpointDone, fs[len(fs)-1], 1e-9)
}

func TestProcessQueryDirectAnswerError(t *testing.T) {
	b := &stubBrain{answerErr: errors.New("llm unreachable")}
	r := New(testDownstream(t), b, nil, nil)

	_, err := r.ProcessQuery(context.Background(), "q", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm unreachable")
}

func TestProcessQueryEmptyCatalog(t *testing.T) {
	m := downstream.NewManager(nil, nil)
	b := &stubBrain{answer: "should not be used"}
	r := New(m, b, nil, nil)

	answer, err := r.ProcessQuery(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Equal(t, "No downstream tools available. Please check server connections.", answer)
}

func TestProcessQueryProgressIsMonotonic(t *testing.T) {
	b := &stubBrain{
		plan: []brain.PlannedCall{
			{Tool: "echo", Arguments: map[string]any{"text": "a"}},
			{Tool: "echo", Arguments: map[string]any{"text": "b"}},
			{Tool: "echo", Arguments: map[string]any{"text": "c"}},
		},
		synthesis: "ok",
	}
	r := New(testDownstream(t), b, nil, nil)

	var rec recorder
	_, err := r.ProcessQuery(context.Background(), "q", rec.sink())
	require.NoError(t, err)

	fs := rec.fractions()
	require.NotEmpty(t, fs)
	for i := 1; i < len(fs); i++ {
		assert.GreaterOrEqual(t, fs[i], fs[i-1], "progress went backwards at event %d", i)
	}
	assert.InDelta(t, progress.CheckpointDone, fs[len(fs)-1], 1e-9)
}

func TestListAvailableTools(t *testing.T) {
	r := New(testDownstream(t), &stubBrain{}, nil, nil)

	info := r.ListAvailableTools()
	assert.Equal(t, 2, info.TotalTools)
	require.Len(t, info.Tools, 2)
	assert.Equal(t, ToolInfo{Name: "echo", Server: "tool_server", Description: "Echoes its text argument"}, info.Tools[0])
	assert.Equal(t, ToolInfo{Name: "boom", Server: "tool_server", Description: "Always fails"}, info.Tools[1])

	// Listing is read-only; a second call reports the same view.
	assert.Equal(t, info, r.ListAvailableTools())
}

func TestHealthCheck(t *testing.T) {
	r := New(testDownstream(t), &stubBrain{}, nil, nil)

	health := r.HealthCheck()
	assert.Equal(t, "healthy", health.RouterStatus)
	require.Len(t, health.DownstreamServers, 1)
	assert.True(t, health.DownstreamServers[0].Connected)
	assert.Equal(t, 2, health.DownstreamServers[0].ToolsCount)
}

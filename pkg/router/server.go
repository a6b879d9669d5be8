package router

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/germanamz/nexus/pkg/progress"
)

const processQuerySchema = `{
	"type": "object",
	"properties": {
		"query": {
			"type": "string",
			"description": "Your natural language query or request"
		}
	},
	"required": ["query"]
}`

const emptySchema = `{"type": "object"}`

// Server exposes a Router upward as an MCP server with three tools:
// process_query, list_available_tools, and health_check. Progress from an
// in-flight process_query is forwarded to the caller as MCP progress
// notifications, correlated by the caller's progress token.
type Server struct {
	router *Router
	server *mcp.Server
}

// NewServer wraps the router in an MCP server with the given identity.
func NewServer(r *Router, name, version string) *Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    name,
		Version: version,
	}, nil)

	s := &Server{router: r, server: server}

	server.AddTool(&mcp.Tool{
		Name: "process_query",
		Description: "Process a natural language query using available downstream tools. " +
			"Plans which tools are needed, executes them, and synthesizes a comprehensive response.",
		InputSchema: json.RawMessage(processQuerySchema),
	}, s.handleProcessQuery)

	server.AddTool(&mcp.Tool{
		Name:        "list_available_tools",
		Description: "List all tools available through the router, with the downstream server that owns each.",
		InputSchema: json.RawMessage(emptySchema),
	}, s.handleListTools)

	server.AddTool(&mcp.Tool{
		Name:        "health_check",
		Description: "Check the health of all downstream server connections.",
		InputSchema: json.RawMessage(emptySchema),
	}, s.handleHealthCheck)

	return s
}

// Handler returns an http.Handler serving the router over SSE.
func (s *Server) Handler() http.Handler {
	return mcp.NewSSEHandler(func(*http.Request) *mcp.Server {
		return s.server
	}, nil)
}

// Serve runs the server over stdio-style reader/writer pairs. It blocks
// until ctx is cancelled or the transport closes.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	transport := &mcp.IOTransport{
		Reader: io.NopCloser(in),
		Writer: nopWriteCloser{out},
	}

	return s.run(ctx, transport)
}

// run starts the server on the given transport. Called directly by tests
// with InMemoryTransport.
func (s *Server) run(ctx context.Context, transport mcp.Transport) error {
	return s.server.Run(ctx, transport)
}

func (s *Server) handleProcessQuery(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Query string `json:"query"`
	}
	if len(req.Params.Arguments) > 0 {
		if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
			return errorResult(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
	}

	if args.Query == "" {
		return errorResult("query is required"), nil
	}

	answer, err := s.router.ProcessQuery(ctx, args.Query, callerSink(req))
	if err != nil {
		return errorResult(err.Error()), nil
	}

	return textResult(answer), nil
}

func (s *Server) handleListTools(_ context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	payload, err := json.MarshalIndent(s.router.ListAvailableTools(), "", "  ")
	if err != nil {
		return errorResult(err.Error()), nil
	}

	return textResult(string(payload)), nil
}

func (s *Server) handleHealthCheck(_ context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	payload, err := json.MarshalIndent(s.router.HealthCheck(), "", "  ")
	if err != nil {
		return errorResult(err.Error()), nil
	}

	return textResult(string(payload)), nil
}

// callerSink returns a progress sink that forwards events to the calling
// session under the caller's progress token, or nil when the caller did not
// request progress.
func callerSink(req *mcp.CallToolRequest) progress.Sink {
	token := req.Params.Meta["progressToken"]
	if token == nil {
		return nil
	}

	session := req.Session

	return func(ctx context.Context, ev progress.Event) {
		total := ev.Total
		if total <= 0 {
			total = 1
		}

		// Notification failures only cost the caller an update.
		_ = session.NotifyProgress(ctx, &mcp.ProgressNotificationParams{
			ProgressToken: token,
			Progress:      ev.Fraction,
			Total:         total,
			Message:       ev.Message,
		})
	}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}
}

// nopWriteCloser wraps an io.Writer as an io.WriteCloser with a no-op Close.
type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

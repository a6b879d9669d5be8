package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/germanamz/nexus/pkg/downstream"
)

const planningPrompt = `You are a planning assistant. Given a user query and available tools,
decide which tools to call and with what arguments.

AVAILABLE TOOLS:
%s

USER QUERY: %s

Respond with a JSON array of tool calls. Each tool call should have:
- "tool": the tool name (exactly as shown above)
- "arguments": the arguments to pass (matching the schema)

Example response format:
[
  {"tool": "web_search", "arguments": {"objective": "Find latest news", "search_queries": ["AI news 2025"]}}
]

If no tools are needed, respond with an empty array: []

IMPORTANT:
- Only use tools that are in the AVAILABLE TOOLS list
- Match the argument names exactly to the schema
- Respond ONLY with valid JSON, no other text or markdown`

const synthesisPrompt = `Based on the following tool execution results, provide a comprehensive
and helpful response to the user's query.

USER QUERY: %s

TOOL RESULTS:
%s

Provide a clear, well-structured response that addresses the user's query using the information
from the tool results. Be concise but comprehensive.`

var _ Brain = (*LLM)(nil)

// LLM implements Brain on top of a Completer.
type LLM struct {
	completer Completer
	logger    *slog.Logger
}

// NewLLM creates an LLM brain. The logger may be nil.
func NewLLM(completer Completer, logger *slog.Logger) *LLM {
	if logger == nil {
		logger = slog.Default()
	}

	return &LLM{completer: completer, logger: logger}
}

// Plan asks the LLM which tools to call for the query. Any failure, from
// the completion call to unparseable output, degrades to an empty plan.
func (l *LLM) Plan(ctx context.Context, query string, catalog []downstream.Descriptor) []PlannedCall {
	prompt := fmt.Sprintf(planningPrompt, describeTools(catalog), query)

	reply, err := l.completer.Complete(ctx, prompt)
	if err != nil {
		l.logger.Warn("planner call failed, treating as no tools needed", "error", err)

		return nil
	}

	calls, err := parsePlan(reply)
	if err != nil {
		l.logger.Warn("planner output unparseable, treating as no tools needed", "error", err)

		return nil
	}

	return calls
}

// Synthesize turns the collected tool results into a final answer. It never
// fails outward; errors are rendered as explanatory text.
func (l *LLM) Synthesize(ctx context.Context, query string, results []ToolResult) string {
	prompt := fmt.Sprintf(synthesisPrompt, query, describeResults(results))

	reply, err := l.completer.Complete(ctx, prompt)
	if err != nil {
		return fmt.Sprintf("Error synthesizing response: %v", err)
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "Unable to synthesize response."
	}

	return reply
}

// Answer is the direct no-tools path: the raw query goes straight to the LLM.
func (l *LLM) Answer(ctx context.Context, query string) (string, error) {
	reply, err := l.completer.Complete(ctx, query)
	if err != nil {
		return "", fmt.Errorf("brain: direct answer: %w", err)
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "Unable to generate response.", nil
	}

	return reply, nil
}

// describeTools renders the catalog for the planning prompt, schema included
// verbatim so the planner sees exactly what the downstream server declared.
func describeTools(catalog []downstream.Descriptor) string {
	var b strings.Builder
	for _, d := range catalog {
		schema := "{}"
		if len(d.InputSchema) > 0 {
			var pretty bytes.Buffer
			if err := json.Indent(&pretty, d.InputSchema, "  ", "  "); err == nil {
				schema = pretty.String()
			} else {
				schema = string(d.InputSchema)
			}
		}

		desc := d.Description
		if desc == "" {
			desc = "No description"
		}

		fmt.Fprintf(&b, "- %s: %s\n  Schema: %s\n", d.Name, desc, schema)
	}

	return b.String()
}

func describeResults(results []ToolResult) string {
	blocks := make([]string, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, fmt.Sprintf("Tool: %s\nSuccess: %t\nResult: %s", r.Tool, r.Success, r.Result))
	}

	return strings.Join(blocks, "\n\n")
}

// parsePlan extracts planned calls from the LLM's reply. It tolerates
// fenced code blocks, a bare JSON array, and a {"tools": [...]} object.
func parsePlan(reply string) ([]PlannedCall, error) {
	cleaned := stripFences(reply)
	if cleaned == "" {
		return nil, nil
	}

	var calls []PlannedCall
	if err := json.Unmarshal([]byte(cleaned), &calls); err == nil {
		return calls, nil
	}

	var wrapped struct {
		Tools []PlannedCall `json:"tools"`
	}
	if err := json.Unmarshal([]byte(cleaned), &wrapped); err != nil {
		return nil, fmt.Errorf("brain: parse plan: %w", err)
	}

	return wrapped.Tools, nil
}

// stripFences removes a surrounding markdown code fence, if any.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	return strings.TrimSpace(s)
}

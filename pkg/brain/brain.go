// Package brain is the router's boundary to the LLM capability that plans
// which tools to call and synthesizes tool results into a final answer.
package brain

import (
	"context"

	"github.com/germanamz/nexus/pkg/downstream"
)

// PlannedCall is one tool invocation decided by the planner. It is produced
// once per orchestration and consumed once by the dispatcher.
type PlannedCall struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult is the outcome of one dispatched call, successful or not.
// Failed calls carry their error message as the result text so the
// synthesizer can treat them as informative context.
type ToolResult struct {
	Tool    string `json:"tool"`
	Result  string `json:"result"`
	Success bool   `json:"success"`
}

// Brain plans tool calls and synthesizes answers.
//
// Plan never fails outward: when the planner cannot determine useful calls,
// or the underlying LLM call fails, it returns an empty plan and the router
// falls back to a direct answer. Synthesize likewise never fails outward;
// internal errors become user-facing text. Answer is the direct no-tools
// path and the only operation whose error can surface to the caller.
type Brain interface {
	Plan(ctx context.Context, query string, catalog []downstream.Descriptor) []PlannedCall
	Synthesize(ctx context.Context, query string, results []ToolResult) string
	Answer(ctx context.Context, query string) (string, error)
}

// Completer sends a single prompt to an LLM and returns its text reply.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

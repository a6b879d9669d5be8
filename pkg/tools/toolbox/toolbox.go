// Package toolbox holds locally implemented tools that a downstream server
// exposes over MCP. Handlers may report progress while they run.
package toolbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/germanamz/nexus/pkg/progress"
)

// Handler executes a tool with the given JSON input and returns a text
// result. report may be nil when the caller did not request progress;
// emit through progress.Sink.Emit, which tolerates nil sinks.
type Handler func(ctx context.Context, input json.RawMessage, report progress.Sink) (string, error)

// Tool is an executable tool with a name, description, JSON Schema, and
// handler.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Handler     Handler
}

// ToolBox is an ordered collection of tools.
type ToolBox struct {
	tools map[string]Tool
	order []string
}

// New creates an empty ToolBox.
func New() *ToolBox {
	return &ToolBox{
		tools: make(map[string]Tool),
	}
}

// Register adds one or more tools. A tool with an existing name replaces
// the previous one but keeps its position.
func (tb *ToolBox) Register(tools ...Tool) {
	for _, t := range tools {
		if _, exists := tb.tools[t.Name]; !exists {
			tb.order = append(tb.order, t.Name)
		}

		tb.tools[t.Name] = t
	}
}

// Get returns a tool by name.
func (tb *ToolBox) Get(name string) (Tool, bool) {
	t, ok := tb.tools[name]

	return t, ok
}

// Tools returns all registered tools in registration order.
func (tb *ToolBox) Tools() []Tool {
	result := make([]Tool, 0, len(tb.order))
	for _, name := range tb.order {
		result = append(result, tb.tools[name])
	}

	return result
}

// Call executes a tool by name.
func (tb *ToolBox) Call(ctx context.Context, name string, input json.RawMessage, report progress.Sink) (string, error) {
	t, ok := tb.tools[name]
	if !ok {
		return "", fmt.Errorf("toolbox: tool not found: %s", name)
	}

	return t.Handler(ctx, input, report)
}

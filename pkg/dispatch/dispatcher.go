// Package dispatch forwards a single planned call to the downstream session
// that owns the tool, scaling the call's progress stream into its reserved
// slice of overall progress.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/germanamz/nexus/pkg/brain"
	"github.com/germanamz/nexus/pkg/downstream"
	"github.com/germanamz/nexus/pkg/progress"
	"github.com/germanamz/nexus/pkg/telemetry"
)

// Dispatcher executes planned calls against the downstream pool. Every
// failure, unknown tool, remote error, timeout, becomes a failed ToolResult
// rather than an error: a broken call never aborts the batch it is part of.
type Dispatcher struct {
	manager *downstream.Manager
	metrics *telemetry.Metrics
	logger  *slog.Logger
}

// New creates a Dispatcher. Both metrics and logger may be nil.
func New(manager *downstream.Manager, metrics *telemetry.Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{manager: manager, metrics: metrics, logger: logger}
}

// Execute routes call to its owning session and returns the result. Inner
// progress in [0,1] is reported to sink rescaled into the scaler's range,
// with messages prefixed by the tool name so interleaved streams from
// concurrent calls stay distinguishable.
func (d *Dispatcher) Execute(ctx context.Context, call brain.PlannedCall, scaler progress.Scaler, sink progress.Sink) brain.ToolResult {
	scaled := scaler.Wrap(sink)
	scaled.Emit(ctx, 0, fmt.Sprintf("Executing tool: %s", call.Tool))

	route, ok := d.manager.Resolve(call.Tool)
	if !ok {
		d.logger.Warn("planned call references unknown tool", "tool", call.Tool)
		d.metrics.ObserveToolCall(call.Tool, telemetry.OutcomeUnknownTool, 0)

		return brain.ToolResult{
			Tool:   call.Tool,
			Result: fmt.Sprintf("Error: unknown tool: %s", call.Tool),
		}
	}

	start := time.Now()

	text, err := d.manager.Invoke(ctx, route, call.Arguments, labeled(call.Tool, scaled))
	if err != nil {
		d.logger.Warn("tool execution failed", "tool", call.Tool, "server", route.Server, "error", err)
		d.metrics.ObserveToolCall(call.Tool, telemetry.OutcomeError, time.Since(start).Seconds())

		return brain.ToolResult{
			Tool:   call.Tool,
			Result: fmt.Sprintf("Error: %v", err),
		}
	}

	d.metrics.ObserveToolCall(call.Tool, telemetry.OutcomeOK, time.Since(start).Seconds())

	return brain.ToolResult{Tool: call.Tool, Result: text, Success: true}
}

// labeled prefixes progress messages with the originating tool's name.
func labeled(tool string, next progress.Sink) progress.Sink {
	if next == nil {
		return nil
	}

	return func(ctx context.Context, ev progress.Event) {
		msg := ev.Message
		if msg == "" {
			msg = "Working..."
		}

		next(ctx, progress.Event{
			Fraction: ev.Fraction,
			Total:    ev.Total,
			Message:  fmt.Sprintf("[%s] %s", tool, msg),
		})
	}
}

// Package router assembles the downstream pool, dispatcher, and brain into
// the orchestration entry point, and exposes the whole aggregate upward as
// an MCP server.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/germanamz/nexus/pkg/brain"
	"github.com/germanamz/nexus/pkg/dispatch"
	"github.com/germanamz/nexus/pkg/downstream"
	"github.com/germanamz/nexus/pkg/progress"
	"github.com/germanamz/nexus/pkg/telemetry"
)

// ToolInfo is one entry in the upward capability listing.
type ToolInfo struct {
	Name        string `json:"name"`
	Server      string `json:"server"`
	Description string `json:"description"`
}

// ToolsInfo is the payload returned by ListAvailableTools.
type ToolsInfo struct {
	TotalTools int        `json:"total_tools"`
	Tools      []ToolInfo `json:"tools"`
}

// HealthInfo is the payload returned by HealthCheck.
type HealthInfo struct {
	RouterStatus      string                    `json:"router_status"`
	DownstreamServers []downstream.ServerHealth `json:"downstream_servers"`
}

// Router is the single aggregate constructed once at startup and handed to
// every request-handling code path. Concurrent queries share only the
// read-mostly registry and the downstream sessions; all per-query state is
// local to ProcessQuery.
type Router struct {
	manager    *downstream.Manager
	dispatcher *dispatch.Dispatcher
	brain      brain.Brain
	metrics    *telemetry.Metrics
	logger     *slog.Logger
}

// New creates a Router. Metrics and logger may be nil.
func New(manager *downstream.Manager, b brain.Brain, metrics *telemetry.Metrics, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}

	return &Router{
		manager:    manager,
		dispatcher: dispatch.New(manager, metrics, logger),
		brain:      b,
		metrics:    metrics,
		logger:     logger,
	}
}

// ProcessQuery runs one orchestration: plan, execute, synthesize. Progress
// is reported to sink at fixed checkpoints, interpolated across planned
// calls during execution; callers must tolerate coarse granularity.
//
// Tool failures never abort the batch; synthesis never fails outward. The
// only error this returns is a planning fallback whose direct answer also
// failed. Cancelling ctx abandons in-flight downstream calls to run to
// completion on the server side while their results are discarded; shared
// state is never touched.
func (r *Router) ProcessQuery(ctx context.Context, query string, sink progress.Sink) (string, error) {
	r.metrics.ObserveQuery()

	// One monotonic guard for the whole orchestration so interleaved
	// progress from concurrent calls can never move the bar backwards.
	sink = progress.Monotonic(sink)
	sink.Emit(ctx, progress.CheckpointReceived, "Analyzing query and planning tool calls...")

	catalog := r.manager.Catalog()
	if len(catalog) == 0 {
		return "No downstream tools available. Please check server connections.", nil
	}

	sink.Emit(ctx, progress.CheckpointPlanning, "Planning which tools to use...")

	calls := r.brain.Plan(ctx, query, catalog)
	if len(calls) == 0 {
		// No tools needed; answer the query directly.
		sink.Emit(ctx, progress.CheckpointSynthesizing, "Generating direct response...")

		answer, err := r.brain.Answer(ctx, query)
		if err != nil {
			return "", fmt.Errorf("router: %w", err)
		}

		sink.Emit(ctx, progress.CheckpointDone, "Complete!")

		return answer, nil
	}

	sink.Emit(ctx, progress.CheckpointExecuting, fmt.Sprintf("Executing %d tool(s)...", len(calls)))

	// Each call gets a disjoint slice of the execution span, so the calls
	// can run concurrently without knowing about their siblings. Results
	// land in plan order.
	results := make([]brain.ToolResult, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)

		go func(i int, call brain.PlannedCall) {
			defer wg.Done()

			results[i] = r.dispatcher.Execute(ctx, call, progress.Slice(i, len(calls)), sink)
		}(i, call)
	}
	wg.Wait()

	sink.Emit(ctx, progress.CheckpointSynthesizing, "Synthesizing final response...")

	answer := r.brain.Synthesize(ctx, query, results)

	sink.Emit(ctx, progress.CheckpointDone, "Complete!")

	return answer, nil
}

// ListAvailableTools reports every tool reachable through the router, in
// catalog order. Idempotent between discovery changes.
func (r *Router) ListAvailableTools() ToolsInfo {
	routes := r.manager.Routes()

	info := ToolsInfo{
		TotalTools: len(routes),
		Tools:      make([]ToolInfo, 0, len(routes)),
	}

	for _, route := range routes {
		description := route.Tool.Description
		if description == "" {
			description = "No description"
		}

		info.Tools = append(info.Tools, ToolInfo{
			Name:        route.Tool.Name,
			Server:      route.Server,
			Description: description,
		})
	}

	return info
}

// HealthCheck reports the state of every downstream connection.
func (r *Router) HealthCheck() HealthInfo {
	return HealthInfo{
		RouterStatus:      "healthy",
		DownstreamServers: r.manager.Health(),
	}
}

// Package orchestrator is the facade the CLI talks to. It owns the
// tool registry, wires every subsystem's tools into it, and normalizes
// each dispatch into a Result envelope.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ideaforge/internal/github"
	"ideaforge/internal/logging"
	"ideaforge/internal/mcp"
	"ideaforge/internal/planner"
	"ideaforge/internal/planner/deepseek"
	"ideaforge/internal/sandbox"
	"ideaforge/internal/store"
	"ideaforge/internal/tools"
	"ideaforge/internal/tools/fsops"
)

// Deps are the subsystems the orchestrator fronts. All are required
// except Loop, which may be nil when no planner is configured.
type Deps struct {
	Store         *store.SessionStore
	Executor      *sandbox.Executor
	Supervisor    *mcp.Supervisor
	Loop          *planner.Loop
	GitHub        *github.Client
	WorkspaceRoot string
}

// Orchestrator dispatches commands through the registry.
type Orchestrator struct {
	registry   *tools.Registry
	store      *store.SessionStore
	executor   *sandbox.Executor
	supervisor *mcp.Supervisor
	loop       *planner.Loop
}

// New builds an orchestrator and registers the full tool set.
func New(deps Deps) (*Orchestrator, error) {
	o := &Orchestrator{
		registry:   tools.NewRegistry(),
		store:      deps.Store,
		executor:   deps.Executor,
		supervisor: deps.Supervisor,
		loop:       deps.Loop,
	}

	if err := fsops.RegisterAll(o.registry, deps.WorkspaceRoot); err != nil {
		return nil, fmt.Errorf("register filesystem tools: %w", err)
	}
	if err := github.RegisterAll(o.registry, deps.GitHub); err != nil {
		return nil, fmt.Errorf("register github tools: %w", err)
	}
	for _, tool := range []*tools.Tool{
		o.sandboxExecuteTool(),
		o.mcpStartTool(),
		o.mcpStopTool(),
		o.mcpHealthTool(),
		o.planningStartTool(),
		o.planningStatusTool(),
		o.ideaScoreTool(),
	} {
		if err := o.registry.Register(tool); err != nil {
			return nil, fmt.Errorf("register %s: %w", tool.Name, err)
		}
	}

	logging.Boot("Orchestrator ready with %d tools", o.registry.Count())
	return o, nil
}

// Commands lists every dispatchable command name.
func (o *Orchestrator) Commands() []string {
	return o.registry.Names()
}

// CommandsByCategory groups command names by category, highest
// priority first within each group.
func (o *Orchestrator) CommandsByCategory() map[string][]string {
	out := make(map[string][]string)
	for _, category := range o.registry.Categories() {
		for _, tool := range o.registry.GetByCategory(category) {
			out[string(category)] = append(out[string(category)], tool.Name)
		}
	}
	return out
}

// Dispatch runs one command and folds the outcome into the envelope.
// It never panics on unknown commands and never leaks handler types.
func (o *Orchestrator) Dispatch(ctx context.Context, command string, args map[string]any) Result {
	logging.Tools("Dispatch %s", command)
	start := time.Now()

	toolResult, err := o.registry.Execute(ctx, command, args)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		kind := classify(err)
		if kind == KindInternal {
			logging.ToolsError("Dispatch %s internal error: %+v", command, err)
		} else {
			logging.Tools("Dispatch %s failed: kind=%s err=%v", command, kind, err)
		}
		return fail(command, kind, err.Error(), elapsed)
	}

	logging.Tools("Dispatch %s ok in %dms", command, elapsed)
	return ok(command, toolResult.Payload, elapsed)
}

// classify maps subsystem errors onto the caller-facing taxonomy.
func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, tools.ErrToolNotFound),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, mcp.ErrServerNotFound),
		errors.Is(err, github.ErrNotFound):
		return KindNotFound

	case errors.Is(err, tools.ErrMissingRequiredArg),
		errors.Is(err, tools.ErrInvalidArgType),
		errors.Is(err, sandbox.ErrUnsupportedLanguage),
		errors.Is(err, mcp.ErrAlreadyRunning),
		errors.Is(err, mcp.ErrNotRunning):
		return KindInvalidArgument

	case errors.Is(err, deepseek.ErrNotConfigured),
		errors.Is(err, github.ErrNotConfigured):
		return KindUnavailable

	case errors.Is(err, mcp.ErrLaunchFailed):
		return KindLaunchFailed

	case errors.Is(err, sandbox.ErrResourceLimit):
		return KindResourceLimit

	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}

	var terr *deepseek.TransportError
	if errors.As(err, &terr) {
		if terr.Timeout {
			return KindTimeout
		}
		return KindTransportError
	}
	var derr *deepseek.APIError
	if errors.As(err, &derr) {
		return KindTransportError
	}
	var gerr *github.APIError
	if errors.As(err, &gerr) {
		return KindTransportError
	}

	return KindInternal
}

// argString pulls a string argument, empty when absent.
func argString(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

// argInt tolerates both int and float64 (JSON numbers decode as the
// latter).
func argInt(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func argFloat(args map[string]any, key string) float64 {
	switch v := args[key].(type) {
	case int:
		return float64(v)
	case float64:
		return v
	}
	return 0
}

func (o *Orchestrator) sandboxExecuteTool() *tools.Tool {
	return &tools.Tool{
		Name:        "sandbox_execute",
		Description: "Run source code in an isolated scratch directory",
		Category:    tools.CategorySandbox,
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			code := argString(args, "code")
			language := argString(args, "language")
			if code == "" {
				return nil, fmt.Errorf("%w: code", tools.ErrMissingRequiredArg)
			}

			opts := sandbox.Options{Retain: args["retain"] == true}
			if secs := argInt(args, "timeout"); secs > 0 {
				opts.Timeout = time.Duration(secs) * time.Second
			}
			run, err := o.executor.Execute(ctx, language, code, opts)
			if err != nil {
				return nil, err
			}
			// nonzero exits and timeouts come back as data on the run
			// record; a run killed by its resource limits surfaces as a
			// typed error
			if run.Reason == sandbox.ReasonResourceLimit {
				return nil, fmt.Errorf("%w: %s", sandbox.ErrResourceLimit, run.Error)
			}
			return run, nil
		},
		Schema: tools.ToolSchema{
			Required: []string{"language", "code"},
			Properties: map[string]tools.Property{
				"language": {Type: "string", Description: "Language to run", Enum: []any{"python", "javascript", "go", "shell"}},
				"code":     {Type: "string", Description: "Source code to execute"},
				"timeout":  {Type: "integer", Description: "Wall clock limit in seconds"},
				"retain":   {Type: "boolean", Description: "Keep the scratch directory", Default: false},
			},
		},
	}
}

func (o *Orchestrator) mcpStartTool() *tools.Tool {
	return &tools.Tool{
		Name:        "mcp_start_server",
		Description: "Start a managed server from the catalog",
		Category:    tools.CategoryMCP,
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			return o.supervisor.StartServer(ctx, argString(args, "name"))
		},
		Schema: tools.ToolSchema{
			Required: []string{"name"},
			Properties: map[string]tools.Property{
				"name": {Type: "string", Description: "Catalog name of the server"},
			},
		},
	}
}

func (o *Orchestrator) mcpStopTool() *tools.Tool {
	return &tools.Tool{
		Name:        "mcp_stop_server",
		Description: "Stop a managed server",
		Category:    tools.CategoryMCP,
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			name := argString(args, "name")
			if err := o.supervisor.StopServer(ctx, name); err != nil {
				return nil, err
			}
			return map[string]any{"name": name, "state": string(mcp.StateStopped)}, nil
		},
		Schema: tools.ToolSchema{
			Required: []string{"name"},
			Properties: map[string]tools.Property{
				"name": {Type: "string", Description: "Catalog name of the server"},
			},
		},
	}
}

func (o *Orchestrator) mcpHealthTool() *tools.Tool {
	return &tools.Tool{
		Name:        "mcp_health",
		Description: "Probe one managed server, or report the state of all",
		Category:    tools.CategoryMCP,
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			if name := argString(args, "name"); name != "" {
				return o.supervisor.HealthCheck(ctx, name)
			}
			return map[string]any{"servers": o.supervisor.Status()}, nil
		},
		Schema: tools.ToolSchema{
			Properties: map[string]tools.Property{
				"name": {Type: "string", Description: "Catalog name; omit for all servers"},
			},
		},
	}
}

func (o *Orchestrator) planningStartTool() *tools.Tool {
	return &tools.Tool{
		Name:        "planning_start",
		Description: "Run the iterative planning loop for a domain",
		Category:    tools.CategoryPlanning,
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			if o.loop == nil {
				return nil, deepseek.ErrNotConfigured
			}
			domain := argString(args, "domain")
			if domain == "" {
				return nil, fmt.Errorf("%w: domain", tools.ErrMissingRequiredArg)
			}
			return o.loop.Run(ctx, planner.Request{
				Domain:              domain,
				Requirements:        argString(args, "requirements"),
				IdeaID:              argString(args, "idea_id"),
				MaxIterations:       argInt(args, "iterations"),
				ConfidenceThreshold: argFloat(args, "threshold"),
			})
		},
		Schema: tools.ToolSchema{
			Required: []string{"domain"},
			Properties: map[string]tools.Property{
				"domain":       {Type: "string", Description: "Problem domain to plan for"},
				"requirements": {Type: "string", Description: "Initial requirements text"},
				"idea_id":      {Type: "string", Description: "Idea this session refines"},
				"iterations":   {Type: "integer", Description: "Iteration budget, clamped to [1,10]"},
				"threshold":    {Type: "number", Description: "Confidence needed to stop early"},
			},
		},
	}
}

func (o *Orchestrator) ideaScoreTool() *tools.Tool {
	return &tools.Tool{
		Name:        "idea_score",
		Description: "Score an idea's validation metrics and persist it",
		Category:    tools.CategoryPlanning,
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			idea := &store.Idea{
				ID:            argString(args, "idea_id"),
				Domain:        argString(args, "domain"),
				Description:   argString(args, "description"),
				MarketSummary: argString(args, "market_summary"),
			}
			if idea.Domain == "" {
				return nil, fmt.Errorf("%w: domain", tools.ErrMissingRequiredArg)
			}
			if features, ok := args["features"].([]any); ok {
				for _, f := range features {
					if s, ok := f.(string); ok {
						idea.Features = append(idea.Features, s)
					}
				}
			}
			idea.Validation.Feasibility = argInt(args, "feasibility")
			idea.Validation.Demand = argInt(args, "demand")
			idea.Validation.Viability = argInt(args, "viability")
			if err := planner.ScoreIdea(ctx, o.store, idea); err != nil {
				return nil, err
			}
			return idea, nil
		},
		Schema: tools.ToolSchema{
			Required: []string{"domain", "feasibility", "demand", "viability"},
			Properties: map[string]tools.Property{
				"idea_id":        {Type: "string", Description: "Existing idea to re-score; omit to create"},
				"domain":         {Type: "string", Description: "Domain the idea belongs to"},
				"description":    {Type: "string", Description: "What the idea is"},
				"market_summary": {Type: "string", Description: "Market context"},
				"features":       {Type: "array", Description: "Feature list", Items: &tools.PropertyItems{Type: "string"}},
				"feasibility":    {Type: "integer", Description: "Technical feasibility, 0-10"},
				"demand":         {Type: "integer", Description: "Market demand, 0-10"},
				"viability":      {Type: "integer", Description: "Business viability, 0-10"},
			},
		},
	}
}

func (o *Orchestrator) planningStatusTool() *tools.Tool {
	return &tools.Tool{
		Name:        "planning_status",
		Description: "Load one planning session, or list recent sessions",
		Category:    tools.CategoryPlanning,
		Execute: func(ctx context.Context, args map[string]any) (any, error) {
			if id := argString(args, "session_id"); id != "" {
				return o.store.GetSession(ctx, id)
			}
			sessions, err := o.store.ListSessions(ctx,
				argString(args, "domain"), store.SessionStatus(argString(args, "status")))
			if err != nil {
				return nil, err
			}
			return map[string]any{"sessions": sessions, "count": len(sessions)}, nil
		},
		Schema: tools.ToolSchema{
			Properties: map[string]tools.Property{
				"session_id": {Type: "string", Description: "Session to load; omit to list"},
				"domain":     {Type: "string", Description: "Filter listings by domain"},
				"status":     {Type: "string", Description: "Filter listings by status"},
			},
		},
	}
}

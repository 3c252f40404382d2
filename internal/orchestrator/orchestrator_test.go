package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"ideaforge/internal/github"
	"ideaforge/internal/mcp"
	"ideaforge/internal/planner"
	"ideaforge/internal/planner/deepseek"
	"ideaforge/internal/sandbox"
	"ideaforge/internal/store"
	"ideaforge/internal/tools"
)

// fixedPlanner always returns the same confident draft.
type fixedPlanner struct{}

func (fixedPlanner) Plan(ctx context.Context, planningContext string) (*planner.PlanResult, error) {
	return &planner.PlanResult{
		ResultText: "the plan",
		Metrics: map[string]float64{
			"feasibility": 9, "completeness": 9, "viability": 9,
		},
	}, nil
}

func newTestOrchestrator(t *testing.T, withPlanner bool) (*Orchestrator, *store.SessionStore) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	var loop *planner.Loop
	if withPlanner {
		loop = planner.NewLoop(fixedPlanner{}, st, nil, time.Second)
	}

	o, err := New(Deps{
		Store:         st,
		Executor:      sandbox.NewExecutor(t.TempDir(), 10*time.Second, 0),
		Supervisor:    mcp.NewSupervisor(mcp.Options{ProbeInterval: time.Hour}),
		Loop:          loop,
		GitHub:        github.NewClient(github.Options{}),
		WorkspaceRoot: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o, st
}

func TestCommandsCoverFullSurface(t *testing.T) {
	o, _ := newTestOrchestrator(t, false)

	want := []string{
		"fs_scan_project", "fs_create_structure", "fs_search_files",
		"sandbox_execute",
		"mcp_start_server", "mcp_stop_server", "mcp_health",
		"github_create_repo", "github_list_repos", "github_get_file", "github_create_issue",
		"planning_start", "planning_status", "idea_score",
	}
	got := map[string]bool{}
	for _, name := range o.Commands() {
		got[name] = true
	}
	for _, name := range want {
		if !got[name] {
			t.Errorf("command %s not registered", name)
		}
	}
	if len(got) != len(want) {
		t.Errorf("registered %d commands, want %d: %v", len(got), len(want), o.Commands())
	}
}

func TestCommandsByCategoryGroupsAndOrders(t *testing.T) {
	o, _ := newTestOrchestrator(t, false)

	grouped := o.CommandsByCategory()

	fs := grouped["/fs"]
	if len(fs) != 3 {
		t.Fatalf("fs commands = %v, want 3", fs)
	}
	if fs[0] != "fs_scan_project" {
		t.Errorf("first fs command = %s, want fs_scan_project (highest priority)", fs[0])
	}
	if len(grouped["/planning"]) != 3 {
		t.Errorf("planning commands = %v, want 3", grouped["/planning"])
	}

	total := 0
	for _, names := range grouped {
		total += len(names)
	}
	if total != len(o.Commands()) {
		t.Errorf("grouped %d commands, registry has %d", total, len(o.Commands()))
	}
}

func TestDispatchIdeaScore(t *testing.T) {
	o, st := newTestOrchestrator(t, false)
	ctx := context.Background()

	result := o.Dispatch(ctx, "idea_score", map[string]any{
		"domain":      "devtools",
		"description": "hosted lint service",
		"features":    []any{"ruleset packs", "pr annotations"},
		"feasibility": 8,
		"demand":      7,
		"viability":   6,
	})
	if !result.Success {
		t.Fatalf("idea_score failed: %+v", result.Error)
	}
	idea, ok := result.Data.(*store.Idea)
	if !ok {
		t.Fatalf("data = %#v, want *store.Idea", result.Data)
	}
	if idea.Validation.Overall != 7 {
		t.Errorf("overall = %v, want 7", idea.Validation.Overall)
	}
	if idea.Confidence != 0.7 {
		t.Errorf("confidence = %v, want 0.7", idea.Confidence)
	}

	saved, err := st.ListIdeas(ctx, "devtools")
	if err != nil {
		t.Fatalf("ListIdeas: %v", err)
	}
	if len(saved) != 1 || saved[0].ID != idea.ID {
		t.Errorf("persisted ideas = %+v", saved)
	}

	missing := o.Dispatch(ctx, "idea_score", map[string]any{
		"feasibility": 8, "demand": 7, "viability": 6,
	})
	if missing.Success {
		t.Fatal("idea_score without domain should fail")
	}
	if missing.Error == nil || missing.Error.Kind != KindInvalidArgument {
		t.Errorf("error = %+v, want kind %s", missing.Error, KindInvalidArgument)
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	o, _ := newTestOrchestrator(t, false)

	result := o.Dispatch(context.Background(), "launch_missiles", nil)
	if result.Success {
		t.Fatal("unknown command should fail")
	}
	if result.Error == nil || result.Error.Kind != KindNotFound {
		t.Errorf("error = %+v, want kind %s", result.Error, KindNotFound)
	}
}

func TestDispatchMissingRequiredArg(t *testing.T) {
	o, _ := newTestOrchestrator(t, false)

	result := o.Dispatch(context.Background(), "fs_scan_project", map[string]any{})
	if result.Success {
		t.Fatal("missing arg should fail")
	}
	if result.Error.Kind != KindInvalidArgument {
		t.Errorf("kind = %s, want %s", result.Error.Kind, KindInvalidArgument)
	}
}

func TestDispatchSandboxExecute(t *testing.T) {
	o, _ := newTestOrchestrator(t, false)

	result := o.Dispatch(context.Background(), "sandbox_execute", map[string]any{
		"language": "shell",
		"code":     "echo orchestrated",
	})
	if !result.Success {
		t.Fatalf("dispatch failed: %+v", result.Error)
	}
	run, ok := result.Data.(*sandbox.Run)
	if !ok {
		t.Fatalf("data = %#v", result.Data)
	}
	if run.Reason != sandbox.ReasonCompleted || run.ExitCode != 0 {
		t.Errorf("run = %+v", run)
	}
}

func TestDispatchSandboxUnsupportedLanguage(t *testing.T) {
	o, _ := newTestOrchestrator(t, false)

	result := o.Dispatch(context.Background(), "sandbox_execute", map[string]any{
		"language": "cobol",
		"code":     "DISPLAY 'HI'",
	})
	if result.Success || result.Error.Kind != KindInvalidArgument {
		t.Errorf("result = %+v", result)
	}
}

func TestDispatchPlanningUnavailableWithoutPlanner(t *testing.T) {
	o, _ := newTestOrchestrator(t, false)

	result := o.Dispatch(context.Background(), "planning_start", map[string]any{
		"domain": "web_development",
	})
	if result.Success || result.Error.Kind != KindUnavailable {
		t.Errorf("result = %+v", result)
	}
}

func TestDispatchPlanningStartAndStatus(t *testing.T) {
	o, _ := newTestOrchestrator(t, true)
	ctx := context.Background()

	result := o.Dispatch(ctx, "planning_start", map[string]any{
		"domain":     "web_development",
		"iterations": 3.0,
		"threshold":  0.85,
	})
	if !result.Success {
		t.Fatalf("planning_start failed: %+v", result.Error)
	}
	sess, ok := result.Data.(*store.PlanningSession)
	if !ok {
		t.Fatalf("data = %#v", result.Data)
	}
	if sess.Status != store.StatusCompleted || len(sess.Iterations) != 1 {
		t.Errorf("session = %+v", sess)
	}

	status := o.Dispatch(ctx, "planning_status", map[string]any{"session_id": sess.ID})
	if !status.Success {
		t.Fatalf("planning_status failed: %+v", status.Error)
	}
	loaded := status.Data.(*store.PlanningSession)
	if loaded.ID != sess.ID || len(loaded.Iterations) != 1 {
		t.Errorf("loaded = %+v", loaded)
	}

	listing := o.Dispatch(ctx, "planning_status", nil)
	if !listing.Success {
		t.Fatalf("listing failed: %+v", listing.Error)
	}
}

func TestDispatchPlanningStatusMissingSession(t *testing.T) {
	o, _ := newTestOrchestrator(t, false)

	result := o.Dispatch(context.Background(), "planning_status", map[string]any{
		"session_id": "no-such-session",
	})
	if result.Success || result.Error.Kind != KindNotFound {
		t.Errorf("result = %+v", result)
	}
}

func TestDispatchMCPUnknownServer(t *testing.T) {
	o, _ := newTestOrchestrator(t, false)

	result := o.Dispatch(context.Background(), "mcp_start_server", map[string]any{
		"name": "unregistered",
	})
	if result.Success || result.Error.Kind != KindNotFound {
		t.Errorf("result = %+v", result)
	}
}

func TestDispatchGitHubUnavailable(t *testing.T) {
	o, _ := newTestOrchestrator(t, false)

	result := o.Dispatch(context.Background(), "github_create_repo", map[string]any{
		"name": "demo",
	})
	if result.Success || result.Error.Kind != KindUnavailable {
		t.Errorf("result = %+v", result)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"tool not found", tools.ErrToolNotFound, KindNotFound},
		{"store not found", store.ErrNotFound, KindNotFound},
		{"server not found", mcp.ErrServerNotFound, KindNotFound},
		{"missing arg", tools.ErrMissingRequiredArg, KindInvalidArgument},
		{"bad arg type", tools.ErrInvalidArgType, KindInvalidArgument},
		{"bad language", sandbox.ErrUnsupportedLanguage, KindInvalidArgument},
		{"planner unconfigured", deepseek.ErrNotConfigured, KindUnavailable},
		{"github unconfigured", github.ErrNotConfigured, KindUnavailable},
		{"launch failed", mcp.ErrLaunchFailed, KindLaunchFailed},
		{"sandbox resource limit", sandbox.ErrResourceLimit, KindResourceLimit},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"transport timeout", &deepseek.TransportError{Timeout: true, Err: errors.New("x")}, KindTimeout},
		{"transport", &deepseek.TransportError{Err: errors.New("x")}, KindTransportError},
		{"api error", &deepseek.APIError{StatusCode: 500}, KindTransportError},
		{"github api error", &github.APIError{StatusCode: 500}, KindTransportError},
		{"anything else", errors.New("surprise"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.err); got != tt.want {
				t.Errorf("classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ideaforge/internal/config"
	"ideaforge/internal/github"
	"ideaforge/internal/logging"
	"ideaforge/internal/mcp"
	"ideaforge/internal/orchestrator"
	"ideaforge/internal/planner"
	"ideaforge/internal/planner/deepseek"
	"ideaforge/internal/sandbox"
	"ideaforge/internal/store"
)

var (
	// Global flags
	verbose   bool
	workspace string
	timeout   time.Duration

	// Logger
	logger *zap.Logger
)

// errCommandFailed signals a printed failure Result; main exits 1
// without a second error line.
var errCommandFailed = errors.New("command failed")

var rootCmd = &cobra.Command{
	Use:   "ideaforge",
	Short: "ideaforge - iterative planning and tool orchestration engine",
	Long: `ideaforge drives bounded AI planning iterations over a domain,
executes code in isolated sandboxes, supervises MCP server processes,
and persists every planning session in SQLite.

Run without arguments to start the interactive shell.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInteractive(cmd, args)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine configuration and store statistics",
	RunE:  runStatus,
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Run the iterative planning loop for a domain",
	Long: `Runs up to --iterations planning passes, refining the plan each time,
stopping early once the confidence threshold is reached. The session and
every iteration are persisted and can be inspected later with 'status'.`,
	RunE: runPlan,
}

var developCmd = &cobra.Command{
	Use:   "develop",
	Short: "Scaffold a new project, optionally with a GitHub repository",
	RunE:  runDevelop,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Scan a project tree and report its structure",
	RunE:  runAnalyze,
}

var executeCmd = &cobra.Command{
	Use:   "execute",
	Short: "Run a code snippet in an isolated sandbox",
	RunE:  runExecute,
}

var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Start the interactive command shell",
	RunE:  runInteractive,
}

var (
	planDomain       string
	planRequirements string
	planIterations   int
	planThreshold    float64

	developName     string
	developLanguage string
	developGitHub   bool
	developTests    bool
	developBuild    bool

	analyzePath     string
	analyzeLanguage string

	executeLanguage string
	executeCode     string
	executeTimeout  int
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Minute, "Operation timeout")

	planCmd.Flags().StringVar(&planDomain, "domain", "", "Problem domain to plan for (required)")
	planCmd.Flags().StringVar(&planRequirements, "requirements", "", "Initial requirements text")
	planCmd.Flags().IntVar(&planIterations, "iterations", 3, "Iteration budget, clamped to [1,10]")
	planCmd.Flags().Float64Var(&planThreshold, "threshold", 0.85, "Confidence needed to stop early")
	_ = planCmd.MarkFlagRequired("domain")

	developCmd.Flags().StringVar(&developName, "name", "", "Project name (required)")
	developCmd.Flags().StringVar(&developLanguage, "language", "python", "Project language")
	developCmd.Flags().BoolVar(&developGitHub, "github", false, "Also create a GitHub repository")
	developCmd.Flags().BoolVar(&developTests, "tests", false, "Run the scaffolded entrypoint in the sandbox")
	developCmd.Flags().BoolVar(&developBuild, "build", false, "Alias for --tests on interpreted scaffolds")
	_ = developCmd.MarkFlagRequired("name")

	analyzeCmd.Flags().StringVar(&analyzePath, "path", ".", "Project path to scan")
	analyzeCmd.Flags().StringVar(&analyzeLanguage, "language", "", "Only report files of this language")

	executeCmd.Flags().StringVar(&executeLanguage, "language", "", "Language to run (required)")
	executeCmd.Flags().StringVar(&executeCode, "code", "", "Source code to execute (required)")
	executeCmd.Flags().IntVar(&executeTimeout, "exec-timeout", 0, "Sandbox wall clock limit in seconds")
	_ = executeCmd.MarkFlagRequired("language")
	_ = executeCmd.MarkFlagRequired("code")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(developCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(executeCmd)
	rootCmd.AddCommand(interactiveCmd)
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errCommandFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// engine bundles the wired subsystems for one CLI invocation.
type engine struct {
	cfg        *config.Config
	orch       *orchestrator.Orchestrator
	store      *store.SessionStore
	supervisor *mcp.Supervisor
}

// buildEngine wires every subsystem from config. The returned cleanup
// stops managed servers and closes handles; call it on every path.
func buildEngine() (*engine, func(), error) {
	ws := workspace
	if ws == "" {
		ws, _ = os.Getwd()
	}

	if err := logging.Initialize(ws); err != nil {
		return nil, nil, fmt.Errorf("initialize logging: %w", err)
	}
	if err := logging.InitAudit(); err != nil {
		logger.Warn("audit log unavailable", zap.Error(err))
	}

	cfg, err := config.Load(filepath.Join(ws, config.DefaultConfigPath()))
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	st, err := store.Open(resolvePath(ws, cfg.Store.DatabasePath))
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	sandboxDir := cfg.Sandbox.Dir
	if sandboxDir != "" {
		sandboxDir = resolvePath(ws, sandboxDir)
	}
	executor := sandbox.NewExecutor(sandboxDir, cfg.GetSandboxTimeout(), cfg.Sandbox.MaxOutputBytes)

	supervisor := mcp.NewSupervisor(mcp.Options{
		ProbeInterval:    cfg.GetProbeInterval(),
		FailureThreshold: cfg.MCP.FailureThreshold,
		GracePeriod:      cfg.GetStopGracePeriod(),
	})
	if err := mcp.RegisterCatalog(supervisor, resolvePath(ws, cfg.MCP.ServersFile)); err != nil {
		logger.Warn("server catalog not loaded", zap.Error(err))
	}

	var loop *planner.Loop
	if cfg.HasDeepSeek() {
		client := deepseek.NewClient(deepseek.Options{
			APIKey:  cfg.DeepSeek.APIKey,
			Model:   cfg.DeepSeek.Model,
			BaseURL: cfg.DeepSeek.BaseURL,
			Timeout: cfg.GetDeepSeekTimeout(),
		})
		eval := planner.NewEvaluator(planner.Weights{
			Feasibility:  cfg.Planning.FeasibilityWeight,
			Completeness: cfg.Planning.CompletenessWeight,
			Viability:    cfg.Planning.ViabilityWeight,
		})
		loop = planner.NewLoop(client, st, eval, cfg.GetDeepSeekTimeout())
	} else {
		logger.Warn("DEEPSEEK_API_KEY not set, planning commands unavailable")
	}

	gh := github.NewClient(github.Options{
		Username: cfg.GitHub.Username,
		Token:    cfg.GitHub.Token,
		BaseURL:  cfg.GitHub.BaseURL,
		Timeout:  cfg.GetGitHubTimeout(),
	})

	orch, err := orchestrator.New(orchestrator.Deps{
		Store:         st,
		Executor:      executor,
		Supervisor:    supervisor,
		Loop:          loop,
		GitHub:        gh,
		WorkspaceRoot: ws,
	})
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("build orchestrator: %w", err)
	}

	eng := &engine{cfg: cfg, orch: orch, store: st, supervisor: supervisor}
	cleanup := func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := supervisor.StopAll(stopCtx); err != nil {
			logger.Warn("stopping managed servers", zap.Error(err))
		}
		st.Close()
		logging.CloseAudit()
		logging.CloseAll()
	}
	return eng, cleanup, nil
}

func resolvePath(ws, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(ws, p)
}

// commandContext carries the global timeout and cancels on SIGINT and
// SIGTERM so cleanup always runs.
func commandContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() { cancel(); stop() }
}

// printResult writes the envelope as indented JSON. The exit code
// follows Success.
func printResult(result orchestrator.Result) error {
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Println(string(out))
	if !result.Success {
		return errCommandFailed
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	eng, cleanup, err := buildEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := commandContext()
	defer cancel()

	stats, err := eng.store.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("store stats: %w", err)
	}

	return printResult(orchestrator.Result{
		Command: "status",
		Success: true,
		Data: map[string]any{
			"version":           eng.cfg.Version,
			"planner_available": eng.cfg.HasDeepSeek(),
			"github_available":  eng.cfg.HasGitHub(),
			"registered_tools":  eng.orch.Commands(),
			"managed_servers":   eng.supervisor.Status(),
			"store":             stats,
			"sandbox_languages": sandbox.SupportedLanguages(),
		},
	})
}

func runPlan(cmd *cobra.Command, args []string) error {
	eng, cleanup, err := buildEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := commandContext()
	defer cancel()

	return printResult(eng.orch.Dispatch(ctx, "planning_start", map[string]any{
		"domain":       planDomain,
		"requirements": planRequirements,
		"iterations":   planIterations,
		"threshold":    planThreshold,
	}))
}

// templateForLanguage maps a project language onto a scaffold template.
func templateForLanguage(language string) string {
	switch strings.ToLower(language) {
	case "python":
		return "python_package"
	case "javascript", "web":
		return "web_app"
	default:
		return "default"
	}
}

func runDevelop(cmd *cobra.Command, args []string) error {
	eng, cleanup, err := buildEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := commandContext()
	defer cancel()

	steps := []orchestrator.Result{}
	scaffold := eng.orch.Dispatch(ctx, "fs_create_structure", map[string]any{
		"name":     developName,
		"template": templateForLanguage(developLanguage),
	})
	steps = append(steps, scaffold)

	if scaffold.Success && developGitHub {
		steps = append(steps, eng.orch.Dispatch(ctx, "github_create_repo", map[string]any{
			"name":        developName,
			"description": fmt.Sprintf("%s project scaffolded by ideaforge", developLanguage),
		}))
	}

	if scaffold.Success && (developTests || developBuild) {
		if step, ran := smokeTest(ctx, eng, scaffold); ran {
			steps = append(steps, step)
		}
	}

	var project *store.Project
	if scaffold.Success {
		project = developedProject(developName, developLanguage, steps)
		if err := eng.store.SaveProject(ctx, project); err != nil {
			return fmt.Errorf("record project: %w", err)
		}
	}

	success := true
	for _, step := range steps {
		if !step.Success {
			success = false
		}
	}
	return printResult(orchestrator.Result{
		Command: "develop",
		Success: success,
		Data:    map[string]any{"name": developName, "steps": steps, "project": project},
	})
}

// developedProject builds the project record from the develop steps:
// the scaffold step supplies the path, the repo step the GitHub URL.
func developedProject(name, language string, steps []orchestrator.Result) *store.Project {
	project := &store.Project{
		ID:       uuid.NewString(),
		Name:     name,
		Language: strings.ToLower(language),
	}
	for _, step := range steps {
		if !step.Success {
			continue
		}
		switch data := step.Data.(type) {
		case map[string]any:
			if step.Command == "fs_create_structure" {
				project.Path, _ = data["path"].(string)
			}
		case *github.Repository:
			project.GitHubURL = data.URL
		}
	}
	return project
}

// smokeTest runs the scaffolded entrypoint through the sandbox.
func smokeTest(ctx context.Context, eng *engine, scaffold orchestrator.Result) (orchestrator.Result, bool) {
	data, ok := scaffold.Data.(map[string]any)
	if !ok {
		return orchestrator.Result{}, false
	}
	projectPath, _ := data["path"].(string)

	entrypoints := map[string]string{
		"python":     filepath.Join("src", "main.py"),
		"javascript": filepath.Join("frontend", "src", "script.js"),
	}
	rel, ok := entrypoints[strings.ToLower(developLanguage)]
	if !ok {
		return orchestrator.Result{}, false
	}
	source, err := os.ReadFile(filepath.Join(projectPath, rel))
	if err != nil {
		return orchestrator.Result{}, false
	}

	return eng.orch.Dispatch(ctx, "sandbox_execute", map[string]any{
		"language": strings.ToLower(developLanguage),
		"code":     string(source),
	}), true
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	eng, cleanup, err := buildEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := commandContext()
	defer cancel()

	result := eng.orch.Dispatch(ctx, "fs_scan_project", map[string]any{
		"path": analyzePath,
	})
	if result.Success && analyzeLanguage != "" {
		result.Data = filterByLanguage(result.Data, analyzeLanguage)
	}
	return printResult(result)
}

// filterByLanguage narrows a scan payload to one language's files.
func filterByLanguage(data any, language string) any {
	raw, err := json.Marshal(data)
	if err != nil {
		return data
	}
	var structure struct {
		Root  string `json:"root"`
		Files []struct {
			Path     string `json:"path"`
			Size     int64  `json:"size"`
			Language string `json:"language"`
		} `json:"files"`
	}
	if err := json.Unmarshal(raw, &structure); err != nil {
		return data
	}

	files := []map[string]any{}
	var total int64
	for _, f := range structure.Files {
		if strings.EqualFold(f.Language, language) {
			files = append(files, map[string]any{"path": f.Path, "size": f.Size})
			total += f.Size
		}
	}
	return map[string]any{
		"root":        structure.Root,
		"language":    language,
		"files":       files,
		"total_files": len(files),
		"total_size":  total,
	}
}

func runExecute(cmd *cobra.Command, args []string) error {
	eng, cleanup, err := buildEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := commandContext()
	defer cancel()

	dispatchArgs := map[string]any{
		"language": executeLanguage,
		"code":     executeCode,
	}
	if executeTimeout > 0 {
		dispatchArgs["timeout"] = executeTimeout
	}
	return printResult(eng.orch.Dispatch(ctx, "sandbox_execute", dispatchArgs))
}

func runInteractive(cmd *cobra.Command, args []string) error {
	eng, cleanup, err := buildEngine()
	if err != nil {
		return err
	}
	defer cleanup()

	// No timeout here: the shell runs until quit or interrupt.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Hot-reload the server catalog while the shell is up.
	if file := eng.cfg.MCP.ServersFile; file != "" {
		ws := workspace
		if ws == "" {
			ws, _ = os.Getwd()
		}
		go func() {
			if err := mcp.WatchCatalog(ctx, eng.supervisor, resolvePath(ws, file)); err != nil {
				logger.Debug("catalog watch stopped", zap.Error(err))
			}
		}()
	}

	fmt.Println("ideaforge interactive shell")
	fmt.Println("usage: <command> [json args] | commands | quit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		if ctx.Err() != nil {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "quit", "exit":
			return nil
		case "commands", "help":
			grouped := eng.orch.CommandsByCategory()
			categories := make([]string, 0, len(grouped))
			for category := range grouped {
				categories = append(categories, category)
			}
			sort.Strings(categories)
			for _, category := range categories {
				fmt.Println(category)
				for _, name := range grouped[category] {
					fmt.Println("  " + name)
				}
			}
			continue
		}

		name, rawArgs, _ := strings.Cut(line, " ")
		dispatchArgs := map[string]any{}
		if rawArgs = strings.TrimSpace(rawArgs); rawArgs != "" {
			if err := json.Unmarshal([]byte(rawArgs), &dispatchArgs); err != nil {
				fmt.Printf("bad args (want a JSON object): %v\n", err)
				continue
			}
		}

		// interactive failures are reported inline, never fatal
		if err := printResult(eng.orch.Dispatch(ctx, name, dispatchArgs)); err != nil &&
			!errors.Is(err, errCommandFailed) {
			return err
		}
	}
	return scanner.Err()
}

// Package sandbox runs untrusted code snippets in isolated scratch
// directories with enforced timeouts and bounded output capture.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ideaforge/internal/logging"
)

// TerminationReason classifies how a sandbox run ended.
type TerminationReason string

const (
	ReasonCompleted     TerminationReason = "completed"
	ReasonTimedOut      TerminationReason = "timed_out"
	ReasonResourceLimit TerminationReason = "resource_limit"
	ReasonCrashed       TerminationReason = "crashed"
)

// ErrUnsupportedLanguage is returned for a language the sandbox has no
// interpreter mapping for.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// ErrResourceLimit marks a run killed by its kernel resource limits.
var ErrResourceLimit = errors.New("resource limit exceeded")

// Per-run kernel resource limits, enforced where the platform supports
// them.
const (
	DefaultCPUSeconds  = 30
	DefaultMemoryBytes = 512 << 20
	DefaultMaxProcs    = 50
)

// MaxOutputBytes is the default per-stream capture cap.
const MaxOutputBytes = 1 << 20

// TruncationMarker is appended to any capped stream.
const TruncationMarker = "\n... [truncated]"

// Run is the record of one sandbox execution.
type Run struct {
	ID        string            `json:"id"`
	Language  string            `json:"language"`
	Dir       string            `json:"dir,omitempty"`
	StartedAt time.Time         `json:"started_at"`
	EndedAt   time.Time         `json:"ended_at"`
	ExitCode  int               `json:"exit_code"`
	Stdout    string            `json:"stdout"`
	Stderr    string            `json:"stderr"`
	Reason    TerminationReason `json:"reason"`
	Error     string            `json:"error,omitempty"`
}

// Options control a single execution.
type Options struct {
	Timeout    time.Duration // zero means the executor default
	Retain     bool          // keep the scratch directory after the run
	CPUSeconds int           // CPU time limit; zero means DefaultCPUSeconds
}

// language describes how to materialize and run source for one language.
type language struct {
	filename string
	command  func(file string) []string
}

var languages = map[string]language{
	"python": {
		filename: "main.py",
		command:  func(file string) []string { return []string{"python3", file} },
	},
	"javascript": {
		filename: "main.js",
		command:  func(file string) []string { return []string{"node", file} },
	},
	"go": {
		filename: "main.go",
		command:  func(file string) []string { return []string{"go", "run", file} },
	},
	"shell": {
		filename: "main.sh",
		command:  func(file string) []string { return []string{"bash", file} },
	},
}

// SupportedLanguages lists the languages the sandbox can run.
func SupportedLanguages() []string {
	out := make([]string, 0, len(languages))
	for name := range languages {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Executor creates one scratch directory per run and cleans it up
// afterwards. Directories are siblings under the parent dir, never
// nested inside a previous run's directory.
type Executor struct {
	parentDir      string // empty = system temp
	defaultTimeout time.Duration
	maxOutput      int

	mu     sync.Mutex
	active map[string]string // run ID -> dir, for diagnostics
}

// NewExecutor returns a sandbox executor. parentDir may be empty to use
// the system temp directory.
func NewExecutor(parentDir string, defaultTimeout time.Duration, maxOutput int) *Executor {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	if maxOutput <= 0 {
		maxOutput = MaxOutputBytes
	}
	return &Executor{
		parentDir:      parentDir,
		defaultTimeout: defaultTimeout,
		maxOutput:      maxOutput,
		active:         make(map[string]string),
	}
}

// Execute writes source to a fresh scratch directory and runs it under
// the language's interpreter. A run that exits nonzero is still a
// completed run; only launch failures surface as crashed.
func (e *Executor) Execute(ctx context.Context, languageName, source string, opts Options) (*Run, error) {
	lang, ok := languages[languageName]
	if !ok {
		return nil, fmt.Errorf("%w: %s (supported: %s)",
			ErrUnsupportedLanguage, languageName, strings.Join(SupportedLanguages(), ", "))
	}

	run := &Run{
		ID:        uuid.NewString(),
		Language:  languageName,
		StartedAt: time.Now(),
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	dir, err := os.MkdirTemp(e.parentDir, "sandbox-run-")
	if err != nil {
		run.Reason = ReasonCrashed
		run.Error = err.Error()
		run.EndedAt = time.Now()
		return run, fmt.Errorf("failed to create sandbox dir: %w", err)
	}
	run.Dir = dir
	e.track(run.ID, dir)
	defer func() {
		e.untrack(run.ID)
		if !opts.Retain {
			os.RemoveAll(dir)
			run.Dir = ""
		}
	}()

	srcPath := filepath.Join(dir, lang.filename)
	if err := os.WriteFile(srcPath, []byte(source), 0644); err != nil {
		run.Reason = ReasonCrashed
		run.Error = err.Error()
		run.EndedAt = time.Now()
		return run, fmt.Errorf("failed to write source: %w", err)
	}

	argv := lang.command(srcPath)

	// Interpreters come from the environment; a missing one is a
	// reportable crash, not a panic.
	binary, err := exec.LookPath(argv[0])
	if err != nil {
		run.Reason = ReasonCrashed
		run.Error = fmt.Sprintf("interpreter not found: %s", argv[0])
		run.EndedAt = time.Now()
		logging.SandboxError("Run %s: %s", run.ID, run.Error)
		return run, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.Command(binary, argv[1:]...)
	cmd.Dir = dir
	setProcessGroup(cmd)

	stdout := newCappedBuffer(e.maxOutput)
	stderr := newCappedBuffer(e.maxOutput)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	logging.Sandbox("Run %s: %s in %s (timeout %v)", run.ID, strings.Join(argv, " "), dir, timeout)

	if err := cmd.Start(); err != nil {
		run.Reason = ReasonCrashed
		run.Error = err.Error()
		run.EndedAt = time.Now()
		logging.SandboxError("Run %s failed to start: %v", run.ID, err)
		return run, nil
	}

	cpuSeconds := opts.CPUSeconds
	if cpuSeconds <= 0 {
		cpuSeconds = DefaultCPUSeconds
	}
	if err := applyResourceLimits(cmd.Process.Pid, cpuSeconds); err != nil {
		logging.SandboxDebug("Run %s: resource limits not applied: %v", run.ID, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timedOut := false
	select {
	case err = <-done:
	case <-runCtx.Done():
		timedOut = runCtx.Err() == context.DeadlineExceeded
		// Kill the whole process group so grandchildren die too
		killProcessGroup(cmd)
		err = <-done
	}

	run.EndedAt = time.Now()
	run.Stdout = stdout.String()
	run.Stderr = stderr.String()

	switch {
	case timedOut:
		run.Reason = ReasonTimedOut
		run.ExitCode = -1
		run.Error = fmt.Sprintf("execution exceeded %v", timeout)
		logging.SandboxError("Run %s timed out after %v", run.ID, timeout)
	case runCtx.Err() == context.Canceled:
		run.Reason = ReasonCrashed
		run.ExitCode = -1
		run.Error = "execution canceled"
	case exceededCPULimit(err):
		run.Reason = ReasonResourceLimit
		run.ExitCode = -1
		run.Error = fmt.Sprintf("cpu time exceeded %ds", cpuSeconds)
		logging.SandboxError("Run %s killed: cpu time exceeded %ds", run.ID, cpuSeconds)
	case err != nil:
		if exitErr, ok := err.(*exec.ExitError); ok {
			// Nonzero exit is still a completed run
			run.Reason = ReasonCompleted
			run.ExitCode = exitErr.ExitCode()
		} else {
			run.Reason = ReasonCrashed
			run.ExitCode = -1
			run.Error = err.Error()
		}
	default:
		run.Reason = ReasonCompleted
		run.ExitCode = 0
	}

	if stdout.truncated || stderr.truncated {
		logging.SandboxDebug("Run %s output truncated at %d bytes", run.ID, e.maxOutput)
	}
	logging.Audit().SandboxRun(run.ID, run.Language, string(run.Reason),
		run.EndedAt.Sub(run.StartedAt).Milliseconds(), run.ExitCode)

	return run, nil
}

func (e *Executor) track(id, dir string) {
	e.mu.Lock()
	e.active[id] = dir
	e.mu.Unlock()
}

func (e *Executor) untrack(id string) {
	e.mu.Lock()
	delete(e.active, id)
	e.mu.Unlock()
}

// ActiveRuns returns the directories of currently-executing runs.
func (e *Executor) ActiveRuns() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]string, len(e.active))
	for k, v := range e.active {
		out[k] = v
	}
	return out
}

// cappedBuffer captures up to max bytes and then discards, recording
// that truncation happened.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	max       int
	truncated bool
}

func newCappedBuffer(max int) *cappedBuffer {
	return &cappedBuffer{max: max}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buf.Len() >= b.max {
		b.truncated = true
		return len(p), nil
	}
	room := b.max - b.buf.Len()
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return b.buf.String() + TruncationMarker
	}
	return b.buf.String()
}

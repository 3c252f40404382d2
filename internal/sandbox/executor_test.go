package sandbox

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestExecuteShellCompleted(t *testing.T) {
	e := NewExecutor(t.TempDir(), 10*time.Second, 0)

	run, err := e.Execute(context.Background(), "shell", "echo hello sandbox", Options{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.Reason != ReasonCompleted {
		t.Errorf("expected completed, got %s (error=%s)", run.Reason, run.Error)
	}
	if run.ExitCode != 0 {
		t.Errorf("expected exit 0, got %d", run.ExitCode)
	}
	if !strings.Contains(run.Stdout, "hello sandbox") {
		t.Errorf("stdout missing output: %q", run.Stdout)
	}
}

func TestNonzeroExitIsCompleted(t *testing.T) {
	e := NewExecutor(t.TempDir(), 10*time.Second, 0)

	run, err := e.Execute(context.Background(), "shell", "echo oops >&2; exit 3", Options{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.Reason != ReasonCompleted {
		t.Errorf("nonzero exit should be completed, got %s", run.Reason)
	}
	if run.ExitCode != 3 {
		t.Errorf("expected exit 3, got %d", run.ExitCode)
	}
	if !strings.Contains(run.Stderr, "oops") {
		t.Errorf("stderr missing output: %q", run.Stderr)
	}
}

func TestTimeoutKillsProcessAndRemovesDir(t *testing.T) {
	parent := t.TempDir()
	e := NewExecutor(parent, 10*time.Second, 0)

	start := time.Now()
	run, err := e.Execute(context.Background(), "shell", "sleep 30", Options{Timeout: 300 * time.Millisecond})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout took too long to enforce: %v", elapsed)
	}
	if run.Reason != ReasonTimedOut {
		t.Errorf("expected timed_out, got %s", run.Reason)
	}

	// Scratch directory must be gone
	entries, err := os.ReadDir(parent)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected scratch dir removed, found %d entries", len(entries))
	}
}

func TestConcurrentRunsGetUniqueDirs(t *testing.T) {
	parent := t.TempDir()
	e := NewExecutor(parent, 10*time.Second, 0)

	const n = 5
	var wg sync.WaitGroup
	dirs := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run, err := e.Execute(context.Background(), "shell", "pwd", Options{Retain: true})
			if err != nil {
				t.Errorf("Execute: %v", err)
				return
			}
			dirs <- run.Dir
		}()
	}
	wg.Wait()
	close(dirs)

	seen := make(map[string]bool)
	for dir := range dirs {
		if dir == "" {
			t.Error("retained run should report its dir")
			continue
		}
		if seen[dir] {
			t.Errorf("duplicate sandbox dir: %s", dir)
		}
		seen[dir] = true
		// No nesting: every dir is a direct child of the parent
		if !strings.HasPrefix(dir, parent) || strings.Count(strings.TrimPrefix(dir, parent), string(os.PathSeparator)) != 1 {
			t.Errorf("sandbox dir %s not a direct child of %s", dir, parent)
		}
		os.RemoveAll(dir)
	}
}

func TestRetainKeepsDir(t *testing.T) {
	e := NewExecutor(t.TempDir(), 10*time.Second, 0)

	run, err := e.Execute(context.Background(), "shell", "echo kept > artifact.txt", Options{Retain: true})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.Dir == "" {
		t.Fatal("retained run should keep its dir")
	}
	data, err := os.ReadFile(run.Dir + "/artifact.txt")
	if err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	if !strings.Contains(string(data), "kept") {
		t.Errorf("unexpected artifact content: %q", data)
	}
	os.RemoveAll(run.Dir)
}

func TestOutputTruncation(t *testing.T) {
	e := NewExecutor(t.TempDir(), 10*time.Second, 64)

	run, err := e.Execute(context.Background(), "shell",
		"for i in $(seq 1 100); do echo aaaaaaaaaaaaaaaaaaaaaaaa; done", Options{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.HasSuffix(run.Stdout, TruncationMarker) {
		t.Errorf("expected truncation marker, got %q", run.Stdout)
	}
	if len(run.Stdout) > 64+len(TruncationMarker) {
		t.Errorf("stdout exceeds cap: %d bytes", len(run.Stdout))
	}
}

func TestUnsupportedLanguage(t *testing.T) {
	e := NewExecutor(t.TempDir(), 10*time.Second, 0)

	_, err := e.Execute(context.Background(), "cobol", "DISPLAY 'HI'", Options{})
	if !errors.Is(err, ErrUnsupportedLanguage) {
		t.Errorf("err = %v, want ErrUnsupportedLanguage", err)
	}
}

func TestMissingInterpreterIsCrashed(t *testing.T) {
	e := NewExecutor(t.TempDir(), 10*time.Second, 0)

	// Empty PATH means no interpreter resolves
	t.Setenv("PATH", t.TempDir())

	run, err := e.Execute(context.Background(), "shell", "echo hi", Options{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.Reason != ReasonCrashed {
		t.Errorf("expected crashed, got %s", run.Reason)
	}
	if !strings.Contains(run.Error, "interpreter not found") {
		t.Errorf("expected launch failure detail, got %q", run.Error)
	}
}

func TestPythonRun(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
	e := NewExecutor(t.TempDir(), 10*time.Second, 0)

	run, err := e.Execute(context.Background(), "python", "print(6*7)", Options{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.Reason != ReasonCompleted || run.ExitCode != 0 {
		t.Fatalf("unexpected result: reason=%s exit=%d stderr=%q", run.Reason, run.ExitCode, run.Stderr)
	}
	if !strings.Contains(run.Stdout, "42") {
		t.Errorf("expected 42 in stdout, got %q", run.Stdout)
	}
}

func TestResourceLimitKillsCPUHog(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("rlimit enforcement is linux-only")
	}
	e := NewExecutor(t.TempDir(), 10*time.Second, 0)

	// Busy loop burns CPU far faster than the wall clock timeout, so
	// the 1 second CPU cap fires first.
	run, err := e.Execute(context.Background(), "shell", "while :; do :; done", Options{
		Timeout:    20 * time.Second,
		CPUSeconds: 1,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.Reason != ReasonResourceLimit {
		t.Fatalf("expected resource_limit, got %s (error=%s)", run.Reason, run.Error)
	}
	if !strings.Contains(run.Error, "cpu time exceeded") {
		t.Errorf("expected cpu limit detail, got %q", run.Error)
	}
	if run.ExitCode != -1 {
		t.Errorf("expected exit -1, got %d", run.ExitCode)
	}
}

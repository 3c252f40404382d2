package mcp

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ideaforge/internal/logging"
)

// Supervisor manages the lifecycle of named MCP server subprocesses.
// Each server has an independent lifecycle; supervisor calls never block
// on another server's state.
type Supervisor struct {
	mu    sync.RWMutex
	specs map[string]ServerSpec
	procs map[string]*managedServer

	probeInterval    time.Duration
	probeTimeout     time.Duration
	failureThreshold int
	gracePeriod      time.Duration

	lookupEnv func(string) (string, bool)
}

// managedServer tracks one running subprocess.
type managedServer struct {
	mu        sync.Mutex
	spec      ServerSpec
	transport *stdioTransport
	state     ServerState
	startedAt time.Time
	lastProbe time.Time
	failures  int
	lastErr   string
	rpcOK     bool // server completed the JSON-RPC handshake

	stopProbe chan struct{}
	probeDone chan struct{}
	waitErr   chan error
}

// Options configure a Supervisor.
type Options struct {
	ProbeInterval    time.Duration
	ProbeTimeout     time.Duration // per-probe JSON-RPC ping deadline
	FailureThreshold int
	GracePeriod      time.Duration

	// LookupEnv overrides environment lookup in tests.
	LookupEnv func(string) (string, bool)
}

// NewSupervisor creates a supervisor with the given options and an empty
// server registry.
func NewSupervisor(opts Options) *Supervisor {
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = 10 * time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 3 * time.Second
	}
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 3
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 5 * time.Second
	}
	s := &Supervisor{
		specs:            make(map[string]ServerSpec),
		procs:            make(map[string]*managedServer),
		probeInterval:    opts.ProbeInterval,
		probeTimeout:     opts.ProbeTimeout,
		failureThreshold: opts.FailureThreshold,
		gracePeriod:      opts.GracePeriod,
		lookupEnv:        opts.LookupEnv,
	}
	return s
}

// Register adds or replaces a server spec. A running server keeps its
// current process; the new spec applies on next start.
func (s *Supervisor) Register(spec ServerSpec) {
	s.mu.Lock()
	s.specs[spec.Name] = spec
	s.mu.Unlock()
	logging.MCPDebug("Registered server spec %s (%s)", spec.Name, spec.Command)
}

// Specs returns the registered server names, sorted.
func (s *Supervisor) Specs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.specs))
	for name := range s.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Supervisor) getenv(key string) (string, bool) {
	if s.lookupEnv != nil {
		return s.lookupEnv(key)
	}
	return os.LookupEnv(key)
}

// StartServer launches a registered server. The executable is resolved
// from PATH; a server whose binary or required environment is missing
// fails with ErrLaunchFailed and stays stopped.
func (s *Supervisor) StartServer(ctx context.Context, name string) (*ProcessInfo, error) {
	s.mu.Lock()
	spec, ok := s.specs[name]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrServerNotFound, name)
	}
	if proc, running := s.procs[name]; running {
		info := proc.info()
		s.mu.Unlock()
		return &info, fmt.Errorf("%w: %s", ErrAlreadyRunning, name)
	}
	s.mu.Unlock()

	for _, key := range spec.RequiredEnv {
		if _, present := s.getenv(key); !present {
			return nil, fmt.Errorf("%w: %s requires %s in environment", ErrLaunchFailed, name, key)
		}
	}

	binary, err := exec.LookPath(spec.Command)
	if err != nil {
		logging.MCPError("Server %s: executable %q not found on PATH", name, spec.Command)
		return nil, fmt.Errorf("%w: %s: %v", ErrLaunchFailed, name, err)
	}

	logging.MCP("Starting server %s: %s", name, binary)

	transport, err := startStdioTransport(name, binary, spec.Args, spec.Env)
	if err != nil {
		logging.MCPError("Server %s failed to launch: %v", name, err)
		logging.Audit().ServerEvent(logging.AuditServerStart, name, string(StateStopped), false, err.Error())
		return nil, fmt.Errorf("%w: %s: %v", ErrLaunchFailed, name, err)
	}

	proc := &managedServer{
		spec:      spec,
		transport: transport,
		state:     StateStarting,
		startedAt: time.Now(),
		stopProbe: make(chan struct{}),
		probeDone: make(chan struct{}),
		waitErr:   make(chan error, 1),
	}

	// Reap the subprocess as soon as it exits so probes see a dead
	// process rather than a zombie.
	go func() { proc.waitErr <- transport.wait() }()

	// Handshake with a bounded wait. Servers that never answer JSON-RPC
	// fall back to plain liveness probing.
	initCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	if err := transport.initialize(initCtx); err == nil {
		proc.rpcOK = true
		proc.state = StateRunning
		logging.MCP("Server %s running (handshake ok, pid %d)", name, transport.pid())
	} else {
		if proc.alive() {
			proc.state = StateRunning
			logging.MCPWarn("Server %s running without JSON-RPC handshake: %v", name, err)
		} else {
			cancel()
			transport.close()
			logging.MCPError("Server %s exited during startup", name)
			logging.Audit().ServerEvent(logging.AuditServerStart, name, string(StateStoppedOnError), false, "exited during startup")
			return nil, fmt.Errorf("%w: %s exited during startup", ErrLaunchFailed, name)
		}
	}
	cancel()

	s.mu.Lock()
	s.procs[name] = proc
	s.mu.Unlock()

	go s.probeLoop(name, proc)

	logging.Audit().ServerEvent(logging.AuditServerStart, name, string(proc.state), true, "")
	info := proc.info()
	return &info, nil
}

// probeLoop drives periodic health checks until the server is stopped.
func (s *Supervisor) probeLoop(name string, proc *managedServer) {
	defer close(proc.probeDone)
	ticker := time.NewTicker(s.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-proc.stopProbe:
			return
		case <-ticker.C:
			if !s.probeOnce(name, proc) {
				return
			}
		}
	}
}

// probeOnce performs a single health probe and applies the state machine.
// A process found dead goes straight to stopped_on_error and probing
// ends; an unresponsive but live process accumulates failures until the
// threshold marks it unhealthy, with no automatic restart. A later
// successful probe returns an unhealthy server to running. Returns false
// once probing this server is pointless.
func (s *Supervisor) probeOnce(name string, proc *managedServer) bool {
	if !proc.alive() {
		proc.mu.Lock()
		proc.lastProbe = time.Now()
		if proc.state != StateStoppedOnError {
			proc.state = StateStoppedOnError
			proc.lastErr = "process exited unexpectedly"
			logging.MCPError("Server %s exited on its own", name)
			logging.Audit().ServerEvent(logging.AuditServerStop, name, string(StateStoppedOnError), false, proc.lastErr)
		}
		proc.mu.Unlock()
		return false
	}

	healthy := s.checkHealth(proc)

	proc.mu.Lock()
	proc.lastProbe = time.Now()
	if healthy {
		proc.failures = 0
		if proc.state == StateUnhealthy {
			logging.MCP("Server %s recovered", name)
		}
		proc.state = StateRunning
		proc.lastErr = ""
	} else {
		proc.failures++
		logging.MCPWarn("Server %s probe failed (%d/%d)", name, proc.failures, s.failureThreshold)
		if proc.failures >= s.failureThreshold && proc.state != StateUnhealthy {
			proc.state = StateUnhealthy
			proc.lastErr = fmt.Sprintf("%d consecutive probe failures", proc.failures)
			logging.MCPError("Server %s marked unhealthy after %d failures", name, proc.failures)
			logging.Audit().ServerEvent(logging.AuditServerUnhealthy, name, string(StateUnhealthy), false, proc.lastErr)
		}
	}
	proc.mu.Unlock()
	return true
}

// checkHealth probes over JSON-RPC when the handshake succeeded, and
// falls back to process liveness otherwise.
func (s *Supervisor) checkHealth(proc *managedServer) bool {
	proc.mu.Lock()
	rpcOK := proc.rpcOK
	transport := proc.transport
	proc.mu.Unlock()

	if rpcOK {
		ctx, cancel := context.WithTimeout(context.Background(), s.probeTimeout)
		defer cancel()
		return transport.ping(ctx) == nil
	}
	return proc.alive()
}

// alive reports whether the subprocess has not yet been reaped.
func (p *managedServer) alive() bool {
	select {
	case err := <-p.waitErr:
		// Process exited; keep the result for later callers
		p.waitErr <- err
		return false
	default:
		return true
	}
}

func (p *managedServer) info() ProcessInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return ProcessInfo{
		Name:                p.spec.Name,
		Command:             p.spec.Command,
		Args:                p.spec.Args,
		State:               p.state,
		PID:                 p.transport.pid(),
		StartedAt:           p.startedAt,
		LastProbe:           p.lastProbe,
		ConsecutiveFailures: p.failures,
		LastError:           p.lastErr,
	}
}

// StopServer terminates a running server: polite signal first, then a
// hard kill after the grace period. The handle is always released.
func (s *Supervisor) StopServer(ctx context.Context, name string) error {
	s.mu.Lock()
	proc, ok := s.procs[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotRunning, name)
	}
	delete(s.procs, name)
	s.mu.Unlock()

	close(proc.stopProbe)
	<-proc.probeDone

	logging.MCP("Stopping server %s", name)

	osProc := proc.transport.process()
	if osProc != nil && proc.alive() {
		terminate(osProc)
		select {
		case <-proc.waitErr:
			// exited within grace
		case <-time.After(s.gracePeriod):
			logging.MCPWarn("Server %s did not exit within %v, killing", name, s.gracePeriod)
			osProc.Kill()
			<-proc.waitErr
		case <-ctx.Done():
			osProc.Kill()
			<-proc.waitErr
		}
	}

	proc.transport.close()

	proc.mu.Lock()
	// A self-exit detected by the probes keeps its state; this stop
	// just releases the handle.
	if proc.state != StateStoppedOnError {
		proc.state = StateStopped
	}
	finalState := proc.state
	proc.mu.Unlock()

	logging.Audit().ServerEvent(logging.AuditServerStop, name, string(finalState), true, "")
	return nil
}

// StopAll stops every running server concurrently. Each server gets its
// own grace period.
func (s *Supervisor) StopAll(ctx context.Context) error {
	s.mu.RLock()
	names := make([]string, 0, len(s.procs))
	for name := range s.procs {
		names = append(names, name)
	}
	s.mu.RUnlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			return s.StopServer(ctx, name)
		})
	}
	return g.Wait()
}

// HealthCheck probes a server immediately and returns its state.
func (s *Supervisor) HealthCheck(ctx context.Context, name string) (*ProcessInfo, error) {
	s.mu.RLock()
	proc, running := s.procs[name]
	_, registered := s.specs[name]
	s.mu.RUnlock()

	if !running {
		if !registered {
			return nil, fmt.Errorf("%w: %s", ErrServerNotFound, name)
		}
		return &ProcessInfo{Name: name, State: StateStopped}, nil
	}

	s.probeOnce(name, proc)
	info := proc.info()
	return &info, nil
}

// Status returns a snapshot of every registered server, running or not.
func (s *Supervisor) Status() []ProcessInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.specs))
	for name := range s.specs {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]ProcessInfo, 0, len(names))
	for _, name := range names {
		if proc, ok := s.procs[name]; ok {
			out = append(out, proc.info())
		} else {
			spec := s.specs[name]
			out = append(out, ProcessInfo{
				Name:    name,
				Command: spec.Command,
				Args:    spec.Args,
				State:   StateStopped,
			})
		}
	}
	return out
}

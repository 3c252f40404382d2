package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"ideaforge/internal/logging"
)

// stdioTransport speaks newline-delimited JSON-RPC 2.0 with a server
// subprocess over its stdin/stdout. Stderr is drained to the mcp log.
type stdioTransport struct {
	mu sync.RWMutex

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	serverName string
	connected  bool

	pendingReqs map[int]chan *rpcResponse
	nextID      int

	done chan struct{}
	wg   sync.WaitGroup
}

// startStdioTransport launches the command and begins the reader loops.
// The binary path must already be resolved; a start failure here means
// the process could not be spawned at all.
func startStdioTransport(name, binary string, args []string, env map[string]string) (*stdioTransport, error) {
	t := &stdioTransport{
		serverName:  name,
		pendingReqs: make(map[int]chan *rpcResponse),
		nextID:      1,
		done:        make(chan struct{}),
	}

	t.cmd = exec.Command(binary, args...)
	t.cmd.Env = os.Environ()
	for k, v := range env {
		t.cmd.Env = append(t.cmd.Env, k+"="+v)
	}

	var err error
	if t.stdin, err = t.cmd.StdinPipe(); err != nil {
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	if t.stdout, err = t.cmd.StdoutPipe(); err != nil {
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	if t.stderr, err = t.cmd.StderrPipe(); err != nil {
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	if err := t.cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", binary, err)
	}
	t.connected = true

	t.wg.Add(2)
	go t.readStderr()
	go t.readStdout()

	return t, nil
}

// pid returns the subprocess PID, or 0 when not running.
func (t *stdioTransport) pid() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.cmd != nil && t.cmd.Process != nil {
		return t.cmd.Process.Pid
	}
	return 0
}

// process exposes the underlying os.Process for signalling.
func (t *stdioTransport) process() *os.Process {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.cmd == nil {
		return nil
	}
	return t.cmd.Process
}

// close tears down the reader goroutines and pending calls. It does not
// signal the process; the supervisor owns termination order.
func (t *stdioTransport) close() {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return
	}
	t.connected = false

	if t.stdin != nil {
		_ = t.stdin.Close()
	}
	close(t.done)
	for id, ch := range t.pendingReqs {
		close(ch)
		delete(t.pendingReqs, id)
	}
	t.mu.Unlock()

	// Readers unblock when the process's pipes close
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(1 * time.Second):
		logging.MCPWarn("Timeout waiting for %s transport goroutines to exit", t.serverName)
	}
}

// wait reaps the subprocess after it has been signalled.
func (t *stdioTransport) wait() error {
	t.mu.RLock()
	cmd := t.cmd
	t.mu.RUnlock()
	if cmd == nil {
		return nil
	}
	return cmd.Wait()
}

func (t *stdioTransport) readStderr() {
	defer t.wg.Done()
	scanner := bufio.NewScanner(t.stderr)
	for scanner.Scan() {
		logging.MCPDebug("[%s stderr] %s", t.serverName, scanner.Text())
	}
}

// readStdout dispatches JSON-RPC responses to waiting callers.
func (t *stdioTransport) readStdout() {
	defer t.wg.Done()
	scanner := bufio.NewScanner(t.stdout)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var raw map[string]any
		if err := json.Unmarshal(line, &raw); err != nil {
			logging.MCPWarn("%s: unparseable stdout line: %v", t.serverName, err)
			continue
		}

		idVal, ok := raw["id"]
		if !ok {
			// Server notification, nothing waits on these
			logging.MCPDebug("%s notification: %s", t.serverName, string(line))
			continue
		}

		var id int
		switch v := idVal.(type) {
		case float64:
			id = int(v)
		case int:
			id = v
		default:
			continue
		}

		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			logging.MCPWarn("%s: failed to unmarshal response: %v", t.serverName, err)
			continue
		}

		t.mu.Lock()
		ch, exists := t.pendingReqs[id]
		if exists {
			delete(t.pendingReqs, id)
			ch <- &resp
		} else {
			logging.MCPWarn("%s: response for unknown ID %d", t.serverName, id)
		}
		t.mu.Unlock()
	}

	if err := scanner.Err(); err != nil {
		t.mu.RLock()
		connected := t.connected
		t.mu.RUnlock()
		if connected {
			logging.MCPError("%s: error reading stdout: %v", t.serverName, err)
		}
	}
}

// call sends a request and waits for the matching response.
func (t *stdioTransport) call(ctx context.Context, method string, params any) (*rpcResponse, error) {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return nil, fmt.Errorf("transport closed")
	}

	id := t.nextID
	t.nextID++

	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	ch := make(chan *rpcResponse, 1)
	t.pendingReqs[id] = ch

	data, err := json.Marshal(req)
	if err != nil {
		delete(t.pendingReqs, id)
		t.mu.Unlock()
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		delete(t.pendingReqs, id)
		t.mu.Unlock()
		return nil, fmt.Errorf("failed to write to stdin: %w", err)
	}
	t.mu.Unlock()

	select {
	case resp := <-ch:
		if resp == nil {
			return nil, fmt.Errorf("connection closed")
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("rpc error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp, nil
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.pendingReqs, id)
		t.mu.Unlock()
		return nil, ctx.Err()
	}
}

// notify sends a request with no ID and does not wait.
func (t *stdioTransport) notify(method string) {
	notification := map[string]any{"jsonrpc": "2.0", "method": method}
	data, _ := json.Marshal(notification)
	t.mu.Lock()
	if t.connected && t.stdin != nil {
		_, _ = t.stdin.Write(append(data, '\n'))
	}
	t.mu.Unlock()
}

// initialize performs the MCP handshake.
func (t *stdioTransport) initialize(ctx context.Context) error {
	_, err := t.call(ctx, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]any{},
		"clientInfo": map[string]string{
			"name":    "ideaforge",
			"version": "1.0.0",
		},
	})
	if err != nil {
		return err
	}
	t.notify("notifications/initialized")
	return nil
}

// ping checks responsiveness over the JSON-RPC channel.
func (t *stdioTransport) ping(ctx context.Context) error {
	_, err := t.call(ctx, "ping", nil)
	return err
}

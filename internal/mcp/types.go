// Package mcp supervises MCP (Model Context Protocol) server subprocesses:
// launching them, probing their health over stdio JSON-RPC, and stopping
// them gracefully.
package mcp

import (
	"encoding/json"
	"errors"
	"time"
)

// ServerState is the lifecycle state of a managed server.
type ServerState string

const (
	StateStopped   ServerState = "stopped"
	StateStarting  ServerState = "starting"
	StateRunning   ServerState = "running"
	StateUnhealthy ServerState = "unhealthy"

	// StateStoppedOnError marks a server whose process exited on its
	// own, as opposed to a supervisor-initiated stop.
	StateStoppedOnError ServerState = "stopped_on_error"
)

// Sentinel errors for supervisor operations.
var (
	ErrServerNotFound = errors.New("server not registered")
	ErrLaunchFailed   = errors.New("server launch failed")
	ErrAlreadyRunning = errors.New("server already running")
	ErrNotRunning     = errors.New("server not running")
)

// ServerSpec describes how to launch one MCP server.
type ServerSpec struct {
	Name    string            `yaml:"name" json:"name"`
	Command string            `yaml:"command" json:"command"`
	Args    []string          `yaml:"args" json:"args,omitempty"`
	Env     map[string]string `yaml:"env" json:"env,omitempty"`

	// RequiredEnv names environment variables that must be present in the
	// process environment for this server to be usable (API keys etc).
	RequiredEnv []string `yaml:"required_env" json:"required_env,omitempty"`
}

// ProcessInfo is a snapshot of a managed server's state.
type ProcessInfo struct {
	Name                string      `json:"name"`
	Command             string      `json:"command"`
	Args                []string    `json:"args,omitempty"`
	State               ServerState `json:"state"`
	PID                 int         `json:"pid,omitempty"`
	StartedAt           time.Time   `json:"started_at,omitempty"`
	LastProbe           time.Time   `json:"last_probe,omitempty"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	LastError           string      `json:"last_error,omitempty"`
}

// JSON-RPC 2.0 wire types for the stdio channel.

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

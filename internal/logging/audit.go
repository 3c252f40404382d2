// Audit logging: structured JSON-lines events for post-hoc analysis of
// tool dispatches, planning iterations, sandbox runs and server lifecycle.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType defines the type of audit event
type AuditEventType string

const (
	// Planning loop events
	AuditPlanningStart     AuditEventType = "planning_start"
	AuditPlanningIteration AuditEventType = "planning_iteration"
	AuditPlanningComplete  AuditEventType = "planning_complete"
	AuditPlanningFailed    AuditEventType = "planning_failed"

	// Tool dispatch events
	AuditToolInvoke   AuditEventType = "tool_invoke"
	AuditToolComplete AuditEventType = "tool_complete"
	AuditToolError    AuditEventType = "tool_error"

	// Sandbox events
	AuditSandboxStart    AuditEventType = "sandbox_start"
	AuditSandboxComplete AuditEventType = "sandbox_complete"
	AuditSandboxTimeout  AuditEventType = "sandbox_timeout"

	// MCP server lifecycle events
	AuditServerStart     AuditEventType = "server_start"
	AuditServerStop      AuditEventType = "server_stop"
	AuditServerUnhealthy AuditEventType = "server_unhealthy"

	// Collaborator API events
	AuditAPIRequest  AuditEventType = "api_request"
	AuditAPIResponse AuditEventType = "api_response"
	AuditAPIError    AuditEventType = "api_error"

	// Session events
	AuditSessionStart AuditEventType = "session_start"
	AuditSessionEnd   AuditEventType = "session_end"
)

// AuditEvent represents a structured audit log entry
type AuditEvent struct {
	Timestamp  int64          `json:"ts"` // Unix milliseconds
	EventType  AuditEventType `json:"event"`
	Category   string         `json:"cat"`
	SessionID  string         `json:"session,omitempty"`
	Target     string         `json:"target,omitempty"`
	Action     string         `json:"action,omitempty"`
	Success    bool           `json:"success"`
	DurationMs int64          `json:"dur_ms,omitempty"`
	Error      string         `json:"error,omitempty"`
	Message    string         `json:"msg"`
	Fields     map[string]any `json:"fields,omitempty"`
}

var (
	auditFile   *os.File
	auditMu     sync.Mutex
	auditLogger *AuditLogger
)

// AuditLogger handles structured audit logging
type AuditLogger struct {
	sessionID string
	category  Category
}

// InitAudit initializes the audit logging system
func InitAudit() error {
	if !IsDebugMode() {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil
	}

	date := time.Now().Format("2006-01-02")
	auditPath := filepath.Join(logsDir, fmt.Sprintf("%s_audit.log", date))

	file, err := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file

	header := fmt.Sprintf("# Audit log started at %s\n", time.Now().Format(time.RFC3339))
	auditFile.WriteString(header)

	return nil
}

// CloseAudit closes the audit log file
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit returns the global audit logger
func Audit() *AuditLogger {
	if auditLogger == nil {
		auditLogger = &AuditLogger{}
	}
	return auditLogger
}

// AuditWithSession creates an audit logger scoped to a session
func AuditWithSession(sessionID string) *AuditLogger {
	return &AuditLogger{sessionID: sessionID}
}

// Log writes an audit event
func (a *AuditLogger) Log(event AuditEvent) {
	if !IsDebugMode() || auditFile == nil {
		return
	}

	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.SessionID == "" && a.sessionID != "" {
		event.SessionID = a.sessionID
	}
	if event.Category == "" && a.category != "" {
		event.Category = string(a.category)
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	data, err := json.Marshal(event)
	if err == nil {
		auditFile.WriteString(string(data) + "\n")
	}
}

// ToolExec logs tool execution
func (a *AuditLogger) ToolExec(toolName string, action string, durationMs int64, success bool, errMsg string) {
	eventType := AuditToolComplete
	if !success {
		eventType = AuditToolError
	}
	a.Log(AuditEvent{
		EventType:  eventType,
		Category:   string(CategoryTools),
		Target:     toolName,
		Action:     action,
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
		Message:    fmt.Sprintf("Tool %s: %s (%dms, success=%v)", toolName, action, durationMs, success),
	})
}

// PlanningIteration logs one planning loop iteration
func (a *AuditLogger) PlanningIteration(sessionID string, index int, confidence float64, success bool) {
	a.Log(AuditEvent{
		EventType: AuditPlanningIteration,
		Category:  string(CategoryPlanning),
		SessionID: sessionID,
		Success:   success,
		Fields:    map[string]any{"iteration": index, "confidence": confidence},
		Message:   fmt.Sprintf("Iteration %d confidence=%.3f success=%v", index, confidence, success),
	})
}

// SandboxRun logs a sandbox execution outcome
func (a *AuditLogger) SandboxRun(runID, language, reason string, durationMs int64, exitCode int) {
	eventType := AuditSandboxComplete
	if reason == "timed_out" {
		eventType = AuditSandboxTimeout
	}
	a.Log(AuditEvent{
		EventType:  eventType,
		Category:   string(CategorySandbox),
		Target:     runID,
		Action:     language,
		Success:    reason == "completed" && exitCode == 0,
		DurationMs: durationMs,
		Fields:     map[string]any{"reason": reason, "exit_code": exitCode},
		Message:    fmt.Sprintf("Sandbox run %s (%s): %s exit=%d (%dms)", runID, language, reason, exitCode, durationMs),
	})
}

// ServerEvent logs an MCP server lifecycle event
func (a *AuditLogger) ServerEvent(eventType AuditEventType, name, state string, success bool, errMsg string) {
	a.Log(AuditEvent{
		EventType: eventType,
		Category:  string(CategoryMCP),
		Target:    name,
		Action:    state,
		Success:   success,
		Error:     errMsg,
		Message:   fmt.Sprintf("Server %s: %s state=%s success=%v", name, eventType, state, success),
	})
}

// APICall logs a planning collaborator API call
func (a *AuditLogger) APICall(model string, durationMs int64, success bool, errMsg string) {
	eventType := AuditAPIResponse
	if !success {
		eventType = AuditAPIError
	}
	a.Log(AuditEvent{
		EventType:  eventType,
		Category:   string(CategoryAPI),
		Target:     model,
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
		Message:    fmt.Sprintf("API call: %s (%dms, success=%v)", model, durationMs, success),
	})
}

// SessionStart logs session start
func (a *AuditLogger) SessionStart(sessionID string) {
	a.Log(AuditEvent{
		EventType: AuditSessionStart,
		SessionID: sessionID,
		Success:   true,
		Message:   fmt.Sprintf("Session started: %s", sessionID),
	})
}

// SessionEnd logs session end
func (a *AuditLogger) SessionEnd(sessionID string, iterations int, durationMs int64) {
	a.Log(AuditEvent{
		EventType:  AuditSessionEnd,
		SessionID:  sessionID,
		Success:    true,
		DurationMs: durationMs,
		Fields:     map[string]any{"iterations": iterations},
		Message:    fmt.Sprintf("Session ended: %s (%d iterations, %dms)", sessionID, iterations, durationMs),
	})
}

package orchestrator

// ErrorKind classifies dispatch failures for callers.
type ErrorKind string

const (
	// KindInvalidArgument is a caller-fixable argument problem.
	KindInvalidArgument ErrorKind = "invalid_argument"

	// KindNotFound is an unknown command or missing resource.
	KindNotFound ErrorKind = "not_found"

	// KindTimeout means the operation exceeded its bound.
	KindTimeout ErrorKind = "timeout"

	// KindLaunchFailed means a subprocess could not start.
	KindLaunchFailed ErrorKind = "launch_failed"

	// KindTransportError means a collaborator was unreachable or
	// answered with a malformed response.
	KindTransportError ErrorKind = "transport_error"

	// KindResourceLimit means a sandbox cap was hit.
	KindResourceLimit ErrorKind = "resource_limit_exceeded"

	// KindUnavailable means a collaborator has no credentials
	// configured. The handler degrades instead of crashing.
	KindUnavailable ErrorKind = "unavailable"

	// KindInternal is an invariant violation. Always logged in full.
	KindInternal ErrorKind = "internal"
)

// ErrorInfo is the caller-facing error payload.
type ErrorInfo struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Result is the uniform envelope every dispatch returns. Handler
// internals never leak through it.
type Result struct {
	Command    string     `json:"command"`
	Success    bool       `json:"success"`
	Data       any        `json:"data,omitempty"`
	Error      *ErrorInfo `json:"error,omitempty"`
	DurationMs int64      `json:"duration_ms"`
}

func ok(command string, data any, durationMs int64) Result {
	return Result{Command: command, Success: true, Data: data, DurationMs: durationMs}
}

func fail(command string, kind ErrorKind, message string, durationMs int64) Result {
	return Result{
		Command:    command,
		Success:    false,
		Error:      &ErrorInfo{Kind: kind, Message: message},
		DurationMs: durationMs,
	}
}

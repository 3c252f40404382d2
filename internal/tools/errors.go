package tools

import "errors"

// Registration-time errors, reported by Registry.Register.
var (
	ErrToolNameEmpty         = errors.New("tool name cannot be empty")
	ErrToolExecuteNil        = errors.New("tool execute function cannot be nil")
	ErrToolAlreadyRegistered = errors.New("tool already registered")
)

// Invocation errors. Callers match these with errors.Is to translate a
// failed Execute into a classified result.
var (
	// ErrToolNotFound names a command no registered tool answers to.
	ErrToolNotFound = errors.New("tool not found")

	// ErrMissingRequiredArg wraps the name of the argument the caller
	// left out.
	ErrMissingRequiredArg = errors.New("missing required argument")

	// ErrInvalidArgType wraps the argument whose value has the wrong
	// type for its schema.
	ErrInvalidArgType = errors.New("invalid argument type")
)

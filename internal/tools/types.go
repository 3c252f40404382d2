// Package tools provides the registry the orchestrator dispatches
// commands through. Each tool is standalone: a name, an argument
// schema, and an execute function returning a serializable payload.
package tools

import (
	"context"
)

// ToolCategory groups tools by the subsystem they front.
type ToolCategory string

const (
	// CategoryPlanning covers the iterative planning loop.
	CategoryPlanning ToolCategory = "/planning"

	// CategoryFilesystem covers project scanning and scaffolding.
	CategoryFilesystem ToolCategory = "/fs"

	// CategorySandbox covers isolated code execution.
	CategorySandbox ToolCategory = "/sandbox"

	// CategoryMCP covers managed server lifecycle operations.
	CategoryMCP ToolCategory = "/mcp"

	// CategoryGitHub covers repository automation.
	CategoryGitHub ToolCategory = "/github"

	// CategoryGeneral is for tools usable from any flow.
	CategoryGeneral ToolCategory = "/general"
)

// Property describes a single parameter for argument validation.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Default     any    `json:"default,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
	// Items describes array element schema (required for type="array")
	Items *PropertyItems `json:"items,omitempty"`
}

// PropertyItems describes the schema for array elements.
type PropertyItems struct {
	Type string `json:"type"`
}

// ToolSchema defines the expected arguments for a tool.
type ToolSchema struct {
	// Required lists parameters that must be provided.
	Required []string `json:"required"`

	// Properties describes each parameter.
	Properties map[string]Property `json:"properties"`
}

// ExecuteFunc is the signature for tool execution. The returned payload
// must be directly serializable (maps, slices, plain structs), never an
// opaque handle.
type ExecuteFunc func(ctx context.Context, args map[string]any) (any, error)

// Tool defines a registered command.
type Tool struct {
	// Name is the unique identifier for the tool.
	Name string

	// Description explains what the tool does.
	Description string

	// Category classifies the tool.
	Category ToolCategory

	// Execute runs the tool with validated arguments.
	Execute ExecuteFunc

	// Schema defines the expected arguments.
	Schema ToolSchema

	// Priority is used when multiple tools match.
	// Higher priority tools are preferred (default 50).
	Priority int
}

// Validate checks if the tool definition is valid.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if t.Execute == nil {
		return ErrToolExecuteNil
	}
	return nil
}

// WithPriority returns a copy of the tool with the given priority.
func (t *Tool) WithPriority(priority int) *Tool {
	copy := *t
	copy.Priority = priority
	return &copy
}

// ToolResult wraps the outcome of a tool execution with metadata.
type ToolResult struct {
	// ToolName identifies which tool was executed.
	ToolName string

	// Payload is the structured output from the tool.
	Payload any

	// Error is set if the tool failed.
	Error error

	// DurationMs is how long execution took.
	DurationMs int64
}

// IsSuccess returns true if the tool executed without error.
func (r *ToolResult) IsSuccess() bool {
	return r.Error == nil
}

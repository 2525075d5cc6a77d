// Package tool implements the function calling subsystem: the Tool
// capability interface, schema-validated function tools, a name-keyed
// Registry, Toolkits and the Executor that runs a turn's calls with failure
// isolation and request-order reassembly.
package tool

import (
	"fmt"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/internal/util"
	"github.com/hupe1980/agentrun/model"
)

// Tool is a named capability the model may call with JSON-compatible named
// arguments. Call returns a value that is rendered as text for the model, or
// an error.
//
// Implementations must be safe for concurrent use; the executor may run
// several calls of one turn in parallel.
type Tool interface {
	// Name returns the unique identifier for this tool (snake_case recommended).
	Name() string

	// Description tells the model when and how to use the tool.
	Description() string

	// Parameters returns the JSON schema of the accepted arguments.
	Parameters() map[string]any

	// Call executes the tool with decoded arguments.
	Call(toolCtx *core.ToolContext, args map[string]any) (any, error)
}

// Error codes carried by ToolError.
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeExecution    = "EXECUTION_ERROR"
	CodeNotFound     = "NOT_FOUND"
	CodePanic        = "PANIC"
	CodeLimitReached = "LIMIT_REACHED"
)

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}

// Definition converts a tool into the declaration sent to the model.
func Definition(t Tool) model.ToolDefinition {
	params := t.Parameters()
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return model.ToolDefinition{
		Type: "function",
		Function: model.FunctionDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  params,
		},
	}
}

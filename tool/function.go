package tool

import (
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/internal/util"
)

// FunctionTool exposes a plain Go function as a Tool.
//
// Arguments are validated against the declared schema before the function
// runs. Failures are normalized into *ToolError:
//
//	VALIDATION_ERROR -> schema / argument mismatch
//	EXECUTION_ERROR  -> the function returned a plain error
//	(custom codes are preserved when the function returns *ToolError)
//
// A FunctionTool has no mutable state after construction and is safe for
// concurrent use.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	fn          func(toolCtx *core.ToolContext, args map[string]any) (any, error)
}

// NewFunctionTool constructs a FunctionTool from an explicit schema and function.
//
// Example:
//
//	sumTool := NewFunctionTool(
//	  "calculate_sum",
//	  "Calculate the sum of two numbers",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "a": map[string]any{"type": "number"},
//	      "b": map[string]any{"type": "number"},
//	    },
//	    "required": []string{"a", "b"},
//	  },
//	  func(tc *core.ToolContext, args map[string]any) (any, error) {
//	    return args["a"].(float64) + args["b"].(float64), nil
//	  },
//	)
func NewFunctionTool(
	name, description string,
	parameters map[string]any,
	fn func(toolCtx *core.ToolContext, args map[string]any) (any, error),
) *FunctionTool {
	return &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
	}
}

// NewFunctionToolFromStruct derives the parameter schema from an argument
// struct (json and jsonschema tags).
func NewFunctionToolFromStruct(
	name, description string,
	structType any,
	fn func(toolCtx *core.ToolContext, args map[string]any) (any, error),
) *FunctionTool {
	return NewFunctionTool(name, description, util.CreateSchema(structType), fn)
}

// NewTypedTool builds a FunctionTool whose arguments are decoded into Args.
//
//	type WeatherArgs struct {
//	  City string `json:"city" jsonschema_description:"City name"`
//	}
//
//	weather := NewTypedTool("get_weather", "Get the weather for a city",
//	  func(tc *core.ToolContext, args WeatherArgs) (any, error) {
//	    return "sunny in " + args.City, nil
//	  })
func NewTypedTool[Args any](
	name, description string,
	fn func(toolCtx *core.ToolContext, args Args) (any, error),
) *FunctionTool {
	var zero Args
	return NewFunctionToolFromStruct(name, description, zero, func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
		var typed Args
		if err := util.DecodeArgs(args, &typed); err != nil {
			return nil, &ToolError{
				Tool:    name,
				Message: fmt.Sprintf("invalid arguments: %v", err),
				Code:    CodeValidation,
			}
		}
		return fn(toolCtx, typed)
	})
}

// Name returns the tool name used in call declarations and routing.
func (t *FunctionTool) Name() string { return t.name }

// Description returns the description exposed to models.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the JSON schema describing expected arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Call validates args against the declared schema then invokes the function.
func (t *FunctionTool) Call(toolCtx *core.ToolContext, args map[string]any) (any, error) {
	start := time.Now()

	toolCtx.LogDebug("tool.call.start", "tool", t.name)

	if err := util.ValidateParameters(args, t.parameters); err != nil {
		toolCtx.LogWarn("tool.call.validation_failed", "tool", t.name, "error", err.Error())

		return nil, &ToolError{
			Tool:    t.name,
			Message: fmt.Sprintf("parameter validation failed: %v", err),
			Code:    CodeValidation,
			Details: err,
		}
	}

	result, err := t.fn(toolCtx, args)
	if err != nil {
		var toolErr *ToolError
		if errors.As(err, &toolErr) {
			toolCtx.LogError("tool.call.error", "tool", t.name, "code", toolErr.Code, "error", toolErr.Message)
			return nil, toolErr
		}

		toolCtx.LogError("tool.call.error", "tool", t.name, "error", err.Error())

		return nil, &ToolError{
			Tool:    t.name,
			Message: err.Error(),
			Code:    CodeExecution,
		}
	}

	toolCtx.LogDebug("tool.call.success", "tool", t.name, "duration_ms", time.Since(start).Milliseconds())

	return result, nil
}

var _ Tool = (*FunctionTool)(nil)

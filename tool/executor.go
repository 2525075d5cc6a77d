package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/logging"
)

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	MaxParallel int // 0 or <1 => one goroutine per call
	Logger      logging.Logger
}

// Executor resolves and runs tool calls against a Registry.
//
// Execute never returns an error and never lets a panic escape: every
// failure is recorded on the returned ToolCall (Status failed, Error text)
// so it can be surfaced to the model as a tool message.
type Executor struct {
	registry *Registry
	opts     ExecutorOptions
}

// NewExecutor creates an executor for the registry.
func NewExecutor(registry *Registry, optFns ...func(o *ExecutorOptions)) *Executor {
	opts := ExecutorOptions{
		MaxParallel: 4,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Executor{registry: registry, opts: opts}
}

// Execute runs one call and returns it completed.
func (e *Executor) Execute(toolCtx *core.ToolContext, call core.ToolCall) core.ToolCall {
	toolCtx = toolCtx.WithToolCallID(call.ID)
	start := time.Now()

	var (
		result any
		err    error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = &ToolError{
					Tool:    call.Name,
					Message: fmt.Sprintf("panic: %v", r),
					Code:    CodePanic,
					Details: string(debug.Stack()),
				}
				e.opts.Logger.Error("tool.call.panic", "tool", call.Name, "tool_call_id", call.ID, "recover", r)
			}
		}()
		result, err = e.call(toolCtx, call)
	}()

	call.Duration = time.Since(start)
	if err != nil {
		call.Status = core.ToolCallFailed
		call.Error = err.Error()
	} else {
		call.Status = core.ToolCallSucceeded
		call.Result = renderResult(result)
	}

	if rl, ok := e.opts.Logger.(*logging.RunLogger); ok {
		rl.WithAttr("tool_call_id", call.ID).LogToolCall(call.Name, call.Duration, err)
	} else {
		e.opts.Logger.Info(
			"tool.call.executed",
			"tool", call.Name,
			"tool_call_id", call.ID,
			"duration_ms", call.Duration.Milliseconds(),
			"error", err != nil,
		)
	}

	return call
}

// ExecuteBatch runs the calls of one turn, concurrently up to MaxParallel,
// and returns the completed calls in request order. It returns once every
// call has finished.
func (e *Executor) ExecuteBatch(toolCtx *core.ToolContext, calls []core.ToolCall) []core.ToolCall {
	n := len(calls)
	if n == 0 {
		return nil
	}

	results := make([]core.ToolCall, n)
	if n == 1 {
		results[0] = e.Execute(toolCtx, calls[0])
		return results
	}

	maxPar := e.opts.MaxParallel
	if maxPar <= 0 || maxPar > n {
		maxPar = n
	}

	batchStart := time.Now()

	g, gctx := errgroup.WithContext(toolCtx.Context())
	g.SetLimit(maxPar)

	for i, call := range calls {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				call.Status = core.ToolCallFailed
				call.Error = NewToolError(call.Name, err.Error(), CodeExecution).Error()
				results[i] = call
				return nil
			}
			results[i] = e.Execute(toolCtx, call)
			return nil
		})
	}
	// Workers record failures on their call and always return nil, so Wait
	// only bounds the fan-out.
	_ = g.Wait()

	e.opts.Logger.Debug(
		"tool.batch.complete",
		"count", n,
		"parallelism", maxPar,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)

	return results
}

func (e *Executor) call(toolCtx *core.ToolContext, call core.ToolCall) (any, error) {
	impl, ok := e.registry.Get(call.Name)
	if !ok {
		return nil, &ToolError{
			Tool:    call.Name,
			Message: fmt.Sprintf("%v: %s", core.ErrToolNotFound, call.Name),
			Code:    CodeNotFound,
		}
	}

	args := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return nil, &ToolError{
				Tool:    call.Name,
				Message: fmt.Sprintf("failed to unmarshal arguments: %v", err),
				Code:    CodeValidation,
			}
		}
	}

	return impl.Call(toolCtx, args)
}

// LimitReached marks a call that was not dispatched because the run's tool
// call limit is exhausted.
func LimitReached(call core.ToolCall) core.ToolCall {
	call.Status = core.ToolCallSkipped
	call.Error = NewToolError(call.Name, "tool call limit reached; call was not executed", CodeLimitReached).Error()
	return call
}

func renderResult(result any) string {
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case fmt.Stringer:
		return v.String()
	}

	b, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(b)
}

// contextErr is used by tools that honour cancellation.
func contextErr(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return NewToolError(name, err.Error(), CodeExecution)
	}
	return nil
}

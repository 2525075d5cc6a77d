package tool

import (
	"bytes"
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/logging"
)

func newTestExecutor(maxParallel int, tools ...Tool) *Executor {
	r := NewRegistry(nil)
	r.Register(tools...)
	return NewExecutor(r, func(o *ExecutorOptions) { o.MaxParallel = maxParallel })
}

func TestExecutor_Execute(t *testing.T) {
	exec := newTestExecutor(1, echoTool("echo"))

	call := exec.Execute(newToolContext(""), core.ToolCall{ID: "c1", Name: "echo", Arguments: "{}"})
	assert.Equal(t, core.ToolCallSucceeded, call.Status)
	assert.Equal(t, "echo", call.Result)
	assert.Empty(t, call.Error)
}

func TestExecutor_LogsThroughRunLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelInfo, Format: "text", Output: &buf})

	r := NewRegistry(nil)
	r.Register(echoTool("echo"))
	exec := NewExecutor(r, func(o *ExecutorOptions) { o.Logger = logger })

	exec.Execute(newToolContext(""), core.ToolCall{ID: "c1", Name: "echo", Arguments: "{}"})
	assert.Contains(t, buf.String(), "tool.call.completed")
	assert.Contains(t, buf.String(), "tool_name=echo")
	assert.Contains(t, buf.String(), "tool_call_id=c1")

	buf.Reset()
	exec.Execute(newToolContext(""), core.ToolCall{ID: "c2", Name: "missing", Arguments: "{}"})
	assert.Contains(t, buf.String(), "tool.call.failed")
	assert.Contains(t, buf.String(), "tool_name=missing")
}

func TestExecutor_FailuresBecomeToolErrors(t *testing.T) {
	panicky := NewFunctionTool("panicky", "Panics", nil, func(_ *core.ToolContext, _ map[string]any) (any, error) {
		panic("kaboom")
	})
	exec := newTestExecutor(1, panicky, echoTool("echo"))
	tc := newToolContext("")

	tests := []struct {
		name string
		call core.ToolCall
		code string
	}{
		{"unknown tool", core.ToolCall{ID: "c1", Name: "missing"}, CodeNotFound},
		{"bad arguments", core.ToolCall{ID: "c2", Name: "echo", Arguments: "{not json"}, CodeValidation},
		{"panic", core.ToolCall{ID: "c3", Name: "panicky", Arguments: "{}"}, CodePanic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := exec.Execute(tc, tt.call)
			assert.Equal(t, core.ToolCallFailed, got.Status)
			assert.Contains(t, got.Error, tt.code)

			msg := core.NewToolMessage(got)
			assert.True(t, msg.ToolError)
			assert.Equal(t, tt.call.ID, msg.ToolCallID)
		})
	}
}

func TestExecutor_BatchPreservesRequestOrder(t *testing.T) {
	var inFlight, peak int32
	slow := NewFunctionTool("slow", "Sleeps", nil, func(_ *core.ToolContext, args map[string]any) (any, error) {
		cur := atomic.AddInt32(&inFlight, 1)
		defer atomic.AddInt32(&inFlight, -1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		delay := time.Duration(args["delay"].(float64)) * time.Millisecond
		time.Sleep(delay)
		return fmt.Sprintf("done-%v", args["delay"]), nil
	})
	exec := newTestExecutor(2, slow)

	calls := []core.ToolCall{
		{ID: "a", Name: "slow", Arguments: `{"delay": 30}`},
		{ID: "b", Name: "slow", Arguments: `{"delay": 1}`},
		{ID: "c", Name: "missing"},
		{ID: "d", Name: "slow", Arguments: `{"delay": 10}`},
	}

	results := exec.ExecuteBatch(newToolContext(""), calls)
	require.Len(t, results, 4)
	for i, r := range results {
		assert.Equal(t, calls[i].ID, r.ID)
	}
	assert.Equal(t, "done-30", results[0].Result)
	assert.Equal(t, "done-1", results[1].Result)
	assert.Equal(t, core.ToolCallFailed, results[2].Status)
	assert.Equal(t, core.ToolCallSucceeded, results[3].Status)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestExecutor_BatchCancelled(t *testing.T) {
	exec := newTestExecutor(1, echoTool("echo"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tc := core.NewToolContext(ctx, core.ToolContextConfig{SessionID: "s"})

	results := exec.ExecuteBatch(tc, []core.ToolCall{{ID: "1", Name: "echo"}, {ID: "2", Name: "echo"}})
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, core.ToolCallFailed, r.Status)
	}
}

func TestLimitReached(t *testing.T) {
	call := LimitReached(core.ToolCall{ID: "x", Name: "echo"})
	assert.Equal(t, core.ToolCallSkipped, call.Status)
	assert.Contains(t, call.Error, CodeLimitReached)
	assert.True(t, core.NewToolMessage(call).ToolError)
}

func TestRenderResult(t *testing.T) {
	assert.Equal(t, "", renderResult(nil))
	assert.Equal(t, "text", renderResult("text"))
	assert.Equal(t, `{"a":1}`, renderResult(map[string]int{"a": 1}))
	assert.Equal(t, "5", renderResult(5))
}

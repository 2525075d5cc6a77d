package core

import "time"

// ToolCallStatus is the lifecycle state of a single ToolCall.
type ToolCallStatus string

const (
	// ToolCallPending marks a call requested by the model but not yet executed.
	ToolCallPending ToolCallStatus = "pending"
	// ToolCallSucceeded marks a call whose function returned a result.
	ToolCallSucceeded ToolCallStatus = "succeeded"
	// ToolCallFailed marks a call that returned an error, panicked or named an unknown tool.
	ToolCallFailed ToolCallStatus = "failed"
	// ToolCallSkipped marks a call that was not dispatched because the run's call limit was reached.
	ToolCallSkipped ToolCallStatus = "skipped"
)

// ToolCall is one model-issued request to invoke a registered function,
// together with its outcome once executed.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments string         `json:"arguments,omitempty"` // Raw JSON arguments as produced by the model
	Result    string         `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	Status    ToolCallStatus `json:"status,omitempty"`
	Duration  time.Duration  `json:"duration,omitempty"`
}

// Done reports whether the call has a terminal status.
func (c ToolCall) Done() bool {
	return c.Status == ToolCallSucceeded || c.Status == ToolCallFailed || c.Status == ToolCallSkipped
}

package agent

import (
	"time"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/model"
)

// RunState is a state of the run state machine.
type RunState string

// Run states in the order a run passes through them.
const (
	StateInit           RunState = "INIT"
	StateLoadingSession RunState = "LOADING_SESSION"
	StateBuildingPrompt RunState = "BUILDING_PROMPT"
	StateAwaitingModel  RunState = "AWAITING_MODEL"
	StateExecutingTools RunState = "EXECUTING_TOOLS"
	StateFinalizing     RunState = "FINALIZING"
	StateCompleted      RunState = "COMPLETED"
	StateFailed         RunState = "FAILED"
)

// Terminal reports whether no further transition is possible.
func (s RunState) Terminal() bool { return s == StateCompleted || s == StateFailed }

// RunResult describes a finished run.
type RunResult struct {
	RunID     string
	SessionID string

	// Content is the final assistant text.
	Content string
	// Structured holds the decoded value when an output schema is configured
	// and parsing succeeded.
	Structured any

	State       RunState
	Transitions []RunState

	// ToolBatches counts model turns whose tool calls were dispatched.
	ToolBatches int
	// ToolCalls lists every requested call in request order, including
	// failed and skipped ones.
	ToolCalls []core.ToolCall
	// LimitReached reports that the tool call limit forced a final turn.
	LimitReached bool

	References []core.Reference
	Usage      model.TokenUsage
	Duration   time.Duration
}

// StreamEvent is one item of a streamed run. Intermediate events carry a
// Delta; the last event carries the Result.
type StreamEvent struct {
	Delta  string
	Result *RunResult
}

type runTrace struct {
	state       RunState
	transitions []RunState
}

func newRunTrace() *runTrace {
	return &runTrace{state: StateInit, transitions: []RunState{StateInit}}
}

func (t *runTrace) enter(s RunState) {
	t.state = s
	t.transitions = append(t.transitions, s)
}

func addUsage(total *model.TokenUsage, u model.TokenUsage) {
	total.PromptTokens += u.PromptTokens
	total.CompletionTokens += u.CompletionTokens
	total.TotalTokens += u.TotalTokens
}

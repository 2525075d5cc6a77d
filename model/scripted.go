package model

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/hupe1980/agentrun/core"
)

// ErrScriptExhausted is returned when a ScriptedModel runs out of turns.
var ErrScriptExhausted = errors.New("scripted model: no more turns")

// Turn is one scripted model reply.
type Turn struct {
	// Text is the assistant content of the final response.
	Text string
	// Chunks overrides how Text is split into streamed deltas. When empty,
	// Text is streamed word by word.
	Chunks []string
	// ToolCalls requested by this turn.
	ToolCalls []core.ToolCall
	// Err is reported on the error channel instead of a response.
	Err error
	// Usage attached to the final response.
	Usage *TokenUsage
}

// ScriptedModel replays scripted turns in order and records every request.
// It is the test double used throughout the agent tests.
type ScriptedModel struct {
	mu           sync.Mutex
	turns        []Turn
	requests     []Request
	info         Info
	instructions []string
	preamble     string
	fallback     func(req Request) Turn
}

// NewScriptedModel creates a model replaying turns.
func NewScriptedModel(turns ...Turn) *ScriptedModel {
	return &ScriptedModel{
		turns: turns,
		info:  Info{Name: "scripted", Provider: "test", SupportsTools: true},
	}
}

// WithInstructions makes the model contribute system prompt instructions.
func (m *ScriptedModel) WithInstructions(instructions ...string) *ScriptedModel {
	m.instructions = instructions
	return m
}

// WithPreamble makes the model contribute a system prompt preamble.
func (m *ScriptedModel) WithPreamble(preamble string) *ScriptedModel {
	m.preamble = preamble
	return m
}

// WithFallback answers with fn once the scripted turns are exhausted.
func (m *ScriptedModel) WithFallback(fn func(req Request) Turn) *ScriptedModel {
	m.fallback = fn
	return m
}

// Push appends more turns.
func (m *ScriptedModel) Push(turns ...Turn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, turns...)
}

// Requests returns copies of all requests received so far.
func (m *ScriptedModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Request, len(m.requests))
	for i, r := range m.requests {
		r.Messages = append([]core.Message(nil), r.Messages...)
		out[i] = r
	}
	return out
}

// LastRequest returns the most recent request, or a zero Request.
func (m *ScriptedModel) LastRequest() Request {
	reqs := m.Requests()
	if len(reqs) == 0 {
		return Request{}
	}
	return reqs[len(reqs)-1]
}

// Instructions implements InstructionProvider.
func (m *ScriptedModel) Instructions() []string { return m.instructions }

// SystemPreamble implements SystemPreambleProvider.
func (m *ScriptedModel) SystemPreamble() string { return m.preamble }

// Info implements Model.
func (m *ScriptedModel) Info() Info { return m.info }

func (m *ScriptedModel) next(req Request) (Turn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req.Messages = append([]core.Message(nil), req.Messages...)
	m.requests = append(m.requests, req)
	if len(m.turns) == 0 {
		if m.fallback != nil {
			return m.fallback(req), true
		}
		return Turn{}, false
	}
	t := m.turns[0]
	m.turns = m.turns[1:]
	return t, true
}

// Generate implements Model.
func (m *ScriptedModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response)
	errCh := make(chan error, 1)

	turn, ok := m.next(req)

	go func() {
		defer close(respCh)
		defer close(errCh)

		if !ok {
			errCh <- ErrScriptExhausted
			return
		}
		if turn.Err != nil {
			errCh <- turn.Err
			return
		}

		if req.Stream {
			for _, chunk := range turn.chunks() {
				if !Send(ctx, respCh, Response{Partial: true, Delta: chunk}) {
					errCh <- ctx.Err()
					return
				}
			}
		}

		msg := core.NewAssistantMessage(turn.Text)
		finish := "stop"
		if len(turn.ToolCalls) > 0 {
			msg.ToolCalls = make([]core.ToolCall, len(turn.ToolCalls))
			for i, c := range turn.ToolCalls {
				if c.ID == "" {
					c.ID = core.NewID()
				}
				c.Status = core.ToolCallPending
				msg.ToolCalls[i] = c
			}
			finish = "tool_calls"
		}

		if !Send(ctx, respCh, Response{Message: msg, FinishReason: finish, Usage: turn.Usage}) {
			errCh <- ctx.Err()
		}
	}()

	return respCh, errCh
}

func (t Turn) chunks() []string {
	if len(t.Chunks) > 0 {
		return t.Chunks
	}
	if t.Text == "" {
		return nil
	}

	words := strings.SplitAfter(t.Text, " ")
	out := words[:0]
	for _, w := range words {
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

var (
	_ Model                  = (*ScriptedModel)(nil)
	_ InstructionProvider    = (*ScriptedModel)(nil)
	_ SystemPreambleProvider = (*ScriptedModel)(nil)
	_ Model                  = (*MockModel)(nil)
)

package model

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/agentrun/core"
)

// ToolChoice controls whether the model may call tools on a turn.
type ToolChoice string

const (
	// ToolChoiceAuto lets the model decide (default when tools are present).
	ToolChoiceAuto ToolChoice = "auto"
	// ToolChoiceNone forbids tool calls; used for the forced final turn.
	ToolChoiceNone ToolChoice = "none"
)

// ResponseFormat selects the shape of the completion text.
type ResponseFormat string

const (
	// ResponseFormatText is free-form text (default).
	ResponseFormatText ResponseFormat = ""
	// ResponseFormatJSON asks the provider for a single JSON object.
	ResponseFormatJSON ResponseFormat = "json"
)

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the model.
// Parameters is a JSON Schema object (draft agnostic, minimal subset expected).
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// Request captures the normalized model input for one turn.
type Request struct {
	Messages       []core.Message   `json:"messages"`
	Tools          []ToolDefinition `json:"tools,omitempty"`
	ToolChoice     ToolChoice       `json:"tool_choice,omitempty"`
	Stream         bool             `json:"stream,omitempty"`
	ResponseFormat ResponseFormat   `json:"response_format,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a model.
//
// Streaming turns emit any number of Partial responses carrying a text Delta
// followed by exactly one final response. The final response always carries
// the complete assistant Message, including requested ToolCalls; tool calls
// are only ever reported on the final response.
type Response struct {
	ID           string       `json:"id"`
	Partial      bool         `json:"partial"` // Indicates if this is a partial response
	Delta        string       `json:"delta,omitempty"`
	Message      core.Message `json:"message"`
	FinishReason string       `json:"finish_reason"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage  `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "local", etc.
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the gateway the agent drives for generation. Generate returns a
// finite, non-restartable response sequence and an error channel; both are
// closed when the turn ends. Transport and authentication failures are
// reported on the error channel.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// InstructionProvider is implemented by models that contribute extra system
// prompt instructions.
type InstructionProvider interface {
	Instructions() []string
}

// SystemPreambleProvider is implemented by models that contribute a fixed
// system prompt preamble.
type SystemPreambleProvider interface {
	SystemPreamble() string
}

// Send delivers r unless ctx is done first. It reports whether r was sent.
func Send(ctx context.Context, out chan<- Response, r Response) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- r:
		return true
	}
}

// Collect drains a Generate call and returns the final response. Partial
// responses are passed to onDelta when it is non-nil.
func Collect(ctx context.Context, m Model, req Request, onDelta func(string)) (Response, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	respCh, errCh := m.Generate(ctx, req)

	var (
		final    Response
		gotFinal bool
		text     strings.Builder
	)
	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		case r, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if r.Partial {
				text.WriteString(r.Delta)
				if onDelta != nil && r.Delta != "" {
					onDelta(r.Delta)
				}
				continue
			}
			final, gotFinal = r, true
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return Response{}, err
			}
		}
	}

	if !gotFinal {
		if text.Len() == 0 {
			return Response{}, errors.New("model returned no response")
		}
		final = Response{Message: core.NewAssistantMessage(text.String()), FinishReason: "stop"}
	}
	if final.Message.Role == "" {
		final.Message.Role = core.RoleAssistant
	}
	return final, nil
}

// MockModel is a lightweight in‑memory Model useful for examples. It answers
// with a canned completion registered for the last user message, or echoes it.
type MockModel struct {
	info      Info
	responses map[string]string
}

// NewMockModel constructs a MockModel.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info: Info{
			Name:     name,
			Provider: provider,
		},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) { m.responses[prompt] = response }

// Generate implements Model; emits optional streaming char chunks then final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)

		var inputText string
		for i := len(req.Messages) - 1; i >= 0; i-- {
			if req.Messages[i].Role == core.RoleUser {
				inputText = req.Messages[i].Content
				break
			}
		}
		if inputText == "" {
			errCh <- fmt.Errorf("no user message provided")
			return
		}

		full, ok := m.responses[inputText]
		if !ok {
			full = fmt.Sprintf("Mock response to: %s", inputText)
		}

		if req.Stream {
			for _, r := range full {
				if !Send(ctx, respCh, Response{Partial: true, Delta: string(r)}) {
					errCh <- ctx.Err()
					return
				}
			}
		}
		Send(ctx, respCh, Response{
			Message:      core.NewAssistantMessage(full),
			FinishReason: "stop",
		})
	}()
	return respCh, errCh
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }

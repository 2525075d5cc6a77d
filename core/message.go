package core

import "time"

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of a conversation. Messages are treated as immutable
// once appended to a memory list; append order defines conversation order.
type Message struct {
	Role    string `json:"role"`              // system, user, assistant or tool
	Content string `json:"content,omitempty"` // Plain UTF-8 text
	Data    any    `json:"data,omitempty"`    // Structured value (decoded structured output)

	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // Calls requested by an assistant turn
	ToolCallID string     `json:"tool_call_id,omitempty"` // Tool messages: id of the answered call
	ToolName   string     `json:"tool_name,omitempty"`    // Tool messages: name of the answered call
	ToolError  bool       `json:"tool_error,omitempty"`   // Tool messages: result is an error

	Created time.Time `json:"created,omitempty"`
}

// NewSystemMessage returns a system role message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content, Created: time.Now()}
}

// NewUserMessage returns a user role message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content, Created: time.Now()}
}

// NewAssistantMessage returns an assistant role message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content, Created: time.Now()}
}

// NewToolMessage converts a finished ToolCall into the tool role message
// answering it. Failed and skipped calls carry their error text as content.
func NewToolMessage(call ToolCall) Message {
	m := Message{
		Role:       RoleTool,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Created:    time.Now(),
	}
	if call.Status == ToolCallSucceeded {
		m.Content = call.Result
	} else {
		m.Content = call.Error
		m.ToolError = true
	}
	return m
}

// HasToolCalls reports whether the message requests tool executions.
func (m Message) HasToolCalls() bool { return len(m.ToolCalls) > 0 }

// Clone returns a copy with its own ToolCalls slice.
func (m Message) Clone() Message {
	if m.ToolCalls != nil {
		calls := make([]ToolCall, len(m.ToolCalls))
		copy(calls, m.ToolCalls)
		m.ToolCalls = calls
	}
	return m
}

func cloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

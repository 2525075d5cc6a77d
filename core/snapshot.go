package core

import "time"

// Reference records one knowledge query made while building a prompt: the
// query, the formatted text that was retrieved and how long retrieval took.
type Reference struct {
	Query   string        `json:"query"`
	Text    string        `json:"references,omitempty"`
	Latency time.Duration `json:"latency"`
	Created time.Time     `json:"created,omitempty"`
}

// Summary is an optional rolling summary of a conversation.
type Summary struct {
	Text    string    `json:"summary"`
	Topics  []string  `json:"topics,omitempty"`
	Updated time.Time `json:"updated,omitempty"`
}

// Chat is one (user, assistant) exchange taken from the transcript.
type Chat struct {
	User      Message `json:"user"`
	Assistant Message `json:"assistant"`
}

// MemorySnapshot is the serialisable state of a conversation's memory.
//
// ChatHistory is the user-facing transcript (user messages and final
// assistant answers). LLMMessages is exactly what was sent to the model on
// the latest run, including the system message and tool turns; it may diverge
// from ChatHistory.
type MemorySnapshot struct {
	ChatHistory []Message   `json:"chat_history"`
	LLMMessages []Message   `json:"llm_messages"`
	References  []Reference `json:"references,omitempty"`
	Summary     *Summary    `json:"summary,omitempty"`
}

// IsEmpty reports whether the snapshot holds no data at all.
func (s MemorySnapshot) IsEmpty() bool {
	return len(s.ChatHistory) == 0 && len(s.LLMMessages) == 0 && len(s.References) == 0 && s.Summary == nil
}

// Clone returns a deep copy of the snapshot.
func (s MemorySnapshot) Clone() MemorySnapshot {
	out := MemorySnapshot{
		ChatHistory: cloneMessages(s.ChatHistory),
		LLMMessages: cloneMessages(s.LLMMessages),
	}
	if s.References != nil {
		out.References = make([]Reference, len(s.References))
		copy(out.References, s.References)
	}
	if s.Summary != nil {
		sum := *s.Summary
		if s.Summary.Topics != nil {
			sum.Topics = append([]string(nil), s.Summary.Topics...)
		}
		out.Summary = &sum
	}
	return out
}

// MemoryReader is the read-only view of conversation memory handed to tools.
type MemoryReader interface {
	ChatHistory() []Message
	LastNChats(n int) []Chat
	ToolCalls(n int) []ToolCall
}

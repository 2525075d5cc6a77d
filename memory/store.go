package memory

import (
	"strings"
	"sync"

	"github.com/hupe1980/agentrun/core"
)

// Store holds the in-process memory of one session: the user-facing
// transcript, the model-facing message list of the latest run, knowledge
// references and an optional rolling summary.
//
// Concurrency: protected by RWMutex. Readers receive copies; messages are
// never mutated after they are appended.
type Store struct {
	mu          sync.RWMutex
	chatHistory []core.Message
	llmMessages []core.Message
	references  []core.Reference
	summary     *core.Summary
}

// NewStore creates an empty memory store.
func NewStore() *Store {
	return &Store{}
}

// FromSnapshot creates a store seeded with a copy of snap.
func FromSnapshot(snap core.MemorySnapshot) *Store {
	s := &Store{}
	s.restore(snap.Clone())
	return s
}

func (s *Store) restore(snap core.MemorySnapshot) {
	s.chatHistory = snap.ChatHistory
	s.llmMessages = snap.LLMMessages
	s.references = snap.References
	s.summary = snap.Summary
}

// Load merges a stored snapshot into the store. Each list (and the summary)
// keeps its in-memory value when non-empty and otherwise adopts the stored
// value. Loading the same snapshot again is a no-op.
func (s *Store) Load(stored core.MemorySnapshot) {
	stored = stored.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.chatHistory) == 0 {
		s.chatHistory = stored.ChatHistory
	}
	if len(s.llmMessages) == 0 {
		s.llmMessages = stored.LLMMessages
	}
	if len(s.references) == 0 {
		s.references = stored.References
	}
	if s.summary == nil {
		s.summary = stored.Summary
	}
}

// Snapshot returns a deep copy of the current memory.
func (s *Store) Snapshot() core.MemorySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return core.MemorySnapshot{
		ChatHistory: s.chatHistory,
		LLMMessages: s.llmMessages,
		References:  s.references,
		Summary:     s.summary,
	}.Clone()
}

// Clear drops all memory.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.restore(core.MemorySnapshot{})
}

// AddChatMessages appends messages to the user-facing transcript.
func (s *Store) AddChatMessages(msgs ...core.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range msgs {
		s.chatHistory = append(s.chatHistory, m.Clone())
	}
}

// AddLLMMessages appends messages to the model-facing list.
func (s *Store) AddLLMMessages(msgs ...core.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range msgs {
		s.llmMessages = append(s.llmMessages, m.Clone())
	}
}

// SetLLMMessages replaces the model-facing list with the messages of the latest run.
func (s *Store) SetLLMMessages(msgs []core.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.llmMessages = core.MemorySnapshot{LLMMessages: msgs}.Clone().LLMMessages
}

// AddReference records a knowledge lookup.
func (s *Store) AddReference(ref core.Reference) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.references = append(s.references, ref)
}

// SetSummary replaces the rolling summary.
func (s *Store) SetSummary(sum *core.Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sum == nil {
		s.summary = nil
		return
	}
	cp := *sum
	s.summary = &cp
}

// Summary returns a copy of the rolling summary, or nil.
func (s *Store) Summary() *core.Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.summary == nil {
		return nil
	}
	cp := *s.summary
	return &cp
}

// ChatHistory returns a copy of the user-facing transcript.
func (s *Store) ChatHistory() []core.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return core.MemorySnapshot{ChatHistory: s.chatHistory}.Clone().ChatHistory
}

// LLMMessages returns a copy of the model-facing message list.
func (s *Store) LLMMessages() []core.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return core.MemorySnapshot{LLMMessages: s.llmMessages}.Clone().LLMMessages
}

// References returns a copy of the recorded knowledge lookups.
func (s *Store) References() []core.Reference {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.Reference, len(s.references))
	copy(out, s.references)
	return out
}

// LastNMessages returns the last n transcript messages. n <= 0 returns all.
func (s *Store) LastNMessages(n int) []core.Message {
	history := s.ChatHistory()
	if n <= 0 || n >= len(history) {
		return history
	}
	return history[len(history)-n:]
}

// FormattedChatHistory renders the last n transcript messages as
// "ROLE: content" lines with a "---" separator before each user message.
func (s *Store) FormattedChatHistory(n int) string {
	msgs := s.LastNMessages(n)
	if len(msgs) == 0 {
		return ""
	}

	var b strings.Builder
	for _, m := range msgs {
		if m.Role == core.RoleUser {
			b.WriteString("\n---\n")
		}
		b.WriteString(strings.ToUpper(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// Chats pairs user messages with the assistant answer that follows them.
// Leading system and assistant messages are skipped; a trailing user
// message without an answer is dropped.
func (s *Store) Chats() []core.Chat {
	history := s.ChatHistory()
	for len(history) > 0 && (history[0].Role == core.RoleSystem || history[0].Role == core.RoleAssistant) {
		history = history[1:]
	}

	var (
		chats   []core.Chat
		current []core.Message
	)
	for _, m := range history {
		switch m.Role {
		case core.RoleUser:
			if len(current) >= 2 {
				chats = append(chats, core.Chat{User: current[0], Assistant: current[1]})
			}
			current = []core.Message{m}
		case core.RoleAssistant:
			if len(current) > 0 {
				current = append(current, m)
			}
		}
	}
	if len(current) >= 2 {
		chats = append(chats, core.Chat{User: current[0], Assistant: current[1]})
	}
	return chats
}

// LastNChats returns the most recent n exchanges in chronological order.
// n <= 0 returns all.
func (s *Store) LastNChats(n int) []core.Chat {
	chats := s.Chats()
	if n <= 0 || n >= len(chats) {
		return chats
	}
	return chats[len(chats)-n:]
}

// ToolCalls returns tool calls recorded in the model-facing list, most
// recent first. n <= 0 returns all.
func (s *Store) ToolCalls(n int) []core.ToolCall {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := map[string]core.Message{}
	for _, m := range s.llmMessages {
		if m.Role == core.RoleTool && m.ToolCallID != "" {
			results[m.ToolCallID] = m
		}
	}

	var calls []core.ToolCall
	for i := len(s.llmMessages) - 1; i >= 0; i-- {
		m := s.llmMessages[i]
		for _, c := range m.ToolCalls {
			if res, ok := results[c.ID]; ok && !c.Done() {
				if res.ToolError {
					c.Error = res.Content
					c.Status = core.ToolCallFailed
				} else {
					c.Result = res.Content
					c.Status = core.ToolCallSucceeded
				}
			}
			calls = append(calls, c)
		}
	}

	if n > 0 && len(calls) > n {
		calls = calls[:n]
	}
	return calls
}

var _ core.MemoryReader = (*Store)(nil)

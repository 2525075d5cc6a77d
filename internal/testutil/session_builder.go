package testutil

import (
	"github.com/hupe1980/agentrun/core"
)

// SessionBuilder helps construct sessions with fluent chaining for tests.
// Example:
//
//	sess := NewSessionBuilder("sess-1").Meta("k", "v").Exchange("hi", "hello").Build()
type SessionBuilder struct {
	id        string
	name      string
	userID    string
	ownerID   string
	inactive  bool
	metadata  map[string]any
	extraData map[string]any
	history   []core.Message
	llm       []core.Message
	refs      []core.Reference
}

// NewSessionBuilder creates a new builder for a session with the given id.
// Use chainable methods then call Build.
func NewSessionBuilder(id string) *SessionBuilder {
	return &SessionBuilder{id: id, metadata: map[string]any{}, extraData: map[string]any{}}
}

// Name sets the session name (chainable).
func (b *SessionBuilder) Name(name string) *SessionBuilder {
	b.name = name
	return b
}

// User sets the user and owner ids (chainable).
func (b *SessionBuilder) User(userID, ownerID string) *SessionBuilder {
	b.userID, b.ownerID = userID, ownerID
	return b
}

// Ended marks the session inactive (chainable).
func (b *SessionBuilder) Ended() *SessionBuilder {
	b.inactive = true
	return b
}

// Meta sets or overwrites a metadata key/value pair (chainable).
func (b *SessionBuilder) Meta(key string, val any) *SessionBuilder {
	b.metadata[key] = val
	return b
}

// Extra sets or overwrites an extra-data key/value pair (chainable).
func (b *SessionBuilder) Extra(key string, val any) *SessionBuilder {
	b.extraData[key] = val
	return b
}

// Exchange appends one user message and its assistant answer to the chat
// history (chainable).
func (b *SessionBuilder) Exchange(user, assistant string) *SessionBuilder {
	b.history = append(b.history, core.NewUserMessage(user), core.NewAssistantMessage(assistant))
	return b
}

// LLMMessages sets the model-facing message list (chainable).
func (b *SessionBuilder) LLMMessages(msgs ...core.Message) *SessionBuilder {
	b.llm = append(b.llm, msgs...)
	return b
}

// Reference appends a reference record (chainable).
func (b *SessionBuilder) Reference(query, text string) *SessionBuilder {
	b.refs = append(b.refs, core.Reference{Query: query, Text: text})
	return b
}

// Build returns a *core.Session with pre-populated fields and memory.
func (b *SessionBuilder) Build() *core.Session {
	s := core.NewSession(b.id)
	s.Name = b.name
	s.UserID = b.userID
	s.OwnerID = b.ownerID
	s.Active = !b.inactive

	for k, v := range b.metadata {
		s.Metadata[k] = v
	}
	for k, v := range b.extraData {
		s.ExtraData[k] = v
	}

	s.Memory.ChatHistory = append(s.Memory.ChatHistory, b.history...)
	s.Memory.LLMMessages = append(s.Memory.LLMMessages, b.llm...)
	s.Memory.References = append(s.Memory.References, b.refs...)

	return s
}

// Conversation turns alternating user/assistant texts into messages,
// starting with the user.
func Conversation(texts ...string) []core.Message {
	msgs := make([]core.Message, 0, len(texts))
	for i, text := range texts {
		if i%2 == 0 {
			msgs = append(msgs, core.NewUserMessage(text))
		} else {
			msgs = append(msgs, core.NewAssistantMessage(text))
		}
	}
	return msgs
}

package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrun/core"
)

func conversation(pairs ...string) []core.Message {
	var msgs []core.Message
	for i, c := range pairs {
		if i%2 == 0 {
			msgs = append(msgs, core.NewUserMessage(c))
		} else {
			msgs = append(msgs, core.NewAssistantMessage(c))
		}
	}
	return msgs
}

func TestStore_LoadMergeRule(t *testing.T) {
	stored := core.MemorySnapshot{
		ChatHistory: conversation("stored q", "stored a"),
		LLMMessages: []core.Message{core.NewSystemMessage("sys")},
		Summary:     &core.Summary{Text: "stored summary"},
	}

	t.Run("empty store adopts stored values", func(t *testing.T) {
		s := NewStore()
		s.Load(stored)

		assert.Len(t, s.ChatHistory(), 2)
		assert.Len(t, s.LLMMessages(), 1)
		require.NotNil(t, s.Summary())
		assert.Equal(t, "stored summary", s.Summary().Text)
	})

	t.Run("non-empty in-memory values win", func(t *testing.T) {
		s := NewStore()
		s.AddChatMessages(core.NewUserMessage("live"))
		s.Load(stored)

		history := s.ChatHistory()
		require.Len(t, history, 1)
		assert.Equal(t, "live", history[0].Content)
		assert.Len(t, s.LLMMessages(), 1)
	})

	t.Run("load is idempotent", func(t *testing.T) {
		s := NewStore()
		s.Load(stored)
		first := s.Snapshot()
		s.Load(stored)
		s.Load(stored)
		assert.Equal(t, first, s.Snapshot())
	})
}

func TestStore_SnapshotIsCopy(t *testing.T) {
	s := FromSnapshot(core.MemorySnapshot{ChatHistory: conversation("q", "a")})
	snap := s.Snapshot()
	snap.ChatHistory[0].Content = "mutated"
	assert.Equal(t, "q", s.ChatHistory()[0].Content)
}

func TestStore_LastNMessages(t *testing.T) {
	s := FromSnapshot(core.MemorySnapshot{ChatHistory: conversation("q1", "a1", "q2", "a2")})

	last := s.LastNMessages(2)
	require.Len(t, last, 2)
	assert.Equal(t, "q2", last[0].Content)
	assert.Equal(t, "a2", last[1].Content)

	assert.Len(t, s.LastNMessages(0), 4)
	assert.Len(t, s.LastNMessages(10), 4)
}

func TestStore_FormattedChatHistory(t *testing.T) {
	s := FromSnapshot(core.MemorySnapshot{ChatHistory: conversation("hi", "hello")})
	assert.Equal(t, "\n---\nUSER: hi\nASSISTANT: hello\n", s.FormattedChatHistory(0))
	assert.Equal(t, "", NewStore().FormattedChatHistory(4))
}

func TestStore_Chats(t *testing.T) {
	history := append([]core.Message{
		core.NewSystemMessage("sys"),
		core.NewAssistantMessage("greeting"),
	}, conversation("q1", "a1", "q2", "a2", "q3")...)
	s := FromSnapshot(core.MemorySnapshot{ChatHistory: history})

	chats := s.Chats()
	require.Len(t, chats, 2)
	assert.Equal(t, "q1", chats[0].User.Content)
	assert.Equal(t, "a1", chats[0].Assistant.Content)
	assert.Equal(t, "q2", chats[1].User.Content)
}

func TestStore_LastNChatsIsChronological(t *testing.T) {
	s := FromSnapshot(core.MemorySnapshot{ChatHistory: conversation("q1", "a1", "q2", "a2", "q3", "a3")})

	chats := s.LastNChats(2)
	require.Len(t, chats, 2)
	assert.Equal(t, "q2", chats[0].User.Content)
	assert.Equal(t, "q3", chats[1].User.Content)

	assert.Len(t, s.LastNChats(0), 3)
}

func TestStore_ToolCallsMostRecentFirst(t *testing.T) {
	s := NewStore()
	s.SetLLMMessages([]core.Message{
		core.NewSystemMessage("sys"),
		core.NewUserMessage("q"),
		{Role: core.RoleAssistant, ToolCalls: []core.ToolCall{{ID: "c1", Name: "first", Status: core.ToolCallPending}}},
		core.NewToolMessage(core.ToolCall{ID: "c1", Name: "first", Result: "1", Status: core.ToolCallSucceeded}),
		{Role: core.RoleAssistant, ToolCalls: []core.ToolCall{{ID: "c2", Name: "second", Status: core.ToolCallPending}}},
		core.NewToolMessage(core.ToolCall{ID: "c2", Name: "second", Error: "boom", Status: core.ToolCallFailed}),
		core.NewAssistantMessage("done"),
	})

	calls := s.ToolCalls(0)
	require.Len(t, calls, 2)
	assert.Equal(t, "second", calls[0].Name)
	assert.Equal(t, core.ToolCallFailed, calls[0].Status)
	assert.Equal(t, "boom", calls[0].Error)
	assert.Equal(t, "first", calls[1].Name)
	assert.Equal(t, "1", calls[1].Result)

	assert.Len(t, s.ToolCalls(1), 1)
}

func TestStore_ReferencesAndClear(t *testing.T) {
	s := NewStore()
	s.AddReference(core.Reference{Query: "q", Text: "r"})
	s.AddLLMMessages(core.NewUserMessage("x"))
	s.SetSummary(&core.Summary{Text: "s"})

	assert.Len(t, s.References(), 1)
	assert.Len(t, s.LLMMessages(), 1)

	s.Clear()
	assert.True(t, s.Snapshot().IsEmpty())
}

package agent

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/internal/testutil"
	"github.com/hupe1980/agentrun/knowledge"
	"github.com/hupe1980/agentrun/model"
	"github.com/hupe1980/agentrun/output"
	"github.com/hupe1980/agentrun/prompt"
	"github.com/hupe1980/agentrun/session"
	"github.com/hupe1980/agentrun/tool"
)

type echoArgs struct {
	Text string `json:"text"`
}

func newEchoTool(calls *int32) tool.Tool {
	return tool.NewTypedTool("echo", "Echo the text back", func(_ *core.ToolContext, args echoArgs) (any, error) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		return "echo: " + args.Text, nil
	})
}

func echoCall(id, text string) core.ToolCall {
	return core.ToolCall{ID: id, Name: "echo", Arguments: `{"text":"` + text + `"}`}
}

// failingStore fails every write and optionally every read.
type failingStore struct {
	*session.InMemoryStore
	failReads bool
}

func (s *failingStore) Read(ctx context.Context, id string) (*core.Session, error) {
	if s.failReads {
		return nil, errors.New("read refused")
	}
	return s.InMemoryStore.Read(ctx, id)
}

func (s *failingStore) Upsert(context.Context, *core.Session) (*core.Session, error) {
	return nil, errors.New("disk full")
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, core.ErrNoModel)

	_, err = New(model.NewScriptedModel(), WithToolCallLimit(-2))
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	_, err = New(model.NewScriptedModel(), func(o *Options) { o.SearchKnowledgeTool = true })
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	_, err = New(model.NewScriptedModel(), WithPrompt(prompt.Config{SystemPromptTemplate: "{{ .Missing"}))
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	a, err := New(model.NewScriptedModel(), WithSessionID("sess-1"))
	require.NoError(t, err)
	assert.Equal(t, "sess-1", a.SessionID())
	assert.True(t, a.Session().Active)
}

func TestRun_PlainAnswer(t *testing.T) {
	m := model.NewScriptedModel(model.Turn{Text: "Hello there"})
	a, err := New(m)
	require.NoError(t, err)

	res, err := a.Run(context.Background(), "Hi")
	require.NoError(t, err)

	assert.Equal(t, "Hello there", res.Content)
	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, []RunState{
		StateInit, StateLoadingSession, StateBuildingPrompt, StateAwaitingModel, StateFinalizing, StateCompleted,
	}, res.Transitions)
	assert.Equal(t, 0, res.ToolBatches)
	assert.Positive(t, res.Usage.TotalTokens)

	req := m.LastRequest()
	require.Len(t, req.Messages, 1)
	assert.Equal(t, core.RoleUser, req.Messages[0].Role)
	assert.Equal(t, "Hi", req.Messages[0].Content)
	assert.Empty(t, req.Tools)
}

func TestRun_ToolBatchesThenFinalAnswer(t *testing.T) {
	var calls int32
	m := model.NewScriptedModel(
		model.Turn{ToolCalls: []core.ToolCall{echoCall("c1", "one")}},
		model.Turn{ToolCalls: []core.ToolCall{echoCall("c2", "two")}},
		model.Turn{ToolCalls: []core.ToolCall{echoCall("c3", "three")}},
		model.Turn{Text: "done"},
	)
	a, err := New(m, WithTools(newEchoTool(&calls)))
	require.NoError(t, err)

	res, err := a.Run(context.Background(), "go")
	require.NoError(t, err)

	assert.Equal(t, "done", res.Content)
	assert.Equal(t, 3, res.ToolBatches)
	assert.Equal(t, int32(3), calls)
	assert.False(t, res.LimitReached)
	require.Len(t, res.ToolCalls, 3)
	for _, c := range res.ToolCalls {
		assert.Equal(t, core.ToolCallSucceeded, c.Status)
	}

	reqs := m.Requests()
	require.Len(t, reqs, 4)
	assert.Equal(t, model.ToolChoiceAuto, reqs[0].ToolChoice)
	require.Len(t, reqs[0].Tools, 1)

	// Each later request carries the assistant tool turn followed by its result.
	last := reqs[3].Messages
	require.Len(t, last, 7)
	assert.Equal(t, core.RoleAssistant, last[5].Role)
	assert.Equal(t, "c3", last[5].ToolCalls[0].ID)
	assert.Equal(t, core.RoleTool, last[6].Role)
	assert.Equal(t, "c3", last[6].ToolCallID)
	assert.Equal(t, "echo: three", last[6].Content)

	// Tool turns stay out of the transcript.
	history := a.Memory().ChatHistory()
	require.Len(t, history, 2)
	assert.Equal(t, "go", history[0].Content)
	assert.Equal(t, "done", history[1].Content)

	llm := a.Memory().LLMMessages()
	require.Len(t, llm, 8)
	assert.Equal(t, "done", llm[7].Content)
}

func TestRun_ParallelCallsKeepRequestOrder(t *testing.T) {
	m := model.NewScriptedModel(
		model.Turn{ToolCalls: []core.ToolCall{echoCall("a", "1"), echoCall("b", "2"), echoCall("c", "3")}},
		model.Turn{Text: "ok"},
	)
	a, err := New(m, WithTools(newEchoTool(nil)))
	require.NoError(t, err)

	res, err := a.Run(context.Background(), "fan out")
	require.NoError(t, err)
	assert.Equal(t, 1, res.ToolBatches)

	msgs := m.LastRequest().Messages
	require.Len(t, msgs, 5)
	assert.Equal(t, "a", msgs[2].ToolCallID)
	assert.Equal(t, "b", msgs[3].ToolCallID)
	assert.Equal(t, "c", msgs[4].ToolCallID)
}

func TestRun_ZeroLimitForcesFinalTurn(t *testing.T) {
	var calls int32
	m := model.NewScriptedModel(
		model.Turn{ToolCalls: []core.ToolCall{echoCall("c1", "x")}},
		model.Turn{Text: "answer without tools"},
	)
	a, err := New(m, WithTools(newEchoTool(&calls)), WithToolCallLimit(0))
	require.NoError(t, err)

	res, err := a.Run(context.Background(), "q")
	require.NoError(t, err)

	assert.Equal(t, int32(0), calls)
	assert.Equal(t, 0, res.ToolBatches)
	assert.True(t, res.LimitReached)
	assert.Equal(t, "answer without tools", res.Content)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, core.ToolCallSkipped, res.ToolCalls[0].Status)

	forced := m.LastRequest()
	assert.Equal(t, model.ToolChoiceNone, forced.ToolChoice)
	msgs := forced.Messages
	require.Len(t, msgs, 4)
	assert.True(t, msgs[2].ToolError)
	assert.Contains(t, msgs[2].Content, "LIMIT_REACHED")
	assert.Equal(t, core.RoleUser, msgs[3].Role)
	assert.Equal(t, LimitReachedPrompt, msgs[3].Content)
}

func TestRun_LimitSplitsBatch(t *testing.T) {
	var calls int32
	m := model.NewScriptedModel(
		model.Turn{ToolCalls: []core.ToolCall{echoCall("a", "1"), echoCall("b", "2"), echoCall("c", "3")}},
		model.Turn{ToolCalls: []core.ToolCall{echoCall("d", "4")}},
	)
	a, err := New(m, WithTools(newEchoTool(&calls)), WithToolCallLimit(2))
	require.NoError(t, err)

	res, err := a.Run(context.Background(), "q")
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls)
	assert.Equal(t, 1, res.ToolBatches)
	require.Len(t, res.ToolCalls, 3)
	assert.Equal(t, core.ToolCallSucceeded, res.ToolCalls[0].Status)
	assert.Equal(t, core.ToolCallSucceeded, res.ToolCalls[1].Status)
	assert.Equal(t, core.ToolCallSkipped, res.ToolCalls[2].Status)

	// Tool calls requested by the forced turn are ignored.
	assert.Equal(t, StateCompleted, res.State)
	llm := a.Memory().LLMMessages()
	assert.False(t, llm[len(llm)-1].HasToolCalls())
}

func TestRun_FailingToolStillFinalizes(t *testing.T) {
	boom := tool.NewTypedTool("boom", "Always fails", func(_ *core.ToolContext, _ struct{}) (any, error) {
		return nil, errors.New("kaput")
	})
	m := model.NewScriptedModel(
		model.Turn{ToolCalls: []core.ToolCall{{ID: "c1", Name: "boom", Arguments: "{}"}, {ID: "c2", Name: "missing"}}},
		model.Turn{Text: "sorry"},
	)
	a, err := New(m, WithTools(boom))
	require.NoError(t, err)

	res, err := a.Run(context.Background(), "try")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, res.State)
	assert.Contains(t, res.Transitions, StateFinalizing)

	msgs := m.LastRequest().Messages
	require.Len(t, msgs, 4)
	assert.True(t, msgs[2].ToolError)
	assert.Contains(t, msgs[2].Content, "kaput")
	assert.True(t, msgs[3].ToolError)
	assert.Contains(t, msgs[3].Content, "missing")
}

func TestRun_ModelErrorFails(t *testing.T) {
	transport := errors.New("connection refused")
	store := session.NewInMemoryStore()
	a, err := New(model.NewScriptedModel(model.Turn{Err: transport}), WithStorage(store), WithSessionID("s"))
	require.NoError(t, err)

	res, err := a.Run(context.Background(), "hi")
	assert.Nil(t, res)
	require.ErrorIs(t, err, transport)
	assert.Contains(t, err.Error(), "agent: model generate")

	stored, err := store.Read(context.Background(), "s")
	require.NoError(t, err)
	assert.Nil(t, stored)
	assert.Empty(t, a.Memory().ChatHistory())
}

func TestRun_StorageFailureIsNonFatal(t *testing.T) {
	store := &failingStore{InMemoryStore: session.NewInMemoryStore(), failReads: true}
	a, err := New(model.NewScriptedModel(model.Turn{Text: "fine"}), WithStorage(store))
	require.NoError(t, err)

	res, err := a.Run(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "fine", res.Content)
	assert.Equal(t, StateCompleted, res.State)
	assert.Len(t, a.Memory().ChatHistory(), 2)

	assert.Error(t, a.Rename(context.Background(), "name"))
}

func TestRun_TwoRunsBuildChronologicalHistory(t *testing.T) {
	store := session.NewInMemoryStore()
	m := model.NewScriptedModel(model.Turn{Text: "a1"}, model.Turn{Text: "a2"})
	a, err := New(m, WithStorage(store), WithSessionID("s1"))
	require.NoError(t, err)

	_, err = a.Run(context.Background(), "q1")
	require.NoError(t, err)
	_, err = a.Run(context.Background(), "q2")
	require.NoError(t, err)

	stored, err := store.Read(context.Background(), "s1")
	require.NoError(t, err)
	require.NotNil(t, stored)

	history := stored.Memory.ChatHistory
	require.Len(t, history, 4)
	assert.Equal(t, []string{"q1", "a1", "q2", "a2"}, []string{
		history[0].Content, history[1].Content, history[2].Content, history[3].Content,
	})
	assert.Equal(t, core.RoleUser, history[2].Role)
	assert.Equal(t, core.RoleAssistant, history[3].Role)
}

func TestRun_RecallsEarlierMessageAcrossAgents(t *testing.T) {
	store := session.NewInMemoryStore()

	first, err := New(model.NewScriptedModel(model.Turn{Text: "Nice to meet you, Ada."}),
		WithStorage(store), WithSessionID("shared"))
	require.NoError(t, err)
	_, err = first.Run(context.Background(), "My name is Ada")
	require.NoError(t, err)

	m := model.NewScriptedModel(model.Turn{Text: "Your name is Ada."})
	second, err := New(m, WithStorage(store), WithSessionID("shared"),
		WithPrompt(prompt.Config{SystemPrompt: "You are helpful."}))
	require.NoError(t, err)
	_, err = second.Run(context.Background(), "What is my name?")
	require.NoError(t, err)

	msgs := m.LastRequest().Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, core.RoleSystem, msgs[0].Role)
	assert.Equal(t, "My name is Ada", msgs[1].Content)
	assert.Equal(t, "What is my name?", msgs[3].Content)
}

func TestRun_HistoryWindow(t *testing.T) {
	m := model.NewScriptedModel(
		model.Turn{Text: "a1"}, model.Turn{Text: "a2"}, model.Turn{Text: "a3"},
	)
	a, err := New(m, func(o *Options) { o.HistoryMessages = 2 })
	require.NoError(t, err)

	for _, q := range []string{"q1", "q2", "q3"} {
		_, err := a.Run(context.Background(), q)
		require.NoError(t, err)
	}

	msgs := m.LastRequest().Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, "q2", msgs[0].Content)
	assert.Equal(t, "a2", msgs[1].Content)

	b, err := New(model.NewScriptedModel(model.Turn{Text: "x"}, model.Turn{Text: "y"}),
		func(o *Options) { o.AddHistoryToMessages = false })
	require.NoError(t, err)
	_, _ = b.Run(context.Background(), "first")
	_, err = b.Run(context.Background(), "second")
	require.NoError(t, err)
	assert.Len(t, b.Memory().LLMMessages(), 2)
}

func TestLoad_IsIdempotent(t *testing.T) {
	store := session.NewInMemoryStore()
	stored := testutil.NewSessionBuilder("s1").
		Name("stored name").
		Meta("a", 1).
		Meta("b", 2).
		Exchange("q", "a").
		Build()
	_, err := store.Upsert(context.Background(), stored)
	require.NoError(t, err)

	a, err := New(model.NewScriptedModel(), WithStorage(store), WithSessionID("s1"),
		func(o *Options) { o.Metadata = map[string]any{"b": 3, "c": 4} })
	require.NoError(t, err)

	require.NoError(t, a.Load(context.Background()))
	first := a.Session()
	require.NoError(t, a.Load(context.Background()))
	require.NoError(t, a.Load(context.Background()))
	second := a.Session()

	assert.Equal(t, first.Memory.ChatHistory, second.Memory.ChatHistory)
	assert.Len(t, second.Memory.ChatHistory, 2)
	assert.Equal(t, "stored name", second.Name)
	assert.Equal(t, map[string]any{"a": 1, "b": 3, "c": 4}, second.Metadata)
}

func TestSystemPrompt_IsDeterministic(t *testing.T) {
	m := model.NewScriptedModel(model.Turn{Text: "one"}, model.Turn{Text: "two"}).
		WithInstructions("Be brief.").
		WithPreamble("You are a scripted model.")
	a, err := New(m,
		WithTools(newEchoTool(nil)),
		WithPrompt(prompt.Config{
			Description:     "You answer questions.",
			LimitToolAccess: true,
			Markdown:        true,
		}),
	)
	require.NoError(t, err)

	sp1, err := a.SystemPrompt()
	require.NoError(t, err)
	sp2, err := a.SystemPrompt()
	require.NoError(t, err)
	assert.Equal(t, sp1, sp2)
	assert.Contains(t, sp1, "You are a scripted model.")
	assert.Contains(t, sp1, "Be brief.")
	assert.Contains(t, sp1, "Only use the tools you are provided.")

	_, err = a.Run(context.Background(), "x")
	require.NoError(t, err)
	_, err = a.Run(context.Background(), "y")
	require.NoError(t, err)

	reqs := m.Requests()
	assert.Equal(t, reqs[0].Messages[0].Content, reqs[1].Messages[0].Content)
}

func TestRun_StructuredOutputFromFencedJSON(t *testing.T) {
	m := model.NewScriptedModel(model.Turn{Text: "```json\n{\"city\": \"Paris\", \"country\": \"France\"}\n```"})
	a, err := New(m, WithOutputSchema(output.FieldsSchema("city", "country")))
	require.NoError(t, err)

	res, err := a.Run(context.Background(), "Capital of France?")
	require.NoError(t, err)

	assert.Equal(t, model.ResponseFormatJSON, m.LastRequest().ResponseFormat)
	assert.Contains(t, m.LastRequest().Messages[0].Content, "Start your response with `{` and end it with `}`.")
	assert.Equal(t, map[string]any{"city": "Paris", "country": "France"}, res.Structured)

	history := a.Memory().ChatHistory()
	require.Len(t, history, 2)
	assert.Equal(t, res.Structured, history[1].Data)
}

func TestRun_UnparseableStructuredOutputKeepsText(t *testing.T) {
	a, err := New(model.NewScriptedModel(model.Turn{Text: "not json at all"}),
		WithOutputSchema(output.FieldsSchema("city")))
	require.NoError(t, err)

	res, err := a.Run(context.Background(), "q")
	require.NoError(t, err)
	assert.Nil(t, res.Structured)
	assert.Equal(t, "not json at all", res.Content)
	assert.Equal(t, StateCompleted, res.State)
}

func TestRun_ReferencesFromKnowledge(t *testing.T) {
	kb := knowledge.NewInMemoryRetriever(
		core.Document{Content: "Go was released in 2009", Source: "history"},
		core.Document{Content: "Bananas are yellow"},
	)
	m := model.NewScriptedModel(model.Turn{Text: "2009"})
	a, err := New(m, WithKnowledge(kb), WithPrompt(prompt.Config{AddReferencesToPrompt: true}))
	require.NoError(t, err)

	res, err := a.Run(context.Background(), "When was Go released?")
	require.NoError(t, err)

	require.Len(t, res.References, 1)
	assert.Equal(t, "When was Go released?", res.References[0].Query)
	assert.Contains(t, res.References[0].Text, "2009")
	assert.Len(t, a.Memory().References(), 1)

	user := m.LastRequest().Messages[len(m.LastRequest().Messages)-1]
	assert.Contains(t, user.Content, "<knowledge_base>")
	assert.Contains(t, user.Content, "Go was released in 2009")

	// The transcript keeps the raw message.
	assert.Equal(t, "When was Go released?", a.Memory().ChatHistory()[0].Content)
}

func TestRun_BuiltinHistoryTool(t *testing.T) {
	m := model.NewScriptedModel(
		model.Turn{Text: "first answer"},
		model.Turn{ToolCalls: []core.ToolCall{{ID: "h", Name: tool.GetChatHistoryName, Arguments: `{"num_chats":1}`}}},
		model.Turn{Text: "recalled"},
	)
	a, err := New(m, func(o *Options) { o.ReadChatHistoryTool = true })
	require.NoError(t, err)
	assert.Equal(t, []string{tool.GetChatHistoryName}, a.Tools())

	_, err = a.Run(context.Background(), "first question")
	require.NoError(t, err)
	_, err = a.Run(context.Background(), "what did I ask?")
	require.NoError(t, err)

	msgs := m.LastRequest().Messages
	toolMsg := msgs[len(msgs)-1]
	assert.Equal(t, core.RoleTool, toolMsg.Role)
	assert.Contains(t, toolMsg.Content, "first question")
}

func TestGenerateNameAndAutoRename(t *testing.T) {
	store := session.NewInMemoryStore()
	m := model.NewScriptedModel(model.Turn{Text: "hello"}, model.Turn{Text: ` "Greeting Chat" `})
	a, err := New(m, WithStorage(store), WithSessionID("s"))
	require.NoError(t, err)

	_, err = a.GenerateName(context.Background())
	assert.Error(t, err)

	_, err = a.Run(context.Background(), "hi there")
	require.NoError(t, err)

	name, err := a.AutoRename(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Greeting Chat", name)

	req := m.LastRequest()
	require.Len(t, req.Messages, 2)
	assert.Equal(t, nameSystemPrompt, req.Messages[0].Content)
	assert.Equal(t, "USER: hi there\n", req.Messages[1].Content)

	stored, err := store.Read(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, "Greeting Chat", stored.Name)
}

func TestRenameAndEnd(t *testing.T) {
	store := session.NewInMemoryStore()
	a, err := New(model.NewScriptedModel(), WithStorage(store), WithSessionID("s"))
	require.NoError(t, err)

	require.NoError(t, a.Rename(context.Background(), "Trip planning"))
	stored, err := store.Read(context.Background(), "s")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "Trip planning", stored.Name)
	assert.True(t, stored.Active)

	require.NoError(t, a.End(context.Background()))
	stored, err = store.Read(context.Background(), "s")
	require.NoError(t, err)
	assert.False(t, stored.Active)
	assert.False(t, a.Session().Active)
}

func TestRunStream_Deltas(t *testing.T) {
	m := model.NewScriptedModel(model.Turn{Text: "Hello world", Chunks: []string{"Hel", "lo ", "world"}})
	a, err := New(m)
	require.NoError(t, err)

	events, errs := a.RunStream(context.Background(), "greet")

	var (
		deltas []string
		result *RunResult
	)
	for ev := range events {
		if ev.Result != nil {
			result = ev.Result
			continue
		}
		deltas = append(deltas, ev.Delta)
	}
	require.NoError(t, <-errs)

	assert.Equal(t, []string{"Hel", "lo ", "world"}, deltas)
	require.NotNil(t, result)
	assert.Equal(t, "Hello world", result.Content)
	assert.True(t, m.LastRequest().Stream)
	assert.Len(t, a.Memory().ChatHistory(), 2)
}

func TestRunStream_StructuredOutputIsSingleChunk(t *testing.T) {
	m := model.NewScriptedModel(model.Turn{Text: `{"answer": 42}`})
	a, err := New(m, WithOutputSchema(output.FieldsSchema("answer")))
	require.NoError(t, err)

	events, errs := a.RunStream(context.Background(), "q")
	var got []StreamEvent
	for ev := range events {
		got = append(got, ev)
	}
	require.NoError(t, <-errs)

	require.Len(t, got, 2)
	assert.Equal(t, `{"answer": 42}`, got[0].Delta)
	require.NotNil(t, got[1].Result)
	assert.Equal(t, map[string]any{"answer": float64(42)}, got[1].Result.Structured)
	assert.False(t, m.LastRequest().Stream)
}

func TestRunStream_AbandonLeavesNoState(t *testing.T) {
	store := session.NewInMemoryStore()
	m := model.NewScriptedModel(model.Turn{Text: "a b c d", Chunks: []string{"a ", "b ", "c ", "d"}})
	a, err := New(m, WithStorage(store), WithSessionID("s"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	events, errs := a.RunStream(ctx, "q")

	first := <-events
	assert.Equal(t, "a ", first.Delta)
	cancel()

	for range events {
	}
	err = <-errs
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled), err.Error())

	assert.Empty(t, a.Memory().ChatHistory())
	assert.Empty(t, a.Memory().LLMMessages())
	stored, err := store.Read(context.Background(), "s")
	require.NoError(t, err)
	assert.Nil(t, stored)

	m.Push(model.Turn{Text: "again"})
	done := make(chan struct{})
	go func() {
		defer close(done)
		res, err := a.Run(context.Background(), "q2")
		if assert.NoError(t, err) {
			assert.Equal(t, "again", res.Content)
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("agent stayed locked after the stream was cancelled")
	}
}

func TestRun_UsageFromProvider(t *testing.T) {
	m := model.NewScriptedModel(
		model.Turn{ToolCalls: []core.ToolCall{echoCall("c", "x")}, Usage: &model.TokenUsage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12}},
		model.Turn{Text: "ok", Usage: &model.TokenUsage{PromptTokens: 20, CompletionTokens: 3, TotalTokens: 23}},
	)
	a, err := New(m, WithTools(newEchoTool(nil)))
	require.NoError(t, err)

	res, err := a.Run(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, model.TokenUsage{PromptTokens: 30, CompletionTokens: 5, TotalTokens: 35}, res.Usage)
	assert.True(t, strings.HasPrefix(res.ToolCalls[0].Result, "echo"))
}

func TestRun_ContinuesStoredConversation(t *testing.T) {
	store := session.NewInMemoryStore()
	_, err := store.Upsert(context.Background(), testutil.NewSessionBuilder("s1").
		User("u1", "o1").
		Extra("plan", "pro").
		Exchange("q1", "a1").
		Ended().
		Build())
	require.NoError(t, err)

	m := model.NewScriptedModel(model.Turn{Text: "a2"})
	a, err := New(m, WithStorage(store), WithSessionID("s1"))
	require.NoError(t, err)

	_, err = a.Run(context.Background(), "q2")
	require.NoError(t, err)

	msgs := m.LastRequest().Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, "q1", msgs[0].Content)

	stored, err := store.Read(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "u1", stored.UserID)
	assert.Equal(t, "pro", stored.ExtraData["plan"])
	assert.False(t, stored.Active)
	assert.Len(t, stored.Memory.ChatHistory, 4)
}

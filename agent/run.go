package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/logging"
	"github.com/hupe1980/agentrun/model"
	"github.com/hupe1980/agentrun/tokens"
	"github.com/hupe1980/agentrun/tool"
)

// LimitReachedPrompt is sent as a user message before the forced final turn.
const LimitReachedPrompt = "Tool call limit reached. Do not call any more tools. Answer now using the information you already have."

// execution holds the state of one run.
type execution struct {
	a       *Agent
	logger  logging.Logger
	trace   *runTrace
	result  *RunResult
	limiter *core.ToolCallLimiter
	onDelta func(string)
	stream  bool
	start   time.Time
}

// Run executes a blocking run for message and returns its result. Only
// model transport failures and context cancellation return an error; tool,
// parse and storage failures degrade into the result.
func (a *Agent) Run(ctx context.Context, message string) (*RunResult, error) {
	return a.run(ctx, message, nil)
}

// RunStream executes a streaming run. Text deltas of every model turn are
// delivered in order, followed by one event carrying the result. With an
// output schema configured the content is delivered as a single delta.
//
// Both channels are closed when the run ends. Deltas are sent while the
// agent is locked, so a consumer that stops reading must cancel ctx: an
// unread, uncancelled stream blocks every later run on this Agent. An
// abandoned run does not touch memory or storage.
func (a *Agent) RunStream(ctx context.Context, message string) (<-chan StreamEvent, <-chan error) {
	out := make(chan StreamEvent)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		send := func(ev StreamEvent) bool {
			select {
			case <-ctx.Done():
				return false
			case out <- ev:
				return true
			}
		}

		res, err := a.run(ctx, message, func(delta string) { send(StreamEvent{Delta: delta}) })
		if err != nil {
			errCh <- err
			return
		}
		if a.opts.OutputSchema != nil && res.Content != "" {
			if !send(StreamEvent{Delta: res.Content}) {
				errCh <- ctx.Err()
				return
			}
		}
		if !send(StreamEvent{Result: res}) {
			errCh <- ctx.Err()
		}
	}()

	return out, errCh
}

func (a *Agent) run(ctx context.Context, message string, onDelta func(string)) (*RunResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	runID := core.NewID()
	x := &execution{
		a:       a,
		logger:  a.runLogger(runID),
		trace:   newRunTrace(),
		limiter: core.NewToolCallLimiter(a.opts.ToolCallLimit),
		onDelta: onDelta,
		stream:  onDelta != nil && a.opts.OutputSchema == nil,
		start:   time.Now(),
		result:  &RunResult{RunID: runID, SessionID: a.session.ID},
	}

	ctx, span := a.startRunSpan(ctx, runID, message, x.stream)
	res, err := x.execute(ctx, message)
	endSpan(span, err)
	return res, err
}

func (a *Agent) runLogger(runID string) logging.Logger {
	if rl, ok := a.logger.(*logging.RunLogger); ok {
		return rl.WithRun(a.session.ID, runID)
	}
	return a.logger
}

func (x *execution) enter(s RunState) {
	x.trace.enter(s)
	x.logger.Debug("agent.state", "run_id", x.result.RunID, "state", string(s))
}

func (x *execution) execute(ctx context.Context, message string) (*RunResult, error) {
	a := x.a
	x.logger.Info("agent.run.start", "session_id", a.session.ID, "run_id", x.result.RunID, "stream", x.stream)

	x.enter(StateLoadingSession)
	a.loadQuietly(ctx)
	x.result.SessionID = a.session.ID

	x.enter(StateBuildingPrompt)
	msgs, refs, err := x.buildMessages(ctx, message)
	if err != nil {
		return x.fail(fmt.Errorf("agent: build prompt: %w", err))
	}

	msgs, err = x.loop(ctx, msgs)
	if err != nil {
		return x.fail(err)
	}

	// Abandoned runs leave memory and storage untouched.
	if err := ctx.Err(); err != nil {
		return x.fail(err)
	}

	x.enter(StateFinalizing)
	x.finalize(ctx, message, msgs, refs)

	x.enter(StateCompleted)
	return x.finish(nil), nil
}

// buildMessages returns the model-facing message list for the first turn:
// the system message, the history window and the user prompt.
func (x *execution) buildMessages(ctx context.Context, message string) ([]core.Message, []core.Reference, error) {
	a := x.a

	system, err := a.builder.SystemPrompt()
	if err != nil {
		return nil, nil, err
	}

	var (
		refs       []core.Reference
		references string
	)
	if a.builder.WantsReferences() && a.opts.Knowledge != nil {
		ref, err := x.retrieve(ctx, message)
		if err != nil {
			x.logger.Warn("knowledge.search.failed", "error", err.Error())
		} else {
			refs = append(refs, ref)
			references = ref.Text
		}
	}

	var history string
	if a.builder.WantsChatHistory() {
		history = a.memory.FormattedChatHistory(a.opts.HistoryMessages)
	}

	userPrompt, err := a.builder.UserPrompt(message, references, history)
	if err != nil {
		return nil, nil, err
	}

	msgs := make([]core.Message, 0, a.opts.HistoryMessages+2)
	if system != "" {
		msgs = append(msgs, core.NewSystemMessage(system))
	}
	if a.opts.AddHistoryToMessages {
		window := a.memory.LastNMessages(a.opts.HistoryMessages)
		window = tokens.FitWithinLimit(a.opts.TokenCounter, window, a.opts.HistoryTokenLimit)
		msgs = append(msgs, window...)
	}
	msgs = append(msgs, core.NewUserMessage(userPrompt))

	return msgs, refs, nil
}

func (x *execution) retrieve(ctx context.Context, query string) (core.Reference, error) {
	a := x.a
	start := time.Now()
	docs, err := a.opts.Knowledge.Search(ctx, query, a.opts.NumReferences)
	if err != nil {
		return core.Reference{}, err
	}
	text, err := a.builder.FormatReferences(docs)
	if err != nil {
		return core.Reference{}, err
	}
	return core.Reference{
		Query:   query,
		Text:    text,
		Latency: time.Since(start),
		Created: time.Now(),
	}, nil
}

// loop alternates model turns and tool batches until the model answers
// without tool calls. It returns the full message list ending with the
// final assistant message.
func (x *execution) loop(ctx context.Context, msgs []core.Message) ([]core.Message, error) {
	a := x.a
	defs := a.registry.Definitions()
	forced := false

	for turn := 1; ; turn++ {
		x.enter(StateAwaitingModel)

		req := model.Request{Messages: msgs, Tools: defs, Stream: x.stream}
		if len(defs) > 0 {
			req.ToolChoice = model.ToolChoiceAuto
		}
		if forced {
			req.ToolChoice = model.ToolChoiceNone
		}
		if a.opts.OutputSchema != nil {
			req.ResponseFormat = model.ResponseFormatJSON
		}

		reply, err := x.generate(ctx, req, turn, forced)
		if err != nil {
			return nil, err
		}

		if !reply.HasToolCalls() {
			return append(msgs, reply), nil
		}
		if forced {
			x.logger.Warn("agent.tool_calls.ignored", "count", len(reply.ToolCalls))
			reply.ToolCalls = nil
			return append(msgs, reply), nil
		}

		for i := range reply.ToolCalls {
			if reply.ToolCalls[i].ID == "" {
				reply.ToolCalls[i].ID = core.NewID()
			}
			reply.ToolCalls[i].Status = core.ToolCallPending
		}
		msgs = append(msgs, reply)

		x.enter(StateExecutingTools)
		for _, call := range x.executeTools(ctx, reply.ToolCalls) {
			msgs = append(msgs, core.NewToolMessage(call))
		}

		if x.limiter.Exceeded() {
			x.logger.Info("agent.tool_limit.reached", "limit", a.opts.ToolCallLimit, "dispatched", x.limiter.Count())
			x.result.LimitReached = true
			msgs = append(msgs, core.NewUserMessage(LimitReachedPrompt))
			forced = true
		}
	}
}

func (x *execution) generate(ctx context.Context, req model.Request, turn int, forced bool) (core.Message, error) {
	a := x.a
	ctx, span := a.startModelSpan(ctx, turn, len(req.Messages), forced)

	var onDelta func(string)
	if req.Stream {
		onDelta = x.onDelta
	}

	start := time.Now()
	resp, err := model.Collect(ctx, a.model, req, onDelta)
	dur := time.Since(start)

	usage := x.usage(req, resp)
	name := a.model.Info().Name
	a.opts.Metrics.ModelCall(name, dur, usage.PromptTokens, usage.CompletionTokens, err)
	if rl, ok := x.logger.(*logging.RunLogger); ok {
		rl.LogModelCall(name, usage.TotalTokens, dur, err)
	}
	endSpan(span, err)

	if err != nil {
		return core.Message{}, fmt.Errorf("agent: model generate: %w", err)
	}
	addUsage(&x.result.Usage, usage)

	reply := resp.Message
	reply.Role = core.RoleAssistant
	return reply.Clone(), nil
}

// usage returns the provider's usage or an estimate when it was omitted.
func (x *execution) usage(req model.Request, resp model.Response) model.TokenUsage {
	if resp.Usage != nil {
		return *resp.Usage
	}
	counter := x.a.opts.TokenCounter
	u := model.TokenUsage{
		PromptTokens:     tokens.CountMessages(counter, req.Messages),
		CompletionTokens: counter.Count(resp.Message.Content),
	}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return u
}

// executeTools dispatches the calls allowed by the limiter and returns all
// calls completed in request order. Calls over the limit are skipped.
func (x *execution) executeTools(ctx context.Context, calls []core.ToolCall) []core.ToolCall {
	a := x.a
	ctx, span := a.startToolSpan(ctx, len(calls))
	defer span.End()

	out := make([]core.ToolCall, len(calls))
	dispatch := make([]core.ToolCall, 0, len(calls))
	index := make([]int, 0, len(calls))
	for i, call := range calls {
		if x.limiter.TryAcquire() {
			dispatch = append(dispatch, call)
			index = append(index, i)
			continue
		}
		out[i] = tool.LimitReached(call)
	}

	if len(dispatch) > 0 {
		toolCtx := core.NewToolContext(ctx, core.ToolContextConfig{
			SessionID: a.session.ID,
			RunID:     x.result.RunID,
			Memory:    a.memory,
			Knowledge: a.opts.Knowledge,
			Logger:    x.logger,
		})
		for j, done := range a.executor.ExecuteBatch(toolCtx, dispatch) {
			out[index[j]] = done
		}
		x.result.ToolBatches++
	}

	for _, call := range out {
		a.opts.Metrics.ToolCall(call.Name, string(call.Status), call.Duration)
	}
	x.result.ToolCalls = append(x.result.ToolCalls, out...)
	return out
}

// finalize records the run into memory and persists the session. msgs ends
// with the final assistant message.
func (x *execution) finalize(ctx context.Context, message string, msgs []core.Message, refs []core.Reference) {
	a := x.a
	final := &msgs[len(msgs)-1]

	if schema := a.opts.OutputSchema; schema != nil {
		v, err := schema.Parse(final.Content)
		if err != nil {
			x.logger.Warn("output.parse.failed", "error", err.Error())
		} else {
			final.Data = v
			x.result.Structured = v
		}
	}
	x.result.Content = final.Content
	x.result.References = refs

	a.memory.SetLLMMessages(msgs)
	a.memory.AddChatMessages(core.NewUserMessage(message), *final)
	for _, ref := range refs {
		a.memory.AddReference(ref)
	}

	if err := a.persist(ctx); err != nil {
		x.logger.Error("storage.upsert.failed", "session_id", a.session.ID, "error", err.Error())
	}
}

func (x *execution) fail(err error) (*RunResult, error) {
	x.enter(StateFailed)
	x.finish(err)
	return nil, err
}

func (x *execution) finish(err error) *RunResult {
	res := x.result
	res.State = x.trace.state
	res.Transitions = x.trace.transitions
	res.Duration = time.Since(x.start)

	x.a.opts.Metrics.RunFinished(string(res.State), res.Duration)
	if rl, ok := x.logger.(*logging.RunLogger); ok {
		rl.LogRun(string(res.State), res.ToolBatches, res.Duration, err)
	} else if err != nil {
		x.logger.Error("agent.run.failed", "run_id", res.RunID, "error", err.Error())
	} else {
		x.logger.Info("agent.run.completed", "run_id", res.RunID, "tool_batches", res.ToolBatches)
	}
	return res
}

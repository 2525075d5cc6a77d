package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/logging"
	"github.com/hupe1980/agentrun/memory"
	"github.com/hupe1980/agentrun/model"
	"github.com/hupe1980/agentrun/prompt"
	"github.com/hupe1980/agentrun/session"
	"github.com/hupe1980/agentrun/tool"
)

// nameSystemPrompt is sent by GenerateName.
const nameSystemPrompt = "Please provide a suitable name for the following conversation in maximum 5 words."

// nameWindow bounds the chat history messages considered by GenerateName.
const nameWindow = 6

// Agent drives runs for a single session. It owns the session and its
// memory; runs and session operations on one Agent are serialised.
type Agent struct {
	model    model.Model
	opts     Options
	registry *tool.Registry
	executor *tool.Executor
	builder  *prompt.Builder
	logger   logging.Logger
	tracer   trace.Tracer

	mu      sync.Mutex
	session *core.Session
	memory  *memory.Store
}

// New creates an agent for m. Options are validated once here.
func New(m model.Model, optFns ...func(o *Options)) (*Agent, error) {
	if m == nil {
		return nil, core.ErrNoModel
	}

	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Metrics == nil {
		opts.Metrics = defaultOptions().Metrics
	}
	if opts.TokenCounter == nil {
		opts.TokenCounter = defaultOptions().TokenCounter
	}
	if opts.Tracer == nil {
		opts.Tracer = defaultTracer()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if rl, ok := logger.(*logging.RunLogger); ok {
		logger = rl.WithComponent("agent")
	}

	registry := tool.NewRegistry(logger)
	registry.Register(opts.Tools...)
	for _, tk := range opts.Toolkits {
		registry.RegisterToolkit(tk)
	}
	if opts.ReadChatHistoryTool {
		registry.Register(tool.NewChatHistoryTool())
	}
	if opts.ReadToolCallHistoryTool {
		registry.Register(tool.NewToolCallHistoryTool())
	}
	if opts.SearchKnowledgeTool {
		registry.Register(tool.NewSearchKnowledgeTool(opts.NumReferences))
	}
	if opts.UpdateKnowledgeTool {
		registry.Register(tool.NewAddToKnowledgeTool())
	}

	executor := tool.NewExecutor(registry, func(o *tool.ExecutorOptions) {
		o.MaxParallel = opts.MaxParallelTools
		o.Logger = logger
	})

	env := prompt.Env{
		HasKnowledge: opts.Knowledge != nil,
		HasTools:     registry.Len() > 0,
		Output:       opts.OutputSchema,
	}
	if ip, ok := m.(model.InstructionProvider); ok {
		env.ModelInstructions = ip.Instructions()
	}
	if sp, ok := m.(model.SystemPreambleProvider); ok {
		env.ModelPreamble = sp.SystemPreamble()
	}
	builder := prompt.NewBuilder(opts.Prompt, env)
	if _, err := builder.SystemPrompt(); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidConfig, err)
	}

	sess := core.NewSession(opts.SessionID)
	sess.Name = opts.Name
	sess.UserID = opts.UserID
	sess.OwnerID = opts.OwnerID
	sess.Metadata = session.MergeMaps(opts.Metadata, sess.Metadata)
	sess.ExtraData = session.MergeMaps(opts.ExtraData, sess.ExtraData)

	return &Agent{
		model:    m,
		opts:     opts,
		registry: registry,
		executor: executor,
		builder:  builder,
		logger:   logger,
		tracer:   opts.Tracer,
		session:  sess,
		memory:   memory.NewStore(),
	}, nil
}

// SessionID returns the id of the session driven by this agent.
func (a *Agent) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session.ID
}

// Session returns a copy of the current session including its memory.
func (a *Agent) Session() *core.Session {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.session.Memory = a.memory.Snapshot()
	return a.session.Clone()
}

// Memory returns the agent's memory store.
func (a *Agent) Memory() *memory.Store { return a.memory }

// Tools returns the names of the registered tools.
func (a *Agent) Tools() []string { return a.registry.Names() }

// SystemPrompt returns the system prompt the next run would send.
func (a *Agent) SystemPrompt() (string, error) { return a.builder.SystemPrompt() }

// Load reads the persisted session and merges it into the in-memory one
// without running. Loading repeatedly is idempotent.
func (a *Agent) Load(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.load(ctx)
}

// Rename sets the session name and persists the session.
func (a *Agent) Rename(ctx context.Context, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.loadQuietly(ctx)
	a.session.Name = name
	return a.persist(ctx)
}

// GenerateName asks the model for a short name of the conversation.
func (a *Agent) GenerateName(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.loadQuietly(ctx)
	return a.generateName(ctx)
}

// AutoRename generates a name with the model, stores it and returns it.
func (a *Agent) AutoRename(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.loadQuietly(ctx)
	name, err := a.generateName(ctx)
	if err != nil {
		return "", err
	}
	a.session.Name = name
	return name, a.persist(ctx)
}

// End marks the session inactive and persists it.
func (a *Agent) End(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.loadQuietly(ctx)
	a.session.Active = false
	return a.persist(ctx)
}

func (a *Agent) load(ctx context.Context) error {
	if a.opts.Storage == nil {
		return nil
	}
	stored, err := a.opts.Storage.Read(ctx, a.session.ID)
	if err != nil {
		return fmt.Errorf("agent: read session: %w", err)
	}
	if stored == nil {
		return nil
	}

	a.session.Memory = a.memory.Snapshot()
	a.session = session.Merge(a.session, stored)
	a.memory.Load(stored.Memory)
	return nil
}

func (a *Agent) loadQuietly(ctx context.Context) {
	if err := a.load(ctx); err != nil {
		a.logger.Warn("storage.read.failed", "session_id", a.session.ID, "error", err.Error())
	}
}

func (a *Agent) persist(ctx context.Context) error {
	a.session.Memory = a.memory.Snapshot()
	a.session.Touch()
	if a.opts.Storage == nil {
		return nil
	}
	if _, err := a.opts.Storage.Upsert(ctx, a.session.Clone()); err != nil {
		return fmt.Errorf("agent: upsert session: %w", err)
	}
	return nil
}

func (a *Agent) generateName(ctx context.Context) (string, error) {
	history := a.memory.ChatHistory()
	if len(history) > nameWindow {
		history = history[:nameWindow]
	}

	var conv strings.Builder
	for _, m := range history {
		if m.Role == core.RoleUser {
			conv.WriteString("USER: " + m.Content + "\n")
		}
	}
	if conv.Len() == 0 {
		return "", errors.New("agent: no conversation to name")
	}

	req := model.Request{Messages: []core.Message{
		core.NewSystemMessage(nameSystemPrompt),
		core.NewUserMessage(conv.String()),
	}}
	resp, err := model.Collect(ctx, a.model, req, nil)
	if err != nil {
		return "", fmt.Errorf("agent: generate name: %w", err)
	}

	name := strings.TrimSpace(strings.ReplaceAll(resp.Message.Content, `"`, ""))
	a.logger.Debug("agent.name.generated", "session_id", a.session.ID, "name", name)
	return name, nil
}

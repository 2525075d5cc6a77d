package agent

import (
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/logging"
	"github.com/hupe1980/agentrun/metrics"
	"github.com/hupe1980/agentrun/output"
	"github.com/hupe1980/agentrun/prompt"
	"github.com/hupe1980/agentrun/tokens"
	"github.com/hupe1980/agentrun/tool"
)

// Defaults applied by New.
const (
	DefaultToolCallLimit    = 10
	DefaultHistoryMessages  = 6
	DefaultMaxParallelTools = 4
	DefaultNumReferences    = 3
)

// Options configure an Agent. All fields have usable defaults; pass
// functional options to New to override them.
type Options struct {
	// Session identity. An empty SessionID is replaced with a fresh UUID.
	SessionID string
	Name      string
	UserID    string
	OwnerID   string
	Metadata  map[string]any
	ExtraData map[string]any

	// Storage persists the session after every run. Nil disables persistence.
	Storage core.StorageAdapter
	// Knowledge is searched for references and by the knowledge tools.
	Knowledge core.KnowledgeRetriever

	Tools    []tool.Tool
	Toolkits []*tool.Toolkit

	// ToolCallLimit bounds tool invocations per run. UnlimitedToolCalls
	// disables the bound, zero forbids every call.
	ToolCallLimit    int
	MaxParallelTools int

	ReadChatHistoryTool     bool
	ReadToolCallHistoryTool bool
	SearchKnowledgeTool     bool
	UpdateKnowledgeTool     bool

	// AddHistoryToMessages places the last HistoryMessages chat messages
	// between the system message and the current prompt. Zero means all.
	AddHistoryToMessages bool
	HistoryMessages      int
	// HistoryTokenLimit trims the history window to a token budget. Zero disables it.
	HistoryTokenLimit int
	// NumReferences is the number of documents retrieved per run.
	NumReferences int

	Prompt       prompt.Config
	OutputSchema *output.Schema

	Logger       logging.Logger
	Metrics      metrics.Recorder
	TokenCounter tokens.Counter
	Tracer       trace.Tracer
}

func defaultOptions() Options {
	return Options{
		ToolCallLimit:        DefaultToolCallLimit,
		MaxParallelTools:     DefaultMaxParallelTools,
		AddHistoryToMessages: true,
		HistoryMessages:      DefaultHistoryMessages,
		NumReferences:        DefaultNumReferences,
		Prompt:               prompt.Config{ReferencesFormat: prompt.ReferencesJSON},
		Logger:               logging.NoOpLogger{},
		Metrics:              metrics.NoOpRecorder{},
		TokenCounter:         tokens.Heuristic{},
	}
}

// Validate checks option consistency. It is called once by New.
func (o *Options) Validate() error {
	if o.ToolCallLimit < core.UnlimitedToolCalls {
		return fmt.Errorf("%w: tool call limit must be >= -1, got %d", core.ErrInvalidConfig, o.ToolCallLimit)
	}
	if o.MaxParallelTools < 1 {
		return fmt.Errorf("%w: max parallel tools must be positive, got %d", core.ErrInvalidConfig, o.MaxParallelTools)
	}
	if o.HistoryMessages < 0 {
		return fmt.Errorf("%w: history messages must not be negative", core.ErrInvalidConfig)
	}
	if o.HistoryTokenLimit < 0 {
		return fmt.Errorf("%w: history token limit must not be negative", core.ErrInvalidConfig)
	}
	if o.NumReferences < 0 {
		return fmt.Errorf("%w: number of references must not be negative", core.ErrInvalidConfig)
	}
	if (o.SearchKnowledgeTool || o.Prompt.AddReferencesToPrompt) && o.Knowledge == nil {
		return fmt.Errorf("%w: knowledge search requires a knowledge retriever", core.ErrInvalidConfig)
	}
	if o.UpdateKnowledgeTool {
		if _, ok := o.Knowledge.(core.KnowledgeWriter); !ok {
			return fmt.Errorf("%w: updating knowledge requires a writable knowledge retriever", core.ErrInvalidConfig)
		}
	}
	switch o.Prompt.ReferencesFormat {
	case "", prompt.ReferencesJSON, prompt.ReferencesYAML:
	default:
		return fmt.Errorf("%w: unknown references format %q", core.ErrInvalidConfig, o.Prompt.ReferencesFormat)
	}
	return nil
}

// WithSessionID binds the agent to an existing session id.
func WithSessionID(id string) func(*Options) {
	return func(o *Options) { o.SessionID = id }
}

// WithStorage enables persistence.
func WithStorage(s core.StorageAdapter) func(*Options) {
	return func(o *Options) { o.Storage = s }
}

// WithKnowledge sets the knowledge retriever.
func WithKnowledge(k core.KnowledgeRetriever) func(*Options) {
	return func(o *Options) { o.Knowledge = k }
}

// WithTools registers tools.
func WithTools(tools ...tool.Tool) func(*Options) {
	return func(o *Options) { o.Tools = append(o.Tools, tools...) }
}

// WithToolkits registers every tool of the toolkits.
func WithToolkits(tks ...*tool.Toolkit) func(*Options) {
	return func(o *Options) { o.Toolkits = append(o.Toolkits, tks...) }
}

// WithToolCallLimit sets the per-run tool call bound.
func WithToolCallLimit(n int) func(*Options) {
	return func(o *Options) { o.ToolCallLimit = n }
}

// WithOutputSchema enables structured output.
func WithOutputSchema(s *output.Schema) func(*Options) {
	return func(o *Options) { o.OutputSchema = s }
}

// WithPrompt replaces the prompt configuration.
func WithPrompt(cfg prompt.Config) func(*Options) {
	return func(o *Options) { o.Prompt = cfg }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) func(*Options) {
	return func(o *Options) { o.Logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r metrics.Recorder) func(*Options) {
	return func(o *Options) { o.Metrics = r }
}

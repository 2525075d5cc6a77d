package core

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentrun/logging"
)

// ToolContext provides a constrained surface for tool implementations
// invoked by an agent: the run's context, identifiers, a read-only view of
// conversation memory and the optional knowledge retriever. Tools cannot
// mutate the session through it.
type ToolContext struct {
	ctx        context.Context
	sessionID  string
	runID      string
	toolCallID string
	memory     MemoryReader
	knowledge  KnowledgeRetriever
	logger     logging.Logger
	runScoped  bool
}

// ToolContextConfig carries the values bound into a ToolContext.
type ToolContextConfig struct {
	SessionID  string
	RunID      string
	ToolCallID string
	Memory     MemoryReader
	Knowledge  KnowledgeRetriever
	Logger     logging.Logger
}

// NewToolContext constructs a tool context for a single call.
func NewToolContext(ctx context.Context, cfg ToolContextConfig) *ToolContext {
	if ctx == nil {
		ctx = context.Background()
	}
	var (
		logger    = cfg.Logger
		runScoped bool
	)
	switch l := logger.(type) {
	case nil:
		logger = logging.NoOpLogger{}
	case *logging.RunLogger:
		logger, runScoped = l.WithRun(cfg.SessionID, cfg.RunID), true
	}
	return &ToolContext{
		ctx:        ctx,
		sessionID:  cfg.SessionID,
		runID:      cfg.RunID,
		toolCallID: cfg.ToolCallID,
		memory:     cfg.Memory,
		knowledge:  cfg.Knowledge,
		logger:     logger,
		runScoped:  runScoped,
	}
}

// WithToolCallID returns a shallow copy bound to another call id.
func (tc *ToolContext) WithToolCallID(id string) *ToolContext {
	clone := *tc
	clone.toolCallID = id
	return &clone
}

// Context returns the context associated with the tool invocation.
func (tc *ToolContext) Context() context.Context { return tc.ctx }

// SessionID returns the session ID associated with the tool invocation.
func (tc *ToolContext) SessionID() string { return tc.sessionID }

// RunID returns the run ID associated with the tool invocation.
func (tc *ToolContext) RunID() string { return tc.runID }

// ToolCallID returns the id of the call being executed.
func (tc *ToolContext) ToolCallID() string { return tc.toolCallID }

// Logger returns the logger associated with the tool invocation.
func (tc *ToolContext) Logger() logging.Logger { return tc.logger }

// Memory returns the read-only memory view, or nil when none is bound.
func (tc *ToolContext) Memory() MemoryReader { return tc.memory }

// Knowledge returns the configured retriever, or nil.
func (tc *ToolContext) Knowledge() KnowledgeRetriever { return tc.knowledge }

// SearchKnowledge queries the configured knowledge retriever.
func (tc *ToolContext) SearchKnowledge(query string, limit int) ([]Document, error) {
	if tc.knowledge == nil {
		return nil, fmt.Errorf("knowledge base not configured")
	}

	return tc.knowledge.Search(tc.ctx, query, limit)
}

// AddKnowledge appends documents when the retriever supports writes.
func (tc *ToolContext) AddKnowledge(docs ...Document) error {
	w, ok := tc.knowledge.(KnowledgeWriter)
	if !ok {
		return fmt.Errorf("knowledge base does not accept writes")
	}

	return w.Add(tc.ctx, docs...)
}

// Validate performs a structural sanity check of the context.
func (tc *ToolContext) Validate() error {
	if tc.sessionID == "" || tc.toolCallID == "" {
		return fmt.Errorf("invalid ToolContext: session and tool call ids are required")
	}

	return nil
}

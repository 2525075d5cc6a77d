// Package agentrun provides a high-level façade over the runner and agent
// packages for applications that host many conversations against one model.
// Most applications interact with this package by:
//  1. Creating an AgentRun via New() with a model and optional overrides
//  2. Running messages per session id with Run, RunStream or RunSync
//  3. Inspecting, renaming or ending sessions through Agent
//
// Every session gets its own agent.Agent built with the shared options. All
// defaults are safe for local development and testing; production
// deployments typically supply a durable StorageAdapter and a structured
// logger (see the config package).
package agentrun

import (
	"context"

	"github.com/hupe1980/agentrun/agent"
	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/logging"
	"github.com/hupe1980/agentrun/model"
	"github.com/hupe1980/agentrun/runner"
	"github.com/hupe1980/agentrun/session"
)

// Options configures the AgentRun instance.
type Options struct {
	// MaxConcurrentRuns limits the number of runs that can execute
	// simultaneously across all sessions.
	MaxConcurrentRuns int64

	// Storage persists sessions (defaults to an in-memory store).
	Storage core.StorageAdapter

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger

	// AgentOptions are applied to every session's agent after Storage and Logger.
	AgentOptions []func(o *agent.Options)
}

// AgentRun is the high-level façade aggregating the runner and the agent
// configuration shared by all sessions.
type AgentRun struct {
	opts   Options
	model  model.Model
	runner *runner.Runner
}

// New creates a new AgentRun instance with optional overrides.
func New(m model.Model, optFns ...func(o *Options)) *AgentRun {
	opts := Options{
		MaxConcurrentRuns: 10,
		Storage:           session.NewInMemoryStore(),
		Logger:            logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	ar := &AgentRun{opts: opts, model: m}
	ar.runner = runner.New(ar.newAgent, func(o *runner.Options) {
		o.MaxConcurrentRuns = opts.MaxConcurrentRuns
		o.Logger = opts.Logger
	})
	return ar
}

func (ar *AgentRun) newAgent(sessionID string) (*agent.Agent, error) {
	optFns := append([]func(o *agent.Options){
		agent.WithSessionID(sessionID),
		agent.WithStorage(ar.opts.Storage),
		agent.WithLogger(ar.opts.Logger),
	}, ar.opts.AgentOptions...)
	return agent.New(ar.model, optFns...)
}

// Run executes a blocking run. An empty sessionID starts a new session.
func (ar *AgentRun) Run(ctx context.Context, sessionID, message string) (*agent.RunResult, error) {
	return ar.runner.Run(ctx, sessionID, message)
}

// RunStream starts a streaming run returning event and error channels.
func (ar *AgentRun) RunStream(ctx context.Context, sessionID, message string) (<-chan agent.StreamEvent, <-chan error) {
	return ar.runner.RunStream(ctx, sessionID, message)
}

// RunSync is a synchronous helper that drains a streaming run, passing
// every delta to onDelta (when non-nil), and returns the result.
func (ar *AgentRun) RunSync(
	ctx context.Context,
	sessionID string,
	message string,
	onDelta func(delta string),
) (*agent.RunResult, error) {
	eventsCh, errorsCh := ar.runner.RunStream(ctx, sessionID, message)

	var result *agent.RunResult
	for {
		select {
		case <-ctx.Done():
			return result, ctx.Err()

		case ev, ok := <-eventsCh:
			if !ok {
				// Events channel closed - check for terminal error
				if err := <-errorsCh; err != nil {
					return nil, err
				}
				return result, nil
			}
			if ev.Result != nil {
				result = ev.Result
				continue
			}
			if onDelta != nil {
				onDelta(ev.Delta)
			}
		}
	}
}

// Agent returns the agent of a session that has run at least once.
func (ar *AgentRun) Agent(sessionID string) (*agent.Agent, bool) {
	return ar.runner.Agent(sessionID)
}

// Cancel aborts the run in flight on the session.
func (ar *AgentRun) Cancel(sessionID string) bool { return ar.runner.Cancel(sessionID) }

// Forget drops the cached agent of a session. Persisted state is kept.
func (ar *AgentRun) Forget(sessionID string) { ar.runner.Forget(sessionID) }

// Sessions lists persisted session ids, newest first, optionally filtered by
// user and owner.
func (ar *AgentRun) Sessions(ctx context.Context, userID, ownerID string) ([]string, error) {
	if ar.opts.Storage == nil {
		return ar.runner.Sessions(), nil
	}
	return ar.opts.Storage.ListIDs(ctx, userID, ownerID)
}

// DeleteSession forgets the session and removes its persisted row.
func (ar *AgentRun) DeleteSession(ctx context.Context, sessionID string) error {
	ar.runner.Forget(sessionID)
	if ar.opts.Storage == nil {
		return nil
	}
	return ar.opts.Storage.Delete(ctx, sessionID)
}

package runner

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/agentrun/agent"
	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/logging"
)

// Factory creates the agent for a session id. It is called once per id;
// the agent is cached until Forget.
type Factory func(sessionID string) (*agent.Agent, error)

// Options holds configuration overrides passed to New().
type Options struct {
	// MaxConcurrentRuns bounds runs in flight across all sessions.
	MaxConcurrentRuns int64
	// Logging services.
	Logger logging.Logger
}

// Runner hosts many sessions: it caches one agent per session id,
// serialises runs of the same session and bounds concurrent runs across
// sessions. Public methods are safe for concurrent use.
type Runner struct {
	factory Factory
	sem     *semaphore.Weighted
	logger  logging.Logger

	sessions map[string]*sessionEntry
	mu       sync.Mutex
}

type sessionEntry struct {
	agent *agent.Agent
	// lock is a one-slot channel so waiting for the session honours ctx.
	lock   chan struct{}
	cancel context.CancelFunc
	mu     sync.Mutex
}

// New constructs a Runner with optional overrides.
func New(factory Factory, optFns ...func(o *Options)) *Runner {
	opts := Options{
		MaxConcurrentRuns: 10,
		Logger:            logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxConcurrentRuns < 1 {
		opts.MaxConcurrentRuns = 1
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	return &Runner{
		factory:  factory,
		sem:      semaphore.NewWeighted(opts.MaxConcurrentRuns),
		logger:   opts.Logger,
		sessions: make(map[string]*sessionEntry),
	}
}

// Run executes a blocking run on the session. An empty sessionID starts a
// new session; its id is reported in the result.
func (r *Runner) Run(ctx context.Context, sessionID, message string) (*agent.RunResult, error) {
	entry, release, runCtx, err := r.begin(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	return entry.agent.Run(runCtx, message)
}

// RunStream executes a streaming run on the session. The returned channels
// follow agent.Agent.RunStream.
func (r *Runner) RunStream(ctx context.Context, sessionID, message string) (<-chan agent.StreamEvent, <-chan error) {
	out := make(chan agent.StreamEvent)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		entry, release, runCtx, err := r.begin(ctx, sessionID)
		if err != nil {
			errCh <- err
			return
		}
		defer release()

		events, errs := entry.agent.RunStream(runCtx, message)
		for ev := range events {
			select {
			case <-runCtx.Done():
			case out <- ev:
			}
		}
		if err := <-errs; err != nil {
			errCh <- err
		}
	}()

	return out, errCh
}

// Cancel aborts the run in flight on the session. It reports whether a run
// was cancelled.
func (r *Runner) Cancel(sessionID string) bool {
	r.mu.Lock()
	entry, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return false
	}

	entry.mu.Lock()
	cancel := entry.cancel
	entry.mu.Unlock()
	if cancel == nil {
		return false
	}

	cancel()
	r.logger.Info("runner.run.cancelled", "session_id", sessionID)
	return true
}

// Forget cancels any run on the session and drops its cached agent.
func (r *Runner) Forget(sessionID string) {
	r.Cancel(sessionID)

	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
}

// Agent returns the cached agent of a session.
func (r *Runner) Agent(sessionID string) (*agent.Agent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return entry.agent, true
}

// Sessions returns the ids of the cached sessions, sorted.
func (r *Runner) Sessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// begin waits for the session to be idle and for a global run slot, then
// returns a cancellable context registered for Cancel.
func (r *Runner) begin(ctx context.Context, sessionID string) (*sessionEntry, func(), context.Context, error) {
	entry, err := r.entry(sessionID)
	if err != nil {
		return nil, nil, nil, err
	}

	select {
	case <-ctx.Done():
		return nil, nil, nil, ctx.Err()
	case entry.lock <- struct{}{}:
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		<-entry.lock
		return nil, nil, nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	entry.mu.Lock()
	entry.cancel = cancel
	entry.mu.Unlock()

	release := func() {
		entry.mu.Lock()
		entry.cancel = nil
		entry.mu.Unlock()
		cancel()
		r.sem.Release(1)
		<-entry.lock
	}
	return entry, release, runCtx, nil
}

func (r *Runner) entry(sessionID string) (*sessionEntry, error) {
	if sessionID == "" {
		sessionID = core.NewID()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.sessions[sessionID]; ok {
		return entry, nil
	}

	a, err := r.factory(sessionID)
	if err != nil {
		return nil, fmt.Errorf("runner: create agent for session %s: %w", sessionID, err)
	}
	entry := &sessionEntry{agent: a, lock: make(chan struct{}, 1)}
	r.sessions[sessionID] = entry
	r.logger.Debug("runner.session.created", "session_id", sessionID)
	return entry, nil
}

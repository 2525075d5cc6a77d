package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrun/agent"
	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/model"
	"github.com/hupe1980/agentrun/session"
)

// blockingModel signals started and then waits for release or cancellation.
type blockingModel struct {
	started chan struct{}
	release chan struct{}
}

func newBlockingModel() *blockingModel {
	return &blockingModel{started: make(chan struct{}, 8), release: make(chan struct{})}
}

func (m *blockingModel) Generate(ctx context.Context, _ model.Request) (<-chan model.Response, <-chan error) {
	respCh := make(chan model.Response)
	errCh := make(chan error, 1)
	go func() {
		defer close(respCh)
		defer close(errCh)
		m.started <- struct{}{}
		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case <-m.release:
			model.Send(ctx, respCh, model.Response{Message: core.NewAssistantMessage("released")})
		}
	}()
	return respCh, errCh
}

func (m *blockingModel) Info() model.Info { return model.Info{Name: "blocking"} }

func echoFactory(created *int32) Factory {
	return func(sessionID string) (*agent.Agent, error) {
		atomic.AddInt32(created, 1)
		m := model.NewScriptedModel().WithFallback(func(req model.Request) model.Turn {
			last := req.Messages[len(req.Messages)-1]
			return model.Turn{Text: "echo: " + last.Content}
		})
		return agent.New(m, agent.WithSessionID(sessionID))
	}
}

func TestRunner_CachesAgentPerSession(t *testing.T) {
	var created int32
	r := New(echoFactory(&created))

	res, err := r.Run(context.Background(), "s1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "echo: hello", res.Content)
	assert.Equal(t, "s1", res.SessionID)

	_, err = r.Run(context.Background(), "s1", "again")
	require.NoError(t, err)
	_, err = r.Run(context.Background(), "s2", "other")
	require.NoError(t, err)

	assert.Equal(t, int32(2), created)
	assert.Equal(t, []string{"s1", "s2"}, r.Sessions())

	a, ok := r.Agent("s1")
	require.True(t, ok)
	assert.Len(t, a.Memory().ChatHistory(), 4)

	r.Forget("s1")
	assert.Equal(t, []string{"s2"}, r.Sessions())
	_, ok = r.Agent("s1")
	assert.False(t, ok)
}

func TestRunner_EmptySessionIDStartsNewSession(t *testing.T) {
	var created int32
	r := New(echoFactory(&created))

	first, err := r.Run(context.Background(), "", "a")
	require.NoError(t, err)
	second, err := r.Run(context.Background(), "", "b")
	require.NoError(t, err)

	assert.NotEmpty(t, first.SessionID)
	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.Equal(t, int32(2), created)
}

func TestRunner_FactoryError(t *testing.T) {
	r := New(func(string) (*agent.Agent, error) { return nil, errors.New("no credentials") })

	_, err := r.Run(context.Background(), "s", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no credentials")
	assert.Empty(t, r.Sessions())
}

func TestRunner_CancelAbortsRun(t *testing.T) {
	m := newBlockingModel()
	store := session.NewInMemoryStore()
	r := New(func(id string) (*agent.Agent, error) {
		return agent.New(m, agent.WithSessionID(id), agent.WithStorage(store))
	})

	done := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background(), "s", "wait")
		done <- err
	}()

	<-m.started
	assert.True(t, r.Cancel("s"))

	err := <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	stored, err := store.Read(context.Background(), "s")
	require.NoError(t, err)
	assert.Nil(t, stored)

	assert.False(t, r.Cancel("s"))
	assert.False(t, r.Cancel("unknown"))
}

func TestRunner_SerialisesSameSession(t *testing.T) {
	m := newBlockingModel()
	r := New(func(id string) (*agent.Agent, error) {
		return agent.New(m, agent.WithSessionID(id))
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := r.Run(context.Background(), "s", "first")
		assert.NoError(t, err)
	}()
	<-m.started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := r.Run(ctx, "s", "second")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(m.release)
	wg.Wait()
}

func TestRunner_BoundsConcurrentRuns(t *testing.T) {
	m := newBlockingModel()
	r := New(func(id string) (*agent.Agent, error) {
		return agent.New(m, agent.WithSessionID(id))
	}, func(o *Options) { o.MaxConcurrentRuns = 1 })

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := r.Run(context.Background(), "a", "first")
		assert.NoError(t, err)
	}()
	<-m.started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := r.Run(ctx, "b", "second")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(m.release)
	wg.Wait()

	res, err := r.Run(context.Background(), "b", "third")
	require.NoError(t, err)
	assert.Equal(t, "released", res.Content)
}

func TestRunner_RunStream(t *testing.T) {
	var created int32
	r := New(echoFactory(&created))

	events, errs := r.RunStream(context.Background(), "s", "stream me")

	var (
		text   string
		result *agent.RunResult
	)
	for ev := range events {
		if ev.Result != nil {
			result = ev.Result
			continue
		}
		text += ev.Delta
	}
	require.NoError(t, <-errs)
	require.NotNil(t, result)
	assert.Equal(t, "echo: stream me", text)
	assert.Equal(t, "echo: stream me", result.Content)
}

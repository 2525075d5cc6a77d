package redisstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrun/core"
)

func TestStore_Keys(t *testing.T) {
	s := New(nil, "")
	assert.Equal(t, "agentrun:session:s1", s.sessionKey("s1"))
	assert.Equal(t, "agentrun:sessions", s.indexKey())
	assert.Equal(t, "agentrun:user:u1", s.userKey("u1"))
	assert.Equal(t, "agentrun:owner:o1", s.ownerKey("o1"))
	assert.Equal(t, []string{"agentrun:user:u1", "agentrun:owner:o1"}, filterKeys(s, "u1", "o1"))
	assert.Empty(t, filterKeys(s, "", ""))
}

func TestNewFromConfig_RequiresAddress(t *testing.T) {
	_, err := NewFromConfig(context.Background(), Config{})
	assert.Error(t, err)
}

// TestStore_Integration runs against a live server when REDIS_ADDR is set.
func TestStore_Integration(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	prefix := "agentrun-test-" + core.NewID()
	store := New(client, prefix)
	t.Cleanup(func() {
		keys, _ := client.Keys(ctx, prefix+":*").Result()
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
		_ = store.Close()
	})

	require.NoError(t, store.Create(ctx))

	got, err := store.Read(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	base := time.Now()
	for i, id := range []string{"a", "b"} {
		s := core.NewSession(id)
		s.UserID = "u1"
		s.Updated = base.Add(time.Duration(i) * time.Second)
		s.Memory.ChatHistory = []core.Message{core.NewUserMessage("hi " + id)}
		_, err := store.Upsert(ctx, s)
		require.NoError(t, err)
	}

	got, err = store.Read(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "hi a", got.Memory.ChatHistory[0].Content)

	ids, err := store.ListIDs(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids)

	require.NoError(t, store.Delete(ctx, "b"))
	ids, err = store.ListIDs(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)
}

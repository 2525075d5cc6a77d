package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrun/core"
)

func TestRetryWithCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("success needs no create", func(t *testing.T) {
		creates := 0
		v, err := RetryWithCreate(ctx, func(context.Context) error { creates++; return nil },
			func(context.Context) (int, error) { return 7, nil })
		require.NoError(t, err)
		assert.Equal(t, 7, v)
		assert.Equal(t, 0, creates)
	})

	t.Run("missing store is created and retried once", func(t *testing.T) {
		creates, calls := 0, 0
		v, err := RetryWithCreate(ctx, func(context.Context) error { creates++; return nil },
			func(context.Context) (string, error) {
				calls++
				if creates == 0 {
					return "", NotReady(errors.New("no such table"))
				}
				return "ok", nil
			})
		require.NoError(t, err)
		assert.Equal(t, "ok", v)
		assert.Equal(t, 1, creates)
		assert.Equal(t, 2, calls)
	})

	t.Run("second failure is returned", func(t *testing.T) {
		calls := 0
		_, err := RetryWithCreate(ctx, func(context.Context) error { return nil },
			func(context.Context) (int, error) {
				calls++
				return 0, NotReady(errors.New("still missing"))
			})
		require.Error(t, err)
		assert.ErrorIs(t, err, core.ErrStorageNotReady)
		assert.Equal(t, 2, calls)
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		boom := errors.New("boom")
		calls := 0
		_, err := RetryWithCreate(ctx, func(context.Context) error { t.Fatal("create called"); return nil },
			func(context.Context) (int, error) { calls++; return 0, boom })
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, calls)
	})

	t.Run("create failure is wrapped", func(t *testing.T) {
		_, err := RetryWithCreate(ctx, func(context.Context) error { return errors.New("denied") },
			func(context.Context) (int, error) { return 0, NotReady(errors.New("missing")) })
		require.Error(t, err)
		assert.Contains(t, err.Error(), "create storage: denied")
	})

	assert.NoError(t, NotReady(nil))
}

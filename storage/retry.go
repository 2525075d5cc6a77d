package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/agentrun/core"
)

// RetryWithCreate runs op and, when it fails because the backing store does
// not exist yet (core.ErrStorageNotReady), calls create and retries op once.
// Any other error is returned unchanged.
func RetryWithCreate[T any](ctx context.Context, create func(context.Context) error, op func(context.Context) (T, error)) (T, error) {
	v, err := op(ctx)
	if err == nil || !errors.Is(err, core.ErrStorageNotReady) {
		return v, err
	}

	if cerr := create(ctx); cerr != nil {
		var zero T
		return zero, fmt.Errorf("create storage: %w", cerr)
	}

	return op(ctx)
}

// NotReady wraps err so that RetryWithCreate recognises it as a missing store.
func NotReady(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", core.ErrStorageNotReady, err)
}

package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/marketpay/internal/domain/model"
)

// DefaultStoreTimeout bounds a single store call when none is configured.
const DefaultStoreTimeout = 5 * time.Second

// storeCall runs fn under timeout. A deadline hit inside fn is reported as
// model.ErrStoreUnavailable; cancellation of the caller's ctx is passed through.
func storeCall[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	v, err := fn(callCtx)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		var zero T
		return zero, fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
	}
	return v, err
}

// storeExec is storeCall for calls that only return an error.
func storeExec(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	_, err := storeCall(ctx, timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

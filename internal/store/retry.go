package store

import (
	"context"
	"log/slog"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"treesync/internal/models"
)

const (
	DefaultRetrySteps   = 4
	DefaultRetryInitial = 200 * time.Millisecond
)

// RetryOptions tunes WithRetry. Zero values select defaults.
type RetryOptions struct {
	Steps   int
	Initial time.Duration
	Logger  *slog.Logger
}

// Retrying retries Get and Set on transient store errors with exponential
// backoff. Set replaces a whole subtree, so repeating it is safe.
type Retrying struct {
	next    RecordStore
	backoff wait.Backoff
	logger  *slog.Logger
}

var _ RecordStore = (*Retrying)(nil)

// WithRetry wraps st. A store that already retries is returned unchanged.
func WithRetry(st RecordStore, opts RetryOptions) RecordStore {
	if st == nil {
		return nil
	}
	if _, ok := st.(*Retrying); ok {
		return st
	}
	if opts.Steps <= 0 {
		opts.Steps = DefaultRetrySteps
	}
	if opts.Initial <= 0 {
		opts.Initial = DefaultRetryInitial
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{
		next: st,
		backoff: wait.Backoff{
			Duration: opts.Initial,
			Factor:   2.0,
			Jitter:   0.1,
			Steps:    opts.Steps,
		},
		logger: logger.With("component", "store"),
	}
}

func (r *Retrying) Get(ctx context.Context, path string) (any, bool, error) {
	var (
		value any
		found bool
	)
	err := r.retry(ctx, "get", path, func(ctx context.Context) error {
		var err error
		value, found, err = r.next.Get(ctx, path)
		return err
	})
	return value, found, err
}

func (r *Retrying) Set(ctx context.Context, path string, value any) error {
	return r.retry(ctx, "set", path, func(ctx context.Context) error {
		return r.next.Set(ctx, path, value)
	})
}

func (r *Retrying) retry(ctx context.Context, op, path string, fn func(context.Context) error) error {
	var lastErr error
	attempt := 0
	err := wait.ExponentialBackoffWithContext(ctx, r.backoff, func(ctx context.Context) (bool, error) {
		attempt++
		err := fn(ctx)
		if err == nil {
			return true, nil
		}
		if models.IsTransient(err) {
			lastErr = err
			r.logger.Debug("transient store error", "op", op, "path", path, "attempt", attempt, "error", err)
			return false, nil
		}
		return false, err
	})
	if err != nil && wait.Interrupted(err) && lastErr != nil && ctx.Err() == nil {
		return lastErr
	}
	return err
}

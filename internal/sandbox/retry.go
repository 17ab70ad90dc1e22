package sandbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy configures exponential backoff for transport failures.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy retries a failing sandbox call twice.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// WithRetry decorates a Provider so that every call into the sandboxes it
// hands out is retried with exponential backoff when the call itself fails.
//
// Only errors are retried. A compile error or a non-zero exit is a Result,
// a deterministic outcome of the user's code, and is returned on the first
// attempt. Context cancellation stops retrying immediately.
func WithRetry(p Provider, policy RetryPolicy, logger *slog.Logger) Provider {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &retryProvider{next: p, policy: policy, logger: logger}
}

type retryProvider struct {
	next   Provider
	policy RetryPolicy
	logger *slog.Logger
}

func (p *retryProvider) Sandbox(ctx context.Context, id string) (Sandbox, error) {
	var sb Sandbox
	err := p.retry(ctx, "acquire", func() error {
		var err error
		sb, err = p.next.Sandbox(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &retrySandbox{next: sb, p: p}, nil
}

func (p *retryProvider) Close() error {
	return p.next.Close()
}

func (p *retryProvider) retry(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.policy.InitialInterval
	b.MaxInterval = p.policy.MaxInterval
	b.MaxElapsedTime = 0

	attempt := 0
	operation := func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		p.logger.Warn("sandbox call failed, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()),
		)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.policy.MaxAttempts-1)), ctx)
	return backoff.RetryNotify(operation, policy, notify)
}

type retrySandbox struct {
	next Sandbox
	p    *retryProvider
}

func (s *retrySandbox) Exec(ctx context.Context, command string, args ...string) (*Result, error) {
	var res *Result
	err := s.p.retry(ctx, "exec", func() error {
		var err error
		res, err = s.next.Exec(ctx, command, args...)
		return err
	})
	return res, err
}

func (s *retrySandbox) WriteFile(ctx context.Context, path, contents string) error {
	return s.p.retry(ctx, "write", func() error {
		return s.next.WriteFile(ctx, path, contents)
	})
}

func (s *retrySandbox) DeleteFile(ctx context.Context, path string) error {
	return s.p.retry(ctx, "delete", func() error {
		return s.next.DeleteFile(ctx, path)
	})
}

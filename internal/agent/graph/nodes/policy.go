package nodes

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	logx "github.com/agri-rag/server/pkg/logger"
)

// CallPolicy bounds every collaborator call: each attempt runs under Timeout
// and failed attempts are retried with exponential backoff up to Retries times.
type CallPolicy struct {
	Timeout         time.Duration
	Retries         uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultCallPolicy returns the policy used when none is configured.
func DefaultCallPolicy() CallPolicy {
	return CallPolicy{
		Timeout:         60 * time.Second,
		Retries:         2,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// Once returns a copy of p that never retries. Tool invocations with side
// effects use it.
func (p CallPolicy) Once() CallPolicy {
	p.Retries = 0
	return p
}

// Do runs fn under the policy. Cancellation of ctx stops retrying at once.
func (p CallPolicy) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	attempt := 0
	op := func() error {
		attempt++
		callCtx, cancel := p.attemptContext(ctx)
		defer cancel()

		err := fn(callCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return err
		}
		logx.Ctx(ctx).Warn().
			Err(err).
			Str("call", name).
			Int("attempt", attempt).
			Msg("collaborator call failed")
		return err
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(p.backOff(), p.Retries), ctx))
}

func (p CallPolicy) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.Timeout)
}

func (p CallPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	// the retry count bounds the loop, not elapsed time
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// RetryPolicy bounds how often a transaction is re-run after a write conflict.
type RetryPolicy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: 20 * time.Millisecond,
		MaxInterval:     500 * time.Millisecond,
	}
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	return b
}

func (p RetryPolicy) maxTries() uint {
	if p.MaxAttempts == 0 {
		return 1
	}
	return p.MaxAttempts
}

// TxRunner opens a transaction, runs a unit of work inside it and commits,
// re-running the whole unit when the store reports a write conflict.
type TxRunner struct {
	txManager TxManager
	policy    RetryPolicy
	logger    *zap.Logger
	metrics   *Metrics
}

func NewTxRunner(txManager TxManager, policy RetryPolicy, logger *zap.Logger, metrics *Metrics) *TxRunner {
	return &TxRunner{
		txManager: txManager,
		policy:    policy,
		logger:    logger,
		metrics:   metrics,
	}
}

// RunInTx executes fn inside a fresh transaction per attempt. The transaction
// is always ended: committed when fn succeeds, rolled back otherwise, even if
// ctx is already done or fn panics. Once the retry budget is spent on write
// conflicts the result is ErrConflict.
func RunInTx[T any](ctx context.Context, r *TxRunner, operation string, fn func(ctx context.Context, tx Tx) (T, error)) (T, error) {
	var attempts uint

	attempt := func() (T, error) {
		var zero T
		attempts++

		tx, err := r.txManager.BeginTx(ctx)
		if err != nil {
			return zero, permanentUnlessRetryable(fmt.Errorf("failed to begin transaction: %w", err))
		}
		defer func() {
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
				r.logger.Warn("rollback failed", zap.String("operation", operation), zap.Error(rbErr))
			}
		}()

		result, err := fn(ctx, tx)
		if err != nil {
			return zero, permanentUnlessRetryable(err)
		}

		if err := tx.Commit(ctx); err != nil {
			return zero, permanentUnlessRetryable(fmt.Errorf("failed to commit transaction: %w", err))
		}
		return result, nil
	}

	result, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(r.policy.backOff()),
		backoff.WithMaxTries(r.policy.maxTries()),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.metrics.txRetry(ctx, operation)
			r.logger.Info("retrying transaction after write conflict",
				zap.String("operation", operation),
				zap.Uint("attempt", attempts),
				zap.Duration("backoff", next),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		if IsRetryable(err) {
			return result, fmt.Errorf("%w: %s gave up after %d attempts", ErrConflict, operation, attempts)
		}
		return result, err
	}
	return result, nil
}

func permanentUnlessRetryable(err error) error {
	if IsRetryable(err) {
		return err
	}
	return backoff.Permanent(err)
}

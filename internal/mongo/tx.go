package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/x/mongo/driver"
	"go.mongodb.org/mongo-driver/x/mongo/driver/session"

	"github.com/matheusmosca/order-placement-engine/internal/orders"
)

const commitAttempts = 3

// ErrCommitUnknown is returned when the server never confirmed whether a
// commit applied. Re-running the transaction could apply it twice, so it is
// not retryable.
var ErrCommitUnknown = errors.New("mongo: transaction commit outcome unknown")

// Tx owns a session and its transaction. Both end on Commit or Rollback.
type Tx struct {
	sess mongo.Session
	done bool
}

func (t *Tx) context(ctx context.Context) context.Context {
	return mongo.NewSessionContext(ctx, t.sess)
}

// Commit retries only the commit itself when the outcome is unknown.
func (t *Tx) Commit(ctx context.Context) error {
	if t.done {
		return errors.New("transaction already closed")
	}

	var err error
	for i := 0; i < commitAttempts; i++ {
		err = t.sess.CommitTransaction(ctx)
		if err == nil || !hasLabel(err, driver.UnknownTransactionCommitResult) {
			break
		}
	}
	if err != nil {
		return mapError(err)
	}

	t.done = true
	t.sess.EndSession(ctx)
	return nil
}

func (t *Tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.sess.EndSession(ctx)

	err := t.sess.AbortTransaction(ctx)
	if err != nil && !errors.Is(err, session.ErrAbortAfterCommit) {
		return err
	}
	return nil
}

func sessionTx(tx orders.Tx) (*Tx, error) {
	t, ok := tx.(*Tx)
	if !ok {
		return nil, fmt.Errorf("mongo: foreign transaction %T", tx)
	}
	return t, nil
}

func hasLabel(err error, label string) bool {
	var labeled mongo.LabeledError
	return errors.As(err, &labeled) && labeled.HasErrorLabel(label)
}

// mapError marks transient transaction failures, such as write conflicts
// between concurrent sessions, as retryable. An unknown commit result is
// checked first: the transaction may already be durable.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if hasLabel(err, driver.UnknownTransactionCommitResult) {
		return fmt.Errorf("%w: %w", ErrCommitUnknown, err)
	}
	if hasLabel(err, driver.TransientTransactionError) {
		return fmt.Errorf("%w: %w", orders.ErrWriteConflict, err)
	}
	return err
}

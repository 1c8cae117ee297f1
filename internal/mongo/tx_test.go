package mongo

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/x/mongo/driver"

	"github.com/matheusmosca/order-placement-engine/internal/orders"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		unknown   bool
	}{
		{
			name:      "write conflict",
			err:       mongo.CommandError{Code: 112, Name: "WriteConflict", Labels: []string{driver.TransientTransactionError}},
			retryable: true,
		},
		{
			name:    "unknown commit result",
			err:     mongo.CommandError{Code: 50, Labels: []string{driver.UnknownTransactionCommitResult}},
			unknown: true,
		},
		{
			name: "unknown commit result on a transient error",
			err: mongo.CommandError{Code: 91, Labels: []string{
				driver.TransientTransactionError,
				driver.UnknownTransactionCommitResult,
			}},
			unknown: true,
		},
		{name: "duplicate key", err: mongo.CommandError{Code: 11000}},
		{name: "plain error", err: errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapError(tt.err)

			assert.Equal(t, tt.retryable, orders.IsRetryable(err))
			assert.Equal(t, tt.unknown, errors.Is(err, ErrCommitUnknown))
			assert.Contains(t, err.Error(), tt.err.Error())
		})
	}

	assert.NoError(t, mapError(nil))
}

func TestOrderDocumentRoundTrip(t *testing.T) {
	createdAt := time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)
	order := orders.NewOrder("o1", "u1", "note", []orders.LineItem{
		{ProductID: "p1", Name: "Cable", Price: decimal.RequireFromString("12.34"), Quantity: 3},
	}, createdAt)

	doc, err := newOrderDoc(order)
	require.NoError(t, err)
	got, err := doc.toOrder()
	require.NoError(t, err)

	assert.Equal(t, order.ID, got.ID)
	assert.Equal(t, orders.OrderStatusPending, got.Status)
	assert.True(t, order.TotalPrice.Equal(got.TotalPrice))
	require.Len(t, got.Items, 1)
	assert.True(t, got.Items[0].Price.Equal(decimal.RequireFromString("12.34")))
}

func TestSessionTxRejectsForeignTransactions(t *testing.T) {
	type otherTx struct{ orders.Tx }

	_, err := sessionTx(otherTx{})
	assert.Error(t, err)
}

package orders

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestNewOrder(t *testing.T) {
	// Arrange
	createdAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	items := []LineItem{
		{ProductID: "p1", Name: "Pen", Price: decimal.RequireFromString("1.10"), Quantity: 3},
		{ProductID: "p2", Name: "Notebook", Price: decimal.RequireFromString("4.99"), Quantity: 2},
	}

	// Act
	order := NewOrder("o1", "u1", "school", items, createdAt)

	// Assert
	assert.Equal(t, "o1", order.ID)
	assert.Equal(t, "u1", order.UserID)
	assert.Equal(t, OrderStatusPending, order.Status)
	assert.Equal(t, createdAt, order.CreatedAt)
	assert.Equal(t, createdAt, order.UpdatedAt)
	assert.True(t, decimal.RequireFromString("13.28").Equal(order.TotalPrice), order.TotalPrice.String())
}

func TestLineItem_SubtotalRoundsToCents(t *testing.T) {
	item := LineItem{Price: decimal.RequireFromString("0.333"), Quantity: 3}
	assert.Equal(t, "1.00", item.Subtotal().StringFixed(2))
}

func TestOrder_Cancel(t *testing.T) {
	order := NewOrder("o1", "u1", "", nil, time.Now())

	assert.NoError(t, order.Cancel())
	assert.Equal(t, OrderStatusCancelled, order.Status)
	assert.ErrorIs(t, order.Cancel(), ErrInvalidTransition)
}

func TestOrder_CloneIsDeep(t *testing.T) {
	order := NewOrder("o1", "u1", "", []LineItem{{ProductID: "p1", Quantity: 1}}, time.Now())

	clone := order.Clone()
	clone.Items[0].Quantity = 99

	assert.Equal(t, 1, order.Items[0].Quantity)
}

func TestIdentity_CanView(t *testing.T) {
	order := &Order{UserID: "alice"}

	assert.True(t, Identity{UserID: "alice", Role: RoleUser}.CanView(order))
	assert.False(t, Identity{UserID: "bob", Role: RoleUser}.CanView(order))
	assert.True(t, Identity{UserID: "root", Role: RoleAdmin}.CanView(order))
	assert.False(t, Identity{}.CanView(&Order{}))
}

func TestOrderStatus_Valid(t *testing.T) {
	assert.True(t, OrderStatusShipped.Valid())
	assert.False(t, OrderStatus("lost").Valid())
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{Fields: []string{"a: bad", "b: worse"}}

	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, "invalid input: a: bad; b: worse", err.Error())
}

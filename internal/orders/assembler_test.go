package orders

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssembler_Build(t *testing.T) {
	// Arrange
	a := NewAssembler(2)
	now := time.Now().UTC()

	// Act
	first := a.Add(ReservedProduct{ProductID: "p1", Name: "Mug", Price: decimal.RequireFromString("7.50")}, 2)
	a.Add(ReservedProduct{ProductID: "p2", Name: "Tea", Price: decimal.RequireFromString("3.333")}, 3)
	order := a.Build("o1", "u1", "gift", now)

	// Assert
	assert.Equal(t, "Mug", first.Name)
	require.Len(t, order.Items, 2)
	assert.Equal(t, "3.33", order.Items[1].Price.StringFixed(2))
	assert.Equal(t, "24.99", a.Total().StringFixed(2))
	assert.True(t, order.TotalPrice.Equal(order.ComputeTotal()))
	assert.Equal(t, OrderStatusPending, order.Status)
}

func TestAssembler_ItemsReturnsCopy(t *testing.T) {
	a := NewAssembler(1)
	a.Add(ReservedProduct{ProductID: "p1", Price: decimal.NewFromInt(1)}, 1)

	items := a.Items()
	items[0].Quantity = 50

	assert.Equal(t, 1, a.Items()[0].Quantity)
}

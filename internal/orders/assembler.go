package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// Assembler accumulates line items and the running order total. Names and
// prices only ever come from ReservedProduct values read by the store.
type Assembler struct {
	items []LineItem
	total decimal.Decimal
}

func NewAssembler(capacity int) *Assembler {
	return &Assembler{
		items: make([]LineItem, 0, capacity),
		total: decimal.Zero,
	}
}

// Add appends a line item for the reserved product and returns it.
func (a *Assembler) Add(reserved ReservedProduct, quantity int) LineItem {
	item := LineItem{
		ProductID: reserved.ProductID,
		Name:      reserved.Name,
		Price:     RoundPrice(reserved.Price),
		Quantity:  quantity,
	}
	a.items = append(a.items, item)
	a.total = RoundPrice(a.total.Add(item.Subtotal()))
	return item
}

func (a *Assembler) Items() []LineItem {
	return append([]LineItem(nil), a.items...)
}

func (a *Assembler) Total() decimal.Decimal {
	return a.total
}

// Build returns a pending order holding the accumulated items.
func (a *Assembler) Build(orderID, userID, description string, createdAt time.Time) *Order {
	order := NewOrder(orderID, userID, description, a.Items(), createdAt)
	order.TotalPrice = a.total
	return order
}

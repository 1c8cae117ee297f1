package orders

import (
	"context"
)

// Tx is an open store session. Writes made through repository methods that
// receive the Tx become visible to other sessions only after Commit, and are
// discarded by Rollback. Rollback after Commit is a no-op.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TxManager opens store sessions.
type TxManager interface {
	BeginTx(ctx context.Context) (Tx, error)
}

// ProductRepository defines persistence operations for products.
type ProductRepository interface {
	CreateProduct(ctx context.Context, product *Product) error
	GetProduct(ctx context.Context, productID string) (*Product, error)

	// UpdateProduct persists catalog fields. Stock is never written here.
	UpdateProduct(ctx context.Context, product *Product) error

	// GetProductTx reads the product as seen by tx.
	GetProductTx(ctx context.Context, tx Tx, productID string) (*Product, error)

	// DecrementStock applies "stock -= quantity" under tx only if the product
	// is active and stock >= quantity. matched is false when the condition did
	// not hold, in which case nothing was written.
	DecrementStock(ctx context.Context, tx Tx, productID string, quantity int) (product *Product, matched bool, err error)

	// IncrementStock adds quantity to the product's stock under tx.
	IncrementStock(ctx context.Context, tx Tx, productID string, quantity int) error
}

// OrderRepository defines persistence operations for orders.
type OrderRepository interface {
	// InsertOrder appends a new order under tx.
	InsertOrder(ctx context.Context, tx Tx, order *Order) error

	// CancelOrder moves a pending order owned by userID to cancelled under tx
	// and returns it. It fails with ErrOrderNotFound when no such order is
	// owned by userID and with ErrInvalidTransition when it is not pending.
	CancelOrder(ctx context.Context, tx Tx, orderID, userID string) (*Order, error)

	GetOrder(ctx context.Context, orderID string) (*Order, error)

	// ListOrdersByUser returns one page of userID's orders, newest first, and
	// the total number of orders matching the query.
	ListOrdersByUser(ctx context.Context, userID string, query ListOrdersQuery) ([]Order, int, error)
}

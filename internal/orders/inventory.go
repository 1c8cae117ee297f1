package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ReservedProduct is the catalog data captured when stock was reserved.
type ReservedProduct struct {
	ProductID string
	Name      string
	Price     decimal.Decimal
}

// InventoryGuard reserves and releases stock inside an open transaction.
type InventoryGuard struct {
	products ProductRepository
}

func NewInventoryGuard(products ProductRepository) *InventoryGuard {
	return &InventoryGuard{products: products}
}

// Reserve decrements the product's stock by quantity under tx and returns the
// product's current name and price.
func (g *InventoryGuard) Reserve(ctx context.Context, tx Tx, productID string, quantity int) (ReservedProduct, error) {
	if quantity <= 0 {
		return ReservedProduct{}, fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
	}

	product, matched, err := g.products.DecrementStock(ctx, tx, productID, quantity)
	if err != nil {
		return ReservedProduct{}, fmt.Errorf("failed to decrement stock of %s: %w", productID, err)
	}
	if matched {
		return ReservedProduct{
			ProductID: product.ID,
			Name:      product.Name,
			Price:     product.Price,
		}, nil
	}

	// Nothing was written; find out why within the same session.
	current, err := g.products.GetProductTx(ctx, tx, productID)
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return ReservedProduct{}, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
		}
		return ReservedProduct{}, fmt.Errorf("failed to read product %s: %w", productID, err)
	}
	if !current.Orderable() {
		return ReservedProduct{}, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	return ReservedProduct{}, fmt.Errorf("%w: product %s has %d in stock, %d requested",
		ErrInsufficientStock, productID, current.Stock, quantity)
}

// Release returns quantity units of the product to stock under tx.
func (g *InventoryGuard) Release(ctx context.Context, tx Tx, productID string, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
	}
	if err := g.products.IncrementStock(ctx, tx, productID, quantity); err != nil {
		return fmt.Errorf("failed to increment stock of %s: %w", productID, err)
	}
	return nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/matheusmosca/order-placement-engine/internal/orders"
)

const productColumns = `id, name, description, price::text, stock, category, owner_id, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*orders.Product, error) {
	var (
		p     orders.Product
		price string
	)
	err := row.Scan(&p.ID, &p.Name, &p.Description, &price, &p.Stock, &p.Category, &p.OwnerID, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, orders.ErrProductNotFound
		}
		return nil, mapError(err)
	}
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("invalid price %q for product %s: %w", price, p.ID, err)
	}
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, p *orders.Product) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO products (id, name, description, price, stock, category, owner_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10)
	`, p.ID, p.Name, p.Description, p.Price.String(), p.Stock, p.Category, p.OwnerID, p.Status, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert product: %w", err)
	}
	return nil
}

func (s *Store) GetProduct(ctx context.Context, productID string) (*orders.Product, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, productID)
	return scanProduct(row)
}

// UpdateProduct writes catalog fields only. Stock has its own statements.
func (s *Store) UpdateProduct(ctx context.Context, p *orders.Product) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE products
		SET name = $2, description = $3, price = $4::numeric, category = $5, status = $6, updated_at = $7
		WHERE id = $1
	`, p.ID, p.Name, p.Description, p.Price.String(), p.Category, p.Status, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return orders.ErrProductNotFound
	}
	return nil
}

func (s *Store) GetProductTx(ctx context.Context, tx orders.Tx, productID string) (*orders.Product, error) {
	q, err := pgTx(tx)
	if err != nil {
		return nil, err
	}
	row := q.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, productID)
	return scanProduct(row)
}

// DecrementStock is a single conditional UPDATE. A concurrent committed
// update of the same row makes it fail with a serialization error under
// repeatable read, which surfaces as orders.ErrWriteConflict.
func (s *Store) DecrementStock(ctx context.Context, tx orders.Tx, productID string, quantity int) (*orders.Product, bool, error) {
	q, err := pgTx(tx)
	if err != nil {
		return nil, false, err
	}

	row := q.QueryRow(ctx, `
		UPDATE products
		SET stock = stock - $2::bigint, updated_at = now()
		WHERE id = $1 AND status = 'active' AND stock >= $2::bigint
		RETURNING `+productColumns, productID, quantity)

	p, err := scanProduct(row)
	if errors.Is(err, orders.ErrProductNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

func (s *Store) IncrementStock(ctx context.Context, tx orders.Tx, productID string, quantity int) error {
	q, err := pgTx(tx)
	if err != nil {
		return err
	}

	tag, err := q.Exec(ctx, `
		UPDATE products
		SET stock = stock + $2::bigint, updated_at = now()
		WHERE id = $1
	`, productID, quantity)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return orders.ErrProductNotFound
	}
	return nil
}

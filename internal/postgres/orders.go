package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/matheusmosca/order-placement-engine/internal/orders"
	"github.com/matheusmosca/order-placement-engine/internal/outbox"
)

const orderColumns = `id, user_id, total_price::text, status, description, created_at, updated_at`

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanOrder(row rowScanner) (*orders.Order, error) {
	var (
		o     orders.Order
		total string
	)
	err := row.Scan(&o.ID, &o.UserID, &total, &o.Status, &o.Description, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, orders.ErrOrderNotFound
		}
		return nil, mapError(err)
	}
	if o.TotalPrice, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("invalid total %q for order %s: %w", total, o.ID, err)
	}
	return &o, nil
}

// InsertOrder writes the order, its items and an order.created outbox event
// under tx.
func (s *Store) InsertOrder(ctx context.Context, tx orders.Tx, o *orders.Order) error {
	q, err := pgTx(tx)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx, `
		INSERT INTO orders (id, user_id, total_price, status, description, created_at, updated_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7)
	`, o.ID, o.UserID, o.TotalPrice.String(), o.Status, o.Description, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", mapError(err))
	}

	batch := &pgx.Batch{}
	for i, item := range o.Items {
		batch.Queue(`
			INSERT INTO order_items (order_id, position, product_id, name, price, quantity)
			VALUES ($1, $2, $3, $4, $5::numeric, $6)
		`, o.ID, i, item.ProductID, item.Name, item.Price.String(), item.Quantity)
	}
	if err := q.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert order items: %w", mapError(err))
	}

	return s.appendOutbox(ctx, q, outbox.TypeOrderCreated, o)
}

// CancelOrder flips a pending order owned by userID to cancelled.
func (s *Store) CancelOrder(ctx context.Context, tx orders.Tx, orderID, userID string) (*orders.Order, error) {
	q, err := pgTx(tx)
	if err != nil {
		return nil, err
	}

	row := q.QueryRow(ctx, `
		UPDATE orders
		SET status = 'cancelled', updated_at = now()
		WHERE id = $1 AND user_id = $2 AND status = 'pending'
		RETURNING `+orderColumns, orderID, userID)
	order, err := scanOrder(row)
	if errors.Is(err, orders.ErrOrderNotFound) {
		var status string
		err := q.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1 AND user_id = $2`, orderID, userID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, orders.ErrOrderNotFound
		}
		if err != nil {
			return nil, mapError(err)
		}
		return nil, fmt.Errorf("%w: order is %s", orders.ErrInvalidTransition, status)
	}
	if err != nil {
		return nil, err
	}

	if err := loadItems(ctx, q, []*orders.Order{order}); err != nil {
		return nil, err
	}
	if err := s.appendOutbox(ctx, q, outbox.TypeOrderCancelled, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (*orders.Order, error) {
	order, err := scanOrder(s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if err != nil {
		return nil, err
	}
	if err := loadItems(ctx, s.pool, []*orders.Order{order}); err != nil {
		return nil, err
	}
	return order, nil
}

// ListOrdersByUser applies the owner predicate in SQL for both the page and
// the count.
func (s *Store) ListOrdersByUser(ctx context.Context, userID string, query orders.ListOrdersQuery) ([]orders.Order, int, error) {
	where := []string{"user_id = $1"}
	args := []any{userID}

	if query.Status != "" {
		args = append(args, query.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if !query.From.IsZero() {
		args = append(args, query.From)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !query.To.IsZero() {
		args = append(args, query.To)
		where = append(where, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	filter := strings.Join(where, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM orders WHERE `+filter, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}
	if total == 0 {
		return []orders.Order{}, 0, nil
	}

	pageArgs := append(args, query.PageSize, (query.Page-1)*query.PageSize)
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM orders
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, orderColumns, filter, len(args)+1, len(args)+2), pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var page []*orders.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		page = append(page, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	rows.Close()

	if err := loadItems(ctx, s.pool, page); err != nil {
		return nil, 0, err
	}

	result := make([]orders.Order, 0, len(page))
	for _, o := range page {
		result = append(result, *o)
	}
	return result, total, nil
}

func loadItems(ctx context.Context, q querier, list []*orders.Order) error {
	if len(list) == 0 {
		return nil
	}
	byID := make(map[string]*orders.Order, len(list))
	ids := make([]string, 0, len(list))
	for _, o := range list {
		o.Items = []orders.LineItem{}
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}

	rows, err := q.Query(ctx, `
		SELECT order_id, product_id, name, price::text, quantity
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`, ids)
	if err != nil {
		return fmt.Errorf("failed to query order items: %w", mapError(err))
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID string
			price   string
			item    orders.LineItem
		)
		if err := rows.Scan(&orderID, &item.ProductID, &item.Name, &price, &item.Quantity); err != nil {
			return mapError(err)
		}
		if item.Price, err = decimal.NewFromString(price); err != nil {
			return fmt.Errorf("invalid item price %q: %w", price, err)
		}
		if o, ok := byID[orderID]; ok {
			o.Items = append(o.Items, item)
		}
	}
	return rows.Err()
}

func (s *Store) appendOutbox(ctx context.Context, q pgx.Tx, eventType string, o *orders.Order) error {
	event, err := outbox.NewOrderEvent(ctx, eventType, o)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, headers, traceparent, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending')
	`, event.AggregateType, event.AggregateID, event.Type, event.Payload, event.Headers, event.Traceparent)
	if err != nil {
		return fmt.Errorf("failed to write %s outbox event: %w", eventType, mapError(err))
	}
	return nil
}

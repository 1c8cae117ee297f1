// Package memstore is an in-process implementation of the order engine's
// store ports. Transactions see their own writes, publish them only on
// Commit, and fail with orders.ErrWriteConflict when another transaction
// committed a write to the same record first.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/matheusmosca/order-placement-engine/internal/orders"
)

var ErrTxClosed = errors.New("transaction already closed")

type productRecord struct {
	product orders.Product
	version uint64
}

type orderRecord struct {
	order   *orders.Order
	version uint64
}

// Store keeps committed products and orders in memory.
type Store struct {
	mu       sync.RWMutex
	products map[string]*productRecord
	orders   map[string]*orderRecord
}

func New() *Store {
	return &Store{
		products: make(map[string]*productRecord),
		orders:   make(map[string]*orderRecord),
	}
}

// BeginTx opens a transaction.
func (s *Store) BeginTx(ctx context.Context) (orders.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Tx{
		store:    s,
		products: make(map[string]*productView),
		orders:   make(map[string]*orderView),
	}, nil
}

// CreateProduct stores a new product.
func (s *Store) CreateProduct(ctx context.Context, product *orders.Product) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[product.ID]; ok {
		return fmt.Errorf("product %s already exists", product.ID)
	}
	s.products[product.ID] = &productRecord{product: *product, version: 1}
	return nil
}

func (s *Store) GetProduct(ctx context.Context, productID string) (*orders.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.products[productID]
	if !ok {
		return nil, orders.ErrProductNotFound
	}
	p := rec.product
	return &p, nil
}

// UpdateProduct writes catalog fields and keeps the committed stock.
func (s *Store) UpdateProduct(ctx context.Context, product *orders.Product) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.products[product.ID]
	if !ok {
		return orders.ErrProductNotFound
	}
	updated := *product
	updated.Stock = rec.product.Stock
	updated.CreatedAt = rec.product.CreatedAt
	rec.product = updated
	rec.version++
	return nil
}

func (s *Store) GetProductTx(ctx context.Context, tx orders.Tx, productID string) (*orders.Product, error) {
	t, err := s.open(ctx, tx)
	if err != nil {
		return nil, err
	}
	view, err := t.product(productID)
	if err != nil {
		return nil, err
	}
	p := view.product
	return &p, nil
}

// DecrementStock checks and writes in one step inside the transaction view.
func (s *Store) DecrementStock(ctx context.Context, tx orders.Tx, productID string, quantity int) (*orders.Product, bool, error) {
	t, err := s.open(ctx, tx)
	if err != nil {
		return nil, false, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	view, err := t.productLocked(productID)
	if errors.Is(err, orders.ErrProductNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if !view.product.Orderable() || view.product.Stock < quantity {
		return nil, false, nil
	}

	view.product.Stock -= quantity
	view.dirty = true
	p := view.product
	return &p, true, nil
}

func (s *Store) IncrementStock(ctx context.Context, tx orders.Tx, productID string, quantity int) error {
	t, err := s.open(ctx, tx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	view, err := t.productLocked(productID)
	if err != nil {
		return err
	}
	if view.product.Stock > orders.MaxStock-quantity {
		return &orders.ValidationError{Fields: []string{fmt.Sprintf("quantity: stock of %s would exceed %d", productID, orders.MaxStock)}}
	}
	view.product.Stock += quantity
	view.dirty = true
	return nil
}

// InsertOrder buffers the order until Commit.
func (s *Store) InsertOrder(ctx context.Context, tx orders.Tx, order *orders.Order) error {
	t, err := s.open(ctx, tx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.orders[order.ID]; ok {
		return fmt.Errorf("order %s already exists", order.ID)
	}
	s.mu.RLock()
	_, exists := s.orders[order.ID]
	s.mu.RUnlock()
	if exists {
		return fmt.Errorf("order %s already exists", order.ID)
	}

	t.orders[order.ID] = &orderView{order: order.Clone(), inserted: true, dirty: true}
	return nil
}

func (s *Store) CancelOrder(ctx context.Context, tx orders.Tx, orderID, userID string) (*orders.Order, error) {
	t, err := s.open(ctx, tx)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	view, err := t.orderLocked(orderID)
	if err != nil {
		return nil, err
	}
	if view.order.UserID != userID {
		return nil, orders.ErrOrderNotFound
	}
	if err := view.order.Cancel(); err != nil {
		return nil, err
	}
	view.dirty = true
	return view.order.Clone(), nil
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (*orders.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.orders[orderID]
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	return rec.order.Clone(), nil
}

// ListOrdersByUser filters by owner before paginating.
func (s *Store) ListOrdersByUser(ctx context.Context, userID string, query orders.ListOrdersQuery) ([]orders.Order, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	s.mu.RLock()
	matched := make([]*orders.Order, 0)
	for _, rec := range s.orders {
		o := rec.order
		if o.UserID != userID {
			continue
		}
		if query.Status != "" && o.Status != query.Status {
			continue
		}
		if !query.From.IsZero() && o.CreatedAt.Before(query.From) {
			continue
		}
		if !query.To.IsZero() && o.CreatedAt.After(query.To) {
			continue
		}
		matched = append(matched, o.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := (query.Page - 1) * query.PageSize
	if start < 0 || start >= total {
		return []orders.Order{}, total, nil
	}
	end := min(start+query.PageSize, total)

	page := make([]orders.Order, 0, end-start)
	for _, o := range matched[start:end] {
		page = append(page, *o)
	}
	return page, total, nil
}

func (s *Store) open(ctx context.Context, tx orders.Tx) (*Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, ok := tx.(*Tx)
	if !ok || t.store != s {
		return nil, fmt.Errorf("memstore: foreign transaction %T", tx)
	}
	if t.closed() {
		return nil, ErrTxClosed
	}
	return t, nil
}

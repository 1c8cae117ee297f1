package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/matheusmosca/order-placement-engine/internal/orders"
)

type productView struct {
	product     orders.Product
	baseVersion uint64
	dirty       bool
}

type orderView struct {
	order       *orders.Order
	baseVersion uint64
	inserted    bool
	dirty       bool
}

// Tx is a memstore transaction. Each record is copied into the transaction on
// first access; Commit publishes dirty copies if nobody else changed the
// underlying records in the meantime.
type Tx struct {
	store *Store

	mu       sync.Mutex
	products map[string]*productView
	orders   map[string]*orderView
	done     bool
}

func (t *Tx) closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

func (t *Tx) product(productID string) (*productView, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.productLocked(productID)
}

func (t *Tx) productLocked(productID string) (*productView, error) {
	if view, ok := t.products[productID]; ok {
		return view, nil
	}

	t.store.mu.RLock()
	rec, ok := t.store.products[productID]
	var view *productView
	if ok {
		view = &productView{product: rec.product, baseVersion: rec.version}
	}
	t.store.mu.RUnlock()

	if !ok {
		return nil, orders.ErrProductNotFound
	}
	t.products[productID] = view
	return view, nil
}

func (t *Tx) orderLocked(orderID string) (*orderView, error) {
	if view, ok := t.orders[orderID]; ok {
		return view, nil
	}

	t.store.mu.RLock()
	rec, ok := t.store.orders[orderID]
	var view *orderView
	if ok {
		view = &orderView{order: rec.order.Clone(), baseVersion: rec.version}
	}
	t.store.mu.RUnlock()

	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	t.orders[orderID] = view
	return view, nil
}

// Commit publishes the transaction's writes. It fails with a wrapped
// orders.ErrWriteConflict if any written record changed since it was read.
func (t *Tx) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return ErrTxClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.done = true

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, view := range t.products {
		if !view.dirty {
			continue
		}
		rec, ok := s.products[id]
		if !ok || rec.version != view.baseVersion {
			return fmt.Errorf("%w: product %s was modified concurrently", orders.ErrWriteConflict, id)
		}
	}
	for id, view := range t.orders {
		if !view.dirty {
			continue
		}
		rec, ok := s.orders[id]
		switch {
		case view.inserted && ok:
			return fmt.Errorf("%w: order %s was inserted concurrently", orders.ErrWriteConflict, id)
		case !view.inserted && (!ok || rec.version != view.baseVersion):
			return fmt.Errorf("%w: order %s was modified concurrently", orders.ErrWriteConflict, id)
		}
	}

	for id, view := range t.products {
		if !view.dirty {
			continue
		}
		rec := s.products[id]
		rec.product.Stock = view.product.Stock
		rec.version++
	}
	for id, view := range t.orders {
		if !view.dirty {
			continue
		}
		if view.inserted {
			s.orders[id] = &orderRecord{order: view.order.Clone(), version: 1}
			continue
		}
		rec := s.orders[id]
		rec.order = view.order.Clone()
		rec.version++
	}
	return nil
}

// Rollback discards the transaction. It is a no-op once the transaction has
// been committed or rolled back.
func (t *Tx) Rollback(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return nil
	}
	t.done = true
	t.products = nil
	t.orders = nil
	return nil
}

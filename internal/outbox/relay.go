package outbox

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Store interface {
	LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]Event, error)
	MarkSent(ctx context.Context, ids []int64) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
	PurgeSent(ctx context.Context, olderThan time.Time) (int64, error)
}

type RelayOptions struct {
	BatchSize int
	Interval  time.Duration
	Lease     time.Duration
	// Workers bounds how many orders are published at once.
	Workers int
}

func DefaultRelayOptions() RelayOptions {
	return RelayOptions{
		BatchSize: 100,
		Interval:  500 * time.Millisecond,
		Lease:     5 * time.Second,
		Workers:   4,
	}
}

// Relay moves pending order events to the broker.
type Relay struct {
	logger    *zap.Logger
	store     Store
	publisher *Publisher
	relayID   string
	opts      RelayOptions
}

func NewRelay(logger *zap.Logger, store Store, publisher *Publisher, relayID string, opts RelayOptions) *Relay {
	defaults := DefaultRelayOptions()
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaults.BatchSize
	}
	if opts.Interval <= 0 {
		opts.Interval = defaults.Interval
	}
	if opts.Lease <= 0 {
		opts.Lease = defaults.Lease
	}
	if opts.Workers <= 0 {
		opts.Workers = defaults.Workers
	}
	return &Relay{
		logger:    logger,
		store:     store,
		publisher: publisher,
		relayID:   relayID,
		opts:      opts,
	}
}

// Run polls until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.opts.Interval)
	defer t.Stop()

	r.logger.Info("order event relay started", zap.String("relay_id", r.relayID), zap.Int("workers", r.opts.Workers))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("order event relay stopping", zap.String("relay_id", r.relayID))
			return nil
		case <-t.C:
			r.Flush(ctx)
		}
	}
}

// Flush publishes one batch and returns how many events were sent.
//
// Events are grouped per order. When an order's publish fails, all of its
// events in the batch are marked failed together, so an order.cancelled never
// goes out ahead of the order.created it follows.
func (r *Relay) Flush(ctx context.Context) int {
	events, err := r.store.LockBatch(ctx, r.relayID, r.opts.BatchSize, r.opts.Lease)
	if err != nil {
		r.logger.Error("outbox lock batch failed", zap.Error(err))
		return 0
	}
	if len(events) == 0 {
		return 0
	}

	var (
		mu   sync.Mutex
		sent = make([]int64, 0, len(events))
		g    errgroup.Group
	)
	g.SetLimit(r.opts.Workers)

	for _, batch := range groupByOrder(events) {
		g.Go(func() error {
			if err := r.publisher.PublishOrder(ctx, batch.orderID, batch.events); err != nil {
				r.markFailed(ctx, batch, err)
				return nil
			}
			mu.Lock()
			for _, e := range batch.events {
				sent = append(sent, e.ID)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(sent) == 0 {
		return 0
	}
	slices.Sort(sent)
	if err := r.store.MarkSent(ctx, sent); err != nil {
		r.logger.Error("outbox mark sent failed", zap.Int("events", len(sent)), zap.Error(err))
	}
	return len(sent)
}

func (r *Relay) markFailed(ctx context.Context, batch orderBatch, cause error) {
	for _, e := range batch.events {
		if err := r.store.MarkFailed(ctx, e.ID, cause.Error()); err != nil {
			r.logger.Error("outbox mark failed failed",
				zap.String("order_id", batch.orderID),
				zap.Int64("event_id", e.ID),
				zap.Error(err),
			)
		}
	}
}

type orderBatch struct {
	orderID string
	events  []Event
}

// groupByOrder splits a locked batch per order, keeping the id order of
// events within each order.
func groupByOrder(events []Event) []orderBatch {
	index := make(map[string]int)
	var out []orderBatch
	for _, e := range events {
		i, ok := index[e.AggregateID]
		if !ok {
			i = len(out)
			index[e.AggregateID] = i
			out = append(out, orderBatch{orderID: e.AggregateID})
		}
		out[i].events = append(out[i].events, e)
	}
	return out
}

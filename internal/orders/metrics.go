package orders

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics holds the order engine counters.
type Metrics struct {
	placed    metric.Int64Counter
	rejected  metric.Int64Counter
	txRetries metric.Int64Counter
	cancelled metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	placed, err := meter.Int64Counter("orders.placed",
		metric.WithDescription("Orders committed"),
		metric.WithUnit("{order}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create orders.placed counter: %w", err)
	}

	rejected, err := meter.Int64Counter("orders.rejected",
		metric.WithDescription("Order placements that did not commit"),
		metric.WithUnit("{order}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create orders.rejected counter: %w", err)
	}

	txRetries, err := meter.Int64Counter("orders.tx_retries",
		metric.WithDescription("Transactions re-run after a write conflict"),
		metric.WithUnit("{retry}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create orders.tx_retries counter: %w", err)
	}

	cancelled, err := meter.Int64Counter("orders.cancelled",
		metric.WithDescription("Orders cancelled by their owner"),
		metric.WithUnit("{order}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create orders.cancelled counter: %w", err)
	}

	return &Metrics{
		placed:    placed,
		rejected:  rejected,
		txRetries: txRetries,
		cancelled: cancelled,
	}, nil
}

// NoopMetrics returns counters that record nothing.
func NoopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter("orders"))
	return m
}

func (m *Metrics) orderPlaced(ctx context.Context, items int) {
	m.placed.Add(ctx, 1, metric.WithAttributes(attribute.Int("items", items)))
}

func (m *Metrics) orderRejected(ctx context.Context, reason string) {
	m.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) orderCancelled(ctx context.Context) {
	m.cancelled.Add(ctx, 1)
}

func (m *Metrics) txRetry(ctx context.Context, operation string) {
	m.txRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

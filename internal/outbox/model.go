package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/matheusmosca/order-placement-engine/internal/orders"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSent       Status = "sent"
	StatusFailed     Status = "failed"
)

const (
	AggregateOrder = "order"

	TypeOrderCreated   = "order.created"
	TypeOrderCancelled = "order.cancelled"
)

type Event struct {
	ID            int64
	AggregateType string
	AggregateID   string
	Type          string
	Payload       []byte
	Headers       map[string]string
	Traceparent   string
	CreatedAt     time.Time
	Status        Status
	RetryCount    int
	LastError     *string
}

type orderItemPayload struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Price     string `json:"price"`
	Quantity  int    `json:"quantity"`
}

type orderPayload struct {
	OrderID    string             `json:"orderId"`
	UserID     string             `json:"userId"`
	Status     string             `json:"status"`
	TotalPrice string             `json:"totalPrice"`
	Items      []orderItemPayload `json:"products"`
	OccurredAt time.Time          `json:"occurredAt"`
}

// NewOrderEvent builds an outbox event for the order, carrying the trace
// context of ctx so consumers can continue the trace.
func NewOrderEvent(ctx context.Context, eventType string, order *orders.Order) (Event, error) {
	payload := orderPayload{
		OrderID:    order.ID,
		UserID:     order.UserID,
		Status:     string(order.Status),
		TotalPrice: order.TotalPrice.StringFixed(2),
		Items:      make([]orderItemPayload, 0, len(order.Items)),
		OccurredAt: order.UpdatedAt,
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     item.Price.StringFixed(2),
			Quantity:  item.Quantity,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to encode %s payload: %w", eventType, err)
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	return Event{
		AggregateType: AggregateOrder,
		AggregateID:   order.ID,
		Type:          eventType,
		Payload:       body,
		Headers:       map[string]string{"content-type": "application/json"},
		Traceparent:   carrier.Get("traceparent"),
		Status:        StatusPending,
	}, nil
}

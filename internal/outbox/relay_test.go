package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matheusmosca/order-placement-engine/internal/orders"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]Event, error) {
	args := m.Called(ctx, relayID, batchSize, lease)
	events, _ := args.Get(0).([]Event)
	return events, args.Error(1)
}

func (m *MockStore) MarkSent(ctx context.Context, ids []int64) error {
	return m.Called(ctx, ids).Error(0)
}

func (m *MockStore) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	return m.Called(ctx, id, errMsg).Error(0)
}

func (m *MockStore) PurgeSent(ctx context.Context, olderThan time.Time) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

type MockProducer struct {
	mock.Mock
}

func (m *MockProducer) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	return m.Called(ctx, msgs).Error(0)
}

// keyed matches one WriteMessages call carrying the given order's events
// in id order.
func keyed(orderID string, ids ...string) any {
	return mock.MatchedBy(func(msgs []kafka.Message) bool {
		if len(msgs) != len(ids) {
			return false
		}
		for i, m := range msgs {
			if string(m.Key) != orderID || m.Topic != "orders" || header(m, "event_id") != ids[i] {
				return false
			}
		}
		return true
	})
}

func header(m kafka.Message, key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func newTestRelay(store Store, producer Producer) *Relay {
	return NewRelay(zap.NewNop(), store, NewPublisher(zap.NewNop(), producer, "orders"), "relay-1", RelayOptions{})
}

func TestRelayFlush(t *testing.T) {
	ctx := context.Background()
	store := &MockStore{}
	producer := &MockProducer{}

	events := []Event{
		{ID: 1, AggregateID: "order-1", Type: TypeOrderCreated, Payload: []byte(`{}`)},
		{ID: 2, AggregateID: "order-2", Type: TypeOrderCreated, Payload: []byte(`{}`)},
		{ID: 3, AggregateID: "order-1", Type: TypeOrderCancelled, Payload: []byte(`{}`)},
		{ID: 4, AggregateID: "order-3", Type: TypeOrderCreated, Payload: []byte(`{}`)},
	}
	store.On("LockBatch", ctx, "relay-1", 100, 5*time.Second).Return(events, nil).Once()

	producer.On("WriteMessages", ctx, keyed("order-1", "1", "3")).Return(nil).Once()
	producer.On("WriteMessages", ctx, keyed("order-2", "2")).Return(errors.New("broker down")).Once()
	producer.On("WriteMessages", ctx, keyed("order-3", "4")).Return(nil).Once()

	store.On("MarkFailed", ctx, int64(2), mock.MatchedBy(func(msg string) bool {
		return strings.Contains(msg, "broker down") && strings.Contains(msg, "order-2")
	})).Return(nil).Once()
	store.On("MarkSent", ctx, []int64{1, 3, 4}).Return(nil).Once()

	sent := newTestRelay(store, producer).Flush(ctx)

	assert.Equal(t, 3, sent)
	store.AssertExpectations(t)
	producer.AssertExpectations(t)
}

func TestRelayFlushHoldsBackFailedOrder(t *testing.T) {
	ctx := context.Background()
	store := &MockStore{}
	producer := &MockProducer{}

	events := []Event{
		{ID: 10, AggregateID: "order-1", Type: TypeOrderCreated},
		{ID: 11, AggregateID: "order-1", Type: TypeOrderCancelled},
	}
	store.On("LockBatch", ctx, "relay-1", 100, 5*time.Second).Return(events, nil).Once()
	producer.On("WriteMessages", ctx, keyed("order-1", "10", "11")).Return(errors.New("leader not available")).Once()
	store.On("MarkFailed", ctx, int64(10), mock.Anything).Return(nil).Once()
	store.On("MarkFailed", ctx, int64(11), mock.Anything).Return(nil).Once()

	assert.Equal(t, 0, newTestRelay(store, producer).Flush(ctx))

	store.AssertExpectations(t)
	store.AssertNotCalled(t, "MarkSent", mock.Anything, mock.Anything)
}

func TestRelayFlushLockError(t *testing.T) {
	ctx := context.Background()
	store := &MockStore{}
	producer := &MockProducer{}

	store.On("LockBatch", ctx, "relay-1", 100, 5*time.Second).Return(nil, errors.New("db gone")).Once()

	assert.Equal(t, 0, newTestRelay(store, producer).Flush(ctx))

	store.AssertNotCalled(t, "MarkSent", mock.Anything, mock.Anything)
	producer.AssertNotCalled(t, "WriteMessages", mock.Anything, mock.Anything)
}

func TestRelayOptions(t *testing.T) {
	r := NewRelay(zap.NewNop(), &MockStore{}, nil, "relay-1", RelayOptions{BatchSize: 10, Workers: -1})
	assert.Equal(t, 10, r.opts.BatchSize)
	assert.Equal(t, DefaultRelayOptions().Workers, r.opts.Workers)
	assert.Equal(t, DefaultRelayOptions().Lease, r.opts.Lease)
}

func TestGroupByOrder(t *testing.T) {
	batches := groupByOrder([]Event{
		{ID: 1, AggregateID: "b"},
		{ID: 2, AggregateID: "a"},
		{ID: 3, AggregateID: "b"},
	})
	require.Len(t, batches, 2)
	assert.Equal(t, "b", batches[0].orderID)
	assert.Equal(t, int64(1), batches[0].events[0].ID)
	assert.Equal(t, int64(3), batches[0].events[1].ID)
	assert.Equal(t, "a", batches[1].orderID)
}

func TestPublishOrderHeaders(t *testing.T) {
	ctx := context.Background()
	producer := &MockProducer{}
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	var captured kafka.Message
	producer.On("WriteMessages", ctx, mock.Anything).Run(func(args mock.Arguments) {
		captured = args.Get(1).([]kafka.Message)[0]
	}).Return(nil).Once()

	p := NewPublisher(zap.NewNop(), producer, "orders")
	err := p.PublishOrder(ctx, "order-7", []Event{{
		ID:          7,
		AggregateID: "order-7",
		Type:        TypeOrderCreated,
		Payload:     []byte(`{"orderId":"order-7"}`),
		Headers:     map[string]string{"content-type": "application/json"},
		Traceparent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
		CreatedAt:   created,
	}})
	require.NoError(t, err)

	assert.Equal(t, "order-7", string(captured.Key))
	assert.Equal(t, "orders", captured.Topic)
	assert.True(t, created.Equal(captured.Time))
	assert.Equal(t, "7", header(captured, "event_id"))
	assert.Equal(t, TypeOrderCreated, header(captured, "event_type"))
	assert.Equal(t, "order-7", header(captured, "order_id"))
	assert.Equal(t, "application/json", header(captured, "content-type"))
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", header(captured, "traceparent"))
}

func TestNewOrderEvent(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	order := orders.NewOrder("order-1", "alice", "", []orders.LineItem{
		{ProductID: "p-1", Name: "A", Price: decimal.RequireFromString("100"), Quantity: 2},
		{ProductID: "p-2", Name: "B", Price: decimal.RequireFromString("50"), Quantity: 2},
	}, created)

	event, err := NewOrderEvent(context.Background(), TypeOrderCreated, order)
	require.NoError(t, err)

	assert.Equal(t, AggregateOrder, event.AggregateType)
	assert.Equal(t, "order-1", event.AggregateID)
	assert.Equal(t, StatusPending, event.Status)

	var payload orderPayload
	require.NoError(t, json.Unmarshal(event.Payload, &payload))
	assert.Equal(t, "300.00", payload.TotalPrice)
	assert.Equal(t, "pending", payload.Status)
	require.Len(t, payload.Items, 2)
	assert.Equal(t, "100.00", payload.Items[0].Price)
	assert.True(t, created.Equal(payload.OccurredAt))
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	store := &MockStore{}
	now := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

	store.On("PurgeSent", ctx, now.Add(-72*time.Hour)).Return(int64(4), nil).Once()

	p := NewPurger(zap.NewNop(), store, 72*time.Hour)
	p.now = func() time.Time { return now }
	p.Purge(ctx)

	store.AssertExpectations(t)
}

func TestPurgerRejectsBadSchedule(t *testing.T) {
	p := NewPurger(zap.NewNop(), &MockStore{}, time.Hour)
	err := p.Run(context.Background(), "not a schedule")
	assert.Error(t, err)
}

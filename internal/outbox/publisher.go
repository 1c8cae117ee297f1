package outbox

import (
	"context"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Producer is satisfied by *kafka.Writer.
type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Publisher writes order events to Kafka, keyed by order id.
type Publisher struct {
	logger   *zap.Logger
	producer Producer
	topic    string
}

func NewPublisher(logger *zap.Logger, producer Producer, topic string) *Publisher {
	return &Publisher{logger: logger, producer: producer, topic: topic}
}

// NewKafkaWriter returns a writer that hashes on the message key, so events of
// one order stay in one partition.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// PublishOrder writes every pending event of one order in a single call, in
// the order they were recorded. Delivery is at least once; consumers dedupe
// on the event_id header.
func (p *Publisher) PublishOrder(ctx context.Context, orderID string, events []Event) error {
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		msgs = append(msgs, p.message(e))
	}

	if err := p.producer.WriteMessages(ctx, msgs...); err != nil {
		p.logger.Error("order events publish failed",
			zap.String("order_id", orderID),
			zap.Int("events", len(events)),
			zap.Error(err),
		)
		return fmt.Errorf("failed to publish %d event(s) of order %s: %w", len(events), orderID, err)
	}

	p.logger.Debug("order events published", zap.String("order_id", orderID), zap.Int("events", len(events)))
	return nil
}

func (p *Publisher) message(e Event) kafka.Message {
	headers := make([]kafka.Header, 0, len(e.Headers)+4)
	headers = append(headers,
		kafka.Header{Key: "event_id", Value: []byte(strconv.FormatInt(e.ID, 10))},
		kafka.Header{Key: "event_type", Value: []byte(e.Type)},
		kafka.Header{Key: "order_id", Value: []byte(e.AggregateID)},
	)
	for k, v := range e.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	if e.Traceparent != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(e.Traceparent)})
	}

	return kafka.Message{
		Topic:   p.topic,
		Key:     []byte(e.AggregateID),
		Value:   e.Payload,
		Headers: headers,
		Time:    e.CreatedAt,
	}
}

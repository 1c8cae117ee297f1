package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/matheusmosca/order-placement-engine/internal/orders"
)

func (s *Store) InsertOrder(ctx context.Context, tx orders.Tx, o *orders.Order) error {
	t, err := sessionTx(tx)
	if err != nil {
		return err
	}
	doc, err := newOrderDoc(o)
	if err != nil {
		return err
	}
	if _, err := s.orders.InsertOne(t.context(ctx), doc); err != nil {
		return fmt.Errorf("failed to insert order: %w", mapError(err))
	}
	return nil
}

func (s *Store) CancelOrder(ctx context.Context, tx orders.Tx, orderID, userID string) (*orders.Order, error) {
	t, err := sessionTx(tx)
	if err != nil {
		return nil, err
	}
	sc := t.context(ctx)

	filter := bson.M{"_id": orderID, "user_id": userID, "status": string(orders.OrderStatusPending)}
	update := bson.M{"$set": bson.M{
		"status":     string(orders.OrderStatusCancelled),
		"updated_at": time.Now().UTC(),
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc orderDoc
	err = s.orders.FindOneAndUpdate(sc, filter, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		var existing orderDoc
		err := s.orders.FindOne(sc, bson.M{"_id": orderID, "user_id": userID}).Decode(&existing)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, orders.ErrOrderNotFound
		}
		if err != nil {
			return nil, mapError(err)
		}
		return nil, fmt.Errorf("%w: order is %s", orders.ErrInvalidTransition, existing.Status)
	}
	if err != nil {
		return nil, mapError(err)
	}
	return doc.toOrder()
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (*orders.Order, error) {
	var doc orderDoc
	err := s.orders.FindOne(ctx, bson.M{"_id": orderID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, orders.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toOrder()
}

func (s *Store) ListOrdersByUser(ctx context.Context, userID string, query orders.ListOrdersQuery) ([]orders.Order, int, error) {
	filter := bson.M{"user_id": userID}
	if query.Status != "" {
		filter["status"] = string(query.Status)
	}
	created := bson.M{}
	if !query.From.IsZero() {
		created["$gte"] = query.From
	}
	if !query.To.IsZero() {
		created["$lte"] = query.To
	}
	if len(created) > 0 {
		filter["created_at"] = created
	}

	total, err := s.orders.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}
	if total == 0 {
		return []orders.Order{}, 0, nil
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64((query.Page - 1) * query.PageSize)).
		SetLimit(int64(query.PageSize))

	cursor, err := s.orders.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query orders: %w", err)
	}

	var docs []orderDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, 0, fmt.Errorf("failed to decode orders: %w", err)
	}

	result := make([]orders.Order, 0, len(docs))
	for _, doc := range docs {
		o, err := doc.toOrder()
		if err != nil {
			return nil, 0, err
		}
		result = append(result, *o)
	}
	return result, int(total), nil
}

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

func (s *Store) CreateProduct(ctx context.Context, p *orders.Product) error {
	doc, err := newProductDoc(p)
	if err != nil {
		return err
	}
	if _, err := s.products.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert product: %w", err)
	}
	return nil
}

func (s *Store) GetProduct(ctx context.Context, productID string) (*orders.Product, error) {
	return s.findProduct(ctx, productID)
}

func (s *Store) findProduct(ctx context.Context, productID string) (*orders.Product, error) {
	var doc productDoc
	err := s.products.FindOne(ctx, bson.M{"_id": productID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, orders.ErrProductNotFound
	}
	if err != nil {
		return nil, mapError(err)
	}
	return doc.toProduct()
}

func (s *Store) UpdateProduct(ctx context.Context, p *orders.Product) error {
	price, err := toDecimal128(p.Price)
	if err != nil {
		return err
	}
	res, err := s.products.UpdateOne(ctx, bson.M{"_id": p.ID}, bson.M{"$set": bson.M{
		"name":        p.Name,
		"description": p.Description,
		"price":       price,
		"category":    p.Category,
		"status":      string(p.Status),
		"updated_at":  p.UpdatedAt,
	}})
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	if res.MatchedCount == 0 {
		return orders.ErrProductNotFound
	}
	return nil
}

func (s *Store) GetProductTx(ctx context.Context, tx orders.Tx, productID string) (*orders.Product, error) {
	t, err := sessionTx(tx)
	if err != nil {
		return nil, err
	}
	return s.findProduct(t.context(ctx), productID)
}

// DecrementStock is one conditional findAndModify inside the session.
func (s *Store) DecrementStock(ctx context.Context, tx orders.Tx, productID string, quantity int) (*orders.Product, bool, error) {
	t, err := sessionTx(tx)
	if err != nil {
		return nil, false, err
	}

	filter := bson.M{
		"_id":    productID,
		"status": string(orders.ProductStatusActive),
		"stock":  bson.M{"$gte": quantity},
	}
	update := bson.M{
		"$inc": bson.M{"stock": -quantity},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc productDoc
	err = s.products.FindOneAndUpdate(t.context(ctx), filter, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, mapError(err)
	}

	p, err := doc.toProduct()
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

func (s *Store) IncrementStock(ctx context.Context, tx orders.Tx, productID string, quantity int) error {
	t, err := sessionTx(tx)
	if err != nil {
		return err
	}

	filter := bson.M{
		"_id":   productID,
		"stock": bson.M{"$lte": orders.MaxStock - quantity},
	}
	res, err := s.products.UpdateOne(t.context(ctx), filter, bson.M{
		"$inc": bson.M{"stock": quantity},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	})
	if err != nil {
		return mapError(err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	if _, err := s.GetProductTx(ctx, tx, productID); err != nil {
		return err
	}
	return &orders.ValidationError{Fields: []string{
		fmt.Sprintf("quantity: stock of %s would exceed %d", productID, orders.MaxStock),
	}}
}

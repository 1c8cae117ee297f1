// Package mongo implements the order engine's store ports on MongoDB using
// multi-document transactions. It requires a replica set.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
	"go.uber.org/zap"

	"github.com/matheusmosca/order-placement-engine/internal/orders"
)

// Connect opens a client and waits for the primary to answer.
func Connect(ctx context.Context, uri string, logger *zap.Logger) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	for i := 0; i < 30; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err = client.Ping(pingCtx, readpref.Primary())
		cancel()
		if err == nil {
			logger.Info("connected to mongo")
			return client, nil
		}
		logger.Info("waiting for mongo", zap.Int("attempt", i+1), zap.Error(err))

		select {
		case <-ctx.Done():
			_ = client.Disconnect(context.Background())
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}

	_ = client.Disconnect(context.Background())
	return nil, fmt.Errorf("mongo did not become ready: %w", err)
}

type Store struct {
	client   *mongo.Client
	products *mongo.Collection
	orders   *mongo.Collection
}

func NewStore(client *mongo.Client, database string) *Store {
	db := client.Database(database)
	return &Store{
		client:   client,
		products: db.Collection("products"),
		orders:   db.Collection("orders"),
	}
}

// EnsureIndexes creates the indexes the order queries rely on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.orders.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create orders index: %w", err)
	}
	return nil
}

// BeginTx starts a session with an open snapshot transaction.
func (s *Store) BeginTx(ctx context.Context) (orders.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sess, err := s.client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}

	opts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())
	if err := sess.StartTransaction(opts); err != nil {
		sess.EndSession(ctx)
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	return &Tx{sess: sess}, nil
}

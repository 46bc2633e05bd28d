package db

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// ConnectDB initializes and returns a MongoDB client and database instance.
func ConnectDB(uri, dbName string) (*mongo.Client, *mongo.Database, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	ctxPing, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := client.Ping(ctxPing, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client, client.Database(dbName), nil
}

// DisconnectDB closes the MongoDB client connection.
func DisconnectDB(client *mongo.Client) error {
	if client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect MongoDB: %w", err)
	}
	return nil
}

// EnsureIndexes creates the indexes the engine relies on. The unique
// compound index on threads backs the one-thread-per-(entity, type)
// invariant under true concurrency; lookup-before-create handles the
// common at-least-once redelivery case.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection("threads").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "linked_entity_type", Value: 1},
			{Key: "linked_entity_id", Value: 1},
			{Key: "thread_type", Value: 1},
		},
		Options: options.Index().SetUnique(true).SetName("entity_thread_type_unique"),
	})
	if err != nil {
		return fmt.Errorf("failed to create thread uniqueness index: %w", err)
	}

	_, err = db.Collection("thread_participants").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "thread_id", Value: 1},
			{Key: "participant_type", Value: 1},
			{Key: "participant_id", Value: 1},
		},
		Options: options.Index().SetUnique(true).SetName("thread_participant_unique"),
	})
	if err != nil {
		return fmt.Errorf("failed to create participant uniqueness index: %w", err)
	}

	_, err = db.Collection("thread_messages").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "thread_id", Value: 1}, {Key: "created_at", Value: 1}},
		Options: options.Index().SetName("thread_messages_order"),
	})
	if err != nil {
		return fmt.Errorf("failed to create message ordering index: %w", err)
	}

	log.Println("Mongo indexes ensured.")
	return nil
}

// RunInTransaction executes fn inside a Mongo session transaction when the
// deployment supports transactions (replica set), and falls back to running
// fn directly when it does not. The decline cascade relies on the fallback
// already deleting in dependency order, so a standalone Mongo stays safe.
func RunInTransaction(ctx context.Context, client *mongo.Client, fn func(ctx context.Context) error) error {
	session, err := client.StartSession()
	if err != nil {
		return fn(ctx)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	if err != nil && isTransactionsUnsupported(err) {
		return fn(ctx)
	}
	return err
}

func isTransactionsUnsupported(err error) bool {
	var cmdErr mongo.CommandError
	if ok := asCommandError(err, &cmdErr); ok {
		// IllegalOperation: transaction numbers only allowed on replica sets.
		return cmdErr.Code == 20
	}
	return false
}

func asCommandError(err error, target *mongo.CommandError) bool {
	for err != nil {
		if ce, ok := err.(mongo.CommandError); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

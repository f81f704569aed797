// Package db manages MongoDB connections and collections.
package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// Collection names.
const (
	Users         = "users"
	Messages      = "messages"
	Conversations = "conversations"
	Businesses    = "businesses"
	Locations     = "locations"
	Reviews       = "reviews"
)

// Client wraps mongo.Client and exposes collections.
type Client struct {
	// client is the underlying MongoDB connection (safe for concurrent use)
	client *mongo.Client

	// db is the application database; collections are resolved lazily
	db *mongo.Database

	// transactions enables session transactions in WithTransaction.
	// Standalone servers do not support them, so this is opt-in.
	transactions bool
}

// Option configures a Client.
type Option func(*Client)

// WithTransactions turns on multi-document transactions.
func WithTransactions(enabled bool) Option {
	return func(c *Client) { c.transactions = enabled }
}

// New connects to MongoDB and returns a Client for the named database.
func New(ctx context.Context, mongoURI, database string, opts ...Option) (*Client, error) {
	clientOpts := options.Client().
		ApplyURI(mongoURI).
		SetConnectTimeout(10 * time.Second) // fail fast if MongoDB is unreachable

	client, err := mongo.Connect(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// mongo.Connect is lazy; the ping is the actual connection test
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	c := &Client{client: client, db: client.Database(database)}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Collection returns a collection by name.
func (c *Client) Collection(name string) *mongo.Collection {
	return c.db.Collection(name)
}

// Ping checks the primary is reachable. Used by the health endpoints.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx, readpref.Primary())
}

// Close disconnects from MongoDB.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// TransactionsEnabled reports whether WithTransaction runs in a session.
func (c *Client) TransactionsEnabled() bool {
	return c.transactions
}

// WithTransaction runs fn inside a session transaction when transactions are
// enabled, retrying on transient errors as the driver prescribes. Otherwise fn
// runs directly and each write commits on its own.
func (c *Client) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if !c.transactions {
		return fn(ctx)
	}

	sess, err := c.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, fn(ctx)
	})
	return err
}

// CreateIndexes creates the indexes the stores rely on.
func (c *Client) CreateIndexes(ctx context.Context) error {
	// ===== MESSAGES =====
	messageIndexes := []mongo.IndexModel{
		{
			// undelivered replay: conversation + receiver + status, in creation order
			Keys: bson.D{
				{Key: "conversation_id", Value: 1},
				{Key: "receiver_id", Value: 1},
				{Key: "status", Value: 1},
				{Key: "created_at", Value: 1},
			},
		},
		{
			// conversation history
			Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
	}
	if _, err := c.Collection(Messages).Indexes().CreateMany(ctx, messageIndexes); err != nil {
		return fmt.Errorf("failed to create message indexes: %w", err)
	}

	// ===== CONVERSATIONS =====
	// presence fan-out looks conversations up by participant
	if _, err := c.Collection(Conversations).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "participants", Value: 1}},
	}); err != nil {
		return fmt.Errorf("failed to create conversation index: %w", err)
	}

	// ===== REVIEWS =====
	// average rating recomputation groups by entity
	if _, err := c.Collection(Reviews).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "entity_type", Value: 1}, {Key: "entity_id", Value: 1}},
	}); err != nil {
		return fmt.Errorf("failed to create review index: %w", err)
	}

	// ===== BUSINESSES =====
	if _, err := c.Collection(Businesses).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "location_id", Value: 1}},
	}); err != nil {
		return fmt.Errorf("failed to create business index: %w", err)
	}

	// ===== HEATMAP =====
	// discovery screens sort by score
	for _, name := range []string{Businesses, Locations} {
		if _, err := c.Collection(name).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys: bson.D{{Key: "heatmap_score", Value: -1}},
		}); err != nil {
			return fmt.Errorf("failed to create %s heatmap index: %w", name, err)
		}
	}

	return nil
}

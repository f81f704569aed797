package data

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ConversationsStore provides conversation database operations.
type ConversationsStore struct {
	coll *mongo.Collection
}

// NewConversationsStore returns a ConversationsStore using the given collection.
func NewConversationsStore(coll *mongo.Collection) *ConversationsStore {
	return &ConversationsStore{coll: coll}
}

// Create inserts a conversation with zeroed unread counters.
func (c *ConversationsStore) Create(ctx context.Context, conv *Conversation) error {
	if conv.UnreadCounts == nil {
		conv.UnreadCounts = make(map[string]int, len(conv.Participants))
	}
	for _, p := range conv.Participants {
		if _, err := fieldKey(p); err != nil {
			return err
		}
		if _, ok := conv.UnreadCounts[p]; !ok {
			conv.UnreadCounts[p] = 0
		}
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = time.Now()
	}
	_, err := c.coll.InsertOne(ctx, conv)
	return translate(err)
}

// Get finds a conversation by id.
func (c *ConversationsStore) Get(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	if err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&conv); err != nil {
		return nil, translate(err)
	}
	return &conv, nil
}

// ForParticipant lists every conversation userID takes part in, most recently
// active first.
func (c *ConversationsStore) ForParticipant(ctx context.Context, userID string) ([]*Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})

	// participants is an array; equality matches any element
	cursor, err := c.coll.Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var convs []*Conversation
	if err = cursor.All(ctx, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// RecordMessage sets the last-message snapshot and increments the receiver's
// unread counter by one in a single update. Recording the message that is
// already the snapshot is a no-op, so a retried send is counted once.
func (c *ConversationsStore) RecordMessage(ctx context.Context, id string, last LastMessage, receiverID string) error {
	key, err := fieldKey(receiverID)
	if err != nil {
		return err
	}

	filter := bson.M{
		"_id":                     id,
		"last_message.message_id": bson.M{"$ne": last.MessageID},
	}
	update := bson.M{
		"$set": bson.M{"last_message": last, "updated_at": last.Timestamp},
		"$inc": bson.M{"unread_counts." + key: 1},
	}
	res, err := c.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 1 {
		return nil
	}

	count, err := c.coll.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetUnread sets userID's unread counter to zero.
func (c *ConversationsStore) ResetUnread(ctx context.Context, id, userID string) error {
	key, err := fieldKey(userID)
	if err != nil {
		return err
	}

	res, err := c.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"unread_counts." + key: 0}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

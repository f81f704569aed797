package data

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MessagesStore provides message database operations.
type MessagesStore struct {
	// coll is reference to "messages" collection in MongoDB
	coll *mongo.Collection
}

// NewMessagesStore returns a MessagesStore using given collection.
func NewMessagesStore(coll *mongo.Collection) *MessagesStore {
	return &MessagesStore{coll: coll}
}

// Insert stores a new message. A message id that already exists returns
// ErrAlreadyExists.
func (m *MessagesStore) Insert(ctx context.Context, msg *Message) error {
	_, err := m.coll.InsertOne(ctx, msg)
	return translate(err)
}

// Get finds a message by id.
func (m *MessagesStore) Get(ctx context.Context, id string) (*Message, error) {
	var msg Message
	if err := m.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&msg); err != nil {
		return nil, translate(err)
	}
	return &msg, nil
}

// MarkDelivered moves a message from sent to delivered. It reports false
// without error when the message has already advanced past sent, which makes
// replay safe to run twice.
func (m *MessagesStore) MarkDelivered(ctx context.Context, id string, at time.Time) (bool, error) {
	filter := bson.M{"_id": id, "status": StatusSent}
	update := bson.M{"$set": bson.M{"status": StatusDelivered, "delivered_at": at}}
	return m.advance(ctx, id, filter, update)
}

// MarkRead moves a message from sent or delivered to read. Like MarkDelivered
// it never moves a message backwards.
func (m *MessagesStore) MarkRead(ctx context.Context, id string, at time.Time) (bool, error) {
	filter := bson.M{
		"_id":    id,
		"status": bson.M{"$in": bson.A{StatusSent, StatusDelivered}},
	}
	update := bson.M{"$set": bson.M{"status": StatusRead, "read_at": at}}
	return m.advance(ctx, id, filter, update)
}

// advance applies a status-guarded update. When the guard does not match it
// tells a missing message (ErrNotFound) apart from one already further along.
func (m *MessagesStore) advance(ctx context.Context, id string, filter, update bson.M) (bool, error) {
	res, err := m.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	if res.MatchedCount == 1 {
		return true, nil
	}

	count, err := m.coll.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return false, err
	}
	if count == 0 {
		return false, ErrNotFound
	}
	return false, nil
}

// Undelivered returns messages in the conversation addressed to receiverID that
// are still in sent state, oldest first.
func (m *MessagesStore) Undelivered(ctx context.Context, conversationID, receiverID string) ([]*Message, error) {
	filter := bson.M{
		"conversation_id": conversationID,
		"receiver_id":     receiverID,
		"status":          StatusSent,
	}
	// created_at ascending; _id breaks ties between messages created in the same millisecond
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

	cursor, err := m.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var messages []*Message
	if err = cursor.All(ctx, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

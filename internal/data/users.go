package data

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// UsersStore performs user DB operations.
type UsersStore struct {
	// coll is reference to "users" collection in MongoDB
	coll *mongo.Collection
}

// NewUsersStore returns a UsersStore using the provided collection.
func NewUsersStore(coll *mongo.Collection) *UsersStore {
	return &UsersStore{coll: coll}
}

// SetPresence records whether the user is connected. lastSeen is written only
// when going offline; a user document that does not exist is left alone.
func (u *UsersStore) SetPresence(ctx context.Context, userID string, online bool, lastSeen *time.Time) error {
	set := bson.M{"is_online": online}
	if lastSeen != nil {
		set["last_seen"] = *lastSeen
	}
	_, err := u.coll.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{"$set": set})
	return err
}

// GetUserByID finds a user by id.
func (u *UsersStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	var user User
	if err := u.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&user); err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// CreateUser inserts a user document.
func (u *UsersStore) CreateUser(ctx context.Context, user *User) error {
	_, err := u.coll.InsertOne(ctx, user)
	return translate(err)
}

package data

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// ReviewsStore aggregates review documents.
type ReviewsStore struct {
	coll *mongo.Collection
}

// NewReviewsStore returns a ReviewsStore using the given collection.
func NewReviewsStore(coll *mongo.Collection) *ReviewsStore {
	return &ReviewsStore{coll: coll}
}

// Create inserts a review.
func (r *ReviewsStore) Create(ctx context.Context, review *Review) error {
	_, err := r.coll.InsertOne(ctx, review)
	return translate(err)
}

// AverageRating returns the mean rating over all reviews of an entity and the
// number of reviews. count is 0 (and avg 0) when the entity has no reviews.
func (r *ReviewsStore) AverageRating(ctx context.Context, typ EntityType, entityID string) (avg float64, count int64, err error) {
	pipeline := mongo.Pipeline{
		// Stage 1: only this entity's reviews
		bson.D{{Key: "$match", Value: bson.D{
			{Key: "entity_type", Value: typ},
			{Key: "entity_id", Value: entityID},
		}}},
		// Stage 2: one group holding the mean and the count
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "avg", Value: bson.D{{Key: "$avg", Value: "$rating"}}},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}

	cursor, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, 0, err
	}
	defer cursor.Close(ctx)

	var results []struct {
		Avg   float64 `bson:"avg"`
		Count int64   `bson:"count"`
	}
	if err = cursor.All(ctx, &results); err != nil {
		return 0, 0, err
	}
	if len(results) == 0 {
		return 0, 0, nil
	}
	return results[0].Avg, results[0].Count, nil
}

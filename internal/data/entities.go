package data

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// EntitiesStore reads and updates the scored collections (businesses and
// locations). The two collections share the scoring fields so one store serves
// both, keyed by EntityType.
type EntitiesStore struct {
	colls map[EntityType]*mongo.Collection
}

// NewEntitiesStore returns an EntitiesStore over the businesses and locations collections.
func NewEntitiesStore(businesses, locations *mongo.Collection) *EntitiesStore {
	return &EntitiesStore{colls: map[EntityType]*mongo.Collection{
		EntityBusiness: businesses,
		EntityLocation: locations,
	}}
}

func (s *EntitiesStore) coll(typ EntityType) (*mongo.Collection, error) {
	c, ok := s.colls[typ]
	if !ok {
		return nil, fmt.Errorf("unknown entity type %q", typ)
	}
	return c, nil
}

// Create inserts an entity. Used by seeding and tests; the CRUD API owns
// entity creation in production.
func (s *EntitiesStore) Create(ctx context.Context, typ EntityType, e *Entity) error {
	c, err := s.coll(typ)
	if err != nil {
		return err
	}
	_, err = c.InsertOne(ctx, e)
	return translate(err)
}

// Get finds an entity by id.
func (s *EntitiesStore) Get(ctx context.Context, typ EntityType, id string) (*Entity, error) {
	c, err := s.coll(typ)
	if err != nil {
		return nil, err
	}

	var e Entity
	if err := c.FindOne(ctx, bson.M{"_id": id}).Decode(&e); err != nil {
		return nil, translate(err)
	}
	return &e, nil
}

// ApplyInteraction increments the activity count and overwrites the derived
// fields in one atomic document update, returning the document after the update.
// avg_rating is only written when the update carries one.
func (s *EntitiesStore) ApplyInteraction(ctx context.Context, typ EntityType, id string, upd InteractionUpdate) (*Entity, error) {
	c, err := s.coll(typ)
	if err != nil {
		return nil, err
	}

	set := bson.M{
		"last_interaction": upd.At,
		"heatmap_score":    upd.HeatmapScore,
	}
	if upd.AvgRating != nil {
		set["avg_rating"] = *upd.AvgRating
	}
	update := bson.M{
		"$inc": bson.M{"activity_count": upd.Increment},
		"$set": set,
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var e Entity
	if err := c.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&e); err != nil {
		return nil, translate(err)
	}
	return &e, nil
}

// TopByScore lists the highest scored entities of a type; used by the
// discovery heatmap.
func (s *EntitiesStore) TopByScore(ctx context.Context, typ EntityType, limit int64) ([]*Entity, error) {
	c, err := s.coll(typ)
	if err != nil {
		return nil, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "heatmap_score", Value: -1}, {Key: "_id", Value: 1}}).
		SetLimit(limit)
	cursor, err := c.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []*Entity
	if err = cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

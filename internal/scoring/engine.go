// Package scoring turns user interactions into the heatmap popularity score of
// businesses and locations.
//
// Each recorded interaction adds its weight to the entity's activity count and
// recomputes the cached score. An interaction on a business also credits half
// its weight to the business's location.
//
// Without transactions the business write and the location write commit
// separately: if the location is missing the business update stays applied
// and RecordInteraction returns ErrLocationNotFound.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/PaulBabatuyi/wayfare/internal/data"
	"github.com/PaulBabatuyi/wayfare/internal/metrics"
	"github.com/PaulBabatuyi/wayfare/internal/normalize"
)

var (
	ErrUnknownInteraction = errors.New("unknown interaction type")
	ErrUnknownEntityType  = errors.New("unknown entity type")
	ErrInvalidRating      = errors.New("rating must be between 1 and 5")
	ErrInvalidEntityID    = errors.New("entity id is required")
	ErrEntityNotFound     = errors.New("entity not found")
	ErrLocationNotFound   = errors.New("owning location not found")
)

// EntityStore reads and updates scored entities.
type EntityStore interface {
	Get(ctx context.Context, typ data.EntityType, id string) (*data.Entity, error)
	ApplyInteraction(ctx context.Context, typ data.EntityType, id string, upd data.InteractionUpdate) (*data.Entity, error)
}

// ReviewStore aggregates reviews of an entity.
type ReviewStore interface {
	AverageRating(ctx context.Context, typ data.EntityType, entityID string) (avg float64, count int64, err error)
}

// Transactor runs fn atomically when the backing store supports it.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Request is one interaction to record. Rating is only read for reviews.
type Request struct {
	EntityType  data.EntityType
	EntityID    string
	Interaction InteractionType
	Rating      *float64
}

// NewRequest validates raw input into a Request. All input errors are
// reported here, before anything is read or written.
func NewRequest(entityType, entityID, interaction string, rating *float64) (Request, error) {
	typ, err := ParseEntityType(entityType)
	if err != nil {
		return Request{}, err
	}
	it, err := ParseInteraction(interaction)
	if err != nil {
		return Request{}, err
	}
	id := normalize.ID(entityID)
	if id == "" {
		return Request{}, ErrInvalidEntityID
	}
	if rating != nil && (*rating < 1 || *rating > 5) {
		return Request{}, fmt.Errorf("%w: got %v", ErrInvalidRating, *rating)
	}
	return Request{EntityType: typ, EntityID: id, Interaction: it, Rating: rating}, nil
}

// Engine records interactions.
type Engine struct {
	entities EntityStore
	reviews  ReviewStore
	tx       Transactor
	metrics  *metrics.Metrics
	log      zerolog.Logger
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

func WithTransactor(tx Transactor) Option { return func(e *Engine) { e.tx = tx } }
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }
func WithLogger(l zerolog.Logger) Option { return func(e *Engine) { e.log = l } }
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// NewEngine returns an Engine over the given stores.
func NewEngine(entities EntityStore, reviews ReviewStore, opts ...Option) *Engine {
	e := &Engine{
		entities: entities,
		reviews:  reviews,
		log:      zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RecordInteraction applies one interaction and returns the updated entity.
func (e *Engine) RecordInteraction(ctx context.Context, req Request) (*data.Entity, error) {
	weight, ok := req.Interaction.Weight()
	if !ok {
		e.metrics.ScoringError("unknown_interaction")
		return nil, fmt.Errorf("%w: %q", ErrUnknownInteraction, req.Interaction)
	}
	if req.EntityType != data.EntityBusiness && req.EntityType != data.EntityLocation {
		e.metrics.ScoringError("unknown_entity_type")
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntityType, req.EntityType)
	}
	if req.Rating != nil && (*req.Rating < 1 || *req.Rating > 5) {
		e.metrics.ScoringError("invalid_rating")
		return nil, fmt.Errorf("%w: got %v", ErrInvalidRating, *req.Rating)
	}

	var updated *data.Entity
	run := func(ctx context.Context) error {
		var err error
		updated, err = e.record(ctx, req, weight)
		return err
	}

	var err error
	if e.tx != nil {
		err = e.tx.WithTransaction(ctx, run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		e.metrics.ScoringError(reason(err))
		return nil, err
	}

	e.metrics.Interaction(string(req.EntityType), string(req.Interaction), updated.HeatmapScore)
	return updated, nil
}

func (e *Engine) record(ctx context.Context, req Request, weight float64) (*data.Entity, error) {
	ent, err := e.entities.Get(ctx, req.EntityType, req.EntityID)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s %s", ErrEntityNotFound, req.EntityType, req.EntityID)
		}
		return nil, fmt.Errorf("load %s: %w", req.EntityType, err)
	}

	avg := ent.AvgRating
	var newAvg *float64
	if req.Interaction == Review && req.Rating != nil {
		mean, count, err := e.reviews.AverageRating(ctx, req.EntityType, req.EntityID)
		if err != nil {
			return nil, fmt.Errorf("average rating: %w", err)
		}
		// The review document is written by the review API before the
		// interaction is recorded; with no documents visible yet the
		// submitted rating is the only one there is.
		if count == 0 {
			mean = *req.Rating
		}
		avg = mean
		newAvg = &avg
	}

	// Decay uses the last interaction before this one, while the activity
	// count already includes this interaction's weight.
	now := e.now()
	score := HeatmapScore(ent.ActivityCount+weight, avg, DecayFactor(ent.LastInteraction, now))

	updated, err := e.entities.ApplyInteraction(ctx, req.EntityType, req.EntityID, data.InteractionUpdate{
		Increment:    weight,
		AvgRating:    newAvg,
		At:           now,
		HeatmapScore: score,
	})
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s %s", ErrEntityNotFound, req.EntityType, req.EntityID)
		}
		return nil, fmt.Errorf("update %s: %w", req.EntityType, err)
	}

	e.log.Debug().
		Str("entity_type", string(req.EntityType)).
		Str("entity_id", req.EntityID).
		Str("interaction", string(req.Interaction)).
		Int("score", score).
		Msg("interaction recorded")

	if req.EntityType == data.EntityBusiness {
		if err := e.propagate(ctx, ent.LocationID, weight*propagationShare, now); err != nil {
			return nil, err
		}
	}
	return updated, nil
}

// propagate credits a business interaction to its location. The location's
// average rating is read for the score but never written.
func (e *Engine) propagate(ctx context.Context, locationID string, increment float64, now time.Time) error {
	if locationID == "" {
		return fmt.Errorf("%w: business has no location", ErrLocationNotFound)
	}

	loc, err := e.entities.Get(ctx, data.EntityLocation, locationID)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrLocationNotFound, locationID)
		}
		return fmt.Errorf("load location: %w", err)
	}

	score := HeatmapScore(loc.ActivityCount+increment, loc.AvgRating, DecayFactor(loc.LastInteraction, now))
	_, err = e.entities.ApplyInteraction(ctx, data.EntityLocation, locationID, data.InteractionUpdate{
		Increment:    increment,
		At:           now,
		HeatmapScore: score,
	})
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrLocationNotFound, locationID)
		}
		return fmt.Errorf("update location: %w", err)
	}
	return nil
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrEntityNotFound):
		return "entity_not_found"
	case errors.Is(err, ErrLocationNotFound):
		return "location_not_found"
	default:
		return "store"
	}
}

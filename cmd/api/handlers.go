package main

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/PaulBabatuyi/wayfare/internal/data"
	"github.com/PaulBabatuyi/wayfare/internal/scoring"
)

const (
	defaultTopLimit = 10
	maxTopLimit     = 100
)

// RecordInteraction credits one interaction to a business or location and
// returns the updated entity.
//
// Request fields: entityType, entityId, interactionType, rating (optional).
func (s *Server) RecordInteraction(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	claims, ok := getClaimsFromContext(ctx)
	if !ok {
		return nil, status.Errorf(codes.Unauthenticated, "missing auth claims")
	}

	fields := req.GetFields()
	var rating *float64
	if v, ok := fields["rating"]; ok {
		if _, isNull := v.GetKind().(*structpb.Value_NullValue); !isNull {
			n, isNum := v.GetKind().(*structpb.Value_NumberValue)
			if !isNum {
				return nil, status.Errorf(codes.InvalidArgument, "rating must be a number")
			}
			rating = &n.NumberValue
		}
	}

	in, err := scoring.NewRequest(
		fields["entityType"].GetStringValue(),
		fields["entityId"].GetStringValue(),
		fields["interactionType"].GetStringValue(),
		rating,
	)
	if err != nil {
		return nil, interactionError(err)
	}

	ent, err := s.engine.RecordInteraction(ctx, in)
	if err != nil {
		s.log.Warn().Err(err).
			Str("user_id", claims.UserID).
			Str("entity_id", in.EntityID).
			Str("interaction", string(in.Interaction)).
			Msg("record interaction failed")
		return nil, interactionError(err)
	}

	out, err := structpb.NewStruct(entityFields(in.EntityType, ent))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode entity: %v", err)
	}
	return out, nil
}

// TopEntities lists the highest scoring entities of one type.
//
// Request fields: entityType, limit (optional, default 10, max 100).
func (s *Server) TopEntities(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if _, ok := getClaimsFromContext(ctx); !ok {
		return nil, status.Errorf(codes.Unauthenticated, "missing auth claims")
	}

	fields := req.GetFields()
	typ, err := scoring.ParseEntityType(fields["entityType"].GetStringValue())
	if err != nil {
		return nil, interactionError(err)
	}
	limit := int64(fields["limit"].GetNumberValue())
	if limit <= 0 {
		limit = defaultTopLimit
	}
	if limit > maxTopLimit {
		limit = maxTopLimit
	}

	ents, err := s.entities.TopByScore(ctx, typ, limit)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to list entities")
	}

	now := time.Now()
	list := make([]any, 0, len(ents))
	for _, e := range ents {
		f := entityFields(typ, e)
		// heatmapScore is as of the last interaction; currentScore applies decay up to now.
		f["currentScore"] = scoring.Score(e, now)
		list = append(list, f)
	}
	out, err := structpb.NewStruct(map[string]any{"entities": list})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode entities: %v", err)
	}
	return out, nil
}

func entityFields(typ data.EntityType, e *data.Entity) map[string]any {
	m := map[string]any{
		"entityType":    string(typ),
		"id":            e.ID,
		"name":          e.Name,
		"activityCount": e.ActivityCount,
		"avgRating":     e.AvgRating,
		"heatmapScore":  e.HeatmapScore,
	}
	if e.LocationID != "" {
		m["locationId"] = e.LocationID
	}
	if e.LastInteraction != nil {
		m["lastInteraction"] = e.LastInteraction.UTC().Format(time.RFC3339Nano)
	}
	return m
}

// interactionError maps scoring errors onto gRPC status codes.
func interactionError(err error) error {
	switch {
	case errors.Is(err, scoring.ErrUnknownInteraction),
		errors.Is(err, scoring.ErrUnknownEntityType),
		errors.Is(err, scoring.ErrInvalidRating),
		errors.Is(err, scoring.ErrInvalidEntityID):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, scoring.ErrEntityNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, scoring.ErrLocationNotFound):
		// the business side has already been written
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, "failed to record interaction")
	}
}

package scoring

import (
	"fmt"

	"github.com/PaulBabatuyi/wayfare/internal/data"
	"github.com/PaulBabatuyi/wayfare/internal/normalize"
)

// InteractionType is a tracked user action that credits an entity.
type InteractionType string

const (
	Review      InteractionType = "review"
	View        InteractionType = "view"
	Bookmark    InteractionType = "bookmark"
	Share       InteractionType = "share"
	Post        InteractionType = "post"
	ChatMention InteractionType = "chat_mention"
)

var weights = map[InteractionType]float64{
	Review:      1.0,
	Share:       0.8,
	Post:        0.6,
	Bookmark:    0.2,
	ChatMention: 0.15,
	View:        0.1,
}

// Weight returns the activity credit of the interaction, and false for an
// unknown type.
func (t InteractionType) Weight() (float64, bool) {
	w, ok := weights[t]
	return w, ok
}

// ParseInteraction validates an interaction type name. Unknown names are an
// error; there is no default weight.
func ParseInteraction(s string) (InteractionType, error) {
	t := InteractionType(normalize.Kind(s))
	if _, ok := weights[t]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownInteraction, s)
	}
	return t, nil
}

// ParseEntityType validates an entity type name ("Business", "location", ...).
func ParseEntityType(s string) (data.EntityType, error) {
	switch t := data.EntityType(normalize.Kind(s)); t {
	case data.EntityBusiness, data.EntityLocation:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEntityType, s)
	}
}

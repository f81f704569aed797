// Package data provides DB models and stores.
package data

import (
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidKey    = errors.New("invalid map key")
)

// translate maps driver errors onto the package sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
	default:
		return err
	}
}

// fieldKey checks that an id can be used as a document field name. User ids
// become keys of unread_counts, where '.' and '$' would change the update path.
func fieldKey(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, ".$") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, id)
	}
	return id, nil
}

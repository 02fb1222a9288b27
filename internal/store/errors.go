package store

import (
	"errors"

	"github.com/google/uuid"
)

// errNotFound is wrapped into lookup errors; callers use errors.Is to
// translate it into envelope.NotFoundDetail at the API boundary.
var errNotFound = errors.New("not found")

// IsNotFound reports whether err ultimately wraps errNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, errNotFound)
}

func newJobID() string {
	return "job-" + uuid.New().String()
}

package repo

import (
	"errors"
	"fmt"

	"github.com/dfalcao/parley/internal/model"
)

// ErrEmptyMessage rejects a send carrying neither text nor media. It is
// the content invariant surfacing at the operation boundary.
var ErrEmptyMessage = model.ErrEmptyContent

// ErrInvalidParticipants rejects chat creation with no valid recipients
// or without the caller included.
var ErrInvalidParticipants = errors.New("chat needs the caller and at least one other participant")

// ErrMediaUnavailable rejects a send whose local media file cannot be
// reached at send time.
var ErrMediaUnavailable = errors.New("media file unreachable")

// PersistenceError wraps a durable-store failure. Operations that return
// it performed no partial writes: the underlying transaction aborted as
// a unit.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

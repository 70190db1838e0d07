package orchestrator

import (
	"errors"
	"fmt"
)

// ErrEmptyQuery rejects a request before any phase begins.
var ErrEmptyQuery = errors.New("query is required and must be a non-empty string")

// PersistenceError wraps a session store failure. It aborts the run.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("session store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsPersistenceError reports whether err came from the session store.
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

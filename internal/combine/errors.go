package combine

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidOptions is returned by New when the engine cannot be built.
	ErrInvalidOptions = errors.New("combine: invalid options")

	// ErrNotFound means no item in the list resolved to an eligible file.
	ErrNotFound = errors.New("combine: no items resolved")
)

// StatusError is a failure that aborts the whole combine request.
// Code is the HTTP status to answer with, Err the underlying cause.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("combine: %d %s: %v", e.Code, http.StatusText(e.Code), e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

func internalError(err error) *StatusError {
	return &StatusError{Code: http.StatusInternalServerError, Err: err}
}

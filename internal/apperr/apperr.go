// Package apperr defines the error kinds shared by the storage, attachment
// and HTTP layers.
package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrNotFound means no record or blob matched the identifier.
	ErrNotFound = errors.New("not found")
	// ErrInvalidID means the identifier is malformed.
	ErrInvalidID = errors.New("invalid id")
	// ErrIntegrity means a lookup by id matched more than one record.
	ErrIntegrity = errors.New("integrity violation")
	// ErrStorage means the backing store failed or is unreachable.
	ErrStorage = errors.New("storage failure")
	// ErrTooLarge means an upload exceeded the configured size limit.
	ErrTooLarge = errors.New("content too large")
	// ErrConflict means a unique value such as a username is already taken.
	ErrConflict = errors.New("already exists")
	// ErrOrphaned means a blob was stored but could not be linked to its item.
	ErrOrphaned = errors.New("attachment stored but not linked")
)

// Failure records one failed step of a multi-step operation.
type Failure struct {
	ID  string `json:"id"`
	Err error  `json:"-"`
}

// MarshalJSON reports the failure cause as a message.
func (f Failure) MarshalJSON() ([]byte, error) {
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	return json.Marshal(struct {
		ID    string `json:"id"`
		Error string `json:"error"`
	}{f.ID, msg})
}

// PartialFailure is returned when secondary cleanup steps failed while the
// primary operation succeeded.
type PartialFailure struct {
	Op       string
	Failures []Failure
}

func (e *PartialFailure) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.ID, f.Err))
	}
	return fmt.Sprintf("%s: %d step(s) failed: %s", e.Op, len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e *PartialFailure) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// Storage wraps a driver error so callers can match it with ErrStorage.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

// HTTPStatus maps an error to the status code a handler should respond with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidID):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

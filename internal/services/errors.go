package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when a transaction id is unknown.
	ErrNotFound = errors.New("transaction not found")

	// ErrInvalidState is returned when a transition is attempted from a
	// terminal state. The record is left untouched.
	ErrInvalidState = errors.New("transaction already in a terminal state")

	// ErrConflict is returned when a bounded number of retries lost a race,
	// or when a second auto-approval run is attempted while one is active.
	// The caller may retry the whole operation.
	ErrConflict = errors.New("concurrent update conflict")
)

// ValidationError carries the violated fields of a create or policy-update
// request. No state is mutated when it is returned.
type ValidationError struct {
	Fields map[string]string
}

func newValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string]string)}
}

func (e *ValidationError) add(field, msg string) {
	e.Fields[field] = msg
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Fields))
	for f := range e.Fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fmt.Sprintf("validation failed: %s", strings.Join(fields, ", "))
}

// AsValidationError unwraps err into a *ValidationError if it is one.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

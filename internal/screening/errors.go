package screening

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation is returned when a turn is missing or has malformed fields.
	ErrValidation = errors.New("screening: invalid turn")

	// ErrInvalidSessionState is returned for turns against a terminated or
	// otherwise inconsistent session.
	ErrInvalidSessionState = errors.New("screening: invalid session state")

	// ErrAlreadyTerminated is returned when a session is terminated twice.
	ErrAlreadyTerminated = fmt.Errorf("%w: session already terminated", ErrInvalidSessionState)

	// ErrModelCall is returned when the generative model could not be reached
	// or timed out. The turn can be retried as is.
	ErrModelCall = errors.New("screening: model call failed")

	// ErrSchemaViolation is returned when the model reply does not match the
	// expected structure.
	ErrSchemaViolation = errors.New("screening: model reply violates schema")
)

// SchemaViolationError lists what was wrong with a model reply.
type SchemaViolationError struct {
	Problems []string
}

func (e *SchemaViolationError) Error() string {
	if len(e.Problems) == 0 {
		return ErrSchemaViolation.Error()
	}
	return fmt.Sprintf("%s: %s", ErrSchemaViolation.Error(), strings.Join(e.Problems, "; "))
}

func (e *SchemaViolationError) Unwrap() error {
	return ErrSchemaViolation
}

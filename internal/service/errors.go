package service

import (
	"errors"
	"fmt"

	"github.com/iliyamo/foodbridge/internal/policy"
	"github.com/iliyamo/foodbridge/internal/repository"
)

// Errors returned by the lifecycle engine.  Handlers map them to HTTP
// status codes; anything else is an internal error.
var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = policy.ErrForbidden
	ErrInvalidStatus     = errors.New("invalid status")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrAlreadyClaimed    = errors.New("donation already claimed")
	ErrAlreadyAssigned   = errors.New("delivery already assigned")
	ErrStaleWrite        = repository.ErrStaleWrite
)

// ValidationError reports a malformed or missing input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// TransactionFailure is returned when the store failed part-way through a
// cascade.  None of the cascade's writes were applied.
type TransactionFailure struct {
	Op  string
	Err error
}

func (e *TransactionFailure) Error() string {
	return fmt.Sprintf("%s: transaction failed: %v", e.Op, e.Err)
}

func (e *TransactionFailure) Unwrap() error { return e.Err }

func notFound(entity string) error {
	return fmt.Errorf("%s: %w", entity, ErrNotFound)
}

// lookup converts a repository miss into a service ErrNotFound naming entity.
func lookup(entity string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return notFound(entity)
	}
	return err
}

func transition(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalidTransition)
}

// domainError reports whether err is part of the engine's error taxonomy, as
// opposed to a store failure.
func domainError(err error) bool {
	var ve *ValidationError
	var tf *TransactionFailure
	switch {
	case errors.As(err, &ve), errors.As(err, &tf):
		return true
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrForbidden),
		errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrAlreadyClaimed), errors.Is(err, ErrAlreadyAssigned),
		errors.Is(err, ErrStaleWrite):
		return true
	}
	return false
}

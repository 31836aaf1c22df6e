package service

import (
	"errors"
	"fmt"

	"lipdub/internal/repository"
)

// Error taxonomy shared by every client-facing operation. Handlers map these
// to HTTP status and reason codes.
var (
	ErrValidation   = errors.New("invalid argument")
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExternal     = errors.New("upstream unavailable")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func conflictError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// classify folds repository sentinels into the taxonomy. Anything else is
// returned wrapped with op and ends up as an internal error.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrTransactionNotFound),
		errors.Is(err, repository.ErrVideoNotFound),
		errors.Is(err, repository.ErrLanguageNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, repository.ErrStateConflict):
		return fmt.Errorf("%w: %s: %w", ErrConflict, op, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

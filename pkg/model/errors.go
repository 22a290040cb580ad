package model

import (
	"errors"
	"fmt"
)

// Error categories for the event pipeline. Validation and not-found
// errors are rejected before persistence; persistence errors abort the
// operation and suppress fanout. All of them are reported back to the
// originating connection only.
var (
	ErrValidation  = errors.New("invalid payload")
	ErrNotFound    = errors.New("not found")
	ErrPersistence = errors.New("persistence failure")
	ErrAuth        = errors.New("unauthorized")
)

func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

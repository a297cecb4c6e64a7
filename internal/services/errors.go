package services

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound  = errors.New("task not found")
	ErrForbidden = errors.New("task belongs to another user")
	ErrConflict  = errors.New("task list was modified concurrently, retry the request")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func newValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

package utils

import (
	"errors"
	"fmt"
)

// AppError wraps an operation, human-facing message, and underlying error.
type AppError struct {
	Op  string
	Msg string
	Err error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}

// Messager is implemented by errors that carry a message meant for API callers
// rather than the full wrapped chain.
type Messager interface {
	PublicMessage() string
}

// PublicMessage returns the innermost caller-facing message in err's chain, or
// err.Error() when no error in the chain provides one.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	var m Messager
	if errors.As(err, &m) {
		if msg := m.PublicMessage(); msg != "" {
			return msg
		}
	}
	return err.Error()
}

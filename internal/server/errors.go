package server

import (
	"errors"
	"fmt"
)

var (
	ErrAuthCancelled       = errors.New("registration cancelled by client")
	ErrAuthInvalidResponse = errors.New("invalid registration response")
	ErrAuthFailed          = errors.New("authentication failed")
	ErrInvalidUsername     = errors.New("invalid username")
	ErrLineTooLong         = errors.New("line exceeds maximum length")
)

// IOError is a failed read or write on a client connection.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

func isAuthError(err error) bool {
	return errors.Is(err, ErrAuthCancelled) ||
		errors.Is(err, ErrAuthInvalidResponse) ||
		errors.Is(err, ErrAuthFailed) ||
		errors.Is(err, ErrInvalidUsername)
}

package database

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound  = errors.New("key not found")
	ErrKeyExists = errors.New("key already exists")
)

// StoreError reports a failed read or write against a backend.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("store %s %q: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

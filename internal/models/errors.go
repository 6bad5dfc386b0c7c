package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("conversation not found")
	ErrSendInProgress = errors.New("a message is already awaiting a response")
)

// ValidationError reports input that was declined before any work happened.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// NotFoundError is returned for operations on an unknown conversation id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("conversation %q not found", e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// GatewayError is a failed call to the completion, speech or image gateway.
// Message is the gateway's own message, untouched.
type GatewayError struct {
	Status  int
	Message string
	Type    string
	Err     error
}

func (e *GatewayError) Error() string {
	return e.Message
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// PersistenceError is a failed store read or write. It never invalidates the
// in-memory state of the session.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// ImportFormatError rejects an imported conversation document.
type ImportFormatError struct {
	Reason string
	Err    error
}

func (e *ImportFormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("import: %s: %v", e.Reason, e.Err)
	}
	return "import: " + e.Reason
}

func (e *ImportFormatError) Unwrap() error {
	return e.Err
}

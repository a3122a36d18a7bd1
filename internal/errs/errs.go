// Package errs defines the engine's error taxonomy. Components map
// collaborator failures into these classes and react by retrying,
// queueing, or dropping -- never by crashing the event stream.
package errs

import (
	"errors"
	"fmt"
)

// Class categorizes an engine error.
type Class string

const (
	// TransientIO is a persistence or network hiccup. Retry with
	// backoff; after bounded attempts the affected send goes to failed.
	TransientIO Class = "TRANSIENT_IO"

	// Conflict means reconciliation found a contradictory identity
	// mapping. The earlier-applied value wins; the conflict is logged.
	Conflict Class = "CONFLICT"

	// MalformedEvent is an unparseable push payload. Dropped and logged.
	MalformedEvent Class = "MALFORMED_EVENT"

	// NotConnected means a send was attempted while the push channel is
	// down. The message stays queued and is flushed on reconnect.
	NotConnected Class = "NOT_CONNECTED"
)

// Error is a classified engine error.
type Error struct {
	Class   Class
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Class, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Class, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates a classified error.
func New(class Class, message string) *Error {
	return &Error{Class: class, Message: message}
}

// Wrap classifies an underlying error.
func Wrap(err error, class Class, message string) *Error {
	return &Error{Class: class, Message: message, Cause: err}
}

// ClassOf returns the class of err, or "" for unclassified errors.
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// IsRetryable reports whether err is worth retrying. Only transient
// I/O qualifies; conflicts and malformed events never resolve by retry.
func IsRetryable(err error) bool {
	return ClassOf(err) == TransientIO
}

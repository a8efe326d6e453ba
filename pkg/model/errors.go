package model

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when an object is not found
	ErrNotFound = errors.New("object not found")
	// ErrExists is returned when trying to create an object that already exists
	ErrExists = errors.New("object already exists")
	// ErrUnknownCollection is returned when no schema is registered for a collection
	ErrUnknownCollection = errors.New("unknown collection")
	// ErrUnknownOperation is returned for a batch sub-operation with an unrecognized tag
	ErrUnknownOperation = errors.New("unknown operation")
	// ErrMissingPlaceholder is returned for a batched create without a placeholder;
	// its generated key could never be recovered from the batch result
	ErrMissingPlaceholder = errors.New("create sub-operation requires a placeholder")
	// ErrUnsupportedKey is returned when a collection's primary-key declaration
	// is empty or otherwise unusable
	ErrUnsupportedKey = errors.New("unsupported primary key shape")
	// ErrInvalidOperation is returned when an operation tuple is malformed
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrInvariant indicates a bug in the change derivation itself, such as
	// pre-execution info whose kind does not match the computing watcher
	ErrInvariant = errors.New("change info invariant violated")
	// ErrCanceled is returned when the operation is canceled by the client
	ErrCanceled = errors.New("operation canceled")
)

// WrapError converts context cancellation into ErrCanceled and passes
// everything else through unchanged.
func WrapError(err error) error {
	if err == nil {
		return nil
	}
	if IsCanceled(err) {
		return ErrCanceled
	}
	return err
}

// IsCanceled returns true if the error is due to context cancellation or
// deadline exceeded. It checks both direct context errors and wrapped errors
// (e.g., from the MongoDB driver).
func IsCanceled(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "context canceled") || strings.Contains(msg, "context deadline exceeded")
}

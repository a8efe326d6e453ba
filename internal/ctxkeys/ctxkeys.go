// Package ctxkeys provides unified context keys for the application.
// This package consolidates all context keys to avoid duplication and ensure consistency.
package ctxkeys

// Key is the type for all context keys in the application.
// Using a dedicated type prevents collisions with keys from other packages.
type Key string

const (
	// KeyRequestID identifies one operation's trip through the pipeline.
	KeyRequestID Key = "request_id"

	// KeyPendingChanges carries the pre-execution change info attached to
	// the call forwarded downstream, so sibling pipeline stages can inspect
	// intended changes before they land.
	KeyPendingChanges Key = "pending_changes"
)

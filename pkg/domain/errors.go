package domain

import (
	"errors"
	"fmt"
)

// ConfigurationError reports an invalid entity registry (cycles, dangling
// references, missing identity columns). It is fatal at startup and blocks
// every operation.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("registry configuration: %s", e.Reason)
}

// ValidationError reports a malformed snapshot, a missing mapping entry, or
// a workspace/namespace mismatch. It is raised before any mutation and
// aborts with zero side effects.
type ValidationError struct {
	Entity EntityType
	RowID  string
	Reason string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Entity != "" && e.RowID != "":
		return fmt.Sprintf("validation: %s row %s: %s", e.Entity, e.RowID, e.Reason)
	case e.Entity != "":
		return fmt.Sprintf("validation: %s: %s", e.Entity, e.Reason)
	default:
		return fmt.Sprintf("validation: %s", e.Reason)
	}
}

// ReferentialIntegrityError reports an insertion-time foreign key that could
// not be resolved against the mapping set or snapshot. The whole restore is
// rolled back; the offending row is dumped alongside the structured fields.
type ReferentialIntegrityError struct {
	Entity EntityType
	RowID  string
	Column string
	Value  string
	Row    Row
}

func (e *ReferentialIntegrityError) Error() string {
	return fmt.Sprintf("referential integrity: %s row %s column %q: unresolved reference %q", e.Entity, e.RowID, e.Column, e.Value)
}

// TransientStoreError wraps a backend failure that is worth retrying
// (connectivity, lock timeouts). It is the only error class the engine
// retries automatically.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("transient store error during %s: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientStoreError.
func IsTransient(err error) bool {
	var transient *TransientStoreError
	return errors.As(err, &transient)
}

// ConcurrencyConflictError reports that the target workspace is already
// locked by another capture or restore. Callers must retry later; the engine
// never queues behind an active operation.
type ConcurrencyConflictError struct {
	WorkspaceID string
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("workspace %s is locked by another operation", e.WorkspaceID)
}

package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors shared by all drivers. Drivers translate their native
// error codes into these so callers never match on driver-specific types.
var (
	// ErrNotFound is returned when a single-row lookup matches nothing.
	ErrNotFound = errors.New("not found")
	// ErrStaleVersion is returned by versioned updates when the row was
	// modified concurrently (or no longer exists).
	ErrStaleVersion = errors.New("stale version")
	// ErrForeignKeyViolation is returned when an insert references a row
	// deleted mid-flight, e.g. an attempt for a post removed by a bulk op.
	ErrForeignKeyViolation = errors.New("foreign key violation")
	// ErrAlreadyExists is returned on unique-index violations.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNestedTx is returned when RunInTx is entered from inside a
	// transaction. One unit of work opens exactly one transaction.
	ErrNestedTx = errors.New("nested transaction")
)

// normalizeRow stamps identity, timestamps and the initial version on a row
// about to be inserted. Values already set are kept so tests can pin ids.
func normalizeRow(id *string, createdTs, updatedTs *int64, version *int32) {
	if *id == "" {
		*id = uuid.NewString()
	}
	if *createdTs == 0 {
		*createdTs = time.Now().Unix()
	}
	if *updatedTs == 0 {
		*updatedTs = *createdTs
	}
	if *version == 0 {
		*version = 1
	}
}

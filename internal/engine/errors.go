package engine

import (
	"errors"
	"fmt"

	"github.com/kilupskalvis/qsync/internal/models"
)

// Sentinel errors for expected conditions.
var (
	// ErrUnknownRecord is returned when a mutation names a record not in the snapshot.
	ErrUnknownRecord = errors.New("unknown record")
	// ErrRecordUnconfirmed is returned when a mutation targets a record whose create is still in flight.
	ErrRecordUnconfirmed = errors.New("record not yet confirmed by remote")
	// ErrRemoteRejected is matched by every OperationError.
	ErrRemoteRejected = errors.New("remote rejected operation")
	// ErrInvalidatedByRollback is returned when an earlier action on the same
	// record failed and this one no longer applies to the restored state.
	ErrInvalidatedByRollback = errors.New("invalidated by rollback of an earlier action")
)

// OperationError reports a gateway failure after the optimistic change was
// rolled back. Transport failures and error statuses are not distinguished.
type OperationError struct {
	RecordID string
	Op       models.ActionKind
	Err      error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.RecordID, e.Err)
}

// Unwrap exposes both ErrRemoteRejected and the gateway error.
func (e *OperationError) Unwrap() []error {
	return []error{ErrRemoteRejected, e.Err}
}

package room

import (
	"errors"
	"fmt"
)

// Sentinel errors for registry operations.
var (
	// ErrApply is matched by every *ApplyError.
	ErrApply = errors.New("room: update rejected")

	// ErrSync is matched by every *SyncError.
	ErrSync = errors.New("room: sync failed")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("room: registry closed")
)

// ApplyError reports that a room's document rejected an update. The update
// was not applied and must not be broadcast.
type ApplyError struct {
	Room string
	Code int   // Engine result code, nonzero
	Err  error // Commit error, if the failure happened at commit
}

// Error returns the error message with room context.
func (e *ApplyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("room: %s: apply update: commit: %v", e.Room, e.Err)
	}
	return fmt.Sprintf("room: %s: apply update: result %d", e.Room, e.Code)
}

// Unwrap returns the underlying errors for errors.Is/As.
func (e *ApplyError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrApply, e.Err}
	}
	return []error{ErrApply}
}

// SyncError reports a failed state vector or diff computation.
type SyncError struct {
	Room string
	Op   string // "state_vector" or "state_diff"
	Err  error
}

// Error returns the error message with room context.
func (e *SyncError) Error() string {
	return fmt.Sprintf("room: %s: %s: %v", e.Room, e.Op, e.Err)
}

// Unwrap returns the underlying errors for errors.Is/As.
func (e *SyncError) Unwrap() []error {
	return []error{ErrSync, e.Err}
}

package state

import (
	"errors"
	"fmt"

	"github.com/terrane-io/terrane/pkg/addrs"
)

// ConflictError reports a serial mismatch on Put: another run mutated the
// record since the caller read it. Nothing was overwritten.
type ConflictError struct {
	Address  addrs.Resource
	Expected uint64
	Actual   uint64
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("state conflict on %s: expected serial %d, store has %d",
		e.Address, e.Expected, e.Actual)
}

// LockError reports that another run already holds the store lock.
type LockError struct {
	// Info describes the current holder when known.
	Info *LockInfo
}

// Error implements the error interface.
func (e *LockError) Error() string {
	if e.Info != nil {
		return fmt.Sprintf("state locked by %s since %s (lock %s)",
			e.Info.Who, e.Info.Created.Format("2006-01-02T15:04:05Z07:00"), e.Info.ID)
	}
	return "state is locked by another run"
}

// IsConflict returns true if the error chain contains a ConflictError.
func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

// IsLocked returns true if the error chain contains a LockError.
func IsLocked(err error) bool {
	var e *LockError
	return errors.As(err, &e)
}

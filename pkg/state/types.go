// Package state provides the durable record of last-applied resource
// attributes. A Store is read before diffing and written after each
// successful operation, under a run-scoped mutual-exclusion lock. Serial
// numbers on each record guard against lost updates from concurrent runs.
package state

import (
	"context"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/terrane-io/terrane/pkg/addrs"
)

// StateRecord is the last-applied attribute set for one address. It is the
// only entity that outlives a run.
//
//nolint:revive // state.StateRecord reads better than state.Record at call sites
type StateRecord struct {
	// Address is the resource this record belongs to.
	Address addrs.Resource `json:"address"`

	// Attrs is the attribute set reported by the executor after the last
	// successful apply.
	Attrs map[string]cty.Value `json:"-"`

	// Dependencies are the addresses this resource depended on when it was
	// applied. Kept so that resources removed from configuration can still
	// be destroyed in reverse dependency order.
	Dependencies []addrs.Resource `json:"dependencies,omitempty"`

	// Serial increases by one on every successful Put. Serial 0 never
	// appears in a stored record; the first write stores serial 1.
	Serial uint64 `json:"serial"`

	// UpdatedAt is when the record was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

// LockInfo describes the holder of the store lock, for diagnostics when a
// second run is refused.
type LockInfo struct {
	// ID is the lock id, assigned at acquisition.
	ID string `json:"id"`

	// Operation is what the holder is doing, e.g. "apply".
	Operation string `json:"operation"`

	// Who identifies the holder (user@host or similar).
	Who string `json:"who"`

	// Created is when the lock was acquired.
	Created time.Time `json:"created"`
}

// Store is the logical state store interface. Implementations must make Put
// atomic with respect to the serial check; no other component assumes
// exclusivity beyond the store lock.
type Store interface {
	// Get returns the record for addr, or nil when none exists.
	Get(ctx context.Context, addr addrs.Resource) (*StateRecord, error)

	// Put writes rec. expectedSerial is the serial the caller last read for
	// this address, or 0 when the caller believes no record exists. When the
	// stored serial differs, Put fails with *ConflictError and writes
	// nothing. On success the stored record carries serial expectedSerial+1
	// (also written back to rec.Serial).
	Put(ctx context.Context, rec *StateRecord, expectedSerial uint64) error

	// Delete removes the record for addr. Deleting an absent record is not
	// an error.
	Delete(ctx context.Context, addr addrs.Resource) error

	// List returns every recorded address in canonical order.
	List(ctx context.Context) ([]addrs.Resource, error)

	// Lock acquires the store-wide lock for the duration of a run. It
	// returns a lock id for Unlock, or *LockError when another run holds
	// the lock.
	Lock(ctx context.Context, info *LockInfo) (string, error)

	// Unlock releases the lock previously acquired with the given id.
	Unlock(ctx context.Context, id string) error

	// Close releases any underlying resources.
	Close() error
}

// RunRecord is the journal entry for one completed run.
type RunRecord struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	Duration    time.Duration
	Applied     int    `json:"applied"`
	Failed      int    `json:"failed"`
	Skipped     int    `json:"skipped"`
	NoOp        int    `json:"no_op"`
	Error       string `json:"error,omitempty"`
	NodeResults []NodeResult
}

// NodeResult is the journaled outcome of one node in a run.
type NodeResult struct {
	Address  addrs.Resource `json:"address"`
	Action   string         `json:"action"`
	Status   string         `json:"status"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration
}

// Journal persists run outcomes alongside state. Stores may implement it;
// the scheduler treats it as optional.
type Journal interface {
	// SaveRun appends a run record with its node results.
	SaveRun(ctx context.Context, run *RunRecord) error

	// ListRuns returns recorded runs, most recent first.
	ListRuns(ctx context.Context, limit int) ([]*RunRecord, error)
}

package state

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zclconf/go-cty/cty"

	"github.com/terrane-io/terrane/pkg/addrs"
)

// MemoryStore is an in-process Store used for tests and ephemeral runs. All
// operations are safe for concurrent use; Put performs its serial check
// atomically under the store mutex.
type MemoryStore struct {
	mu      sync.Mutex
	records map[addrs.Resource]*StateRecord
	lock    *LockInfo
	runs    []*RunRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[addrs.Resource]*StateRecord),
	}
}

// Get returns a copy of the record for addr, or nil when none exists.
func (s *MemoryStore) Get(_ context.Context, addr addrs.Resource) (*StateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[addr]
	if !ok {
		return nil, nil
	}
	return copyRecord(rec), nil
}

// Put writes rec after checking expectedSerial against the stored serial.
func (s *MemoryStore) Put(_ context.Context, rec *StateRecord, expectedSerial uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var actual uint64
	if existing, ok := s.records[rec.Address]; ok {
		actual = existing.Serial
	}
	if actual != expectedSerial {
		return &ConflictError{Address: rec.Address, Expected: expectedSerial, Actual: actual}
	}

	rec.Serial = expectedSerial + 1
	rec.UpdatedAt = time.Now()
	s.records[rec.Address] = copyRecord(rec)
	return nil
}

// Delete removes the record for addr.
func (s *MemoryStore) Delete(_ context.Context, addr addrs.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, addr)
	return nil
}

// List returns every recorded address in canonical order.
func (s *MemoryStore) List(_ context.Context) ([]addrs.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]addrs.Resource, 0, len(s.records))
	for a := range s.records {
		out = append(out, a)
	}
	addrs.Sort(out)
	return out, nil
}

// Lock acquires the store-wide lock.
func (s *MemoryStore) Lock(_ context.Context, info *LockInfo) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lock != nil {
		held := *s.lock
		return "", &LockError{Info: &held}
	}

	held := LockInfo{
		ID:        uuid.New().String(),
		Operation: info.Operation,
		Who:       info.Who,
		Created:   time.Now(),
	}
	s.lock = &held
	return held.ID, nil
}

// Unlock releases the lock acquired with id.
func (s *MemoryStore) Unlock(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lock == nil {
		return fmt.Errorf("state is not locked")
	}
	if s.lock.ID != id {
		return fmt.Errorf("lock id mismatch: held by %s", s.lock.ID)
	}
	s.lock = nil
	return nil
}

// Close implements Store. It is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// SaveRun implements Journal.
func (s *MemoryStore) SaveRun(_ context.Context, run *RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

// ListRuns implements Journal.
func (s *MemoryStore) ListRuns(_ context.Context, limit int) ([]*RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*RunRecord, 0, len(s.runs))
	for i := len(s.runs) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, s.runs[i])
	}
	return out, nil
}

// copyRecord deep-copies a record so callers cannot alias store internals.
// cty values are immutable and safe to share.
func copyRecord(rec *StateRecord) *StateRecord {
	cp := *rec
	if rec.Attrs != nil {
		cp.Attrs = make(map[string]cty.Value, len(rec.Attrs))
		for k, v := range rec.Attrs {
			cp.Attrs[k] = v
		}
	}
	cp.Dependencies = append([]addrs.Resource(nil), rec.Dependencies...)
	return &cp
}

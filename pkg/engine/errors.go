// Package engine implements the dependency-graph execution core: it turns
// declarative resource definitions into an annotated DAG (the Plan) and walks
// it in dependency order, applying each planned change through a
// caller-supplied operation executor.
package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/terrane-io/terrane/pkg/addrs"
)

// CycleError reports a circular dependency discovered while building the
// graph. It names every address on the cycle, in traversal order.
type CycleError struct {
	// Cycle is the closed path; the first address is reached again from the
	// last one.
	Cycle []addrs.Resource
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	parts := make([]string, 0, len(e.Cycle)+1)
	for _, a := range e.Cycle {
		parts = append(parts, a.String())
	}
	if len(e.Cycle) > 0 {
		parts = append(parts, e.Cycle[0].String())
	}
	return fmt.Sprintf("dependency cycle: %s", strings.Join(parts, " -> "))
}

// UnknownReferenceError reports a reference or explicit dependency naming an
// address that does not exist in the configuration.
type UnknownReferenceError struct {
	// Referrer is the resource whose attributes or depends_on contain the
	// dangling reference.
	Referrer addrs.Resource

	// Target is the missing address.
	Target addrs.Resource
}

// Error implements the error interface.
func (e *UnknownReferenceError) Error() string {
	return fmt.Sprintf("%s references unknown resource %s", e.Referrer, e.Target)
}

// ExecutorError wraps a failure reported by the operation executor for one
// node. It is non-fatal to the run: the node is marked failed and its
// transitive dependents are skipped.
type ExecutorError struct {
	Address addrs.Resource
	Action  ChangeAction
	Err     error
}

// Error implements the error interface.
func (e *ExecutorError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Action, e.Address, e.Err)
}

// Unwrap returns the underlying executor failure.
func (e *ExecutorError) Unwrap() error {
	return e.Err
}

// IsCycle returns true if the error chain contains a CycleError.
func IsCycle(err error) bool {
	var e *CycleError
	return errors.As(err, &e)
}

// IsUnknownReference returns true if the error chain contains an
// UnknownReferenceError.
func IsUnknownReference(err error) bool {
	var e *UnknownReferenceError
	return errors.As(err, &e)
}

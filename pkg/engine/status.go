package engine

import "fmt"

// NodeStatus is the execution status of a plan node. Only the scheduler
// goroutine writes it.
type NodeStatus string

const (
	// StatusPending indicates the node has not started.
	StatusPending NodeStatus = "pending"

	// StatusRunning indicates the node's operation is in flight.
	StatusRunning NodeStatus = "running"

	// StatusDone indicates the node completed and its state was persisted.
	StatusDone NodeStatus = "done"

	// StatusFailed indicates the node's operation returned an error.
	StatusFailed NodeStatus = "failed"

	// StatusSkipped indicates the node was never dispatched because a node
	// it is ordered after failed or was skipped, or the run was cancelled.
	StatusSkipped NodeStatus = "skipped"
)

// IsTerminal returns true for statuses a node never leaves.
func (s NodeStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusSkipped
}

// Validate checks that the status is one of the defined values.
func (s NodeStatus) Validate() error {
	switch s {
	case StatusPending, StatusRunning, StatusDone, StatusFailed, StatusSkipped:
		return nil
	default:
		return fmt.Errorf("invalid node status: %s", s)
	}
}

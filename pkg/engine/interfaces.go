package engine

import (
	"context"

	"github.com/zclconf/go-cty/cty"

	"github.com/terrane-io/terrane/pkg/addrs"
)

// ApplyRequest is one operation handed to the executor. References in the
// desired attribute set are resolved before dispatch; executors never see an
// AttrValue.
type ApplyRequest struct {
	// Address identifies the resource being operated on.
	Address addrs.Resource

	// Change is the planned change. Replace is delivered to the executor as
	// a destroy followed by a create.
	Change Change

	// Prior is the recorded attribute set, nil when creating.
	Prior map[string]cty.Value

	// Desired is the fully resolved desired attribute set, nil when
	// destroying.
	Desired map[string]cty.Value
}

// Executor applies a single change against the external system. It is
// supplied by the caller: the engine stays agnostic to what the operations
// actually do. Implementations must be safe for concurrent calls on
// distinct addresses; the scheduler guarantees at most one in-flight
// operation per address.
type Executor interface {
	// Apply performs the change and returns the resulting attribute set,
	// which becomes the new state record. The returned set is ignored for
	// destroy.
	Apply(ctx context.Context, req ApplyRequest) (map[string]cty.Value, error)
}

// Package local provides an in-process executor. It manages no external
// infrastructure: applied resources exist only as state records. Useful for
// exercising the engine end to end and as the reference executor behavior.
package local

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/zclconf/go-cty/cty"

	"github.com/terrane-io/terrane/pkg/engine"
	"github.com/terrane-io/terrane/pkg/telemetry"
)

// Executor applies changes by echoing the desired attributes back as the
// resulting state, plus a generated "id" attribute on create.
type Executor struct {
	log *telemetry.Logger

	// Delay is an artificial per-operation delay, for exercising
	// parallelism from the command line.
	Delay time.Duration
}

// New creates a local executor. Logger may be nil.
func New(log *telemetry.Logger) *Executor {
	if log == nil {
		log = telemetry.NopLogger()
	}
	return &Executor{log: log.NewComponentLogger("local")}
}

// Apply implements engine.Executor.
func (e *Executor) Apply(ctx context.Context, req engine.ApplyRequest) (map[string]cty.Value, error) {
	if e.Delay > 0 {
		select {
		case <-time.After(e.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	log := e.log.WithResourceID(req.Address.String())

	switch req.Change.Action {
	case engine.ActionDestroy:
		log.Debug("destroyed")
		return nil, nil

	case engine.ActionCreate:
		result := make(map[string]cty.Value, len(req.Desired)+1)
		for name, val := range req.Desired {
			result[name] = val
		}
		result["id"] = cty.StringVal(uuid.New().String())
		log.Debug("created")
		return result, nil

	default:
		// Update keeps the prior id when one exists.
		result := make(map[string]cty.Value, len(req.Desired)+1)
		for name, val := range req.Desired {
			result[name] = val
		}
		if id, ok := req.Prior["id"]; ok {
			result["id"] = id
		}
		log.Debug("updated")
		return result, nil
	}
}

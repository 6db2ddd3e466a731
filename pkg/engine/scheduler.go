package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zclconf/go-cty/cty"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/terrane-io/terrane/pkg/addrs"
	"github.com/terrane-io/terrane/pkg/state"
	"github.com/terrane-io/terrane/pkg/telemetry"
)

// DefaultParallelism is the worker count used when the caller does not set
// one.
const DefaultParallelism = 4

// ScheduleOptions configures one execution.
type ScheduleOptions struct {
	// Parallelism bounds the number of concurrently running operations.
	// Zero means DefaultParallelism.
	Parallelism int

	// DryRun walks the graph and computes the summary without invoking the
	// executor or touching state.
	DryRun bool

	// Who identifies the initiator, recorded in the state lock.
	Who string
}

// Scheduler executes a fully diffed plan: it walks the DAG with a bounded
// worker pool, dispatching nodes whose ordering prerequisites are met and
// collecting completions on a channel. The scheduler goroutine is the single
// writer of node status and the only caller of the state store; workers only
// run the executor and report back.
type Scheduler struct {
	executor Executor
	store    state.Store
	log      *telemetry.Logger
	metrics  *telemetry.Metrics
	tracer   trace.Tracer
}

// NewScheduler creates a scheduler. Logger and metrics may be nil.
func NewScheduler(executor Executor, store state.Store, log *telemetry.Logger, metrics *telemetry.Metrics) *Scheduler {
	if log == nil {
		log = telemetry.NopLogger()
	}
	return &Scheduler{
		executor: executor,
		store:    store,
		log:      log,
		metrics:  metrics,
		tracer:   otel.Tracer("terrane/engine"),
	}
}

// completion is what a worker reports back to the scheduler loop.
type completion struct {
	addr        addrs.Resource
	attrs       map[string]cty.Value
	priorSerial uint64
	err         error
	duration    time.Duration
}

// run holds the mutable bookkeeping for one execution, owned entirely by the
// scheduler goroutine.
type run struct {
	plan    *Plan
	summary *RunSummary

	// blockers maps each node to the set of nodes that must reach a
	// successful terminal status before it may start. For create/update
	// nodes these are its dependencies; for destroy/replace nodes, its
	// dependents (the mirror ordering).
	blockers map[addrs.Resource]map[addrs.Resource]struct{}

	// waiters is the reverse of blockers.
	waiters map[addrs.Resource][]addrs.Resource

	// applied caches attribute sets that became known during this run, for
	// reference resolution at dispatch time.
	applied map[addrs.Resource]map[string]cty.Value

	ready   []addrs.Resource
	pending int
	results []state.NodeResult
}

// Execute runs the plan to completion. Individual node failures do not abort
// the run; they are collected into the summary. A non-nil error is returned
// only for fatal conditions: an undiffed plan, a held state lock, or
// cancellation (after in-flight operations were awaited).
func (s *Scheduler) Execute(ctx context.Context, plan *Plan, opts ScheduleOptions) (*RunSummary, error) {
	for _, addr := range plan.Addresses() {
		if plan.Node(addr).Change == nil {
			return nil, fmt.Errorf("plan is not diffed: %s has no change", addr)
		}
	}

	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}

	runID := uuid.New().String()
	log := s.log.WithRunID(runID)

	lockID, err := s.store.Lock(ctx, &state.LockInfo{Operation: "apply", Who: opts.Who})
	if err != nil {
		return nil, fmt.Errorf("failed to lock state: %w", err)
	}
	defer func() {
		if err := s.store.Unlock(context.WithoutCancel(ctx), lockID); err != nil {
			log.Errorf("failed to release state lock: %v", err)
		}
	}()

	ctx, span := s.tracer.Start(ctx, "engine.run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.Int("plan.nodes", plan.Len()),
		))
	defer span.End()

	r := &run{
		plan: plan,
		summary: &RunSummary{
			RunID:     runID,
			StartedAt: time.Now(),
			Errors:    make(map[addrs.Resource]error),
		},
		applied: make(map[addrs.Resource]map[string]cty.Value),
		pending: plan.Len(),
	}
	s.buildOrdering(r)

	log.Infof("run started: %d nodes, parallelism %d", plan.Len(), parallelism)
	s.metrics.RunStarted()

	completions := make(chan completion)
	inflight := 0
	cancelled := false

	for r.pending > 0 {
		if !cancelled && ctx.Err() != nil {
			cancelled = true
			log.Warnf("cancellation requested, awaiting %d in-flight operations", inflight)
		}
		if !cancelled {
			inflight += s.dispatch(ctx, r, parallelism-inflight, opts, completions, log)
		}

		if inflight == 0 {
			if cancelled || len(r.ready) == 0 {
				break
			}
			continue
		}

		if cancelled {
			c := <-completions
			inflight--
			s.handleCompletion(ctx, r, c, log)
			continue
		}

		select {
		case c := <-completions:
			inflight--
			s.handleCompletion(ctx, r, c, log)
		case <-ctx.Done():
			// Stop dispatching; in-flight operations are awaited, never
			// interrupted mid-operation.
			cancelled = true
			log.Warnf("cancellation requested, awaiting %d in-flight operations", inflight)
		}
	}

	// Everything that never started is skipped, not failed.
	for _, addr := range plan.Addresses() {
		node := plan.Node(addr)
		if !node.Status.IsTerminal() {
			node.Status = StatusSkipped
			r.summary.Skipped++
			r.results = append(r.results, state.NodeResult{
				Address: addr,
				Action:  string(node.Change.Action),
				Status:  string(StatusSkipped),
			})
		}
	}

	r.summary.Duration = time.Since(r.summary.StartedAt)
	s.metrics.RunCompleted(r.summary.Failed == 0, r.summary.Duration)
	log.Infof("run finished: %d applied, %d no-op, %d failed, %d skipped",
		r.summary.Applied, r.summary.NoOp, r.summary.Failed, r.summary.Skipped)

	s.journal(context.WithoutCancel(ctx), r, cancelled, opts, log)

	if cancelled {
		return r.summary, ctx.Err()
	}
	return r.summary, nil
}

// buildOrdering derives the scheduling constraints from the dependency
// edges. For an edge A -> B (A depends on B): B runs first unless B is being
// destroyed or replaced, in which case A runs first so that destroys
// proceed in reverse dependency order.
func (s *Scheduler) buildOrdering(r *run) {
	r.blockers = make(map[addrs.Resource]map[addrs.Resource]struct{}, r.plan.Len())
	r.waiters = make(map[addrs.Resource][]addrs.Resource)

	addBlocker := func(waiter, blocker addrs.Resource) {
		set, ok := r.blockers[waiter]
		if !ok {
			set = make(map[addrs.Resource]struct{})
			r.blockers[waiter] = set
		}
		if _, dup := set[blocker]; !dup {
			set[blocker] = struct{}{}
			r.waiters[blocker] = append(r.waiters[blocker], waiter)
		}
	}

	for _, a := range r.plan.Addresses() {
		node := r.plan.Node(a)
		for _, b := range node.DependsOn {
			dep := r.plan.Node(b)
			if dep == nil {
				continue
			}
			if dep.Change.Action.IsDestroyish() {
				addBlocker(b, a)
			} else {
				addBlocker(a, b)
			}
		}
	}

	for _, addr := range r.plan.Addresses() {
		if len(r.blockers[addr]) == 0 {
			r.ready = append(r.ready, addr)
		}
	}
}

// dispatch starts up to slots ready nodes and returns how many workers were
// launched. No-op and dry-run nodes complete synchronously without a worker.
func (s *Scheduler) dispatch(
	ctx context.Context,
	r *run,
	slots int,
	opts ScheduleOptions,
	completions chan<- completion,
	log *telemetry.Logger,
) int {
	launched := 0
	for slots > 0 && len(r.ready) > 0 {
		addr := r.ready[0]
		r.ready = r.ready[1:]
		node := r.plan.Node(addr)

		if node.Change.Action == ActionNoop {
			node.Status = StatusDone
			r.summary.NoOp++
			r.pending--
			s.release(r, addr, true)
			continue
		}

		if opts.DryRun {
			node.Status = StatusDone
			r.summary.Applied++
			r.pending--
			r.results = append(r.results, state.NodeResult{
				Address: addr,
				Action:  string(node.Change.Action),
				Status:  string(StatusDone),
			})
			s.release(r, addr, true)
			continue
		}

		req, priorSerial, err := s.prepare(ctx, r, node)
		if err != nil {
			s.fail(r, node, err, 0, log)
			continue
		}

		node.Status = StatusRunning
		log.WithResourceID(addr.String()).Debugf("dispatching %s", node.Change.Action)

		// The operation context is detached from run cancellation: a
		// half-applied external resource is worse than a late one.
		opCtx := context.WithoutCancel(ctx)
		go s.worker(opCtx, req, priorSerial, completions)

		launched++
		slots--
	}
	return launched
}

// prepare reads the prior record and resolves reference attributes against
// values that became known during this run or, for unchanged dependencies,
// against recorded state. Runs on the scheduler goroutine: workers never
// touch the store.
func (s *Scheduler) prepare(ctx context.Context, r *run, node *ResourceNode) (ApplyRequest, uint64, error) {
	req := ApplyRequest{
		Address: node.Address,
		Change:  *node.Change,
	}

	var priorSerial uint64
	rec, err := s.store.Get(ctx, node.Address)
	if err != nil {
		return req, 0, fmt.Errorf("failed to read state for %s: %w", node.Address, err)
	}
	if rec != nil {
		req.Prior = rec.Attrs
		priorSerial = rec.Serial
	}

	if node.Change.Action == ActionDestroy {
		return req, priorSerial, nil
	}

	desired := make(map[string]cty.Value, len(node.Attrs))
	for _, name := range sortedAttrNames(node.Attrs) {
		v := node.Attrs[name]
		ref := v.Reference()
		if ref == nil {
			desired[name] = v.Value()
			continue
		}

		vals, ok := r.applied[ref.Target]
		if !ok {
			depRec, err := s.store.Get(ctx, ref.Target)
			if err != nil {
				return req, 0, fmt.Errorf("failed to read state for %s: %w", ref.Target, err)
			}
			if depRec == nil {
				return req, 0, fmt.Errorf("%s: reference %s has no state", node.Address, ref)
			}
			vals = depRec.Attrs
			r.applied[ref.Target] = vals
		}

		val, ok := vals[ref.Attr]
		if !ok {
			return req, 0, fmt.Errorf("%s: %s does not export attribute %q", node.Address, ref.Target, ref.Attr)
		}
		desired[name] = val
	}
	req.Desired = desired

	return req, priorSerial, nil
}

// worker runs one operation and reports the result. A replace is delivered
// to the executor as destroy followed by create.
func (s *Scheduler) worker(ctx context.Context, req ApplyRequest, priorSerial uint64, completions chan<- completion) {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, "engine.apply",
		trace.WithAttributes(
			attribute.String("resource.address", req.Address.String()),
			attribute.String("change.action", string(req.Change.Action)),
		))
	defer span.End()

	var attrs map[string]cty.Value
	var err error

	if req.Change.Action == ActionReplace {
		_, err = s.executor.Apply(ctx, ApplyRequest{
			Address: req.Address,
			Change:  Change{Action: ActionDestroy},
			Prior:   req.Prior,
		})
		if err == nil {
			attrs, err = s.executor.Apply(ctx, ApplyRequest{
				Address: req.Address,
				Change:  Change{Action: ActionCreate, ChangedAttrs: req.Change.ChangedAttrs},
				Desired: req.Desired,
			})
		}
	} else {
		attrs, err = s.executor.Apply(ctx, req)
	}

	if err != nil {
		span.RecordError(err)
		err = &ExecutorError{Address: req.Address, Action: req.Change.Action, Err: err}
	}

	completions <- completion{
		addr:        req.Address,
		attrs:       attrs,
		priorSerial: priorSerial,
		err:         err,
		duration:    time.Since(started),
	}
}

// handleCompletion persists the outcome of one operation and releases or
// skips the nodes ordered after it.
func (s *Scheduler) handleCompletion(ctx context.Context, r *run, c completion, log *telemetry.Logger) {
	node := r.plan.Node(c.addr)

	if c.err != nil {
		s.fail(r, node, c.err, c.duration, log)
		return
	}

	// Persistence is detached from cancellation: the operation already
	// happened, the record must reflect it.
	persistCtx := context.WithoutCancel(ctx)
	var err error
	if node.Change.Action == ActionDestroy {
		err = s.store.Delete(persistCtx, c.addr)
	} else {
		err = s.store.Put(persistCtx, &state.StateRecord{
			Address:      c.addr,
			Attrs:        c.attrs,
			Dependencies: node.DependsOn,
		}, c.priorSerial)
	}
	if err != nil {
		s.fail(r, node, fmt.Errorf("failed to persist state for %s: %w", c.addr, err), c.duration, log)
		return
	}

	node.Status = StatusDone
	r.summary.Applied++
	r.pending--
	r.applied[c.addr] = c.attrs
	r.results = append(r.results, state.NodeResult{
		Address:  c.addr,
		Action:   string(node.Change.Action),
		Status:   string(StatusDone),
		Duration: c.duration,
	})

	s.metrics.NodeExecuted(string(node.Change.Action), "done", c.duration)
	log.WithResourceID(c.addr.String()).Debugf("%s done", node.Change.Action)

	s.release(r, c.addr, true)
}

// fail marks a node failed, records its first error, and cascades skips to
// everything ordered after it.
func (s *Scheduler) fail(r *run, node *ResourceNode, err error, duration time.Duration, log *telemetry.Logger) {
	node.Status = StatusFailed
	node.Err = err
	r.summary.Failed++
	r.summary.Errors[node.Address] = err
	r.pending--
	r.results = append(r.results, state.NodeResult{
		Address:  node.Address,
		Action:   string(node.Change.Action),
		Status:   string(StatusFailed),
		Error:    err.Error(),
		Duration: duration,
	})

	s.metrics.NodeExecuted(string(node.Change.Action), "failed", duration)
	log.WithResourceID(node.Address.String()).Errorf("%v", err)

	s.release(r, node.Address, false)
}

// release unblocks the waiters of a terminal node. When the node did not
// succeed, waiters are skipped transitively without invoking the executor.
func (s *Scheduler) release(r *run, addr addrs.Resource, ok bool) {
	for _, waiter := range r.waiters[addr] {
		node := r.plan.Node(waiter)
		if node.Status.IsTerminal() {
			continue
		}

		if !ok {
			node.Status = StatusSkipped
			r.summary.Skipped++
			r.pending--
			r.results = append(r.results, state.NodeResult{
				Address: waiter,
				Action:  string(node.Change.Action),
				Status:  string(StatusSkipped),
			})
			s.metrics.NodeExecuted(string(node.Change.Action), "skipped", 0)
			s.release(r, waiter, false)
			continue
		}

		delete(r.blockers[waiter], addr)
		if len(r.blockers[waiter]) == 0 {
			r.ready = append(r.ready, waiter)
			addrs.Sort(r.ready)
		}
	}
}

// journal records the run outcome when the store supports it.
func (s *Scheduler) journal(ctx context.Context, r *run, cancelled bool, opts ScheduleOptions, log *telemetry.Logger) {
	if opts.DryRun {
		return
	}
	j, ok := s.store.(state.Journal)
	if !ok {
		return
	}

	rec := &state.RunRecord{
		ID:          r.summary.RunID,
		StartedAt:   r.summary.StartedAt,
		Duration:    r.summary.Duration,
		Applied:     r.summary.Applied,
		Failed:      r.summary.Failed,
		Skipped:     r.summary.Skipped,
		NoOp:        r.summary.NoOp,
		NodeResults: r.results,
	}
	if cancelled {
		rec.Error = "cancelled"
	}
	if err := j.SaveRun(ctx, rec); err != nil {
		log.Errorf("failed to journal run: %v", err)
	}
}

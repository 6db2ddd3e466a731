package engine

import (
	"sort"
	"time"

	"github.com/terrane-io/terrane/pkg/addrs"
)

// ResourceDecl is one declarative resource definition, as supplied by the
// configuration loader: literal values already resolved, references already
// identified.
type ResourceDecl struct {
	// Address is the unique identity of this resource.
	Address addrs.Resource

	// Attrs is the desired attribute set.
	Attrs map[string]AttrValue

	// DependsOn lists explicit ordering hints, unioned with the implicit
	// dependencies inferred from references in Attrs.
	DependsOn []addrs.Resource
}

// AttrSchema describes the diff policy for a single attribute.
type AttrSchema struct {
	// ForceReplace marks an attribute whose change cannot be applied
	// in place: the resource must be destroyed and recreated.
	ForceReplace bool `json:"force_replace" yaml:"force_replace"`
}

// Schema describes the diff policy for one resource type.
type Schema struct {
	Attributes map[string]AttrSchema `json:"attributes" yaml:"attributes"`
}

// SchemaSet maps resource types to their schemas. Types without a schema
// default to in-place updates for every attribute.
type SchemaSet map[string]Schema

// ForceReplace reports whether changing the named attribute on the given
// resource type requires destroy-then-create.
func (s SchemaSet) ForceReplace(resType, attr string) bool {
	schema, ok := s[resType]
	if !ok {
		return false
	}
	return schema.Attributes[attr].ForceReplace
}

// ChangeAction is the kind of change planned for a resource.
type ChangeAction string

const (
	// ActionCreate creates a resource that has no prior state.
	ActionCreate ChangeAction = "create"

	// ActionUpdate applies changed attributes in place.
	ActionUpdate ChangeAction = "update"

	// ActionReplace destroys the resource and creates it again, required
	// when a force-replace attribute changed.
	ActionReplace ChangeAction = "replace"

	// ActionDestroy removes a resource that is no longer declared.
	ActionDestroy ChangeAction = "destroy"

	// ActionNoop means state already matches the desired attributes; the
	// scheduler completes such nodes without invoking the executor.
	ActionNoop ChangeAction = "noop"
)

// IsDestroyish reports whether the action removes the current remote object,
// which inverts the node's scheduling order relative to its dependents.
func (a ChangeAction) IsDestroyish() bool {
	return a == ActionDestroy || a == ActionReplace
}

// Change is the planned change for one node, produced by the diff phase.
type Change struct {
	// Action is the change variant.
	Action ChangeAction `json:"action"`

	// ChangedAttrs names the attributes that differ from recorded state,
	// sorted. Populated for update and replace.
	ChangedAttrs []string `json:"changed_attrs,omitempty"`
}

// ResourceNode is one vertex of the plan graph. Structure is immutable after
// the diff phase; only Status and Err are mutated during execution, and only
// by the scheduler goroutine.
type ResourceNode struct {
	// Address is the graph key and state store key for this node.
	Address addrs.Resource

	// Attrs is the desired attribute set. Nil for destroy nodes.
	Attrs map[string]AttrValue

	// DependsOn is the sorted union of explicit hints and implicit
	// reference dependencies.
	DependsOn []addrs.Resource

	// Change is the planned change. Nil until the diff phase has run.
	Change *Change

	// Status is the execution status, owned by the scheduler.
	Status NodeStatus

	// Err is the first error observed for this node, set when Status is
	// StatusFailed.
	Err error
}

// dependsOnSet returns DependsOn as a set for membership checks.
func (n *ResourceNode) dependsOnSet() map[addrs.Resource]struct{} {
	set := make(map[addrs.Resource]struct{}, len(n.DependsOn))
	for _, d := range n.DependsOn {
		set[d] = struct{}{}
	}
	return set
}

// Plan is the annotated DAG: a mapping from address to node plus the reverse
// adjacency needed for destroy ordering and failure propagation. It is built
// once per run, executed once, and discarded.
type Plan struct {
	nodes      map[addrs.Resource]*ResourceNode
	dependents map[addrs.Resource][]addrs.Resource
}

// newPlan wraps a node set, computing reverse edges.
func newPlan(nodes map[addrs.Resource]*ResourceNode) *Plan {
	p := &Plan{
		nodes:      nodes,
		dependents: make(map[addrs.Resource][]addrs.Resource),
	}
	for _, n := range nodes {
		for _, dep := range n.DependsOn {
			p.dependents[dep] = append(p.dependents[dep], n.Address)
		}
	}
	for _, deps := range p.dependents {
		addrs.Sort(deps)
	}
	return p
}

// Node returns the node at the given address, or nil.
func (p *Plan) Node(addr addrs.Resource) *ResourceNode {
	return p.nodes[addr]
}

// Len returns the number of nodes.
func (p *Plan) Len() int {
	return len(p.nodes)
}

// Addresses returns every node address in canonical order. Identical inputs
// always enumerate identically.
func (p *Plan) Addresses() []addrs.Resource {
	out := make([]addrs.Resource, 0, len(p.nodes))
	for a := range p.nodes {
		out = append(out, a)
	}
	addrs.Sort(out)
	return out
}

// Dependents returns the addresses of nodes that depend on addr, in
// canonical order.
func (p *Plan) Dependents(addr addrs.Resource) []addrs.Resource {
	return p.dependents[addr]
}

// insert adds a node created after graph construction (the orphan destroy
// pass) and wires its reverse edges.
func (p *Plan) insert(node *ResourceNode) {
	p.nodes[node.Address] = node
	for _, dep := range node.DependsOn {
		p.dependents[dep] = append(p.dependents[dep], node.Address)
		addrs.Sort(p.dependents[dep])
	}
}

// Summary counts planned changes by action.
func (p *Plan) Summary() PlanSummary {
	var s PlanSummary
	for _, n := range p.nodes {
		if n.Change == nil {
			continue
		}
		switch n.Change.Action {
		case ActionCreate:
			s.ToCreate++
		case ActionUpdate:
			s.ToUpdate++
		case ActionReplace:
			s.ToReplace++
		case ActionDestroy:
			s.ToDestroy++
		case ActionNoop:
			s.NoChange++
		}
	}
	return s
}

// PlanSummary provides statistics about a diffed plan.
type PlanSummary struct {
	ToCreate  int `json:"to_create"`
	ToUpdate  int `json:"to_update"`
	ToReplace int `json:"to_replace"`
	ToDestroy int `json:"to_destroy"`
	NoChange  int `json:"no_change"`
}

// Total returns the number of nodes counted.
func (s PlanSummary) Total() int {
	return s.ToCreate + s.ToUpdate + s.ToReplace + s.ToDestroy + s.NoChange
}

// RunSummary is the outcome of executing a plan. Individual node failures do
// not abort the run; they are collected here.
type RunSummary struct {
	// RunID identifies this execution.
	RunID string `json:"run_id"`

	// StartedAt is when execution began.
	StartedAt time.Time `json:"started_at"`

	// Duration is the total wall-clock execution time.
	Duration time.Duration `json:"duration"`

	// Applied counts nodes that reached StatusDone via the executor.
	Applied int `json:"applied"`

	// NoOp counts nodes completed without invoking the executor.
	NoOp int `json:"no_op"`

	// Failed counts nodes whose operation failed.
	Failed int `json:"failed"`

	// Skipped counts nodes not executed because a node they were ordered
	// after failed or was skipped, or because the run was cancelled.
	Skipped int `json:"skipped"`

	// Errors holds the first error per failed node.
	Errors map[addrs.Resource]error `json:"-"`
}

// FailedAddresses returns the failed node addresses in canonical order.
func (s *RunSummary) FailedAddresses() []addrs.Resource {
	out := make([]addrs.Resource, 0, len(s.Errors))
	for a := range s.Errors {
		out = append(out, a)
	}
	addrs.Sort(out)
	return out
}

// sortedAttrNames returns the attribute names of a set, sorted.
func sortedAttrNames(attrs map[string]AttrValue) []string {
	names := make([]string, 0, len(attrs))
	for n := range attrs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/zclconf/go-cty/cty"

	"github.com/terrane-io/terrane/pkg/addrs"
	"github.com/terrane-io/terrane/pkg/state"
)

// Differ annotates a built plan with changes by comparing desired attributes
// against recorded state. After DiffPlan returns, plan structure is final;
// the scheduler only writes node statuses.
type Differ struct {
	// Schemas supplies the per-attribute replace policy. May be nil when no
	// attribute forces replacement.
	Schemas SchemaSet
}

// NewDiffer creates a differ with the given schema set.
func NewDiffer(schemas SchemaSet) *Differ {
	return &Differ{Schemas: schemas}
}

// DiffPlan computes a Change for every node and appends destroy nodes for
// state records whose address is no longer declared. Nodes are diffed in
// dependency order so that reference attributes can be resolved from the
// state of dependencies that are not changing.
func (d *Differ) DiffPlan(ctx context.Context, plan *Plan, store state.Store) error {
	order, err := topoOrder(plan)
	if err != nil {
		return err
	}

	// Attribute sets usable for reference resolution at diff time: only
	// nodes whose state will not change can supply known values.
	resolved := make(map[addrs.Resource]map[string]cty.Value)

	for _, addr := range order {
		node := plan.Node(addr)

		rec, err := store.Get(ctx, addr)
		if err != nil {
			return fmt.Errorf("failed to read state for %s: %w", addr, err)
		}

		node.Change = d.diffNode(node, rec, resolved)
		if node.Change.Action == ActionNoop {
			resolved[addr] = rec.Attrs
		}
	}

	return d.orphanPass(ctx, plan, store)
}

// diffNode computes the change for one node. Attributes present only in
// recorded state are treated as computed outputs and do not count as drift.
func (d *Differ) diffNode(
	node *ResourceNode,
	rec *state.StateRecord,
	resolved map[addrs.Resource]map[string]cty.Value,
) *Change {
	if rec == nil {
		return &Change{Action: ActionCreate}
	}

	changed := make([]string, 0)
	for _, name := range sortedAttrNames(node.Attrs) {
		v := node.Attrs[name]

		var want cty.Value
		known := true
		if ref := v.Reference(); ref != nil {
			depVals, ok := resolved[ref.Target]
			if !ok {
				// The referenced resource is itself changing; the value is
				// unknown until apply, so assume it differs.
				known = false
			} else if want, ok = depVals[ref.Attr]; !ok {
				known = false
			}
		} else {
			want = v.Value()
		}

		got, ok := rec.Attrs[name]
		if !known || !ok || !want.RawEquals(got) {
			changed = append(changed, name)
		}
	}

	if len(changed) == 0 {
		return &Change{Action: ActionNoop}
	}

	sort.Strings(changed)
	for _, name := range changed {
		if d.Schemas.ForceReplace(node.Address.Type, name) {
			return &Change{Action: ActionReplace, ChangedAttrs: changed}
		}
	}
	return &Change{Action: ActionUpdate, ChangedAttrs: changed}
}

// orphanPass scans state for addresses absent from the plan and appends a
// destroy node for each, carrying the dependency edges recorded at the time
// they were applied so destroys order correctly among themselves.
func (d *Differ) orphanPass(ctx context.Context, plan *Plan, store state.Store) error {
	recorded, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list state: %w", err)
	}

	orphans := make([]addrs.Resource, 0)
	orphanSet := make(map[addrs.Resource]struct{})
	for _, addr := range recorded {
		if plan.Node(addr) == nil {
			orphans = append(orphans, addr)
			orphanSet[addr] = struct{}{}
		}
	}

	for _, addr := range orphans {
		rec, err := store.Get(ctx, addr)
		if err != nil {
			return fmt.Errorf("failed to read state for %s: %w", addr, err)
		}
		if rec == nil {
			continue
		}

		deps := make([]addrs.Resource, 0, len(rec.Dependencies))
		for _, dep := range rec.Dependencies {
			_, isOrphan := orphanSet[dep]
			if plan.Node(dep) != nil || isOrphan {
				deps = append(deps, dep)
			}
		}
		addrs.Sort(deps)

		plan.insert(&ResourceNode{
			Address:   addr,
			DependsOn: deps,
			Change:    &Change{Action: ActionDestroy},
			Status:    StatusPending,
		})
	}

	return nil
}

// topoOrder returns the plan's addresses in dependency order, breaking ties
// by canonical address order so the result is stable across runs.
func topoOrder(plan *Plan) ([]addrs.Resource, error) {
	inDegree := make(map[addrs.Resource]int, plan.Len())
	for _, addr := range plan.Addresses() {
		inDegree[addr] = len(plan.Node(addr).DependsOn)
	}

	ready := make([]addrs.Resource, 0)
	for _, addr := range plan.Addresses() {
		if inDegree[addr] == 0 {
			ready = append(ready, addr)
		}
	}

	order := make([]addrs.Resource, 0, plan.Len())
	for len(ready) > 0 {
		addr := ready[0]
		ready = ready[1:]
		order = append(order, addr)

		released := make([]addrs.Resource, 0)
		for _, dependent := range plan.Dependents(addr) {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				released = append(released, dependent)
			}
		}
		ready = append(ready, released...)
		addrs.Sort(ready)
	}

	// The builder already rejected cycles; this guards the invariant.
	if len(order) != plan.Len() {
		return nil, fmt.Errorf("plan contains a cycle not caught at build time")
	}
	return order, nil
}

package engine

import (
	"fmt"
	"strings"

	"github.com/terrane-io/terrane/pkg/addrs"
)

// GraphBuilder builds the plan DAG from resource declarations. An edge
// A -> B exists whenever A's desired attributes reference B (implicit) or A
// names B in depends_on (explicit). The graph is represented as adjacency
// maps keyed by address, never as mutually referencing node objects.
type GraphBuilder struct {
	nodes map[addrs.Resource]*ResourceNode
}

// NewGraphBuilder creates a new graph builder.
func NewGraphBuilder() *GraphBuilder {
	return &GraphBuilder{
		nodes: make(map[addrs.Resource]*ResourceNode),
	}
}

// Build constructs a Plan from declarations. It fails with
// UnknownReferenceError when an attribute reference or explicit dependency
// names an address absent from the declarations, and with CycleError when
// the dependency relation is not acyclic. No partial plan is returned on
// error.
func (b *GraphBuilder) Build(decls []ResourceDecl) (*Plan, error) {
	// First pass: index declarations and reject duplicates.
	for i := range decls {
		decl := &decls[i]
		if decl.Address.Type == "" || decl.Address.Name == "" {
			return nil, fmt.Errorf("resource declaration %d has an incomplete address", i)
		}
		if _, exists := b.nodes[decl.Address]; exists {
			return nil, fmt.Errorf("duplicate resource address: %s", decl.Address)
		}
		b.nodes[decl.Address] = &ResourceNode{
			Address: decl.Address,
			Attrs:   decl.Attrs,
			Status:  StatusPending,
		}
	}

	// Second pass: union explicit hints with dependencies inferred from
	// references, validating every target.
	for i := range decls {
		decl := &decls[i]
		node := b.nodes[decl.Address]

		depSet := make(map[addrs.Resource]struct{})
		for _, dep := range decl.DependsOn {
			if _, exists := b.nodes[dep]; !exists {
				return nil, &UnknownReferenceError{Referrer: decl.Address, Target: dep}
			}
			depSet[dep] = struct{}{}
		}
		for _, ref := range referencesOf(decl.Attrs) {
			if _, exists := b.nodes[ref.Target]; !exists {
				return nil, &UnknownReferenceError{Referrer: decl.Address, Target: ref.Target}
			}
			if ref.Target == decl.Address {
				return nil, &CycleError{Cycle: []addrs.Resource{decl.Address}}
			}
			depSet[ref.Target] = struct{}{}
		}

		deps := make([]addrs.Resource, 0, len(depSet))
		for dep := range depSet {
			deps = append(deps, dep)
		}
		addrs.Sort(deps)
		node.DependsOn = deps
	}

	if err := b.detectCycles(); err != nil {
		return nil, err
	}

	return newPlan(b.nodes), nil
}

// detectCycles runs a depth-first traversal with a recursion stack. Roots
// and neighbors are visited in canonical address order so the reported cycle
// path is deterministic for a given input.
func (b *GraphBuilder) detectCycles() error {
	visited := make(map[addrs.Resource]bool)
	onStack := make(map[addrs.Resource]bool)

	roots := make([]addrs.Resource, 0, len(b.nodes))
	for a := range b.nodes {
		roots = append(roots, a)
	}
	addrs.Sort(roots)

	for _, root := range roots {
		if visited[root] {
			continue
		}
		if cycle := b.visit(root, visited, onStack, nil); cycle != nil {
			return &CycleError{Cycle: cycle}
		}
	}
	return nil
}

// visit returns the cycle path when a back-edge to a node on the current
// stack is found, nil otherwise.
func (b *GraphBuilder) visit(
	addr addrs.Resource,
	visited, onStack map[addrs.Resource]bool,
	path []addrs.Resource,
) []addrs.Resource {
	visited[addr] = true
	onStack[addr] = true
	path = append(path, addr)

	for _, dep := range b.nodes[addr].DependsOn {
		if !visited[dep] {
			if cycle := b.visit(dep, visited, onStack, path); cycle != nil {
				return cycle
			}
		} else if onStack[dep] {
			// Back-edge: everything from dep onward is on the cycle.
			start := 0
			for i, a := range path {
				if a == dep {
					start = i
					break
				}
			}
			return append([]addrs.Resource(nil), path[start:]...)
		}
	}

	onStack[addr] = false
	return nil
}

// ToDOT renders an annotated plan in Graphviz DOT format, colored by planned
// action. Nodes not yet diffed render uncolored.
func ToDOT(plan *Plan) string {
	var sb strings.Builder

	sb.WriteString("digraph plan {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=\"filled,rounded\"];\n\n")

	for _, addr := range plan.Addresses() {
		node := plan.Node(addr)
		label := addr.String()
		color := "white"
		if node.Change != nil {
			label = fmt.Sprintf("%s\\n%s", addr, node.Change.Action)
			color = actionColor(node.Change.Action)
		}
		fmt.Fprintf(&sb, "  %q [label=%q, fillcolor=%q];\n", addr.String(), label, color)
	}
	sb.WriteString("\n")

	for _, addr := range plan.Addresses() {
		for _, dep := range plan.Node(addr).DependsOn {
			fmt.Fprintf(&sb, "  %q -> %q;\n", dep.String(), addr.String())
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// actionColor returns a fill color for visualizing planned actions.
func actionColor(a ChangeAction) string {
	switch a {
	case ActionCreate:
		return "lightgreen"
	case ActionUpdate:
		return "lightblue"
	case ActionReplace, ActionDestroy:
		return "lightcoral"
	case ActionNoop:
		return "lightgray"
	default:
		return "white"
	}
}

package engine

import (
	"context"
	"testing"

	"github.com/zclconf/go-cty/cty"

	"github.com/terrane-io/terrane/pkg/addrs"
	"github.com/terrane-io/terrane/pkg/state"
)

func mustBuild(t *testing.T, decls []ResourceDecl) *Plan {
	t.Helper()
	plan, err := NewGraphBuilder().Build(decls)
	if err != nil {
		t.Fatalf("Failed to build plan: %v", err)
	}
	return plan
}

func mustPut(t *testing.T, store state.Store, rec *state.StateRecord, expected uint64) {
	t.Helper()
	if err := store.Put(context.Background(), rec, expected); err != nil {
		t.Fatalf("Failed to seed state for %s: %v", rec.Address, err)
	}
}

func TestDiffer_DiffPlan_CreateWhenNoState(t *testing.T) {
	a := addrs.New("file", "a")
	plan := mustBuild(t, []ResourceDecl{
		{Address: a, Attrs: map[string]AttrValue{"path": StringVal("/tmp/a")}},
	})

	if err := NewDiffer(nil).DiffPlan(context.Background(), plan, state.NewMemoryStore()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	change := plan.Node(a).Change
	if change == nil || change.Action != ActionCreate {
		t.Fatalf("Expected create, got %+v", change)
	}
}

func TestDiffer_DiffPlan_NoopWhenStateMatches(t *testing.T) {
	a := addrs.New("file", "a")
	plan := mustBuild(t, []ResourceDecl{
		{Address: a, Attrs: map[string]AttrValue{"path": StringVal("/tmp/a")}},
	})

	store := state.NewMemoryStore()
	mustPut(t, store, &state.StateRecord{
		Address: a,
		Attrs:   map[string]cty.Value{"path": cty.StringVal("/tmp/a")},
	}, 0)

	if err := NewDiffer(nil).DiffPlan(context.Background(), plan, store); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	change := plan.Node(a).Change
	if change.Action != ActionNoop {
		t.Fatalf("Expected noop, got %s (%v)", change.Action, change.ChangedAttrs)
	}
}

func TestDiffer_DiffPlan_ComputedAttrsDoNotCountAsDrift(t *testing.T) {
	a := addrs.New("file", "a")
	plan := mustBuild(t, []ResourceDecl{
		{Address: a, Attrs: map[string]AttrValue{"path": StringVal("/tmp/a")}},
	})

	store := state.NewMemoryStore()
	mustPut(t, store, &state.StateRecord{
		Address: a,
		Attrs: map[string]cty.Value{
			"path": cty.StringVal("/tmp/a"),
			"id":   cty.StringVal("generated-by-executor"),
		},
	}, 0)

	if err := NewDiffer(nil).DiffPlan(context.Background(), plan, store); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if got := plan.Node(a).Change.Action; got != ActionNoop {
		t.Fatalf("Expected noop despite computed id attribute, got %s", got)
	}
}

func TestDiffer_DiffPlan_UpdateListsChangedAttrsSorted(t *testing.T) {
	a := addrs.New("file", "a")
	plan := mustBuild(t, []ResourceDecl{
		{Address: a, Attrs: map[string]AttrValue{
			"path":  StringVal("/tmp/new"),
			"owner": StringVal("root"),
		}},
	})

	store := state.NewMemoryStore()
	mustPut(t, store, &state.StateRecord{
		Address: a,
		Attrs: map[string]cty.Value{
			"path":  cty.StringVal("/tmp/old"),
			"owner": cty.StringVal("nobody"),
		},
	}, 0)

	if err := NewDiffer(nil).DiffPlan(context.Background(), plan, store); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	change := plan.Node(a).Change
	if change.Action != ActionUpdate {
		t.Fatalf("Expected update, got %s", change.Action)
	}
	if len(change.ChangedAttrs) != 2 || change.ChangedAttrs[0] != "owner" || change.ChangedAttrs[1] != "path" {
		t.Errorf("Expected sorted changed attrs [owner path], got %v", change.ChangedAttrs)
	}
}

func TestDiffer_DiffPlan_ForceReplaceAttr(t *testing.T) {
	a := addrs.New("disk", "a")
	plan := mustBuild(t, []ResourceDecl{
		{Address: a, Attrs: map[string]AttrValue{"size": StringVal("100")}},
	})

	store := state.NewMemoryStore()
	mustPut(t, store, &state.StateRecord{
		Address: a,
		Attrs:   map[string]cty.Value{"size": cty.StringVal("50")},
	}, 0)

	schemas := SchemaSet{
		"disk": {Attributes: map[string]AttrSchema{"size": {ForceReplace: true}}},
	}

	if err := NewDiffer(schemas).DiffPlan(context.Background(), plan, store); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if got := plan.Node(a).Change.Action; got != ActionReplace {
		t.Fatalf("Expected replace for force-replace attribute, got %s", got)
	}
}

func TestDiffer_DiffPlan_RefToChangingDepIsChanged(t *testing.T) {
	a := addrs.New("app", "a")
	b := addrs.New("db", "b")
	plan := mustBuild(t, []ResourceDecl{
		{Address: a, Attrs: map[string]AttrValue{"dsn": Ref(b, "endpoint")}},
		{Address: b, Attrs: map[string]AttrValue{"size": StringVal("large")}},
	})

	store := state.NewMemoryStore()
	// db.b drifted, so its post-apply endpoint is unknown at diff time.
	mustPut(t, store, &state.StateRecord{
		Address: b,
		Attrs:   map[string]cty.Value{"size": cty.StringVal("small"), "endpoint": cty.StringVal("db:5432")},
	}, 0)
	mustPut(t, store, &state.StateRecord{
		Address: a,
		Attrs:   map[string]cty.Value{"dsn": cty.StringVal("db:5432")},
	}, 0)

	if err := NewDiffer(nil).DiffPlan(context.Background(), plan, store); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if got := plan.Node(b).Change.Action; got != ActionUpdate {
		t.Fatalf("Expected update for db.b, got %s", got)
	}
	if got := plan.Node(a).Change.Action; got != ActionUpdate {
		t.Fatalf("Expected update for app.a because its reference target changes, got %s", got)
	}
}

func TestDiffer_DiffPlan_RefToUnchangedDepResolvesFromState(t *testing.T) {
	a := addrs.New("app", "a")
	b := addrs.New("db", "b")
	plan := mustBuild(t, []ResourceDecl{
		{Address: a, Attrs: map[string]AttrValue{"dsn": Ref(b, "endpoint")}},
		{Address: b, Attrs: map[string]AttrValue{"size": StringVal("small")}},
	})

	store := state.NewMemoryStore()
	mustPut(t, store, &state.StateRecord{
		Address: b,
		Attrs:   map[string]cty.Value{"size": cty.StringVal("small"), "endpoint": cty.StringVal("db:5432")},
	}, 0)
	mustPut(t, store, &state.StateRecord{
		Address: a,
		Attrs:   map[string]cty.Value{"dsn": cty.StringVal("db:5432")},
	}, 0)

	if err := NewDiffer(nil).DiffPlan(context.Background(), plan, store); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if got := plan.Node(b).Change.Action; got != ActionNoop {
		t.Fatalf("Expected noop for db.b, got %s", got)
	}
	if got := plan.Node(a).Change.Action; got != ActionNoop {
		t.Fatalf("Expected noop for app.a, got %s", got)
	}
}

func TestDiffer_DiffPlan_OrphanGetsDestroyNode(t *testing.T) {
	keep := addrs.New("file", "keep")
	gone := addrs.New("file", "gone")

	plan := mustBuild(t, []ResourceDecl{
		{Address: keep, Attrs: map[string]AttrValue{"path": StringVal("/tmp/keep")}},
	})

	store := state.NewMemoryStore()
	mustPut(t, store, &state.StateRecord{
		Address: keep,
		Attrs:   map[string]cty.Value{"path": cty.StringVal("/tmp/keep")},
	}, 0)
	mustPut(t, store, &state.StateRecord{
		Address:      gone,
		Attrs:        map[string]cty.Value{"path": cty.StringVal("/tmp/gone")},
		Dependencies: []addrs.Resource{keep},
	}, 0)

	if err := NewDiffer(nil).DiffPlan(context.Background(), plan, store); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	node := plan.Node(gone)
	if node == nil {
		t.Fatal("Expected destroy node for orphaned file.gone")
	}
	if node.Change.Action != ActionDestroy {
		t.Fatalf("Expected destroy, got %s", node.Change.Action)
	}
	if len(node.DependsOn) != 1 || node.DependsOn[0] != keep {
		t.Errorf("Expected recorded dependency on file.keep, got %v", node.DependsOn)
	}

	summary := plan.Summary()
	if summary.ToDestroy != 1 || summary.NoChange != 1 {
		t.Errorf("Expected 1 destroy and 1 unchanged, got %+v", summary)
	}
}

func TestDiffer_DiffPlan_OrphanDropsStaleDependencyEdges(t *testing.T) {
	gone := addrs.New("file", "gone")
	alsoGone := addrs.New("file", "never-recorded")

	plan := mustBuild(t, nil)

	store := state.NewMemoryStore()
	mustPut(t, store, &state.StateRecord{
		Address:      gone,
		Attrs:        map[string]cty.Value{"path": cty.StringVal("/tmp/gone")},
		Dependencies: []addrs.Resource{alsoGone},
	}, 0)

	if err := NewDiffer(nil).DiffPlan(context.Background(), plan, store); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	node := plan.Node(gone)
	if node == nil {
		t.Fatal("Expected destroy node for file.gone")
	}
	if len(node.DependsOn) != 0 {
		t.Errorf("Expected stale dependency edge dropped, got %v", node.DependsOn)
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/zclconf/go-cty/cty"

	"github.com/terrane-io/terrane/pkg/addrs"
	"github.com/terrane-io/terrane/pkg/engine"
)

func TestLoader_Load_LiteralsAndTypes(t *testing.T) {
	doc := `
resources:
  - type: compute.instance
    name: web
    attrs:
      image: ubuntu-24.04
      cpus: 4
      monitoring: true
      tags: [prod, edge]
`
	decls, _, err := NewLoader().Load([]byte(doc))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(decls) != 1 {
		t.Fatalf("Expected 1 declaration, got %d", len(decls))
	}

	decl := decls[0]
	if decl.Address != addrs.New("compute.instance", "web") {
		t.Errorf("Expected address compute.instance.web, got %s", decl.Address)
	}
	if got := decl.Attrs["image"].Value(); !got.RawEquals(cty.StringVal("ubuntu-24.04")) {
		t.Errorf("Expected string image, got %#v", got)
	}
	if got := decl.Attrs["cpus"].Value(); !got.RawEquals(cty.NumberIntVal(4)) {
		t.Errorf("Expected number cpus, got %#v", got)
	}
	if got := decl.Attrs["monitoring"].Value(); !got.RawEquals(cty.True) {
		t.Errorf("Expected bool monitoring, got %#v", got)
	}
	if got := decl.Attrs["tags"].Value(); !got.RawEquals(cty.TupleVal([]cty.Value{cty.StringVal("prod"), cty.StringVal("edge")})) {
		t.Errorf("Expected tuple tags, got %#v", got)
	}
}

func TestLoader_Load_References(t *testing.T) {
	doc := `
resources:
  - type: db
    name: main
    attrs:
      size: large
  - type: app
    name: web
    attrs:
      dsn: ${db.main.endpoint}
      disk: ${disk.data[1].path}
`
	decls, _, err := NewLoader().Load([]byte(doc))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	var app engine.ResourceDecl
	for _, d := range decls {
		if d.Address == addrs.New("app", "web") {
			app = d
		}
	}

	dsn := app.Attrs["dsn"]
	if !dsn.IsRef() {
		t.Fatalf("Expected dsn to be a reference, got %#v", dsn)
	}
	ref := dsn.Reference()
	if ref.Target != addrs.New("db", "main") || ref.Attr != "endpoint" {
		t.Errorf("Expected reference db.main.endpoint, got %s", ref)
	}

	disk := app.Attrs["disk"]
	if !disk.IsRef() {
		t.Fatalf("Expected disk to be a reference, got %#v", disk)
	}
	ref = disk.Reference()
	if ref.Target != addrs.NewIndexed("disk", "data", 1) || ref.Attr != "path" {
		t.Errorf("Expected reference disk.data[1].path, got %s", ref)
	}
}

func TestLoader_Load_CountExpansion(t *testing.T) {
	doc := `
resources:
  - type: file
    name: shard
    count: 3
    attrs:
      path: /data
`
	decls, _, err := NewLoader().Load([]byte(doc))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(decls) != 3 {
		t.Fatalf("Expected 3 instances, got %d", len(decls))
	}
	for i, decl := range decls {
		if decl.Address != addrs.NewIndexed("file", "shard", i) {
			t.Errorf("Expected file.shard[%d], got %s", i, decl.Address)
		}
	}
}

func TestLoader_Load_DependsOnAndSchemas(t *testing.T) {
	doc := `
resources:
  - type: app
    name: web
    depends_on: ["net.vpc", "disk.data[0]"]
  - type: net
    name: vpc
  - type: disk
    name: data
    count: 2
schemas:
  - type: disk
    attrs:
      size:
        force_replace: true
`
	decls, schemas, err := NewLoader().Load([]byte(doc))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(decls) != 4 {
		t.Fatalf("Expected 4 declarations, got %d", len(decls))
	}

	var app engine.ResourceDecl
	for _, d := range decls {
		if d.Address == addrs.New("app", "web") {
			app = d
		}
	}
	if len(app.DependsOn) != 2 {
		t.Fatalf("Expected 2 explicit dependencies, got %v", app.DependsOn)
	}
	if app.DependsOn[0] != addrs.New("net", "vpc") || app.DependsOn[1] != addrs.NewIndexed("disk", "data", 0) {
		t.Errorf("Expected [net.vpc disk.data[0]], got %v", app.DependsOn)
	}

	if !schemas.ForceReplace("disk", "size") {
		t.Error("Expected disk.size to be force-replace")
	}
	if schemas.ForceReplace("disk", "label") {
		t.Error("Expected disk.label to allow in-place update")
	}
}

func TestLoader_Load_InvalidDocuments(t *testing.T) {
	cases := map[string]string{
		"missing name": `
resources:
  - type: file
    attrs: {path: /tmp/a}
`,
		"bad reference": `
resources:
  - type: app
    name: web
    attrs:
      dsn: ${nodots}
`,
		"bad depends_on": `
resources:
  - type: app
    name: web
    depends_on: ["not an address"]
`,
		"not yaml": `{{{`,
	}

	for name, doc := range cases {
		if _, _, err := NewLoader().Load([]byte(doc)); err == nil {
			t.Errorf("Case %q: expected error, got none", name)
		}
	}
}

func TestLoader_Load_PlainStringIsNotReference(t *testing.T) {
	doc := `
resources:
  - type: file
    name: a
    attrs:
      content: "cost is ${UNSET} dollars and more"
`
	decls, _, err := NewLoader().Load([]byte(doc))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	v := decls[0].Attrs["content"]
	if v.IsRef() {
		t.Errorf("Expected partial interpolation to stay literal, got reference %#v", v)
	}
}

func TestLoadRuntimeFile_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := LoadRuntimeFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Expected defaults for missing file, got: %v", err)
	}
	if cfg.Parallelism != engine.DefaultParallelism {
		t.Errorf("Expected default parallelism, got %d", cfg.Parallelism)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Expected default log level info, got %s", cfg.Logging.Level)
	}
}

func TestLoadRuntimeFile_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "terrane.yaml")
	doc := `
parallelism: 8
state:
  path: /tmp/custom.db
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadRuntimeFile(path)
	if err != nil {
		t.Fatalf("LoadRuntimeFile failed: %v", err)
	}
	if cfg.Parallelism != 8 {
		t.Errorf("Expected parallelism 8, got %d", cfg.Parallelism)
	}
	if cfg.State.Path != "/tmp/custom.db" {
		t.Errorf("Expected custom state path, got %s", cfg.State.Path)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected debug level, got %s", cfg.Logging.Level)
	}
	// Sections absent from the file keep their defaults.
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Expected default metrics path, got %s", cfg.Metrics.Path)
	}
}

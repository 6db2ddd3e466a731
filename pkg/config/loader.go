package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	ctyjson "github.com/zclconf/go-cty/cty/json"
	"gopkg.in/yaml.v3"

	"github.com/terrane-io/terrane/pkg/addrs"
	"github.com/terrane-io/terrane/pkg/engine"
)

// Loader parses resource documents into engine declarations.
type Loader struct {
	validator *validator.Validate
}

// NewLoader creates a loader.
func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(),
	}
}

// LoadFile reads and parses one YAML document from disk.
func (l *Loader) LoadFile(path string) ([]engine.ResourceDecl, engine.SchemaSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	decls, schemas, err := l.Load(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return decls, schemas, nil
}

// Load parses one YAML document. Count blocks are expanded into indexed
// addresses, and every attribute value is converted to a literal cty value
// or a reference.
func (l *Loader) Load(data []byte) ([]engine.ResourceDecl, engine.SchemaSet, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("failed to parse yaml: %w", err)
	}
	if err := l.validator.Struct(&doc); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var decls []engine.ResourceDecl
	for i := range doc.Resources {
		expanded, err := l.expand(&doc.Resources[i])
		if err != nil {
			return nil, nil, err
		}
		decls = append(decls, expanded...)
	}

	schemas := make(engine.SchemaSet, len(doc.Schemas))
	for _, sc := range doc.Schemas {
		if _, dup := schemas[sc.Type]; dup {
			return nil, nil, fmt.Errorf("duplicate schema for type %q", sc.Type)
		}
		schemas[sc.Type] = engine.Schema{Attributes: sc.Attrs}
	}

	return decls, schemas, nil
}

// expand turns one resource block into its instances.
func (l *Loader) expand(rc *ResourceConfig) ([]engine.ResourceDecl, error) {
	deps := make([]addrs.Resource, 0, len(rc.DependsOn))
	for _, raw := range rc.DependsOn {
		dep, err := addrs.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("resource %s.%s: bad depends_on entry: %w", rc.Type, rc.Name, err)
		}
		deps = append(deps, dep)
	}

	attrs, err := convertAttrs(rc.Attrs)
	if err != nil {
		return nil, fmt.Errorf("resource %s.%s: %w", rc.Type, rc.Name, err)
	}

	if rc.Count <= 1 {
		return []engine.ResourceDecl{{
			Address:   addrs.New(rc.Type, rc.Name),
			Attrs:     attrs,
			DependsOn: deps,
		}}, nil
	}

	decls := make([]engine.ResourceDecl, 0, rc.Count)
	for i := 0; i < rc.Count; i++ {
		decls = append(decls, engine.ResourceDecl{
			Address:   addrs.NewIndexed(rc.Type, rc.Name, i),
			Attrs:     attrs,
			DependsOn: deps,
		})
	}
	return decls, nil
}

// convertAttrs maps raw YAML values onto attribute values.
func convertAttrs(raw map[string]interface{}) (map[string]engine.AttrValue, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	attrs := make(map[string]engine.AttrValue, len(raw))
	for name, v := range raw {
		av, err := convertValue(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", name, err)
		}
		attrs[name] = av
	}
	return attrs, nil
}

// convertValue maps one raw YAML value onto an attribute value. Strings of
// the form "${type.name.attr}" become references; everything else becomes a
// literal cty value via its JSON-implied type.
func convertValue(v interface{}) (engine.AttrValue, error) {
	if s, ok := v.(string); ok {
		if inner, isRef := refExpr(s); isRef {
			target, attr, err := parseRef(inner)
			if err != nil {
				return engine.AttrValue{}, err
			}
			return engine.Ref(target, attr), nil
		}
		return engine.StringVal(s), nil
	}

	buf, err := json.Marshal(v)
	if err != nil {
		return engine.AttrValue{}, fmt.Errorf("unsupported value: %w", err)
	}
	ty, err := ctyjson.ImpliedType(buf)
	if err != nil {
		return engine.AttrValue{}, fmt.Errorf("unsupported value: %w", err)
	}
	val, err := ctyjson.Unmarshal(buf, ty)
	if err != nil {
		return engine.AttrValue{}, fmt.Errorf("unsupported value: %w", err)
	}
	return engine.Literal(val), nil
}

// refExpr reports whether s is exactly one interpolation expression and
// returns its inner text. Partial interpolation inside a larger string is
// not supported.
func refExpr(s string) (string, bool) {
	if !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") {
		return "", false
	}
	inner := s[2 : len(s)-1]
	if inner == "" || strings.Contains(inner, "${") {
		return "", false
	}
	return inner, true
}

// parseRef splits "type.name.attr" or "type.name[i].attr" into the target
// address and attribute name.
func parseRef(inner string) (addrs.Resource, string, error) {
	addrPart := inner
	attr := ""

	if i := strings.IndexByte(inner, ']'); i >= 0 {
		if i+1 >= len(inner) || inner[i+1] != '.' {
			return addrs.Resource{}, "", fmt.Errorf("invalid reference %q: want type.name[i].attr", inner)
		}
		addrPart = inner[:i+1]
		attr = inner[i+2:]
	} else {
		dot := strings.LastIndexByte(inner, '.')
		if dot < 0 {
			return addrs.Resource{}, "", fmt.Errorf("invalid reference %q: want type.name.attr", inner)
		}
		addrPart = inner[:dot]
		attr = inner[dot+1:]
	}

	if attr == "" {
		return addrs.Resource{}, "", fmt.Errorf("invalid reference %q: empty attribute", inner)
	}
	target, err := addrs.Parse(addrPart)
	if err != nil {
		return addrs.Resource{}, "", fmt.Errorf("invalid reference %q: %w", inner, err)
	}
	return target, attr, nil
}

// LoadRuntimeFile reads the engine configuration file, applying defaults for
// anything unset. A missing file yields pure defaults.
func LoadRuntimeFile(path string) (RuntimeConfig, error) {
	cfg := DefaultRuntimeConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return cfg, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

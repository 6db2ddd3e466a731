package engine

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/terrane-io/terrane/pkg/addrs"
)

// Reference is a symbolic pointer from one resource's desired attributes to
// an output attribute of another resource. References are resolved by the
// scheduler once the target node has completed.
type Reference struct {
	// Target is the address of the referenced resource.
	Target addrs.Resource `json:"target"`

	// Attr is the name of the referenced output attribute.
	Attr string `json:"attr"`
}

// String renders the reference as "type.name.attr".
func (r Reference) String() string {
	return fmt.Sprintf("%s.%s", r.Target, r.Attr)
}

// AttrValue is a desired attribute value: either a literal cty value or an
// unresolved reference to another resource's output. The two arms are
// mutually exclusive, which keeps diff comparison total.
type AttrValue struct {
	val cty.Value
	ref *Reference
}

// Literal wraps a concrete cty value.
func Literal(v cty.Value) AttrValue {
	return AttrValue{val: v}
}

// StringVal is shorthand for a literal string attribute.
func StringVal(s string) AttrValue {
	return Literal(cty.StringVal(s))
}

// Ref wraps an unresolved reference to another resource's output attribute.
func Ref(target addrs.Resource, attr string) AttrValue {
	return AttrValue{ref: &Reference{Target: target, Attr: attr}}
}

// IsRef reports whether the value is an unresolved reference.
func (v AttrValue) IsRef() bool {
	return v.ref != nil
}

// Value returns the literal value. It is only meaningful when IsRef is false;
// for references it returns cty.NilVal.
func (v AttrValue) Value() cty.Value {
	return v.val
}

// Reference returns the reference arm, or nil for literals.
func (v AttrValue) Reference() *Reference {
	return v.ref
}

// GoString makes test failures readable.
func (v AttrValue) GoString() string {
	if v.ref != nil {
		return fmt.Sprintf("engine.Ref(%s)", v.ref)
	}
	return fmt.Sprintf("engine.Literal(%#v)", v.val)
}

// referencesOf returns the references contained in an attribute set, keyed by
// the attribute names that carry them, in no particular order.
func referencesOf(attrs map[string]AttrValue) map[string]Reference {
	refs := make(map[string]Reference)
	for name, v := range attrs {
		if v.IsRef() {
			refs[name] = *v.Reference()
		}
	}
	return refs
}

// Package addrs defines resource addresses, the stable identifiers used as
// graph node keys and state store keys throughout the engine.
package addrs

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// NoIndex is the Index value for resources that are not repeated.
const NoIndex = -1

// Resource uniquely identifies one managed resource instance.
// It is immutable once assigned.
type Resource struct {
	// Type is the resource type, e.g. "compute.instance".
	Type string `json:"type"`

	// Name is the logical name given in configuration.
	Name string `json:"name"`

	// Index distinguishes instances of a repeated resource.
	// NoIndex means the resource is a singleton.
	Index int `json:"index"`
}

// New returns the address for a singleton resource.
func New(resType, name string) Resource {
	return Resource{Type: resType, Name: name, Index: NoIndex}
}

// NewIndexed returns the address for one instance of a repeated resource.
func NewIndexed(resType, name string, index int) Resource {
	return Resource{Type: resType, Name: name, Index: index}
}

// String renders the address in its canonical form:
// "type.name" or "type.name[index]".
func (r Resource) String() string {
	if r.Index == NoIndex {
		return fmt.Sprintf("%s.%s", r.Type, r.Name)
	}
	return fmt.Sprintf("%s.%s[%d]", r.Type, r.Name, r.Index)
}

// Less defines the canonical ordering used for deterministic graph
// enumeration: lexical by type, then name, then index.
func (r Resource) Less(other Resource) bool {
	if r.Type != other.Type {
		return r.Type < other.Type
	}
	if r.Name != other.Name {
		return r.Name < other.Name
	}
	return r.Index < other.Index
}

// Parse parses a canonical address string. The type may itself contain
// dots ("compute.instance.web" has type "compute.instance" and name "web");
// the final dot-separated segment is always the name.
func Parse(s string) (Resource, error) {
	addr := Resource{Index: NoIndex}

	rest := s
	if i := strings.IndexByte(s, '['); i >= 0 {
		if !strings.HasSuffix(s, "]") {
			return Resource{}, fmt.Errorf("invalid resource address %q: unterminated index", s)
		}
		idx, err := strconv.Atoi(s[i+1 : len(s)-1])
		if err != nil || idx < 0 {
			return Resource{}, fmt.Errorf("invalid resource address %q: bad index", s)
		}
		addr.Index = idx
		rest = s[:i]
	}

	dot := strings.LastIndexByte(rest, '.')
	if dot <= 0 || dot == len(rest)-1 {
		return Resource{}, fmt.Errorf("invalid resource address %q: want type.name", s)
	}

	addr.Type = rest[:dot]
	addr.Name = rest[dot+1:]
	return addr, nil
}

// Sort sorts a slice of addresses in canonical order, in place.
func Sort(rs []Resource) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].Less(rs[j]) })
}

package state

import (
	"encoding/json"
	"fmt"

	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"

	"github.com/terrane-io/terrane/pkg/addrs"
)

// EncodeAttrs serializes an attribute set as JSON with embedded type
// information, so values round-trip with their cty types intact.
func EncodeAttrs(attrs map[string]cty.Value) ([]byte, error) {
	if attrs == nil {
		attrs = map[string]cty.Value{}
	}
	obj := cty.ObjectVal(attrs)
	raw, err := ctyjson.Marshal(obj, obj.Type())
	if err != nil {
		return nil, fmt.Errorf("failed to encode attributes: %w", err)
	}
	// The value type is carried alongside the value so decoding needs no
	// out-of-band schema.
	wrapped, err := json.Marshal(struct {
		Type  json.RawMessage `json:"type"`
		Value json.RawMessage `json:"value"`
	}{
		Type:  mustMarshalType(obj.Type()),
		Value: raw,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode attribute envelope: %w", err)
	}
	return wrapped, nil
}

// DecodeAttrs reverses EncodeAttrs.
func DecodeAttrs(raw []byte) (map[string]cty.Value, error) {
	if len(raw) == 0 {
		return map[string]cty.Value{}, nil
	}
	var envelope struct {
		Type  json.RawMessage `json:"type"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode attribute envelope: %w", err)
	}
	ty, err := ctyjson.UnmarshalType(envelope.Type)
	if err != nil {
		return nil, fmt.Errorf("failed to decode attribute type: %w", err)
	}
	v, err := ctyjson.Unmarshal(envelope.Value, ty)
	if err != nil {
		return nil, fmt.Errorf("failed to decode attributes: %w", err)
	}
	if v.IsNull() || !v.Type().IsObjectType() {
		return map[string]cty.Value{}, nil
	}
	if len(v.Type().AttributeTypes()) == 0 {
		return map[string]cty.Value{}, nil
	}
	return v.AsValueMap(), nil
}

func mustMarshalType(ty cty.Type) json.RawMessage {
	raw, err := ctyjson.MarshalType(ty)
	if err != nil {
		// Object types built from decoded values always marshal.
		panic(err)
	}
	return raw
}

// encodeDeps serializes dependency addresses as a JSON array of canonical
// address strings.
func encodeDeps(deps []addrs.Resource) (string, error) {
	ss := make([]string, 0, len(deps))
	for _, d := range deps {
		ss = append(ss, d.String())
	}
	raw, err := json.Marshal(ss)
	if err != nil {
		return "", fmt.Errorf("failed to encode dependencies: %w", err)
	}
	return string(raw), nil
}

// decodeDeps reverses encodeDeps.
func decodeDeps(raw string) ([]addrs.Resource, error) {
	if raw == "" {
		return nil, nil
	}
	var ss []string
	if err := json.Unmarshal([]byte(raw), &ss); err != nil {
		return nil, fmt.Errorf("failed to decode dependencies: %w", err)
	}
	deps := make([]addrs.Resource, 0, len(ss))
	for _, s := range ss {
		addr, err := addrs.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("failed to decode dependency address: %w", err)
		}
		deps = append(deps, addr)
	}
	return deps, nil
}

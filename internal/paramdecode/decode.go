// Package paramdecode turns the raw string(s) captured for one path, query,
// header, or cookie parameter into a typed JSON value, following the
// OpenAPI 3.1 style/explode serialization rules. There is no equivalent
// standalone module in original_source -- the Rust CLI only emits decoding
// code into generated handler stubs (see
// examples/pet_store/src/controllers/get_matrix.rs) -- so this package is
// grounded directly on the OpenAPI style/explode table rather than on a
// ported file.
package paramdecode

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/brrtrouter/brrtrouter/internal/spec"
)

// ErrMissingParameter is returned when a required parameter has no raw
// values to decode.
type ErrMissingParameter struct {
	Name string
}

func (e *ErrMissingParameter) Error() string {
	return fmt.Sprintf("missing required parameter %q", e.Name)
}

// Decode converts raw into a typed value per desc's location/style/explode.
// raw holds every value captured for this parameter name (more than one
// only when explode produced repeated query keys); single-valued locations
// (path, header, cookie) always pass a 1-element slice.
func Decode(desc spec.ParameterDescriptor, raw []string) (any, error) {
	if len(raw) == 0 || (len(raw) == 1 && raw[0] == "") {
		if desc.Required {
			return nil, &ErrMissingParameter{Name: desc.Name}
		}
		return nil, nil
	}

	isArray := schemaType(desc.Schema) == "array"
	isObject := schemaType(desc.Schema) == "object"

	switch desc.Style {
	case spec.StyleMatrix:
		return decodeMatrix(desc, raw[0], isArray, isObject)
	case spec.StyleLabel:
		return decodeLabel(raw[0], isArray)
	case spec.StyleForm:
		return decodeForm(desc, raw, isArray, isObject)
	case spec.StyleSimple:
		return decodeSimple(raw[0], isArray)
	case spec.StyleSpaceDelimited:
		return splitDelimited(raw[0], " "), nil
	case spec.StylePipeDelimited:
		return splitDelimited(raw[0], "|"), nil
	case spec.StyleDeepObject:
		return decodeDeepObject(desc.Name, raw)
	default:
		return decodeLiteralOrString(raw[0]), nil
	}
}

// decodeMatrix handles `;name=v1,v2` (exploded: `;name=v1;name=v2`).
func decodeMatrix(desc spec.ParameterDescriptor, raw string, isArray, isObject bool) (any, error) {
	raw = strings.TrimPrefix(raw, ";")
	if isArray {
		parts := strings.Split(raw, ";")
		var values []string
		for _, p := range parts {
			kv := strings.SplitN(p, "=", 2)
			if len(kv) == 2 && kv[0] == desc.Name {
				values = append(values, splitDelimited(kv[1], ",")...)
			} else if len(kv) == 1 {
				values = append(values, strings.Split(kv[0], ",")...)
			}
		}
		return toAnySlice(values), nil
	}
	if isObject {
		return matrixObject(raw), nil
	}
	if i := strings.Index(raw, "="); i >= 0 {
		return decodeLiteralOrString(raw[i+1:]), nil
	}
	return decodeLiteralOrString(raw), nil
}

func matrixObject(raw string) map[string]any {
	out := map[string]any{}
	for _, pair := range strings.Split(raw, ";") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		fields := strings.Split(kv[1], ",")
		for i := 0; i+1 < len(fields); i += 2 {
			out[fields[i]] = decodeLiteralOrString(fields[i+1])
		}
	}
	return out
}

// decodeLabel handles `.v1.v2`.
func decodeLabel(raw string, isArray bool) (any, error) {
	raw = strings.TrimPrefix(raw, ".")
	if isArray {
		return toAnySlice(strings.Split(raw, ".")), nil
	}
	return decodeLiteralOrString(raw), nil
}

// decodeForm handles query/cookie default style: explode=true means raw
// already contains one value per repeated key; explode=false means a
// single comma-joined value (or, for objects, `k,v,k,v`).
func decodeForm(desc spec.ParameterDescriptor, raw []string, isArray, isObject bool) (any, error) {
	if isArray {
		if desc.Explode {
			return toAnySlice(raw), nil
		}
		return toAnySlice(splitDelimited(raw[0], ",")), nil
	}
	if isObject {
		if desc.Explode {
			return formObjectExploded(raw), nil
		}
		return formObjectFlat(raw[0]), nil
	}
	return decodeLiteralOrString(raw[0]), nil
}

func formObjectExploded(raw []string) map[string]any {
	out := map[string]any{}
	for _, kv := range raw {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			out[parts[0]] = decodeLiteralOrString(parts[1])
		}
	}
	return out
}

func formObjectFlat(raw string) map[string]any {
	fields := splitDelimited(raw, ",")
	out := map[string]any{}
	for i := 0; i+1 < len(fields); i += 2 {
		out[fields[i]] = decodeLiteralOrString(fields[i+1])
	}
	return out
}

// decodeSimple handles path/header default style: CSV for arrays.
func decodeSimple(raw string, isArray bool) (any, error) {
	if isArray {
		return toAnySlice(splitDelimited(raw, ",")), nil
	}
	return decodeLiteralOrString(raw), nil
}

func decodeDeepObject(name string, raw []string) (any, error) {
	out := map[string]any{}
	prefix := name + "["
	for _, kv := range raw {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || !strings.HasPrefix(parts[0], prefix) {
			continue
		}
		key := strings.TrimSuffix(strings.TrimPrefix(parts[0], prefix), "]")
		out[key] = decodeLiteralOrString(parts[1])
	}
	return out, nil
}

func splitDelimited(raw, sep string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, sep)
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = decodeLiteralOrString(s)
	}
	return out
}

// decodeLiteralOrString tries to parse raw as a JSON literal (number,
// bool, null, object, array) and falls back to the raw string -- accepting
// objects serialized as a JSON literal when style is absent, plus
// numeric/bool coercion for typed schemas, without requiring a full
// schema-aware parser here (the validator, not the decoder, is the final
// authority on type correctness).
func decodeLiteralOrString(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return raw
	}
	first := trimmed[0]
	if first == '{' || first == '[' || first == '"' {
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return v
		}
		return raw
	}
	switch trimmed {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	var n json.Number
	if err := json.Unmarshal([]byte(trimmed), &n); err == nil {
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	return raw
}

func schemaType(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var m struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return ""
	}
	return m.Type
}

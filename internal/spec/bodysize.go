package spec

import (
	"encoding/json"
)

// Conservative body-size estimation constants, carried over verbatim from
// original_source/src/spec/build.rs.
const (
	defaultMaxArrayItems      = 100
	defaultMaxStringLength    = 1024
	defaultObjectPropertySize = 50
	maxEstimatedBodySize      = 10 * 1024 * 1024 // 10 MiB cap
)

// EstimateBodySize computes a conservative upper bound on the serialized
// size of a JSON body described by schema, by walking type/maxLength/
// maxItems/properties constraints. Returns 0 if schema is nil/empty.
//
// A raw x-brrtrouter-body-size-bytes integer on the schema overrides the
// computed estimate (clamped to maxEstimatedBodySize). Recursion is capped
// at depth 10 to tolerate pathological $ref cycles.
func EstimateBodySize(schema json.RawMessage) int {
	if len(schema) == 0 {
		return 0
	}
	var v map[string]any
	if err := json.Unmarshal(schema, &v); err != nil {
		return 0
	}
	return estimateSchemaSize(v, 0)
}

func estimateSchemaSize(obj map[string]any, depth int) int {
	if depth > 10 {
		return defaultObjectPropertySize
	}

	if override, ok := asUint(obj["x-brrtrouter-body-size-bytes"]); ok {
		return minInt(override, maxEstimatedBodySize)
	}

	typeStr, _ := obj["type"].(string)

	switch typeStr {
	case "string":
		maxLen := defaultMaxStringLength
		if n, ok := asUint(obj["maxLength"]); ok {
			maxLen = n
		}
		return minInt(maxLen*2+2, maxEstimatedBodySize)

	case "integer", "number":
		return 20

	case "boolean":
		return 5

	case "array":
		maxItems := defaultMaxArrayItems
		if n, ok := asUint(obj["maxItems"]); ok {
			maxItems = n
		}
		itemSize := defaultObjectPropertySize
		if items, ok := obj["items"].(map[string]any); ok {
			itemSize = estimateSchemaSize(items, depth+1)
		}
		overhead := 2 + maxSub(maxItems, 1)
		return minInt(maxItems*itemSize+overhead, maxEstimatedBodySize)

	case "object", "":
		total := 2 // {}
		if props, ok := obj["properties"].(map[string]any); ok {
			for key, propSchema := range props {
				keyOverhead := len(key) + 4
				var size int
				if ps, ok := propSchema.(map[string]any); ok {
					size = estimateSchemaSize(ps, depth+1)
				} else {
					size = defaultObjectPropertySize
				}
				total += keyOverhead + size + 1
			}
		}
		if _, ok := obj["additionalProperties"]; ok {
			total += defaultObjectPropertySize * 5
		}
		return minInt(total, maxEstimatedBodySize)

	default:
		return defaultObjectPropertySize
	}
}

func asUint(v any) (int, bool) {
	f, ok := v.(float64)
	if !ok || f < 0 {
		return 0, false
	}
	return int(f), true
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxSub(a, b int) int {
	if a < b {
		return 0
	}
	return a - b
}

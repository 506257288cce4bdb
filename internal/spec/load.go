package spec

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// Document is a loaded, validated OpenAPI document together with the
// RouteDescriptors compiled from it. internal/reload swaps a *Document as
// a single atomic unit; internal/routing and internal/validator only ever
// see the Routes slice.
type Document struct {
	Title   string
	Version string
	Routes  []RouteDescriptor
}

// Load reads and validates the OpenAPI document at path, then compiles it
// into RouteDescriptors. Grounded on original_source/src/spec/{load,build}.rs;
// the kin-openapi loader's own $ref resolution (IsExternalRefsAllowed)
// replaces the hand-rolled resolve_schema_ref/expand_schema_refs pass the
// Rust version needed because its oas3 crate doesn't resolve refs.
func Load(ctx context.Context, path string) (*Document, []Issue, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = true

	doc, err := loader.LoadFromFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load openapi document %s: %w", path, err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, nil, fmt.Errorf("validate openapi document %s: %w", path, err)
	}

	routes, issues := buildRoutes(doc)
	return &Document{
		Title:   doc.Info.Title,
		Version: doc.Info.Version,
		Routes:  routes,
	}, issues, nil
}

// buildRoutes walks every path/method in doc and emits one RouteDescriptor
// per operation, collecting non-fatal Issues along the way (e.g. a missing
// handler name skips just that operation, matching original_source's
// resolve_handler_name behavior of pushing an issue and continuing).
func buildRoutes(doc *openapi3.T) ([]RouteDescriptor, []Issue) {
	var routes []RouteDescriptor
	var issues []Issue

	paths := doc.Paths.Map()
	keys := make([]string, 0, len(paths))
	for p := range paths {
		keys = append(keys, p)
	}
	sort.Strings(keys)

	for _, path := range keys {
		item := paths[path]
		for method, op := range item.Operations() {
			location := fmt.Sprintf("%s %s", method, path)

			handlerName, ok := resolveHandlerName(op, location)
			if !ok {
				issues = append(issues, newIssue(location, "MissingHandler", "missing operationId or x-handler-* extension"))
				continue
			}

			reqSchema, reqRequired := extractRequestSchema(op)
			respSchema, respExample, allResponses := extractResponseSchemaAndExample(op)

			security := op.Security
			var reqs []SecurityRequirement
			if security != nil {
				reqs = convertSecurity(*security)
			} else if doc.Security != nil {
				reqs = convertSecurity(doc.Security)
			}

			var params []ParameterDescriptor
			params = append(params, extractParameters(item.Parameters)...)
			params = append(params, extractParameters(op.Parameters)...)

			route := RouteDescriptor{
				Method:                normalizeMethod(method),
				PathPattern:           path,
				HandlerName:           handlerName,
				Parameters:            params,
				RequestSchema:         reqSchema,
				RequestBodyRequired:   reqRequired,
				EstimatedRequestBytes: EstimateBodySize(reqSchema),
				ResponseSchema:        respSchema,
				ResponseExample:       respExample,
				Responses:             allResponses,
				Security:              reqs,
				SSE:                   extractBoolExtension(op.Extensions, "x-sse", "sse"),
				CORS:                  extractCORSPolicy(op),
				StackSize:             extractStackSizeOverride(op),
			}
			routes = append(routes, route)
		}
	}

	return routes, issues
}

func resolveHandlerName(op *openapi3.Operation, location string) (string, bool) {
	for key, val := range op.Extensions {
		if !strings.HasPrefix(key, "x-handler") {
			continue
		}
		if s, ok := val.(string); ok && s != "" {
			return s, true
		}
	}
	if op.OperationID != "" {
		return op.OperationID, true
	}
	_ = location
	return "", false
}

func extractRequestSchema(op *openapi3.Operation) (json.RawMessage, bool) {
	if op.RequestBody == nil || op.RequestBody.Value == nil {
		return nil, false
	}
	body := op.RequestBody.Value
	media := body.Content.Get("application/json")
	if media == nil || media.Schema == nil || media.Schema.Value == nil {
		return nil, body.Required
	}
	return schemaToRaw(media.Schema), body.Required
}

// extractResponseSchemaAndExample picks the default response body the way
// original_source/src/spec/build.rs does: 200+application/json first, then
// any 2xx+application/json, then any 2xx with a schema/example, then any
// status with application/json.
func extractResponseSchemaAndExample(op *openapi3.Operation) (json.RawMessage, json.RawMessage, map[int]map[string]ResponseDescriptor) {
	all := map[int]map[string]ResponseDescriptor{}
	if op.Responses == nil {
		return nil, nil, all
	}

	for statusStr, respRef := range op.Responses.Map() {
		status, err := strconv.Atoi(statusStr)
		if err != nil {
			continue // "default" and similar non-numeric keys aren't addressable by status
		}
		if respRef == nil || respRef.Value == nil {
			continue
		}
		for ct, media := range respRef.Value.Content {
			var schema json.RawMessage
			if media.Schema != nil && media.Schema.Value != nil {
				schema = schemaToRaw(media.Schema)
			}
			var example json.RawMessage
			if media.Example != nil {
				example, _ = json.Marshal(media.Example)
			} else if len(media.Examples) > 0 {
				for _, ex := range media.Examples {
					if ex != nil && ex.Value != nil && ex.Value.Value != nil {
						example, _ = json.Marshal(ex.Value.Value)
						break
					}
				}
			}
			if all[status] == nil {
				all[status] = map[string]ResponseDescriptor{}
			}
			all[status][ct] = ResponseDescriptor{Schema: schema, Example: example}
		}
	}

	if d, ok := all[200]["application/json"]; ok {
		return d.Schema, d.Example, all
	}

	statuses := make([]int, 0, len(all))
	for s := range all {
		statuses = append(statuses, s)
	}
	sort.Ints(statuses)

	for _, s := range statuses {
		if s < 200 || s >= 300 {
			continue
		}
		if d, ok := all[s]["application/json"]; ok {
			return d.Schema, d.Example, all
		}
	}
	for _, s := range statuses {
		if s < 200 || s >= 300 {
			continue
		}
		for _, d := range all[s] {
			if len(d.Schema) > 0 || len(d.Example) > 0 {
				return d.Schema, d.Example, all
			}
		}
	}
	for _, s := range statuses {
		if d, ok := all[s]["application/json"]; ok {
			return d.Schema, d.Example, all
		}
	}

	return nil, nil, all
}

func extractParameters(params openapi3.Parameters) []ParameterDescriptor {
	out := make([]ParameterDescriptor, 0, len(params))
	for _, pr := range params {
		if pr == nil || pr.Value == nil {
			continue
		}
		p := pr.Value
		loc := ParameterLocation(p.In)

		style := ParameterStyle(p.Style)
		if style == "" {
			style = defaultStyle(loc)
		}

		explode := false
		if p.Explode != nil {
			explode = *p.Explode
		} else {
			explode = style == StyleForm
		}

		var schema json.RawMessage
		if p.Schema != nil && p.Schema.Value != nil {
			schema = schemaToRaw(p.Schema)
		}

		out = append(out, ParameterDescriptor{
			Name:     p.Name,
			Location: loc,
			Required: p.Required,
			Schema:   schema,
			Style:    style,
			Explode:  explode,
		})
	}
	return out
}

// schemaToRaw marshals a resolved SchemaRef into JSON, tagging it with
// x-ref-name when it originated from a named $ref -- mirroring
// expand_schema_refs's bookkeeping so the validator cache can key on a
// stable schema identity.
func schemaToRaw(ref *openapi3.SchemaRef) json.RawMessage {
	b, err := json.Marshal(ref.Value)
	if err != nil {
		return nil
	}
	if ref.Ref == "" {
		return b
	}
	name := ref.Ref
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return b
	}
	m["x-ref-name"] = name
	out, err := json.Marshal(m)
	if err != nil {
		return b
	}
	return out
}

func convertSecurity(reqs openapi3.SecurityRequirements) []SecurityRequirement {
	out := make([]SecurityRequirement, 0, len(reqs))
	for _, r := range reqs {
		conv := make(SecurityRequirement, len(r))
		for name, scopes := range r {
			conv[name] = scopes
		}
		out = append(out, conv)
	}
	return out
}

func extractBoolExtension(ext map[string]interface{}, keys ...string) bool {
	for _, k := range keys {
		if v, ok := ext[k]; ok {
			if b, ok := v.(bool); ok {
				return b
			}
		}
	}
	return false
}

func extractStackSizeOverride(op *openapi3.Operation) *uint64 {
	v, ok := op.Extensions["x-brrtrouter-stack-size"]
	if !ok {
		return nil
	}
	switch n := v.(type) {
	case float64:
		u := uint64(n)
		return &u
	case json.Number:
		if i, err := n.Int64(); err == nil {
			u := uint64(i)
			return &u
		}
	case string:
		if i, err := strconv.ParseUint(n, 10, 64); err == nil {
			return &i
		}
	}
	return nil
}

// extractCORSPolicy reads the x-cors vendor extension into the route's
// CORSPolicy. The CORS middleware does not consult it.
func extractCORSPolicy(op *openapi3.Operation) *CORSPolicy {
	raw, ok := op.Extensions["x-cors"]
	if !ok {
		return nil
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil
	}
	policy := &CORSPolicy{}
	if origins, ok := m["allowed_origins"].([]interface{}); ok {
		for _, o := range origins {
			if s, ok := o.(string); ok {
				policy.AllowedOrigins = append(policy.AllowedOrigins, s)
			}
		}
	}
	if creds, ok := m["allow_credentials"].(bool); ok {
		policy.AllowCredentials = creds
	}
	return policy
}

// SecuritySchemesFrom extracts components.securitySchemes into the
// SecurityScheme map internal/security builds providers from.
func SecuritySchemesFrom(doc *openapi3.T) map[string]SecurityScheme {
	out := map[string]SecurityScheme{}
	if doc.Components == nil {
		return out
	}
	for name, ref := range doc.Components.SecuritySchemes {
		if ref == nil || ref.Value == nil {
			continue
		}
		s := ref.Value
		out[name] = SecurityScheme{
			Name:    name,
			Kind:    SecuritySchemeKind(s.Type),
			Scheme:  s.Scheme,
			In:      ParameterLocation(s.In),
			KeyName: s.Name,
		}
	}
	return out
}

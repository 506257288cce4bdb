// Package linter runs the same kind of checks internal/spec applies while
// compiling a route table, but in report-only mode: nothing here ever
// fails the load, and it additionally flags style/completeness problems
// C1 has no reason to care about (operationId casing, missing schema
// typing). Intended for a `brrtrouter lint` CLI subcommand, independent of
// running the server.
//
// Grounded on original_source/src/linter.rs's lint_spec/lint_operation/
// lint_schema walk, reusing spec.Issue (original_source's ValidationIssue)
// for the result type instead of introducing a parallel one, and
// getkin/kin-openapi (already C1's loader) instead of the Rust oas3 crate.
package linter

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/brrtrouter/brrtrouter/internal/spec"
)

var snakeCase = regexp.MustCompile(`^[a-z][a-z0-9]*(_[a-z0-9]+)*$`)

// Lint loads the OpenAPI document at path (without kin-openapi's strict
// Validate, so structurally-invalid-but-lintable documents still produce
// useful issues) and runs every check, returning every issue found rather
// than stopping at the first one.
func Lint(ctx context.Context, path string) ([]spec.Issue, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = true

	doc, err := loader.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load openapi document %s: %w", path, err)
	}

	var issues []spec.Issue
	definedSchemas := collectSchemaNames(doc)

	paths := doc.Paths.Map()
	keys := make([]string, 0, len(paths))
	for p := range paths {
		keys = append(keys, p)
	}
	sort.Strings(keys)

	for _, p := range keys {
		item := paths[p]
		for method, op := range item.Operations() {
			issues = append(issues, lintOperation(p, method, op, definedSchemas)...)
		}
	}
	if doc.Components != nil {
		names := make([]string, 0, len(doc.Components.Schemas))
		for name := range doc.Components.Schemas {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			issues = append(issues, lintSchema("schema:"+name, doc.Components.Schemas[name], definedSchemas)...)
		}
	}
	return issues, nil
}

func collectSchemaNames(doc *openapi3.T) map[string]bool {
	names := make(map[string]bool)
	if doc.Components == nil {
		return names
	}
	for name := range doc.Components.Schemas {
		names[name] = true
	}
	return names
}

func lintOperation(path, method string, op *openapi3.Operation, defined map[string]bool) []spec.Issue {
	location := fmt.Sprintf("%s %s", method, path)
	var issues []spec.Issue

	if op.OperationID == "" {
		issues = append(issues, issue(location, "missing_operation_id", "operation is missing operationId"))
		return issues // casing/handler-name checks meaningless without one
	}
	if !snakeCase.MatchString(op.OperationID) {
		issues = append(issues, issue(location, "operation_id_casing",
			fmt.Sprintf("operationId %q should be snake_case (suggest %q)", op.OperationID, toSnakeCase(op.OperationID))))
	}

	if op.RequestBody != nil && op.RequestBody.Value != nil {
		for _, media := range op.RequestBody.Value.Content {
			issues = append(issues, lintSchemaRef(location+" (requestBody)", media.Schema, defined)...)
		}
	}

	if op.Responses != nil {
		responses := op.Responses.Map()
		statuses := make([]string, 0, len(responses))
		for status := range responses {
			statuses = append(statuses, status)
		}
		sort.Strings(statuses)
		for _, status := range statuses {
			resp := responses[status]
			if resp == nil || resp.Value == nil {
				continue
			}
			for _, media := range resp.Value.Content {
				issues = append(issues, lintSchemaRef(fmt.Sprintf("%s (response %s)", location, status), media.Schema, defined)...)
			}
		}
	}
	return issues
}

func lintSchemaRef(location string, ref *openapi3.SchemaRef, defined map[string]bool) []spec.Issue {
	if ref == nil {
		return nil
	}
	if ref.Ref != "" {
		name := strings.TrimPrefix(ref.Ref, "#/components/schemas/")
		if name == ref.Ref || !defined[name] {
			return []spec.Issue{issue(location, "unresolved_schema_ref", fmt.Sprintf("$ref %q does not resolve to a defined schema", ref.Ref))}
		}
		return nil
	}
	if ref.Value != nil {
		return lintSchema(location, ref, defined)
	}
	return nil
}

func lintSchema(location string, ref *openapi3.SchemaRef, defined map[string]bool) []spec.Issue {
	if ref == nil || ref.Value == nil {
		return nil
	}
	s := ref.Value
	var issues []spec.Issue

	if (s.Type == nil || len(*s.Type) == 0) && len(s.Enum) == 0 && len(s.AllOf)+len(s.OneOf)+len(s.AnyOf) == 0 {
		issues = append(issues, issue(location, "missing_type", "schema has no type, enum, or composition keyword"))
	}

	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		issues = append(issues, lintSchemaRef(location+"."+name, s.Properties[name], defined)...)
	}
	if s.Items != nil {
		issues = append(issues, lintSchemaRef(location+"[]", s.Items, defined)...)
	}
	return issues
}

func issue(location, kind, message string) spec.Issue {
	return spec.Issue{Location: location, Kind: kind, Message: message}
}

func toSnakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r - 'A' + 'a')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

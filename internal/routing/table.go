// Package routing matches an inbound (method, path) against the route
// table compiled by internal/spec. Grounded on
// original_source/src/router/mod.rs's two-phase compile/match design,
// reimplemented as a segment trie (the Rust module's own doc comment calls
// itself "regex-based" but its Architecture section describes a compiled,
// indexed structure, so this package builds an indexed trie rather than a
// regex engine).
package routing

import (
	"errors"
	"strings"

	"github.com/brrtrouter/brrtrouter/internal/spec"
)

// ErrMethodMismatch is returned by Table.Match when the path matches a
// node but not for the requested method, letting the Dispatcher choose
// between 404 and 405.
type ErrMethodMismatch struct {
	Allowed []string
}

func (e *ErrMethodMismatch) Error() string {
	return "method not allowed: " + strings.Join(e.Allowed, ", ")
}

// PathParam is one captured {name} binding, kept in pattern order.
type PathParam struct {
	Name  string
	Value string
}

// PathParams is a small slice of captured path-parameter bindings,
// allocated fresh per match and owned by the caller.
type PathParams []PathParam

// Get returns the value bound to name, or "" if absent.
func (p PathParams) Get(name string) (string, bool) {
	for _, kv := range p {
		if kv.Name == name {
			return kv.Value, true
		}
	}
	return "", false
}

// node is a shared trie position. Two different routes can cross the same
// placeholder position under different declared names (GET /items/{itemId}
// and DELETE /items/{id} both have a single-segment placeholder child of
// the "items" node), so the node itself carries no parameter name -- only
// the owning spec.RouteDescriptor.Parameters know what a captured segment
// is called. matchNode captures values positionally; bindParams re-keys
// them against the matched route's own pattern once a leaf is found.
type node struct {
	literal     map[string]*node
	placeholder *node
	methods     map[string]*spec.RouteDescriptor
}

func newNode() *node {
	return &node{literal: make(map[string]*node)}
}

// Table is an immutable, per-process routing table. Build it once from a
// []spec.RouteDescriptor; internal/reload swaps the *Table pointer
// atomically on spec changes.
type Table struct {
	root *node
}

// Build compiles descriptors into a Table, rejecting duplicate (method,
// path pattern) pairs so two operations never compile to an ambiguous match.
func Build(descriptors []spec.RouteDescriptor) (*Table, error) {
	root := newNode()
	seen := make(map[string]bool, len(descriptors))

	for i := range descriptors {
		d := &descriptors[i]
		key := d.Method + " " + d.PathPattern
		if seen[key] {
			return nil, errors.New("duplicate route: " + key)
		}
		seen[key] = true

		segments := splitPath(d.PathPattern)
		n := root
		for _, seg := range segments {
			if _, ok := placeholderName(seg); ok {
				if n.placeholder == nil {
					n.placeholder = newNode()
				}
				n = n.placeholder
			} else {
				child, ok := n.literal[seg]
				if !ok {
					child = newNode()
					n.literal[seg] = child
				}
				n = child
			}
		}
		if n.methods == nil {
			n.methods = make(map[string]*spec.RouteDescriptor)
		}
		n.methods[d.Method] = d
	}

	return &Table{root: root}, nil
}

// Match resolves method and path against the table. Returns
// (descriptor, params, nil) on a hit. On a path match with no method
// match it returns (nil, nil, *ErrMethodMismatch). On no match at all it
// returns (nil, nil, nil).
func (t *Table) Match(method, path string) (*spec.RouteDescriptor, PathParams, error) {
	segments := splitPath(path)

	var values []string
	d, allowed, ok := matchNode(t.root, segments, 0, method, &values)
	if ok {
		return d, bindParams(d, values), nil
	}
	if len(allowed) > 0 {
		return nil, nil, &ErrMethodMismatch{Allowed: allowed}
	}
	return nil, nil, nil
}

// bindParams re-keys the positionally captured segment values against the
// matched descriptor's own path pattern, so two routes that share a trie
// placeholder position under different declared names (see node's doc
// comment) each get their own parameter names back, never one borrowed
// from whichever route happened to create the shared node.
func bindParams(d *spec.RouteDescriptor, values []string) PathParams {
	if len(values) == 0 {
		return nil
	}
	segments := splitPath(d.PathPattern)
	params := make(PathParams, 0, len(values))
	vi := 0
	for _, seg := range segments {
		name, ok := placeholderName(seg)
		if !ok {
			continue
		}
		if vi >= len(values) {
			break
		}
		params = append(params, PathParam{Name: name, Value: values[vi]})
		vi++
	}
	return params
}

// matchNode walks the trie depth-first, preferring a literal child over
// the placeholder child at every level (a more literal prefix always wins
// over a placeholder at the same position) and backtracking to the placeholder
// branch if the literal branch doesn't lead to a full match. Captured
// placeholder values are recorded positionally in values; bindParams
// assigns their names once the matched leaf's own descriptor is known.
func matchNode(n *node, segments []string, idx int, method string, values *[]string) (*spec.RouteDescriptor, []string, bool) {
	if idx == len(segments) {
		if n.methods == nil {
			return nil, nil, false
		}
		if d, ok := n.methods[method]; ok {
			return d, nil, true
		}
		allowed := make([]string, 0, len(n.methods))
		for m := range n.methods {
			allowed = append(allowed, m)
		}
		return nil, allowed, false
	}

	seg := segments[idx]
	var bestAllowed []string

	if child, ok := n.literal[seg]; ok {
		if d, allowed, ok := matchNode(child, segments, idx+1, method, values); ok {
			return d, nil, true
		} else if len(allowed) > 0 {
			bestAllowed = allowed
		}
	}

	if n.placeholder != nil {
		saved := len(*values)
		*values = append(*values, seg)
		if d, allowed, ok := matchNode(n.placeholder, segments, idx+1, method, values); ok {
			return d, nil, true
		} else if len(allowed) > 0 && bestAllowed == nil {
			bestAllowed = allowed
		}
		*values = (*values)[:saved]
	}

	return nil, bestAllowed, false
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func placeholderName(seg string) (string, bool) {
	if len(seg) >= 2 && seg[0] == '{' && seg[len(seg)-1] == '}' {
		return seg[1 : len(seg)-1], true
	}
	return "", false
}

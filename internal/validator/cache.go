// Package validator compiles JSON-Schema documents into reusable
// santhosh-tekuri/jsonschema/v6 validators and caches them by a stable
// (handler, direction, status) key, compiling each schema exactly once.
// Unlike internal/cache's generic TTL/insertion-order eviction, entries
// here never expire on their own -- a compiled validator never goes
// stale by itself; only an explicit Clear() (called by internal/reload
// after a spec swap) removes entries.
package validator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Direction distinguishes a request-body schema from a response-body schema.
type Direction string

const (
	DirectionRequest  Direction = "request"
	DirectionResponse Direction = "response"
)

// Key identifies one compiled validator slot. Status is 0 for request
// bodies (which aren't keyed by status code).
type Key struct {
	Handler   string
	Direction Direction
	Status    int
}

func (k Key) resourceURL() string {
	return fmt.Sprintf("mem://%s/%s/%d", k.Handler, k.Direction, k.Status)
}

// slot gates one key's compilation behind a sync.Once so concurrent
// callers share a single compile and observe the same result.
type slot struct {
	once   sync.Once
	schema *jsonschema.Schema
	err    error
}

// Cache compiles and shares *jsonschema.Schema validators by Key. The zero
// value is not usable; construct with New.
type Cache struct {
	enabled bool

	mu    sync.Mutex
	slots map[Key]*slot
}

// New constructs a Cache. enabled=false switches to "disabled mode": every
// call compiles fresh and nothing is ever stored, so Len() always reports
// zero.
func New(enabled bool) *Cache {
	return &Cache{
		enabled: enabled,
		slots:   make(map[Key]*slot),
	}
}

// GetOrCompile returns the shared validator for key, compiling raw on
// first access. Concurrent callers for the same key block on the same
// compilation and observe the same *jsonschema.Schema (compile-once
// guarantee). A compile failure returns (nil, err) and is never cached, so
// the next call retries.
func (c *Cache) GetOrCompile(key Key, raw json.RawMessage) (*jsonschema.Schema, error) {
	if !c.enabled {
		return compile(key.resourceURL(), raw)
	}

	c.mu.Lock()
	s, ok := c.slots[key]
	if !ok {
		s = &slot{}
		c.slots[key] = s
	}
	c.mu.Unlock()

	s.once.Do(func() {
		s.schema, s.err = compile(key.resourceURL(), raw)
	})

	if s.err != nil {
		c.mu.Lock()
		if c.slots[key] == s {
			delete(c.slots, key)
		}
		c.mu.Unlock()
		return nil, s.err
	}
	return s.schema, nil
}

// Clear empties the cache. Called after internal/reload publishes a new
// route table so stale schema compilations from the old spec don't linger.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slots = make(map[Key]*slot)
}

// Len reports the number of compiled validators currently cached. Always
// 0 in disabled mode.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.slots {
		if s.err == nil {
			n++
		}
	}
	return n
}

func compile(url string, raw json.RawMessage) (*jsonschema.Schema, error) {
	var doc any
	if err := json.NewDecoder(bytes.NewReader(raw)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode schema for %s: %w", url, err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource %s: %w", url, err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", url, err)
	}
	return schema, nil
}

// Validate runs value (already decoded into Go types via encoding/json,
// e.g. map[string]any) against schema.
func Validate(schema *jsonschema.Schema, value any) error {
	return schema.Validate(value)
}

// Package reqid generates and parses the 128-bit ULID request identifiers
// used to correlate a Handler Request across the dispatch pipeline.
package reqid

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// entropy is a mutex-guarded monotonic entropy source. ulid.Monotonic is not
// safe for concurrent use on its own, so every caller goes through this
// single guarded source to get strictly increasing IDs within a millisecond.
var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New generates a fresh ULID request identifier.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	id := ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
	return id.String()
}

// FromHeaderOrNew parses header as a ULID if valid, else generates a new
// one (ULID from the X-Request-Id header if valid, else new).
func FromHeaderOrNew(header string) string {
	if header == "" {
		return New()
	}
	if _, err := ulid.ParseStrict(header); err != nil {
		return New()
	}
	return header
}

// Valid reports whether s parses as a strict ULID.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}

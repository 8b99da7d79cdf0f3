// Package store test helpers.
//
// Tests needing a database should use NewTestStore: in-memory for speed,
// closed via t.Cleanup, migrations applied automatically.
package store

import (
	"testing"
)

// NewTestStore creates an in-memory store for testing. The store is closed
// automatically when the test completes.
//
// Usage:
//
//	func TestSomething(t *testing.T) {
//	    t.Parallel()
//	    s := store.NewTestStore(t)
//	    // use s...
//	}
func NewTestStore(t testing.TB) *Store {
	t.Helper()

	s, err := OpenInMemory()
	if err != nil {
		t.Fatalf("create test store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

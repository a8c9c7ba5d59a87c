package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// appendN appends n events of kind "tick" with payload {"n":i}.
func appendN(t *testing.T, s *Store, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		if _, err := s.Append(ctx, "tick", 1, []byte(fmt.Sprintf(`{"n":%d}`, i))); err != nil {
			t.Fatalf("Append(%d) failed: %v", i, err)
		}
	}
}

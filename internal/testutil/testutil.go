// Package testutil provides shared test helpers for setting up stores and
// fixture directories.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/compendium/internal/docstore"
)

// TestStore creates a temporary SQLite document store that is automatically
// cleaned up.
func TestStore(t *testing.T) *docstore.Store {
	t.Helper()
	dbFile, err := os.CreateTemp("", "compendium-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() {
		os.Remove(dbFile.Name())
		os.Remove(dbFile.Name() + "-wal")
		os.Remove(dbFile.Name() + "-shm")
	})

	store, err := docstore.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// Put writes v to coll/id, failing the test on error.
func Put(t *testing.T, store *docstore.Store, coll, id string, v any) {
	t.Helper()
	if err := store.Set(t.Context(), coll, id, v); err != nil {
		t.Fatalf("Set %s/%s: %v", coll, id, err)
	}
}

// SeedDir creates a temporary fixture directory populated with files
// (relative path → content).
func SeedDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

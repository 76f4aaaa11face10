package testutil

import (
	"testing"

	"dedup-go/internal/database"
	"dedup-go/internal/dedup"
)

// NewTestStore creates an in-memory SQLite index store with the schema
// applied, wired to a fixed clock and sequential IDs. The store is
// closed when the test completes.
func NewTestStore(t *testing.T) (dedup.IndexStore, *StubClock, *StubIDGenerator) {
	t.Helper()

	clock := FixedClock()
	idgen := NewStubIDGenerator()

	store, err := database.NewSQLiteStore(":memory:", clock, idgen)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store, clock, idgen
}

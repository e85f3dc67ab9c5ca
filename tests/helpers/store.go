// Package helpers provides shared test constructors.
package helpers

import (
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/deskd/deskd/internal/store"
)

// NewTestSQLiteStore returns an in-memory store that is closed with the
// test. The database is named uniquely per call and opened with a shared
// cache so every pooled connection sees the same schema.
func NewTestSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	dsn := fmt.Sprintf("file:test_%s?mode=memory&cache=shared", uuid.New().String()[:8])
	s, err := store.NewSQLiteStore(dsn)
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

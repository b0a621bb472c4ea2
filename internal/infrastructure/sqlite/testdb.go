package sqlite

import (
	"database/sql"
	"testing"
)

// OpenTestDB returns a private in-memory state database with the
// deployment_records schema migrated, closed at the end of t.
func OpenTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory state db: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("close in-memory state db: %v", err)
		}
	})
	return db
}

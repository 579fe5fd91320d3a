package testutil

import (
	"testing"

	"wsundo/internal/database"
	"wsundo/internal/database/migrations"
	"wsundo/internal/undo"
)

// NewTestDatabase creates a migrated in-memory SQLite database stamping
// rows with clock. The database is closed when the test completes.
func NewTestDatabase(t *testing.T, clock undo.Clock) *database.SQLiteDatabase {
	t.Helper()

	sqlDB, err := database.OpenConnection(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := migrations.MigrateUp(sqlDB); err != nil {
		sqlDB.Close()
		t.Fatalf("failed to apply schema: %v", err)
	}

	db := database.NewSQLiteDatabaseFromDB(sqlDB, clock)
	t.Cleanup(func() {
		db.Close()
	})

	return db
}

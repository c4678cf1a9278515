package gtfs

import (
	"context"
	"testing"

	"github.com/OpenTransitTools/transitenricher/foundation/database"
	"github.com/jmoiron/sqlx"
)

func strPtr(s string) *string {
	return &s
}

func intPtr(i int) *int {
	return &i
}

func int64Ptr(i int64) *int64 {
	return &i
}

// openTestDB opens an in memory sqlite database with all tables created
func openTestDB(t *testing.T) *sqlx.DB {
	db, err := database.Open(database.Config{Driver: database.SqliteDriver, Name: ":memory:"})
	if err != nil {
		t.Fatalf("unable to open test database: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	if err = CreateSchema(context.Background(), db); err != nil {
		t.Fatalf("unable to create test schema: %v", err)
	}
	return db
}

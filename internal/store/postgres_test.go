package store

import (
	"database/sql"
	"os"
	"testing"
)

// newTestDB connects to the database named by ADLIB_TEST_POSTGRES_DSN,
// migrates it and truncates both tables.
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("ADLIB_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ADLIB_TEST_POSTGRES_DSN not set")
	}
	db, err := Open(dsn)
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	// Running migrations twice must be a no-op.
	if err := Migrate(db); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	truncate := func() {
		db.Exec(`TRUNCATE matches, users`)
	}
	truncate()
	t.Cleanup(func() {
		truncate()
		db.Close()
	})
	return db
}

func TestPostgresMatchStore(t *testing.T) {
	checkMatchStore(t, NewPostgresMatchStore(newTestDB(t)))
}

func TestPostgresUserStore(t *testing.T) {
	checkUserStore(t, NewPostgresUserStore(newTestDB(t)))
}

package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TestDatabaseURLEnv names the variable holding a disposable PostgreSQL
// database for tests.
const TestDatabaseURLEnv = "EVIDENCA_TEST_DATABASE_URL"

// NewTestDB creates a fresh SQLite database in a temporary directory with the
// schema applied.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "test.sqlite3"))
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}

	if err := Migrate(db); err != nil {
		db.Close()
		t.Fatalf("migrating test database: %v", err)
	}

	t.Cleanup(func() { db.Close() })

	return db
}

// NewTestPool connects to the database named by EVIDENCA_TEST_DATABASE_URL,
// migrates it and empties every ledger table. The test is skipped when the
// variable is unset.
func NewTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	url := os.Getenv(TestDatabaseURLEnv)
	if url == "" {
		t.Skipf("%s not set", TestDatabaseURLEnv)
	}

	if err := MigratePostgres(url); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}

	ctx := context.Background()
	pool, err := OpenPool(ctx, url)
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `TRUNCATE events, reservations, webhook_receipts, units, settings, revoked_tokens`)
	if err != nil {
		t.Fatalf("truncating test database: %v", err)
	}

	return pool
}

package db

import (
	"database/sql"
	"path/filepath"
	"testing"
)

// TestDB is a throwaway, migrated database backing repository and
// integration tests; it implements Database so tests can pass it anywhere
// a *DB would go.
type TestDB struct {
	db *DB
}

// NewTest opens a SQLite file under the test's TempDir and runs the
// embedded migrations against it.
func NewTest(tb testing.TB) (*TestDB, error) {
	tempDir := tb.TempDir()
	dbPath := filepath.Join(tempDir, "test.db")

	database, err := New(dbPath)
	if err != nil {
		return nil, err
	}

	if err := RunMigrations(database.conn); err != nil {
		database.Close()
		return nil, err
	}

	return &TestDB{db: database}, nil
}

func (tdb *TestDB) Conn() *sql.DB {
	return tdb.db.conn
}

func (tdb *TestDB) Close() error {
	return tdb.db.Close()
}

func (tdb *TestDB) Migrate() error {
	return RunMigrations(tdb.db.conn)
}

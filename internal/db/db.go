// Package db opens the gateway's document store: a local SQLite file for a
// single-process deployment, or a Turso/libsql database when the run
// collection needs to be shared across multiple gatewayd instances.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// Database is the subset of *DB that repositories.New depends on; TestDB
// (test_helper.go) implements it too.
type Database interface {
	Conn() *sql.DB
	Close() error
	Migrate() error
}

var _ Database = (*DB)(nil)

type DB struct {
	conn *sql.DB
}

// New opens the database at databaseURL, detecting a remote libsql/Turso
// target from its URL scheme and a local SQLite file path otherwise.
func New(databaseURL string) (*DB, error) {
	isLibSQL := strings.HasPrefix(databaseURL, "libsql://") || strings.HasPrefix(databaseURL, "http://") || strings.HasPrefix(databaseURL, "https://")

	if isLibSQL {
		conn, err := sql.Open("libsql", databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open libsql database: %w", err)
		}

		// The admission controller and tracker are each bounded by their own
		// request/job timeouts, not by connection scarcity here — a handful
		// of connections is enough for one gateway instance's traffic.
		conn.SetMaxOpenConns(10)
		conn.SetMaxIdleConns(5)
		conn.SetConnMaxLifetime(5 * time.Minute)

		if err := conn.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to libsql database: %w", err)
		}

		return &DB{conn: conn}, nil
	}

	dbDir := filepath.Dir(databaseURL)
	if dbDir != "." && dbDir != "" {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
		}
	}

	var conn *sql.DB
	var err error
	maxRetries := 5
	baseDelay := 100 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		conn, err = sql.Open("sqlite", databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// SQLite only ever has one writer; a small pool just lets readers
		// (list/status/get-run-log handlers) proceed while a write holds
		// SQLiteWriteMutex.
		conn.SetMaxOpenConns(8)
		conn.SetMaxIdleConns(4)

		if err := conn.Ping(); err != nil {
			if attempt == maxRetries-1 {
				return nil, fmt.Errorf("failed to ping database after %d attempts: %w", maxRetries, err)
			}

			conn.Close()
			delay := baseDelay * time.Duration(1<<uint(attempt))
			time.Sleep(delay)
			continue
		}

		break
	}

	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign key constraints: %w", err)
	}

	// WAL lets the tracker's polling reads and list/status handlers proceed
	// concurrently with the admission controller's writes.
	if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := conn.Exec("PRAGMA busy_timeout = 30000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := conn.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	// Run documents are small and short-lived relative to Station's workload;
	// a modest cache is plenty for one gateway's run collection.
	if _, err := conn.Exec("PRAGMA cache_size = -16000"); err != nil { // 16MB cache
		return nil, fmt.Errorf("failed to set cache size: %w", err)
	}

	return &DB{conn: conn}, nil
}

func (db *DB) Close() error {
	db.conn.SetMaxOpenConns(0)
	db.conn.SetMaxIdleConns(0)
	db.conn.SetConnMaxLifetime(0)

	return db.conn.Close()
}

func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Migrate runs the embedded goose migrations.
func (db *DB) Migrate() error {
	return RunMigrations(db.conn)
}

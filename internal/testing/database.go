// Package testing provides shared test helpers for codermill packages.
package testing

import (
	"database/sql"
	"fmt"
	"sync/atomic"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/assessly/codermill/db"
)

var testDBCounter atomic.Int64

// CreateTestDB creates an in-memory SQLite test database with the full
// codermill schema applied. Cleanup is registered via t.Cleanup().
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	// A plain ":memory:" DSN gives every pooled connection its own empty
	// database; a named shared-cache DSN keeps the whole pool on one
	// database, and the DSN pragma enables foreign keys on every
	// connection rather than only the one that ran the Exec.
	dsn := fmt.Sprintf("file:codermill-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		testDBCounter.Add(1))
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	if err := db.Migrate(conn, nil); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return conn
}

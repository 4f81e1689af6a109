// Package sqlitestore provides SQLite-backed implementations of the slot
// store, the order store and the idempotency index. State survives process
// restarts, which matters for idempotent replay of retried requests.
package sqlitestore

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Open opens or creates the database at path and ensures the schema.
// All three stores share one database.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	schema := `CREATE TABLE IF NOT EXISTS slots (
        id TEXT PRIMARY KEY,
        version INTEGER NOT NULL,
        record TEXT NOT NULL
    );
    CREATE TABLE IF NOT EXISTS orders (
        id TEXT PRIMARY KEY,
        version INTEGER NOT NULL,
        record TEXT NOT NULL
    );
    CREATE TABLE IF NOT EXISTS idempotency (
        key TEXT PRIMARY KEY,
        dispatch TEXT NOT NULL
    );`
	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, err
	}
	return &DB{db: db}, nil
}

// DB wraps the shared SQLite handle.
type DB struct {
	db *sql.DB
}

// Slots returns the slot store view of the database.
func (d *DB) Slots() *SlotStore { return &SlotStore{db: d.db} }

// Orders returns the order store view of the database.
func (d *DB) Orders() *OrderStore { return &OrderStore{db: d.db} }

// Idempotency returns the idempotency index view of the database.
func (d *DB) Idempotency() *IdempotencyStore { return &IdempotencyStore{db: d.db} }

// Close closes the underlying database.
func (d *DB) Close() error { return d.db.Close() }

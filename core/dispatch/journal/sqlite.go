package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/greenharbor/nursery-dispatch/core/model"
)

// SQLiteStore persists dispatch records to a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path and ensures schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	schema := `CREATE TABLE IF NOT EXISTS dispatches (
        id TEXT PRIMARY KEY,
        created_at INTEGER,
        driver TEXT,
        record TEXT
    );`
	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Append writes the dispatch to the database.
func (s *SQLiteStore) Append(ctx context.Context, d model.Dispatch) error {
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dispatches (id, created_at, driver, record) VALUES (?, ?, ?, ?)`,
		d.ID, d.CreatedAt.Unix(), d.Driver, string(b))
	return err
}

// Query returns dispatches matching q in creation order.
func (s *SQLiteStore) Query(ctx context.Context, q Query) ([]model.Dispatch, error) {
	var args []any
	query := `SELECT record FROM dispatches WHERE 1=1`
	if !q.Start.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, q.Start.Unix())
	}
	if !q.End.IsZero() {
		query += ` AND created_at <= ?`
		args = append(args, q.End.Unix())
	}
	if q.Driver != "" {
		query += ` AND driver = ?`
		args = append(args, q.Driver)
	}
	query += ` ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.Dispatch
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var d model.Dispatch
		if err := json.Unmarshal([]byte(data), &d); err != nil {
			return nil, fmt.Errorf("unmarshal record: %w", err)
		}
		// Order filtering happens on the decoded record; allocations are
		// not denormalized into columns.
		if matches(d, q) {
			res = append(res, d)
		}
	}
	return res, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

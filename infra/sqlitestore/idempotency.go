package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/greenharbor/nursery-dispatch/core/model"
)

// IdempotencyStore implements dispatch.IdempotencyIndex on SQLite.
type IdempotencyStore struct {
	db *sql.DB
}

// Lookup returns the dispatch recorded under key, if any.
func (s *IdempotencyStore) Lookup(ctx context.Context, key string) (model.Dispatch, bool, error) {
	var record string
	err := s.db.QueryRowContext(ctx, `SELECT dispatch FROM idempotency WHERE key = ?`, key).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Dispatch{}, false, nil
	}
	if err != nil {
		return model.Dispatch{}, false, err
	}
	var d model.Dispatch
	if err := json.Unmarshal([]byte(record), &d); err != nil {
		return model.Dispatch{}, false, fmt.Errorf("unmarshal dispatch for key %s: %w", key, err)
	}
	return d, true, nil
}

// Remember records the dispatch under key. The first write wins.
func (s *IdempotencyStore) Remember(ctx context.Context, key string, d model.Dispatch) error {
	record, err := json.Marshal(d)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO idempotency (key, dispatch) VALUES (?, ?) ON CONFLICT(key) DO NOTHING`,
		key, record)
	return err
}

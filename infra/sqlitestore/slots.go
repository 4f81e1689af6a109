package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/greenharbor/nursery-dispatch/core/capacity"
	"github.com/greenharbor/nursery-dispatch/core/model"
)

// SlotStore implements capacity.Store on SQLite. The version column backs
// the same compare-and-swap contract as the in-memory store.
type SlotStore struct {
	db *sql.DB
}

// Get returns the slot with the given id.
func (s *SlotStore) Get(ctx context.Context, id string) (model.Slot, error) {
	var record string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM slots WHERE id = ?`, id).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Slot{}, capacity.ErrUnknownSlot
	}
	if err != nil {
		return model.Slot{}, err
	}
	var slot model.Slot
	if err := json.Unmarshal([]byte(record), &slot); err != nil {
		return model.Slot{}, fmt.Errorf("unmarshal slot %s: %w", id, err)
	}
	return slot, nil
}

// Put creates or replaces the slot unconditionally.
func (s *SlotStore) Put(ctx context.Context, slot model.Slot) error {
	if err := slot.Validate(); err != nil {
		return err
	}
	record, err := json.Marshal(slot)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO slots (id, version, record) VALUES (?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET version = excluded.version, record = excluded.record`,
		slot.ID, slot.Version, record)
	return err
}

// Update stores the slot if its version still matches.
func (s *SlotStore) Update(ctx context.Context, slot model.Slot) error {
	if err := slot.Validate(); err != nil {
		return err
	}
	next := slot
	next.Version++
	record, err := json.Marshal(next)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE slots SET version = ?, record = ? WHERE id = ? AND version = ?`,
		next.Version, record, slot.ID, slot.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM slots WHERE id = ?`, slot.ID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return capacity.ErrUnknownSlot
		}
		return capacity.ErrConflict
	}
	return nil
}

// All returns every stored slot, for capacity listings.
func (s *SlotStore) All(ctx context.Context) ([]model.Slot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT record FROM slots ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var slots []model.Slot
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, err
		}
		var slot model.Slot
		if err := json.Unmarshal([]byte(record), &slot); err != nil {
			return nil, fmt.Errorf("unmarshal slot: %w", err)
		}
		slots = append(slots, slot)
	}
	return slots, rows.Err()
}

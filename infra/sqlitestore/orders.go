package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/greenharbor/nursery-dispatch/core/fulfillment"
	"github.com/greenharbor/nursery-dispatch/core/model"
)

// OrderStore implements fulfillment.Store on SQLite.
type OrderStore struct {
	db *sql.DB
}

// Get returns the order with the given id.
func (s *OrderStore) Get(ctx context.Context, id string) (model.Order, error) {
	var record string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM orders WHERE id = ?`, id).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, fulfillment.ErrUnknownOrder
	}
	if err != nil {
		return model.Order{}, err
	}
	var order model.Order
	if err := json.Unmarshal([]byte(record), &order); err != nil {
		return model.Order{}, fmt.Errorf("unmarshal order %s: %w", id, err)
	}
	return order, nil
}

// Put creates or replaces the order unconditionally.
func (s *OrderStore) Put(ctx context.Context, order model.Order) error {
	if err := order.Validate(); err != nil {
		return err
	}
	record, err := json.Marshal(order)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO orders (id, version, record) VALUES (?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET version = excluded.version, record = excluded.record`,
		order.ID, order.Version, record)
	return err
}

// Update stores the order if its version still matches.
func (s *OrderStore) Update(ctx context.Context, order model.Order) error {
	if err := order.Validate(); err != nil {
		return err
	}
	next := order
	next.Version++
	record, err := json.Marshal(next)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET version = ?, record = ? WHERE id = ? AND version = ?`,
		next.Version, record, order.ID, order.Version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM orders WHERE id = ?`, order.ID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return fulfillment.ErrUnknownOrder
		}
		return fulfillment.ErrConflict
	}
	return nil
}

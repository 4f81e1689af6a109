// Package api exposes the dispatch engine over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/greenharbor/nursery-dispatch/core/capacity"
	"github.com/greenharbor/nursery-dispatch/core/dispatch"
	"github.com/greenharbor/nursery-dispatch/core/dispatch/journal"
	"github.com/greenharbor/nursery-dispatch/core/fulfillment"
	"github.com/greenharbor/nursery-dispatch/core/model"
	"github.com/greenharbor/nursery-dispatch/core/packing"
)

// NewMux assembles all handlers. Requests must include an Authorization
// header with "Bearer <token>" when token is non-empty.
func NewMux(engine *dispatch.Engine, table model.CavityTable, token string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/dispatches", NewDispatchHandler(engine))
	mux.Handle("/api/slots", NewSlotAdminHandler(engine))
	mux.Handle("/api/slots/capacity", NewCapacityHandler(engine))
	mux.Handle("/api/orders", NewOrderAdminHandler(engine))
	mux.Handle("/api/orders/", NewOrderHandler(engine))
	mux.Handle("/api/pack", NewPackHandler(table))
	return withAuth(mux, token)
}

func withAuth(next http.Handler, token string) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewDispatchHandler serves POST /api/dispatches to create a dispatch and
// GET /api/dispatches to query the journal.
func NewDispatchHandler(engine *dispatch.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var req dispatch.Request
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}
			d, err := engine.CreateDispatch(r.Context(), req)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, d)
		case http.MethodGet:
			store := engine.Journal()
			if store == nil {
				http.Error(w, "journal disabled", http.StatusNotFound)
				return
			}
			q := journal.Query{
				OrderID: r.URL.Query().Get("order_id"),
				Driver:  r.URL.Query().Get("driver"),
			}
			if s := r.URL.Query().Get("start"); s != "" {
				if t, err := time.Parse(time.RFC3339, s); err == nil {
					q.Start = t
				}
			}
			if s := r.URL.Query().Get("end"); s != "" {
				if t, err := time.Parse(time.RFC3339, s); err == nil {
					q.End = t
				}
			}
			records, err := store.Query(r.Context(), q)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, records)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

// NewCapacityHandler serves GET /api/slots/capacity.
func NewCapacityHandler(engine *dispatch.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		slotID := r.URL.Query().Get("slot_id")
		if slotID == "" {
			http.Error(w, "slot_id is required", http.StatusBadRequest)
			return
		}
		requested, err := strconv.Atoi(r.URL.Query().Get("requested"))
		if err != nil || requested < 0 {
			http.Error(w, "requested must be a non-negative integer", http.StatusBadRequest)
			return
		}
		var exclude []string
		if s := r.URL.Query().Get("exclude_orders"); s != "" {
			exclude = strings.Split(s, ",")
		}
		res, err := engine.CheckCapacity(r.Context(), slotID, requested, exclude...)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})
}

// NewOrderHandler serves POST /api/orders/{id}/dispatch and
// POST /api/orders/{id}/complete.
func NewOrderHandler(engine *dispatch.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		rest := strings.TrimPrefix(r.URL.Path, "/api/orders/")
		parts := strings.Split(rest, "/")
		if len(parts) != 2 || parts[0] == "" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		orderID, action := parts[0], parts[1]
		switch action {
		case "dispatch":
			var req struct {
				Quantity   int    `json:"quantity"`
				DispatchID string `json:"dispatch_id"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}
			ev, err := engine.RecordDispatch(r.Context(), orderID, req.Quantity, req.DispatchID)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, ev)
		case "complete":
			var req struct {
				Returned       int      `json:"returned"`
				Reasons        []string `json:"reasons"`
				AddToInventory bool     `json:"add_to_inventory"`
				MarkComplete   bool     `json:"mark_complete"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}
			sum, err := engine.CompleteOrder(r.Context(), orderID, req.Returned, req.Reasons, fulfillment.CompleteOptions{
				AddToInventory: req.AddToInventory,
				MarkComplete:   req.MarkComplete,
			})
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, sum)
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	})
}

// NewSlotAdminHandler serves PUT /api/slots to seed or replace a slot from
// the production-planning system, and GET /api/slots?slot_id= to read one.
func NewSlotAdminHandler(engine *dispatch.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			var slot model.Slot
			if err := json.NewDecoder(r.Body).Decode(&slot); err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}
			if err := engine.SlotStore().Put(r.Context(), slot); err != nil {
				http.Error(w, err.Error(), http.StatusUnprocessableEntity)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		case http.MethodGet:
			slot, err := engine.SlotStore().Get(r.Context(), r.URL.Query().Get("slot_id"))
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, slot)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

// NewOrderAdminHandler serves PUT /api/orders to seed or replace an order,
// and GET /api/orders?order_id= to read one.
func NewOrderAdminHandler(engine *dispatch.Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			var order model.Order
			if err := json.NewDecoder(r.Body).Decode(&order); err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}
			if err := engine.OrderStore().Put(r.Context(), order); err != nil {
				http.Error(w, err.Error(), http.StatusUnprocessableEntity)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		case http.MethodGet:
			order, err := engine.OrderStore().Get(r.Context(), r.URL.Query().Get("order_id"))
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, order)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

// NewPackHandler serves GET /api/pack, a stateless crate calculation.
func NewPackHandler(table model.CavityTable) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		quantity, err := strconv.Atoi(r.URL.Query().Get("quantity"))
		if err != nil || quantity < 0 {
			http.Error(w, "quantity must be a non-negative integer", http.StatusBadRequest)
			return
		}
		cavityID := r.URL.Query().Get("cavity_id")
		cavity, ok := table.Lookup(cavityID)
		if !ok {
			http.Error(w, "unknown cavity type", http.StatusUnprocessableEntity)
			return
		}
		group, err := packing.Pack(quantity, cavity)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, group)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// writeError maps domain errors to HTTP statuses. Capacity shortfalls and
// concurrent-modification failures are conflicts; business rule rejections
// are unprocessable entities.
func writeError(w http.ResponseWriter, err error) {
	var (
		capErr   *capacity.CapacityError
		qtyErr   *fulfillment.QuantityError
		payErr   *fulfillment.PaymentError
		packErr  *dispatch.PackingError
		splitErr *dispatch.SplitError
	)
	switch {
	case errors.As(err, &capErr):
		writeJSON(w, http.StatusConflict, map[string]any{"error": capErr.Error(), "slot_id": capErr.SlotID, "shortfall": capErr.Shortfall()})
	case errors.Is(err, capacity.ErrConflict), errors.Is(err, fulfillment.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, capacity.ErrUnknownSlot), errors.Is(err, fulfillment.ErrUnknownOrder):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &qtyErr), errors.As(err, &payErr), errors.As(err, &splitErr),
		errors.Is(err, dispatch.ErrEmptyRequest), errors.Is(err, dispatch.ErrMissingIdempotencyKey),
		errors.Is(err, dispatch.ErrUnknownCavity):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.As(err, &packErr):
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

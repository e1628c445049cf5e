// Package query implements the HTTP read endpoints collaborators use to
// browse the indexed event log, order book, aggregates, and candles.
package query

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spinpet/kline-indexer/internal/storage"
	"github.com/spinpet/kline-indexer/pkg/types"
)

const defaultLimit = 50

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	store  *storage.Store
	logger *slog.Logger
}

// NewHandlers builds a Handlers bound to store.
func NewHandlers(store *storage.Store, logger *slog.Logger) *Handlers {
	return &Handlers{store: store, logger: logger.With("component", "query-handlers")}
}

func writeEnvelope(w http.ResponseWriter, status int, data any, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	env := types.Envelope{Success: status < http.StatusBadRequest, Data: data, Message: message}
	json.NewEncoder(w).Encode(env)
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, err error) {
	h.logger.Warn("query request failed", "error", err, "status", status)
	writeEnvelope(w, status, nil, err.Error())
}

func pageAndLimit(q url.Values) (page, limit int, err error) {
	page = 1
	if v := q.Get("page"); v != "" {
		page, err = strconv.Atoi(v)
		if err != nil || page < 1 {
			return 0, 0, errors.New("page must be a positive integer")
		}
	}
	limit = defaultLimit
	if v := q.Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 {
			return 0, 0, errors.New("limit must be a positive integer")
		}
	}
	return page, limit, nil
}

// HandleEvents serves GET /api/events?mint=&page=&limit=.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	mint := r.URL.Query().Get("mint")
	if mint == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("mint is required"))
		return
	}
	page, limit, err := pageAndLimit(r.URL.Query())
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	events, total, err := h.store.ListEventsByMint(mint, (page-1)*limit, limit)
	if err != nil {
		h.handleStoreErr(w, err)
		return
	}
	writeEnvelope(w, http.StatusOK, pagedResult{Items: events, Total: total, Page: page, Limit: limit}, "")
}

// HandleMints serves GET /api/mints?cursor=&limit=.
func (h *Handlers) HandleMints(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cursor := q.Get("cursor")
	limit := defaultLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}
	mints, next, err := h.store.ListMints(cursor, limit)
	if err != nil {
		h.handleStoreErr(w, err)
		return
	}
	writeEnvelope(w, http.StatusOK, cursorResult{Items: mints, NextCursor: next}, "")
}

// HandleOrders serves GET /api/orders?mint=&side=&page=&limit=.
func (h *Handlers) HandleOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mint := q.Get("mint")
	if mint == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("mint is required"))
		return
	}
	side := types.Side(q.Get("side"))
	if side != types.SideUp && side != types.SideDn {
		h.writeError(w, http.StatusBadRequest, errors.New("side must be \"up\" or \"dn\""))
		return
	}
	page, limit, err := pageAndLimit(q)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	orders, total, err := h.store.ListOrders(mint, side, (page-1)*limit, limit)
	if err != nil {
		h.handleStoreErr(w, err)
		return
	}
	writeEnvelope(w, http.StatusOK, pagedResult{Items: orders, Total: total, Page: page, Limit: limit}, "")
}

// HandleUserTransactions serves GET /api/users/{user}/transactions?mint=&page=&limit=.
func (h *Handlers) HandleUserTransactions(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	if user == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("user is required"))
		return
	}
	q := r.URL.Query()
	mint := q.Get("mint")
	page, limit, err := pageAndLimit(q)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	txs, total, err := h.store.ListUserTransactions(user, mint, (page-1)*limit, limit)
	if err != nil {
		h.handleStoreErr(w, err)
		return
	}
	writeEnvelope(w, http.StatusOK, pagedResult{Items: txs, Total: total, Page: page, Limit: limit}, "")
}

// HandleUserOrders serves GET /api/users/{user}/orders?mint=.
func (h *Handlers) HandleUserOrders(w http.ResponseWriter, r *http.Request) {
	user := r.PathValue("user")
	if user == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("user is required"))
		return
	}
	mint := r.URL.Query().Get("mint")
	orders, err := h.store.ListUserOrders(user, mint)
	if err != nil {
		h.handleStoreErr(w, err)
		return
	}
	writeEnvelope(w, http.StatusOK, orders, "")
}

// HandleMintDetail serves GET /api/mints/{mint}/detail.
func (h *Handlers) HandleMintDetail(w http.ResponseWriter, r *http.Request) {
	mint := r.PathValue("mint")
	if mint == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("mint is required"))
		return
	}
	detail, ok, err := h.store.GetMintDetail(mint)
	if err != nil {
		h.handleStoreErr(w, err)
		return
	}
	if !ok {
		h.writeError(w, http.StatusNotFound, errors.New("mint not found"))
		return
	}
	writeEnvelope(w, http.StatusOK, detail, "")
}

// HandleKlines serves GET /api/klines?mint=&interval=&limit=.
func (h *Handlers) HandleKlines(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mint := q.Get("mint")
	if mint == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("mint is required"))
		return
	}
	iv := types.Interval(q.Get("interval"))
	if !validInterval(iv) {
		h.writeError(w, http.StatusBadRequest, errors.New("interval must be one of s1, s30, m5"))
		return
	}
	limit := defaultLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}
	candles, err := h.store.ListCandles(mint, iv, limit)
	if err != nil {
		h.handleStoreErr(w, err)
		return
	}
	writeEnvelope(w, http.StatusOK, candles, "")
}

func validInterval(iv types.Interval) bool {
	for _, known := range types.Intervals {
		if iv == known {
			return true
		}
	}
	return false
}

func (h *Handlers) handleStoreErr(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrLimitTooLarge) {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	h.logger.Error("storage query failed", "error", err)
	writeEnvelope(w, http.StatusInternalServerError, nil, "internal error")
}

type pagedResult struct {
	Items any `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

type cursorResult struct {
	Items      any    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

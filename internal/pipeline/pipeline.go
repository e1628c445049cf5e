// Package pipeline composes the decoder's output into a storage write
// followed by a fanout broadcast, matching the order of operations a single
// decoded event goes through once it leaves the subscription client.
package pipeline

import (
	"log/slog"

	"github.com/spinpet/kline-indexer/internal/storage"
	"github.com/spinpet/kline-indexer/pkg/types"
)

// Broadcaster is the fanout dependency the pipeline pushes candle updates
// through. A nil Broadcaster is valid: Handle then only performs storage
// writes, which is useful for tests and for a kline-disabled configuration.
type Broadcaster interface {
	Broadcast(mint string, iv types.Interval, candle types.Candle)
}

// Handler is the composite event handler described by the pipeline glue: a
// storage write followed by a best-effort candle read-back and broadcast.
type Handler struct {
	store  *storage.Store
	bcast  Broadcaster
	logger *slog.Logger
}

// New builds a Handler. bcast may be nil to disable push fanout.
func New(store *storage.Store, bcast Broadcaster, logger *slog.Logger) *Handler {
	return &Handler{store: store, bcast: bcast, logger: logger.With("component", "pipeline")}
}

// Handle runs one decoded event through storage and, if applicable, fanout.
//
// A storage failure is logged and returned to the caller, but the signature
// stays in the subscription client's processed set regardless: delivery is
// at-most-once per connection lifetime, not a retry queue. A fanout failure
// never propagates: it is logged and swallowed, since a lost broadcast does
// not threaten the durability of the indexed state.
func (h *Handler) Handle(ev *types.Event) error {
	if err := h.store.WriteEvent(ev); err != nil {
		h.logger.Error("storage write failed", "error", err, "event_type", ev.Type, "signature", ev.Signature)
		return err
	}

	if h.bcast == nil || !ev.IsPriceBearing() {
		return nil
	}

	for _, iv := range types.Intervals {
		bucket := storage.CurrentBucket(ev.Timestamp, iv)
		candle, ok, err := h.store.LatestCandle(ev.MintAccount, iv, bucket)
		if err != nil {
			h.logger.Error("candle read-back failed", "error", err, "mint", ev.MintAccount, "interval", iv)
			continue
		}
		if !ok {
			continue
		}
		h.bcast.Broadcast(ev.MintAccount, iv, candle)
	}
	return nil
}

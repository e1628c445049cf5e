package pipeline

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/spinpet/kline-indexer/internal/storage"
	"github.com/spinpet/kline-indexer/pkg/types"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := storage.Open(path, slog.Default())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type fakeBroadcaster struct {
	calls []struct {
		mint string
		iv   types.Interval
	}
}

func (f *fakeBroadcaster) Broadcast(mint string, iv types.Interval, _ types.Candle) {
	f.calls = append(f.calls, struct {
		mint string
		iv   types.Interval
	}{mint, iv})
}

func tradeEvent(mint string) *types.Event {
	return &types.Event{
		Type:        types.EventTrade,
		Slot:        1,
		Signature:   "sig1",
		Timestamp:   time.Unix(1_700_000_000, 0),
		MintAccount: mint,
		Trade: &types.TradeEvent{
			Payer:       "payer",
			MintAccount: mint,
			IsBuy:       true,
			TokenAmount: 10,
			QuoteAmount: 20,
			LatestPrice: types.Price{Lo: 100},
		},
	}
}

func createdEvent(mint string) *types.Event {
	return &types.Event{
		Type:        types.EventCreated,
		Slot:        1,
		Signature:   "sig-created",
		Timestamp:   time.Unix(1_700_000_000, 0),
		MintAccount: mint,
		Created: &types.CreatedEvent{
			Payer:       "payer",
			MintAccount: mint,
			Name:        "Token",
			Symbol:      "TKN",
		},
	}
}

func TestHandlePriceBearingEventBroadcastsEveryInterval(t *testing.T) {
	store := newTestStore(t)
	bcast := &fakeBroadcaster{}
	h := New(store, bcast, slog.Default())

	if err := h.Handle(tradeEvent("mintA")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(bcast.calls) != len(types.Intervals) {
		t.Fatalf("broadcast calls = %d, want %d", len(bcast.calls), len(types.Intervals))
	}
	for _, call := range bcast.calls {
		if call.mint != "mintA" {
			t.Errorf("broadcast mint = %s, want mintA", call.mint)
		}
	}
}

func TestHandleNonPriceBearingEventSkipsBroadcast(t *testing.T) {
	store := newTestStore(t)
	bcast := &fakeBroadcaster{}
	h := New(store, bcast, slog.Default())

	if err := h.Handle(createdEvent("mintB")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(bcast.calls) != 0 {
		t.Fatalf("broadcast calls = %d, want 0 for a Created event", len(bcast.calls))
	}
}

func TestHandleWithNilBroadcasterStillWritesStorage(t *testing.T) {
	store := newTestStore(t)
	h := New(store, nil, slog.Default())

	if err := h.Handle(tradeEvent("mintC")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	_, total, err := store.ListEventsByMint("mintC", 0, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if total != 1 {
		t.Fatalf("total = %d, want 1", total)
	}
}

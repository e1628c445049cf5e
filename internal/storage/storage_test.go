package storage

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/spinpet/kline-indexer/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, slog.Default())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func tradeEvent(mint, sig string, slot uint64, price uint64) *types.Event {
	return &types.Event{
		Type:        types.EventTrade,
		Slot:        slot,
		Signature:   sig,
		Timestamp:   time.Unix(1_700_000_000, 0),
		MintAccount: mint,
		Trade: &types.TradeEvent{
			Payer:       "payer1",
			MintAccount: mint,
			IsBuy:       true,
			TokenAmount: 100,
			QuoteAmount: 200,
			LatestPrice: types.Price{Lo: price},
		},
	}
}

func TestWriteEventPrimaryKeyFormat(t *testing.T) {
	s := newTestStore(t)
	ev := tradeEvent("mintA", "sig1", 42, 111)
	if err := s.WriteEvent(ev); err != nil {
		t.Fatalf("write event: %v", err)
	}

	events, total, err := s.ListEventsByMint("mintA", 0, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if total != 1 || len(events) != 1 {
		t.Fatalf("total=%d len=%d, want 1/1", total, len(events))
	}
	if events[0].Signature != "sig1" {
		t.Errorf("signature = %s, want sig1", events[0].Signature)
	}
}

func TestCreatedEventWritesMintMarkerOnce(t *testing.T) {
	s := newTestStore(t)
	created := &types.Event{
		Type:        types.EventCreated,
		Slot:        10,
		Signature:   "sigA",
		Timestamp:   time.Unix(1_700_000_000, 0),
		MintAccount: "mintB",
		Created: &types.CreatedEvent{
			Payer:       "payer",
			MintAccount: "mintB",
			Name:        "Token",
			Symbol:      "TKN",
		},
	}
	if err := s.WriteEvent(created); err != nil {
		t.Fatalf("write created: %v", err)
	}
	mints, _, err := s.ListMints("", 10)
	if err != nil {
		t.Fatalf("list mints: %v", err)
	}
	if len(mints) != 1 || mints[0] != "mintB" {
		t.Fatalf("mints = %v, want [mintB]", mints)
	}

	// Re-decoded duplicate Created event (different slot/signature from a
	// CPI re-fetch) must not add a second marker.
	dup := *created
	dup.Slot = 11
	dup.Signature = "sigA-dup"
	if err := s.WriteEvent(&dup); err != nil {
		t.Fatalf("write dup created: %v", err)
	}
	mints, _, err = s.ListMints("", 10)
	if err != nil {
		t.Fatalf("list mints after dup: %v", err)
	}
	if len(mints) != 1 {
		t.Fatalf("mints after dup = %v, want exactly 1", mints)
	}
}

func TestOrderIndexOpenAndCloseFullSymmetry(t *testing.T) {
	s := newTestStore(t)
	open := &types.Event{
		Type:        types.EventOpen,
		Slot:        5,
		Signature:   "open-sig",
		Timestamp:   time.Unix(1_700_000_100, 0),
		MintAccount: "mintC",
		Open: &types.OpenEvent{
			Payer:       "payer",
			MintAccount: "mintC",
			OrderPDA:    "pda1",
			OrderType:   1, // long -> "dn" bucket
			Mint:        "mintC",
			User:        "userX",
		},
	}
	if err := s.WriteEvent(open); err != nil {
		t.Fatalf("write open: %v", err)
	}

	orders, total, err := s.ListOrders("mintC", types.SideDn, 0, 10)
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if total != 1 || len(orders) != 1 || orders[0].OrderPDA != "pda1" {
		t.Fatalf("orders = %+v, want one order pda1", orders)
	}

	userOrders, err := s.ListUserOrders("userX", "mintC")
	if err != nil {
		t.Fatalf("list user orders: %v", err)
	}
	if len(userOrders) != 1 {
		t.Fatalf("user orders = %+v, want 1", userOrders)
	}

	closeFull := &types.Event{
		Type:        types.EventCloseFull,
		Slot:        6,
		Signature:   "close-sig",
		Timestamp:   time.Unix(1_700_000_200, 0),
		MintAccount: "mintC",
		CloseFull: &types.CloseFullEvent{
			Payer:          "payer",
			UserSolAccount: "userX",
			MintAccount:    "mintC",
			IsCloseLong:    true, // order_type 1 -> "dn", matches the open above
			OrderPDA:       "pda1",
		},
	}
	if err := s.WriteEvent(closeFull); err != nil {
		t.Fatalf("write close full: %v", err)
	}

	orders, total, err = s.ListOrders("mintC", types.SideDn, 0, 10)
	if err != nil {
		t.Fatalf("list orders after close: %v", err)
	}
	if total != 0 || len(orders) != 0 {
		t.Fatalf("orders after close = %+v, want none", orders)
	}
	userOrders, err = s.ListUserOrders("userX", "mintC")
	if err != nil {
		t.Fatalf("list user orders after close: %v", err)
	}
	if len(userOrders) != 0 {
		t.Fatalf("user orders after close = %+v, want none", userOrders)
	}
}

func TestLiquidateProbesBothSides(t *testing.T) {
	s := newTestStore(t)
	open := &types.Event{
		Type:        types.EventOpen,
		Slot:        5,
		Signature:   "open-sig",
		Timestamp:   time.Unix(1_700_000_100, 0),
		MintAccount: "mintD",
		Open: &types.OpenEvent{
			MintAccount: "mintD",
			OrderPDA:    "pda2",
			OrderType:   2, // short -> "up" bucket
			Mint:        "mintD",
			User:        "userY",
		},
	}
	if err := s.WriteEvent(open); err != nil {
		t.Fatalf("write open: %v", err)
	}

	liquidate := &types.Event{
		Type:        types.EventLiquidate,
		Slot:        6,
		Signature:   "liq-sig",
		Timestamp:   time.Unix(1_700_000_200, 0),
		MintAccount: "mintD",
		Liquidate: &types.LiquidateEvent{
			Payer:       "liquidator",
			MintAccount: "mintD",
			OrderPDA:    "pda2",
		},
	}
	if err := s.WriteEvent(liquidate); err != nil {
		t.Fatalf("write liquidate: %v", err)
	}

	orders, _, err := s.ListOrders("mintD", types.SideUp, 0, 10)
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(orders) != 0 {
		t.Fatalf("orders after liquidate = %+v, want none", orders)
	}

	txs, _, err := s.ListUserTransactions("liquidator", "mintD", 0, 10)
	if err != nil {
		t.Fatalf("list user transactions: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("user transactions = %+v, want 1 (liquidator as user)", txs)
	}
}

func TestCandleMonotonicHighLow(t *testing.T) {
	s := newTestStore(t)
	mint := "mintE"
	prices := []uint64{100, 300, 50, 200}
	for i, p := range prices {
		ev := tradeEvent(mint, "sig-candle", uint64(i), p)
		if err := s.WriteEvent(ev); err != nil {
			t.Fatalf("write event %d: %v", i, err)
		}
	}
	candles, err := s.ListCandles(mint, types.Interval1s, 10)
	if err != nil {
		t.Fatalf("list candles: %v", err)
	}
	if len(candles) != 1 {
		t.Fatalf("candles = %+v, want 1 bucket (all same second)", candles)
	}
	c := candles[0]
	if c.UpdateCount != uint32(len(prices)) {
		t.Errorf("UpdateCount = %d, want %d", c.UpdateCount, len(prices))
	}
	if c.High < c.Low {
		t.Errorf("High %f < Low %f", c.High, c.Low)
	}
	if c.Open == 0 || c.Close == 0 {
		t.Errorf("Open/Close should be non-zero: %+v", c)
	}
}

func TestMintDetailAggregatesSaturatingCounters(t *testing.T) {
	s := newTestStore(t)
	mint := "mintF"
	for i := 0; i < 3; i++ {
		ev := tradeEvent(mint, "sig", uint64(i), 10)
		if err := s.WriteEvent(ev); err != nil {
			t.Fatalf("write event %d: %v", i, err)
		}
	}
	detail, ok, err := s.GetMintDetail(mint)
	if err != nil {
		t.Fatalf("get mint detail: %v", err)
	}
	if !ok {
		t.Fatal("mint detail not found")
	}
	if detail.TotalQuoteVolume != 600 {
		t.Errorf("TotalQuoteVolume = %d, want 600", detail.TotalQuoteVolume)
	}
}

func TestListEventsByMintRejectsOversizedLimit(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.ListEventsByMint("mintG", 0, MaxPageLimit+1)
	if err != ErrLimitTooLarge {
		t.Fatalf("err = %v, want ErrLimitTooLarge", err)
	}
}

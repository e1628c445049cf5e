package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/spinpet/kline-indexer/internal/decoder"
	"github.com/spinpet/kline-indexer/pkg/types"
)

// updateMintDetail applies one event's contribution to the per-instrument
// aggregate as an independent read-modify-write transaction, using
// saturating addition for the running counters so a corrupt or wildly
// out-of-range upstream value can't wrap them negative.
func (s *Store) updateMintDetail(ev *types.Event) error {
	key := []byte(mintDetailKey(ev.MintAccount))

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		var d types.MintDetail
		if existing := b.Get(key); existing != nil {
			if err := json.Unmarshal(existing, &d); err != nil {
				return fmt.Errorf("unmarshal mint detail %s: %w", key, err)
			}
		} else {
			d = types.MintDetail{MintAccount: ev.MintAccount, CreatedAt: ev.Timestamp}
		}

		applyMintDetail(&d, ev)
		d.LastUpdatedAt = ev.Timestamp

		raw, err := json.Marshal(d)
		if err != nil {
			return err
		}
		return b.Put(key, raw)
	})
}

func applyMintDetail(d *types.MintDetail, ev *types.Event) {
	switch ev.Type {
	case types.EventCreated:
		e := ev.Created
		d.CurveAccount = e.CurveAccount
		d.Name = e.Name
		d.Symbol = e.Symbol
		d.URI = e.URI
		d.Creator = e.Creator
		d.SwapFeeBps = e.InitialSwapFee
		d.BorrowFeeBps = e.InitialBorrowFee
		d.CreatedAt = ev.Timestamp

	case types.EventFeeUpdate:
		e := ev.FeeUpdate
		d.SwapFeeBps = e.SwapFeeBps
		d.BorrowFeeBps = e.BorrowFeeBps
		d.FeeDiscountFlag = e.FeeDiscountFlag

	case types.EventTrade:
		e := ev.Trade
		d.LatestPrice = decoder.PriceToBig(e.LatestPrice).String()
		d.LatestTradeTime = ev.Timestamp
		d.TotalQuoteVolume = saturatingAdd(d.TotalQuoteVolume, e.QuoteAmount)

	case types.EventOpen:
		e := ev.Open
		d.LatestPrice = decoder.PriceToBig(e.LatestPrice).String()
		d.LatestTradeTime = ev.Timestamp
		d.TotalMarginVolume = saturatingAdd(d.TotalMarginVolume, e.MarginAmount)

	case types.EventLiquidate:
		d.TotalLiquidations = saturatingAdd(d.TotalLiquidations, 1)

	case types.EventCloseFull:
		e := ev.CloseFull
		d.LatestPrice = decoder.PriceToBig(e.LatestPrice).String()
		d.LatestTradeTime = ev.Timestamp
		d.TotalCloseProfit = saturatingAdd(d.TotalCloseProfit, e.RealizedProfit)

	case types.EventClosePartial:
		e := ev.ClosePartial
		d.LatestPrice = decoder.PriceToBig(e.LatestPrice).String()
		d.LatestTradeTime = ev.Timestamp
		d.TotalCloseProfit = saturatingAdd(d.TotalCloseProfit, e.RealizedProfit)
	}
}

func saturatingAdd(a, b uint64) uint64 {
	sum := a + b
	if sum < a {
		return ^uint64(0)
	}
	return sum
}

// GetMintDetail fetches the aggregate record for a mint.
func (s *Store) GetMintDetail(mint string) (types.MintDetail, bool, error) {
	var d types.MintDetail
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		raw := b.Get([]byte(mintDetailKey(mint)))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &d)
	})
	return d, found, err
}

// SetMintMetadata is invoked by the metadata fetcher once a Created event's
// content-addressed URI resolves. It is a no-op if the mint-detail record
// doesn't exist yet (the fetch lost a race with an as-yet-unprocessed
// Created event — exceedingly unlikely since the fetch is spawned only
// after the Created event commits, but not impossible under clock skew).
func (s *Store) SetMintMetadata(mint string, md *types.TokenMetadata) error {
	key := []byte(mintDetailKey(mint))
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		raw := b.Get(key)
		if raw == nil {
			return nil
		}
		var d types.MintDetail
		if err := json.Unmarshal(raw, &d); err != nil {
			return fmt.Errorf("unmarshal mint detail %s: %w", key, err)
		}
		d.Metadata = md
		d.LastUpdatedAt = time.Now()
		out, err := json.Marshal(d)
		if err != nil {
			return err
		}
		return b.Put(key, out)
	})
}

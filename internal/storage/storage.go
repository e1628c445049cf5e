// Package storage is the embedded ordered key-value persistence layer.
//
// All records live in one bbolt bucket so that the lexical key ordering
// bbolt already gives each bucket produces the prefix-iteration semantics
// every index in this package relies on. WriteEvent commits the primary
// record and its indexes in a single bolt transaction; candle aggregation
// and the mint-detail aggregate are updated afterward as independent
// read-modify-write transactions, one per key, so no transaction spans more
// than one key's update. bbolt runs one read-write transaction at a time, so
// these transactions are still serialized across all mints.
package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.etcd.io/bbolt"

	"github.com/spinpet/kline-indexer/internal/decoder"
	"github.com/spinpet/kline-indexer/pkg/types"
)

var bucketName = []byte("events")

// pricePrecision is the number of implied decimal places in every on-chain
// u128 price field.
const pricePrecision = 28

// Store wraps a bbolt database and implements the write algorithm and the
// point/prefix read helpers the query and fanout packages need.
type Store struct {
	db     *bbolt.DB
	logger *slog.Logger
}

// Open opens (creating if necessary) the bbolt file at path and ensures the
// single top-level bucket exists.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: create bucket: %w", err)
	}
	return &Store{db: db, logger: logger.With("component", "storage")}, nil
}

// Close releases the underlying file handle.
func (s *Store) Close() error { return s.db.Close() }

// WriteEvent commits the primary record and its derived indexes
// (mint marker, order index, user-transaction projection) atomically, then
// updates the candle aggregate and mint-detail aggregate as separate
// best-effort transactions. A failure in either of those is logged but does
// not roll back the primary write, matching the ingestion error-handling
// policy: an event already durably recorded is never retried.
func (s *Store) WriteEvent(ev *types.Event) error {
	if err := s.writePrimaryBatch(ev); err != nil {
		return fmt.Errorf("storage: primary batch: %w", err)
	}

	if ev.IsPriceBearing() {
		price := priceOf(ev)
		if err := s.updateCandles(ev.MintAccount, price, ev.Timestamp); err != nil {
			s.logger.Error("candle update failed", "error", err, "mint", ev.MintAccount, "signature", ev.Signature)
		}
	}

	if err := s.updateMintDetail(ev); err != nil {
		s.logger.Error("mint detail update failed", "error", err, "mint", ev.MintAccount, "signature", ev.Signature)
	}

	return nil
}

func priceOf(ev *types.Event) types.Price {
	switch ev.Type {
	case types.EventTrade:
		return ev.Trade.LatestPrice
	case types.EventOpen:
		return ev.Open.LatestPrice
	case types.EventCloseFull:
		return ev.CloseFull.LatestPrice
	case types.EventClosePartial:
		return ev.ClosePartial.LatestPrice
	default:
		return types.Price{}
	}
}

func (s *Store) writePrimaryBatch(ev *types.Event) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)

		raw, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		if err := b.Put([]byte(eventKey(ev.MintAccount, ev.Slot, ev.Type, ev.Signature)), raw); err != nil {
			return err
		}

		if ev.Type == types.EventCreated {
			if err := s.putMintMarkerLocked(tx, ev); err != nil {
				return err
			}
		}

		if err := s.applyOrderIndex(tx, ev); err != nil {
			return err
		}

		if uid, payload, ok := userTransactionOf(ev); ok {
			key := userTxKey(uid, ev.MintAccount, ev.Slot)
			v, err := json.Marshal(payload)
			if err != nil {
				return fmt.Errorf("marshal user transaction: %w", err)
			}
			if err := b.Put([]byte(key), v); err != nil {
				return err
			}
		}
		return nil
	})
}

// putMintMarkerLocked writes the slot-indexed mint marker exactly once per
// mint, keyed off whether an "in:" mint-detail record already exists —
// idempotent against a re-decoded duplicate Created event.
func (s *Store) putMintMarkerLocked(tx *bbolt.Tx, ev *types.Event) error {
	b := tx.Bucket(bucketName)
	detailKey := []byte(mintDetailKey(ev.MintAccount))
	if b.Get(detailKey) != nil {
		return nil
	}
	return b.Put([]byte(mintKey(ev.Slot, ev.MintAccount)), []byte{})
}

func userTransactionOf(ev *types.Event) (user string, payload *types.UserTransaction, ok bool) {
	switch ev.Type {
	case types.EventOpen:
		user = ev.Open.User
	case types.EventLiquidate:
		user = ev.Liquidate.Payer
	case types.EventCloseFull:
		user = ev.CloseFull.Payer
	case types.EventClosePartial:
		user = ev.ClosePartial.User
	case types.EventFeeUpdate:
		user = ev.FeeUpdate.Payer
	default:
		return "", nil, false
	}
	return user, &types.UserTransaction{
		User:        user,
		MintAccount: ev.MintAccount,
		Slot:        ev.Slot,
		Type:        ev.Type,
		Signature:   ev.Signature,
		Timestamp:   ev.Timestamp,
		Event:       eventPayload(ev),
	}, true
}

func eventPayload(ev *types.Event) any {
	switch ev.Type {
	case types.EventOpen:
		return ev.Open
	case types.EventLiquidate:
		return ev.Liquidate
	case types.EventCloseFull:
		return ev.CloseFull
	case types.EventClosePartial:
		return ev.ClosePartial
	case types.EventFeeUpdate:
		return ev.FeeUpdate
	default:
		return nil
	}
}

// applyOrderIndex creates, mutates or removes the order (and mirrored user
// order) records for Open/ClosePartial/CloseFull/Liquidate events.
func (s *Store) applyOrderIndex(tx *bbolt.Tx, ev *types.Event) error {
	b := tx.Bucket(bucketName)

	switch ev.Type {
	case types.EventOpen:
		o := orderFromOpen(ev.Open, ev.Slot)
		v, err := json.Marshal(o)
		if err != nil {
			return err
		}
		side := types.SideFromOrderType(ev.Open.OrderType)
		if err := b.Put([]byte(orderKey(ev.Open.MintAccount, side, ev.Open.OrderPDA)), v); err != nil {
			return err
		}
		return b.Put([]byte(userOrderKey(ev.Open.User, ev.Open.MintAccount, ev.Open.OrderPDA)), v)

	case types.EventClosePartial:
		o := orderFromClosePartial(ev.ClosePartial, ev.Slot)
		v, err := json.Marshal(o)
		if err != nil {
			return err
		}
		side := types.SideFromOrderType(ev.ClosePartial.OrderType)
		if err := b.Put([]byte(orderKey(ev.ClosePartial.MintAccount, side, ev.ClosePartial.OrderPDA)), v); err != nil {
			return err
		}
		return b.Put([]byte(userOrderKey(ev.ClosePartial.User, ev.ClosePartial.MintAccount, ev.ClosePartial.OrderPDA)), v)

	case types.EventCloseFull:
		side := types.SideFromCloseLong(ev.CloseFull.IsCloseLong)
		return s.deleteOrder(tx, ev.CloseFull.MintAccount, side, ev.CloseFull.OrderPDA)

	case types.EventLiquidate:
		// The side isn't carried on the wire; probe both buckets and
		// remove whichever one actually holds the order.
		if err := s.deleteOrderIfExists(tx, ev.Liquidate.MintAccount, types.SideUp, ev.Liquidate.OrderPDA); err != nil {
			return err
		}
		return s.deleteOrderIfExists(tx, ev.Liquidate.MintAccount, types.SideDn, ev.Liquidate.OrderPDA)

	default:
		return nil
	}
}

func (s *Store) deleteOrder(tx *bbolt.Tx, mint string, side types.Side, orderPDA string) error {
	b := tx.Bucket(bucketName)
	key := []byte(orderKey(mint, side, orderPDA))
	existing := b.Get(key)
	if existing == nil {
		return nil
	}
	var o types.Order
	if err := json.Unmarshal(existing, &o); err == nil && o.User != "" {
		if err := b.Delete([]byte(userOrderKey(o.User, mint, orderPDA))); err != nil {
			return err
		}
	}
	return b.Delete(key)
}

func (s *Store) deleteOrderIfExists(tx *bbolt.Tx, mint string, side types.Side, orderPDA string) error {
	b := tx.Bucket(bucketName)
	key := []byte(orderKey(mint, side, orderPDA))
	if b.Get(key) == nil {
		return nil
	}
	return s.deleteOrder(tx, mint, side, orderPDA)
}

func orderFromOpen(e *types.OpenEvent, slot uint64) types.Order {
	return types.Order{
		MintAccount:       e.MintAccount,
		OrderPDA:          e.OrderPDA,
		OrderType:         e.OrderType,
		User:              e.User,
		Mint:              e.Mint,
		LockLPStartPrice:  decoder.PriceToBig(e.LockLPStartPrice).String(),
		LockLPEndPrice:    decoder.PriceToBig(e.LockLPEndPrice).String(),
		LockLPQuoteAmount: e.LockLPQuoteAmount,
		LockLPTokenAmount: e.LockLPTokenAmount,
		StartTime:         e.StartTime,
		EndTime:           e.EndTime,
		MarginAmount:      e.MarginAmount,
		BorrowAmount:      e.BorrowAmount,
		PositionAmount:    e.PositionAmount,
		BorrowFeeBps:      e.BorrowFeeBps,
		LatestPrice:       decoder.PriceToBig(e.LatestPrice).String(),
		LastUpdatedSlot:   slot,
	}
}

func orderFromClosePartial(e *types.ClosePartialEvent, slot uint64) types.Order {
	return types.Order{
		MintAccount:       e.MintAccount,
		OrderPDA:          e.OrderPDA,
		OrderType:         e.OrderType,
		User:              e.User,
		Mint:              e.Mint,
		LockLPStartPrice:  decoder.PriceToBig(e.LockLPStartPrice).String(),
		LockLPEndPrice:    decoder.PriceToBig(e.LockLPEndPrice).String(),
		LockLPQuoteAmount: e.LockLPQuoteAmount,
		LockLPTokenAmount: e.LockLPTokenAmount,
		StartTime:         e.StartTime,
		EndTime:           e.EndTime,
		MarginAmount:      e.MarginAmount,
		BorrowAmount:      e.BorrowAmount,
		PositionAmount:    e.PositionAmount,
		BorrowFeeBps:      e.BorrowFeeBps,
		LatestPrice:       decoder.PriceToBig(e.LatestPrice).String(),
		LastUpdatedSlot:   slot,
	}
}

// priceToDecimal converts a raw u128 price into its 28-decimal fixed-point
// value.
func priceToDecimal(p types.Price) decimal.Decimal {
	return decimal.NewFromBigInt(decoder.PriceToBig(p), -pricePrecision)
}

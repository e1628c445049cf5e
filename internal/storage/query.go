package storage

import (
	"bytes"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/spinpet/kline-indexer/pkg/types"
)

// MaxPageLimit is the hard ceiling every listing accepts; callers asking
// for more are rejected rather than silently clamped.
const MaxPageLimit = 1000

// ErrLimitTooLarge is returned when a caller requests more than MaxPageLimit
// records in one page.
var ErrLimitTooLarge = fmt.Errorf("storage: limit exceeds %d", MaxPageLimit)

// ListEventsByMint returns up to limit raw event records for mint, in key
// order (ascending slot), starting after the given offset within the prefix.
func (s *Store) ListEventsByMint(mint string, offset, limit int) ([]types.Event, int, error) {
	if limit > MaxPageLimit {
		return nil, 0, ErrLimitTooLarge
	}
	prefix := []byte(fmt.Sprintf("%s:%s:", prefixEvent, mint))
	var out []types.Event
	total := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		i := 0
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			total++
			if i < offset {
				i++
				continue
			}
			if len(out) >= limit {
				i++
				continue
			}
			var ev types.Event
			if err := json.Unmarshal(v, &ev); err != nil {
				return fmt.Errorf("unmarshal event %s: %w", k, err)
			}
			out = append(out, ev)
			i++
		}
		return nil
	})
	return out, total, err
}

// ListMints returns up to limit mint markers in slot order, with the key of
// the last item returned so the caller can pass it back as a cursor.
func (s *Store) ListMints(cursor string, limit int) (mints []string, nextCursor string, err error) {
	if limit > MaxPageLimit {
		return nil, "", ErrLimitTooLarge
	}
	prefix := []byte(prefixMint + ":")
	err = s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		var k, v []byte
		if cursor != "" {
			c.Seek([]byte(cursor))
			k, v = c.Next()
		} else {
			k, v = c.Seek(prefix)
		}
		for ; k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			_ = v
			// mt:{slot:010}:{mint} — the mint is everything after the
			// second colon.
			parts := bytes.SplitN(k, []byte(":"), 3)
			if len(parts) == 3 {
				mints = append(mints, string(parts[2]))
			}
			if len(mints) >= limit {
				nextCursor = string(k)
				break
			}
		}
		return nil
	})
	return mints, nextCursor, err
}

// ListOrders returns up to limit orders for (mint, side).
func (s *Store) ListOrders(mint string, side types.Side, offset, limit int) ([]types.Order, int, error) {
	if limit > MaxPageLimit {
		return nil, 0, ErrLimitTooLarge
	}
	prefix := []byte(fmt.Sprintf("%s:%s:%s:", prefixOrder, mint, side))
	var out []types.Order
	total := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		i := 0
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			total++
			if i < offset {
				i++
				continue
			}
			if len(out) >= limit {
				i++
				continue
			}
			var o types.Order
			if err := json.Unmarshal(v, &o); err != nil {
				return fmt.Errorf("unmarshal order %s: %w", k, err)
			}
			out = append(out, o)
			i++
		}
		return nil
	})
	return out, total, err
}

// ListUserTransactions returns up to limit transactions for (user, mint).
func (s *Store) ListUserTransactions(user, mint string, offset, limit int) ([]types.UserTransaction, int, error) {
	if limit > MaxPageLimit {
		return nil, 0, ErrLimitTooLarge
	}
	prefix := []byte(fmt.Sprintf("%s:%s:%s:", prefixUserTx, user, mint))
	var out []types.UserTransaction
	total := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		i := 0
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			total++
			if i < offset {
				i++
				continue
			}
			if len(out) >= limit {
				i++
				continue
			}
			var t types.UserTransaction
			if err := json.Unmarshal(v, &t); err != nil {
				return fmt.Errorf("unmarshal user transaction %s: %w", k, err)
			}
			out = append(out, t)
			i++
		}
		return nil
	})
	return out, total, err
}

// ListUserOrders returns every open order for (user, mint).
func (s *Store) ListUserOrders(user, mint string) ([]types.Order, error) {
	prefix := []byte(fmt.Sprintf("%s:%s:%s:", prefixUserOrd, user, mint))
	var out []types.Order
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var o types.Order
			if err := json.Unmarshal(v, &o); err != nil {
				return fmt.Errorf("unmarshal user order %s: %w", k, err)
			}
			out = append(out, o)
		}
		return nil
	})
	return out, err
}

// ListCandles returns up to limit candles for (mint, interval), newest
// bucket first, matching get_kline_history's time_desc ordering.
func (s *Store) ListCandles(mint string, iv types.Interval, limit int) ([]types.Candle, error) {
	if limit > MaxPageLimit {
		return nil, ErrLimitTooLarge
	}
	prefix := []byte(fmt.Sprintf("%s:%s:", iv, mint))
	var all []types.Candle
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var cd types.Candle
			if err := json.Unmarshal(v, &cd); err != nil {
				return fmt.Errorf("unmarshal candle %s: %w", k, err)
			}
			all = append(all, cd)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	reverseCandles(all)
	return all, nil
}

func reverseCandles(c []types.Candle) {
	for i, j := 0, len(c)-1; i < j; i, j = i+1, j-1 {
		c[i], c[j] = c[j], c[i]
	}
}

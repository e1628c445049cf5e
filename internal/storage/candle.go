package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/spinpet/kline-indexer/pkg/types"
)

// bucketStart floors a unix timestamp to the start of its interval bucket.
func bucketStart(unixSeconds uint64, iv types.Interval) uint64 {
	w := iv.Seconds()
	if w <= 1 {
		return unixSeconds
	}
	return (unixSeconds / w) * w
}

// updateCandles performs one independent read-modify-write transaction per
// candle interval. Each transaction covers a single key rather than all
// three intervals. bbolt runs one read-write transaction at a time, so candle
// updates for different mints are still serialized with each other.
func (s *Store) updateCandles(mint string, price types.Price, at time.Time) error {
	unix := uint64(at.Unix())
	priceFloat, _ := priceToDecimal(price).Float64()

	for _, iv := range types.Intervals {
		bucket := bucketStart(unix, iv)
		key := []byte(klineKey(iv, mint, bucket))

		err := s.db.Update(func(tx *bbolt.Tx) error {
			b := tx.Bucket(bucketName)
			var c types.Candle
			if existing := b.Get(key); existing != nil {
				if err := json.Unmarshal(existing, &c); err != nil {
					return fmt.Errorf("unmarshal candle %s: %w", key, err)
				}
				if priceFloat > c.High {
					c.High = priceFloat
				}
				if priceFloat < c.Low {
					c.Low = priceFloat
				}
				c.Close = priceFloat
				c.UpdateCount++
			} else {
				c = types.Candle{
					MintAccount: mint,
					Interval:    iv,
					BucketStart: bucket,
					Open:        priceFloat,
					High:        priceFloat,
					Low:         priceFloat,
					Close:       priceFloat,
					UpdateCount: 1,
				}
			}
			raw, err := json.Marshal(c)
			if err != nil {
				return err
			}
			return b.Put(key, raw)
		})
		if err != nil {
			return fmt.Errorf("candle interval %s: %w", iv, err)
		}
	}
	return nil
}

// LatestCandle returns the most recently written candle for (mint, interval,
// bucket), or ok=false if none exists yet.
func (s *Store) LatestCandle(mint string, iv types.Interval, bucket uint64) (types.Candle, bool, error) {
	var c types.Candle
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		raw := b.Get([]byte(klineKey(iv, mint, bucket)))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &c)
	})
	return c, found, err
}

// CurrentBucket returns the bucket-start timestamp `at` falls into for iv —
// exported so the pipeline can look up the just-updated candle without
// recomputing the rule twice.
func CurrentBucket(at time.Time, iv types.Interval) uint64 {
	return bucketStart(uint64(at.Unix()), iv)
}

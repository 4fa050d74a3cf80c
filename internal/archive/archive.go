// Package archive durably persists closed candles to disk with bbolt,
// one bucket per symbol, so a restart can optionally reseed history from
// local data in addition to the exchange backfill. This is supplemental
// to CandleHistory, which is the authoritative in-memory window the
// engine reads from.
package archive

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"perpmomentum/internal/model"
)

// Store is a bbolt-backed append log of closed candles, keyed by
// symbol and open_time for efficient range scans.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) the archive database under dataDir.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "candle-archive.db")
	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", dbPath, err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func bucketName(symbol string) []byte {
	return []byte("candles_" + symbol)
}

// Append stores c under symbol's bucket, creating the bucket on first
// use. Keys are big-endian-free decimal open_time strings, which sort
// the same as the underlying int64 because candle intervals never
// produce negative open times.
func (s *Store) Append(symbol string, c model.Candle) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName(symbol))
		if err != nil {
			return fmt.Errorf("create bucket for %s: %w", symbol, err)
		}
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("marshal candle: %w", err)
		}
		key := fmt.Sprintf("%020d", c.OpenTime)
		return b.Put([]byte(key), data)
	})
}

// Range returns every archived candle for symbol with open_time within
// [start, end], inclusive, ordered oldest first.
func (s *Store) Range(symbol string, start, end int64) ([]model.Candle, error) {
	var out []model.Candle
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName(symbol))
		if b == nil {
			return nil
		}
		startKey := []byte(fmt.Sprintf("%020d", start))
		endKey := []byte(fmt.Sprintf("%020d", end))
		c := b.Cursor()
		for k, v := c.Seek(startKey); k != nil && string(k) <= string(endKey); k, v = c.Next() {
			var candle model.Candle
			if err := json.Unmarshal(v, &candle); err != nil {
				continue
			}
			out = append(out, candle)
		}
		return nil
	})
	return out, err
}

// Last returns the most recent n archived candles for symbol, oldest
// first, or fewer if the archive holds less than n.
func (s *Store) Last(symbol string, n int) ([]model.Candle, error) {
	var out []model.Candle
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName(symbol))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(out) < n; k, v = c.Prev() {
			var candle model.Candle
			if err := json.Unmarshal(v, &candle); err != nil {
				continue
			}
			out = append(out, candle)
		}
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
		return nil
	})
	return out, err
}

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var resultsBucket = []byte("results")

type boltEnvelope struct {
	ExpiresAt time.Time `json:"expires_at"`
	Value     []byte    `json:"value"`
}

// Bolt is a persistent cache stored in a bbolt file.
type Bolt struct {
	db  *bbolt.DB
	now func() time.Time
}

// OpenBolt opens or creates the cache file at path.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening cache db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(resultsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating cache bucket: %w", err)
	}
	return &Bolt{db: db, now: time.Now}, nil
}

// Get implements Cache. Expired entries are reported as misses and removed
// on the next Prune.
func (b *Bolt) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var env boltEnvelope
	var found bool
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(resultsBucket).Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &env)
	})
	if err != nil {
		return nil, false, fmt.Errorf("reading cache entry: %w", err)
	}
	if !found || !b.now().Before(env.ExpiresAt) {
		return nil, false, nil
	}
	return env.Value, true, nil
}

// Set implements Cache.
func (b *Bolt) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(boltEnvelope{ExpiresAt: b.now().Add(effectiveTTL(ttl)), Value: val})
	if err != nil {
		return fmt.Errorf("marshaling cache entry: %w", err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(resultsBucket).Put([]byte(key), data)
	})
}

// Prune deletes expired entries and returns how many were removed.
func (b *Bolt) Prune() (int, error) {
	now := b.now()
	removed := 0
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(resultsBucket)
		var stale [][]byte
		err := bucket.ForEach(func(k, v []byte) error {
			var env boltEnvelope
			if err := json.Unmarshal(v, &env); err != nil || !now.Before(env.ExpiresAt) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

// Close closes the underlying database.
func (b *Bolt) Close() error {
	return b.db.Close()
}

// Package cache stores pipeline results by content hash of the invoice
// image. Implementations are safe for concurrent use.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// DefaultTTL is how long a result stays valid when no TTL is configured.
const DefaultTTL = 12 * time.Hour

// Cache is a byte-value store with per-entry expiry.
type Cache interface {
	// Get returns the value for key; ok is false on a miss or expiry.
	Get(ctx context.Context, key string) (val []byte, ok bool, err error)
	// Set stores val under key for ttl (DefaultTTL when ttl <= 0).
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

// Key returns the content address of data.
func Key(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func effectiveTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

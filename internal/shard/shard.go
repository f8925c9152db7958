// Package shard derives hash-distributed row ids for key-addressed tables.
package shard

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// hashID returns a 128-bit hex digest of the joined parts. Each id lands on
// its own partition, so hot keys never share one.
func hashID(kind, table, key string) string {
	data := fmt.Sprintf("%s#%s#%s", kind, table, key)
	h := sha256.Sum256([]byte(data))
	return hex.EncodeToString(h[:16])
}

// RateLimitID computes the row id of the rate-limit window for (table, key).
func RateLimitID(table, key string) string {
	return hashID("ratelimit", table, key)
}

// CacheID computes the row id of the cache entry for key in table.
func CacheID(table, key string) string {
	return hashID("cache", table, key)
}

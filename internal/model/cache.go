package model

import "time"

// CacheEntry is the persisted form of a cached EnrichmentResult.
type CacheEntry struct {
	Key        string    `json:"key"`
	Payload    []byte    `json:"payload"`
	CreatedAt  time.Time `json:"created_at"`
	TTLSeconds int       `json:"ttl_seconds"`
}

// ExpiresAt is CreatedAt plus the TTL.
func (e CacheEntry) ExpiresAt() time.Time {
	return e.CreatedAt.Add(time.Duration(e.TTLSeconds) * time.Second)
}

// Expired reports whether the entry is past its TTL at now. An entry is
// expired from the instant ttl_seconds have elapsed.
func (e CacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt())
}

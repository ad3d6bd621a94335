// Package cache implements the tiered object cache: a common Layer contract
// satisfied by memory, disk and redis implementations, composed by Tiered
// with promotion and Vary-aware variant resolution.
package cache

import (
	"context"
	"time"

	"github.com/yatagarasu/yatagarasu/internal/fingerprint"
)

// Entry is a cached object response.
type Entry struct {
	Data           []byte
	ContentType    string
	ContentLength  int64
	ETag           string
	LastModified   string
	Encoding       string // identity|gzip|br|deflate
	CreatedAt      time.Time
	ExpiresAt      time.Time // zero value means no expiry
	LastAccessedAt time.Time
}

// Expired reports whether the entry's TTL has elapsed as of now.
func (e *Entry) Expired(now time.Time) bool {
	if e.ExpiresAt.IsZero() {
		return false
	}
	return now.After(e.ExpiresAt)
}

// Stats is a layer's monotonic counters plus size/item gauges.
type Stats struct {
	Hits        uint64
	Misses      uint64
	Sets        uint64
	Evictions   uint64
	Items       int64
	Bytes       int64
}

// Layer is the uniform contract every cache tier satisfies.
type Layer interface {
	Get(ctx context.Context, fp fingerprint.Fingerprint) (*Entry, bool, error)
	GetSendfile(ctx context.Context, fp fingerprint.Fingerprint) (path string, size int64, ok bool, err error)
	Set(ctx context.Context, fp fingerprint.Fingerprint, entry *Entry) error
	Delete(ctx context.Context, fp fingerprint.Fingerprint) (bool, error)
	Clear(ctx context.Context) error
	Stats() Stats
	Name() string
}

// Package fingerprint builds the canonical cache key for a request.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint identifies a cacheable response: bucket, canonical object key,
// and a variant axis derived from Vary-relevant request headers.
type Fingerprint struct {
	Bucket     string
	Key        string
	VariantAxis string

	// Cacheable is false for range requests and other requests that must
	// never consult or populate the cache.
	Cacheable bool
}

// String renders the canonical encoding used both for equality and as the
// pre-image of the stable hash.
func (f Fingerprint) String() string {
	var b strings.Builder
	b.WriteString(f.Bucket)
	b.WriteByte('\x00')
	b.WriteString(f.Key)
	b.WriteByte('\x00')
	b.WriteString(f.VariantAxis)
	return b.String()
}

// Hash is a fast, process- and instance-stable 64-bit digest of the
// fingerprint, used only for in-process lookups (the memory layer's map
// key) where cryptographic collision resistance buys nothing.
func (f Fingerprint) Hash() uint64 {
	return xxhash.Sum64String(f.String())
}

// Digest is a stable 256-bit digest of the fingerprint, used anywhere the
// key leaves a single process's memory: the disk layer's content-addressed
// filenames and index, and the redis layer's key. A 64-bit hash sharing a
// keyspace across every bucket, every disk cache root and every instance
// pointed at the same redis deployment carries more collision risk than a
// read-only proxy should accept; sha256 closes that gap at negligible cost
// since these paths already touch the filesystem or network per call.
func (f Fingerprint) Digest() [32]byte {
	return sha256.Sum256([]byte(f.String()))
}

// HashHex is Digest encoded as lowercase hex, for on-disk filenames and
// redis keys.
func (f Fingerprint) HashHex() string {
	d := f.Digest()
	return hex.EncodeToString(d[:])
}

// Build derives the variant axis from Accept-Encoding (and any other
// configured Vary header values) by splitting on commas, trimming,
// lowercasing, sorting, and rejoining — so semantically identical
// Accept-Encoding values collapse to the same axis regardless of order or
// whitespace.
func Build(bucket, key string, varyValues ...string) Fingerprint {
	return Fingerprint{
		Bucket:      bucket,
		Key:         key,
		VariantAxis: buildVariantAxis(varyValues...),
		Cacheable:   true,
	}
}

// NotCacheable returns a fingerprint marked uncacheable, used for range
// requests and other responses that must bypass the cache entirely.
func NotCacheable(bucket, key string) Fingerprint {
	return Fingerprint{Bucket: bucket, Key: key, Cacheable: false}
}

func buildVariantAxis(varyValues ...string) string {
	var tokens []string
	for _, v := range varyValues {
		for _, part := range strings.Split(v, ",") {
			trimmed := strings.ToLower(strings.TrimSpace(part))
			if trimmed != "" {
				tokens = append(tokens, trimmed)
			}
		}
	}
	if len(tokens) == 0 {
		return ""
	}
	sort.Strings(tokens)
	return strings.Join(tokens, ",")
}

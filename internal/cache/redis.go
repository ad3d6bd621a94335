package cache

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/yatagarasu/yatagarasu/internal/fingerprint"
)

// wireEntry is the JSON representation stored in redis; TTL itself is
// carried server-side via the key's expiry rather than duplicated in the
// value.
type wireEntry struct {
	Data          []byte    `json:"data"`
	ContentType   string    `json:"content_type"`
	ContentLength int64     `json:"content_length"`
	ETag          string    `json:"etag"`
	LastModified  string    `json:"last_modified"`
	Encoding      string    `json:"encoding"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Redis is a shared cache layer backed by a redis-compatible server,
// grounded on the corpus's thin Store-adapter pattern around *goredis.Client.
type Redis struct {
	client    *goredis.Client
	keyPrefix string

	hits, misses, sets atomic.Uint64
}

// NewRedis wraps an already-configured *goredis.Client.
func NewRedis(client *goredis.Client, keyPrefix string) *Redis {
	return &Redis{client: client, keyPrefix: keyPrefix}
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) key(fp fingerprint.Fingerprint) string {
	return r.keyPrefix + fp.HashHex()
}

func (r *Redis) Get(ctx context.Context, fp fingerprint.Fingerprint) (*Entry, bool, error) {
	raw, err := r.client.Get(ctx, r.key(fp)).Bytes()
	if err == goredis.Nil {
		r.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var w wireEntry
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, false, err
	}

	r.hits.Add(1)
	return &Entry{
		Data:          w.Data,
		ContentType:   w.ContentType,
		ContentLength: w.ContentLength,
		ETag:          w.ETag,
		LastModified:  w.LastModified,
		Encoding:      w.Encoding,
		CreatedAt:     w.CreatedAt,
		ExpiresAt:     w.ExpiresAt,
	}, true, nil
}

// GetSendfile never applies to the redis tier: there is no local file
// descriptor to hand the kernel.
func (r *Redis) GetSendfile(_ context.Context, _ fingerprint.Fingerprint) (string, int64, bool, error) {
	return "", 0, false, nil
}

func (r *Redis) Set(ctx context.Context, fp fingerprint.Fingerprint, entry *Entry) error {
	w := wireEntry{
		Data:          entry.Data,
		ContentType:   entry.ContentType,
		ContentLength: entry.ContentLength,
		ETag:          entry.ETag,
		LastModified:  entry.LastModified,
		Encoding:      entry.Encoding,
		CreatedAt:     entry.CreatedAt,
		ExpiresAt:     entry.ExpiresAt,
	}
	raw, err := json.Marshal(w)
	if err != nil {
		return err
	}

	ttl := time.Duration(0)
	if !entry.ExpiresAt.IsZero() {
		ttl = time.Until(entry.ExpiresAt)
		if ttl <= 0 {
			return nil
		}
	}

	if err := r.client.Set(ctx, r.key(fp), raw, ttl).Err(); err != nil {
		return err
	}
	r.sets.Add(1)
	return nil
}

func (r *Redis) Delete(ctx context.Context, fp fingerprint.Fingerprint) (bool, error) {
	n, err := r.client.Del(ctx, r.key(fp)).Result()
	return n > 0, err
}

func (r *Redis) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.keyPrefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *Redis) Stats() Stats {
	return Stats{
		Hits:   r.hits.Load(),
		Misses: r.misses.Load(),
		Sets:   r.sets.Load(),
	}
}

package cache

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yatagarasu/yatagarasu/internal/fingerprint"
)

// Tiered composes an ordered list of layers, fastest first, with
// read-through promotion and fan-out writes.
type Tiered struct {
	layers []Layer
	logger *logrus.Entry
}

// NewTiered composes layers in probe order (typically memory, disk, redis).
func NewTiered(logger *logrus.Entry, layers ...Layer) *Tiered {
	return &Tiered{layers: layers, logger: logger}
}

// Result is a tiered cache hit along with which layer produced it.
type Result struct {
	Entry     *Entry
	LayerName string
	LayerIdx  int
}

// Get probes layers in order. A hit in layer k>0 triggers asynchronous
// promotion into every layer before it; promotion failures are logged, never
// surfaced. A layer error (not a miss) is logged and the probe continues to
// the next layer — read-path errors never propagate to the caller.
func (t *Tiered) Get(ctx context.Context, fp fingerprint.Fingerprint) (*Result, bool) {
	for i, layer := range t.layers {
		entry, ok, err := layer.Get(ctx, fp)
		if err != nil {
			t.logger.WithError(err).WithField("layer", layer.Name()).Warn("cache layer read failed, continuing to next layer")
			continue
		}
		if !ok {
			continue
		}

		if i > 0 {
			t.promote(fp, entry, i)
		}
		return &Result{Entry: entry, LayerName: layer.Name(), LayerIdx: i}, true
	}
	return nil, false
}

func (t *Tiered) promote(fp fingerprint.Fingerprint, entry *Entry, foundAt int) {
	go func() {
		ctx := context.Background()
		for i := 0; i < foundAt; i++ {
			if err := t.layers[i].Set(ctx, fp, entry); err != nil {
				t.logger.WithError(err).WithField("layer", t.layers[i].Name()).Warn("cache promotion failed")
			}
		}
	}()
}

// Set writes entry to every configured layer independently; a failure in one
// layer is logged but does not stop the others.
func (t *Tiered) Set(ctx context.Context, fp fingerprint.Fingerprint, entry *Entry) {
	for _, layer := range t.layers {
		if err := layer.Set(ctx, fp, entry); err != nil {
			t.logger.WithError(err).WithField("layer", layer.Name()).Warn("cache write failed")
		}
	}
}

// SetAsync performs Set on a detached goroutine so the client response is
// never blocked on cache population.
func (t *Tiered) SetAsync(fp fingerprint.Fingerprint, entry *Entry) {
	go t.Set(context.Background(), fp, entry)
}

// Delete removes fp from every layer.
func (t *Tiered) Delete(ctx context.Context, fp fingerprint.Fingerprint) {
	for _, layer := range t.layers {
		if _, err := layer.Delete(ctx, fp); err != nil {
			t.logger.WithError(err).WithField("layer", layer.Name()).Warn("cache delete failed")
		}
	}
}

// Purge clears every layer. There is no prefix-scoped purge, since the
// per-layer contract has no prefix-scan primitive beyond redis's SCAN (used
// internally by Clear); the admin adapter either deletes one exact
// fingerprint (bucket and path both given) or calls Purge.
func (t *Tiered) Purge(ctx context.Context) {
	for _, layer := range t.layers {
		if err := layer.Clear(ctx); err != nil {
			t.logger.WithError(err).WithField("layer", layer.Name()).Warn("cache clear failed")
		}
	}
}

// Stats aggregates every layer's Stats keyed by layer name.
func (t *Tiered) Stats() map[string]Stats {
	out := make(map[string]Stats, len(t.layers))
	for _, layer := range t.layers {
		out[layer.Name()] = layer.Stats()
	}
	return out
}

// AcceptsEncoding reports whether a stored entry's encoding is acceptable
// given the client's Accept-Encoding variant axis — a mismatch (entry exists
// for a different variant than what the client's axis selected) is treated
// as a miss even though a fingerprint for a different variant exists, since
// fingerprints already encode the variant axis and Get only ever looks up an
// exact fingerprint.
func AcceptsEncoding(entryEncoding, variantAxis string) bool {
	if entryEncoding == "" || entryEncoding == "identity" {
		return true
	}
	return containsToken(variantAxis, entryEncoding)
}

func containsToken(csv, token string) bool {
	start := 0
	for i := 0; i <= len(csv); i++ {
		if i == len(csv) || csv[i] == ',' {
			if csv[start:i] == token {
				return true
			}
			start = i + 1
		}
	}
	return false
}

// NewExpiry computes an entry's ExpiresAt from a TTL in seconds; zero means
// no expiry.
func NewExpiry(ttlSeconds int, now time.Time) time.Time {
	if ttlSeconds <= 0 {
		return time.Time{}
	}
	return now.Add(time.Duration(ttlSeconds) * time.Second)
}

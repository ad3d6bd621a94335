package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/yatagarasu/yatagarasu/internal/config"
	"github.com/yatagarasu/yatagarasu/internal/fingerprint"
)

func openForSendfile(path string) (*os.File, error) {
	return os.Open(path)
}

// serverReloader adapts Server to admin.Reloader.
type serverReloader struct {
	s *Server
}

func (r *serverReloader) Reload() (uint64, error) {
	return r.s.Reload()
}

// Reload re-reads and validates configuration, rebuilds the routing/limiter
// snapshot from it, and atomically publishes the new snapshot, returning the
// generation number of the snapshot it published. Cache layers, the
// coalescer and the warm worker are left untouched — only their routing and
// policy context changes.
func (s *Server) Reload() (uint64, error) {
	current := s.currentConfig()
	next, err := config.Reload(current)
	if err != nil {
		return 0, err
	}

	snap, err := buildSnapshot(next)
	if err != nil {
		return 0, err
	}
	s.snap.Store(snap)
	s.logger.WithField("generation", next.Generation).Info("configuration reloaded")
	return next.Generation, nil
}

// serverCacheManager adapts Server to admin.CacheManager.
type serverCacheManager struct {
	s *Server
}

func (c *serverCacheManager) Purge(bucket, path string) error {
	ctx := context.Background()
	if bucket == "" {
		c.s.tiered.Purge(ctx)
		return nil
	}

	if path == "" {
		// No per-bucket prefix scan primitive exists across every layer
		// (see Tiered.Purge); a bucket-scoped purge with no path clears
		// everything, the same as a full purge, rather than silently
		// no-op-ing.
		c.s.tiered.Purge(ctx)
		return nil
	}

	fp := fingerprint.Build(bucket, path)
	c.s.tiered.Delete(ctx, fp)
	return nil
}

func (c *serverCacheManager) Stats() map[string]interface{} {
	stats := c.s.tiered.Stats()
	out := make(map[string]interface{}, len(stats))
	for k, v := range stats {
		out[k] = v
	}
	return out
}

// serverWarmer adapts Server to admin.Warmer.
type serverWarmer struct {
	s *Server
}

func (w *serverWarmer) Submit(bucket, prefix string) string {
	return w.s.warmWorker.Submit(bucket, prefix)
}

func (w *serverWarmer) Status(id string) (interface{}, bool) {
	return w.s.warmWorker.Status(id)
}

func (w *serverWarmer) Cancel(id string) bool {
	return w.s.warmWorker.Cancel(id)
}

// serverLister adapts Server to warm.Lister, listing a bucket's key space
// against its highest-priority available replica.
type serverLister struct {
	s *Server
}

func (l *serverLister) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	snap := l.s.snap.Load()
	rt, ok := snap.buckets[bucket]
	if !ok {
		return nil, fmt.Errorf("unknown bucket %q", bucket)
	}
	sel, _, ok := rt.selector.Select()
	if !ok {
		return nil, fmt.Errorf("no replica available for bucket %q", bucket)
	}
	return listObjects(ctx, l.s.upstreamClient, sel, prefix)
}

// serverFetcher adapts Server to warm.Fetcher, issuing the same GET the
// public request path would, including cache population, so a prewarm run
// exercises coalescing and the tiered cache identically to a real client.
type serverFetcher struct {
	s *Server
}

func (f *serverFetcher) Fetch(ctx context.Context, bucket, key string) error {
	snap := f.s.snap.Load()
	rt, ok := snap.buckets[bucket]
	if !ok {
		return fmt.Errorf("unknown bucket %q", bucket)
	}

	if !rt.cacheEnabled {
		resp, _, err := f.s.dispatchUpstream(ctx, rt, http.MethodGet, key, "")
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		return nil
	}

	fp := fingerprint.Build(bucket, key)
	if _, ok := f.s.tiered.Get(ctx, fp); ok {
		return nil
	}

	// Routed through the same coalescer the public miss path uses, so a
	// prewarm run racing a real client request for the same key shares one
	// upstream fetch instead of doubling it.
	entry, err := f.s.fetchCoalesced(ctx, rt, fp, key)
	if err == errTooLargeToCoalesce {
		// Larger than the bucket's cache ceiling: fetching it at all still
		// warms nothing, so this is not reported as a prewarm failure.
		return nil
	}
	if err != nil {
		return err
	}

	f.s.tiered.SetAsync(fp, entry)
	return nil
}

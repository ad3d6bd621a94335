// Package pipeline wires the router, fingerprint builder, rate limiter,
// tiered cache, request coalescer, replica selector/signer and streaming
// pipeline into the ordered per-request filter chain, and owns the
// lock-free config hot-swap.
package pipeline

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/yatagarasu/yatagarasu/internal/admin"
	"github.com/yatagarasu/yatagarasu/internal/apierror"
	"github.com/yatagarasu/yatagarasu/internal/cache"
	"github.com/yatagarasu/yatagarasu/internal/coalesce"
	"github.com/yatagarasu/yatagarasu/internal/config"
	"github.com/yatagarasu/yatagarasu/internal/fingerprint"
	"github.com/yatagarasu/yatagarasu/internal/metrics"
	"github.com/yatagarasu/yatagarasu/internal/rangeparser"
	"github.com/yatagarasu/yatagarasu/internal/ratelimit"
	"github.com/yatagarasu/yatagarasu/internal/replica"
	"github.com/yatagarasu/yatagarasu/internal/router"
	"github.com/yatagarasu/yatagarasu/internal/stream"
	"github.com/yatagarasu/yatagarasu/internal/warm"

	goredis "github.com/redis/go-redis/v9"
)

// bucketRuntime is everything derived from a BucketConfig that the request
// path needs: the router only carries name/prefix, everything else
// (authorizer, ACLs, replica breakers, cache overrides) lives here.
type bucketRuntime struct {
	cfg         config.BucketConfig
	authorizer  admin.Authorizer
	allow       []*net.IPNet
	block       []*net.IPNet
	selector    *replica.Selector
	cacheEnabled bool
	ttlSeconds   int
	maxItemSize  int64
}

// snapshot is everything the hot-swap publishes atomically: a fresh router,
// bucket runtimes and rate limiter built from one validated Config. Cache
// layers, the coalescer and the warm worker are longer-lived infrastructure
// that survives a reload untouched.
type snapshot struct {
	cfg     *config.Config
	rt      *router.Router
	buckets map[string]*bucketRuntime
	limiter *ratelimit.Limiter
}

// Server is the full request-lifecycle engine: the ordered filter chain of
// §4.13 composed over the router, signer, tiered cache, coalescer, replica
// selector/breaker and streaming pipeline, plus the admin and health
// surfaces and the config hot-swap.
type Server struct {
	logger  *logrus.Entry
	metrics *metrics.Metrics

	snap atomic.Pointer[snapshot]

	tiered     *cache.Tiered
	diskLayer  *cache.Disk
	coalescer  *coalesce.Group
	warmWorker *warm.Worker

	upstreamClient *http.Client

	httpServer  *http.Server
	adminServer *http.Server

	bootstrapped atomic.Bool
}

// NewServer builds a Server from an initial validated config: it opens the
// configured cache layers, wires the coalescer, warm worker and admin
// surface, and publishes the first snapshot.
func NewServer(cfg *config.Config, logger *logrus.Entry, m *metrics.Metrics) (*Server, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if m == nil {
		m = metrics.New()
	}

	s := &Server{
		logger:  logger,
		metrics: m,
	}

	tiered, diskLayer, err := buildCacheLayers(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("building cache layers: %w", err)
	}
	s.tiered = tiered
	s.diskLayer = diskLayer
	s.coalescer = coalesce.New()
	s.upstreamClient = newUpstreamClient(cfg.Upstream)

	snap, err := buildSnapshot(cfg)
	if err != nil {
		return nil, err
	}
	s.snap.Store(snap)

	s.warmWorker = warm.New(&serverLister{s: s}, &serverFetcher{s: s}, logger.WithField("component", "warm"), cfg.Prewarm.Concurrency, cfg.Prewarm.OpsPerSecondLimit)

	s.httpServer = &http.Server{
		Addr:         cfg.BindAddress,
		Handler:      s,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses may legitimately run long
		IdleTimeout:  60 * time.Second,
	}

	adminRouter := mux.NewRouter()
	surface := admin.NewSurface(&serverReloader{s: s}, &serverCacheManager{s: s}, &serverWarmer{s: s}, admin.NewAdmin(cfg.AdminAuth), logger.WithField("component", "admin"))
	surface.Register(adminRouter.PathPrefix("/admin").Subrouter())
	adminRouter.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	adminRouter.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	adminRouter.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	s.adminServer = &http.Server{
		Addr:         cfg.AdminBindAddress,
		Handler:      adminRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.bootstrapped.Store(true)
	return s, nil
}

func newUpstreamClient(cfg config.UpstreamConfig) *http.Client {
	connectTimeout := time.Duration(cfg.ConnectTimeoutMS) * time.Millisecond
	if connectTimeout <= 0 {
		connectTimeout = 3 * time.Second
	}
	readTimeout := time.Duration(cfg.ReadTimeoutMS) * time.Millisecond
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: connectTimeout,
		}).DialContext,
		ResponseHeaderTimeout: readTimeout,
		MaxIdleConnsPerHost:   64,
	}
	return &http.Client{Transport: transport}
}

func buildCacheLayers(cfg *config.Config, logger *logrus.Entry) (*cache.Tiered, *cache.Disk, error) {
	var layers []cache.Layer
	var diskLayer *cache.Disk

	if cfg.Cache.Memory.Enabled {
		layers = append(layers, cache.NewMemory(cfg.Cache.Memory.MaxBytes, cfg.Cache.Memory.MaxItemSize))
	}
	if cfg.Cache.Disk.Enabled {
		d, err := cache.NewDisk(cfg.Cache.Disk.Root, cfg.Cache.Disk.MaxBytes, cfg.Cache.Disk.MaxItemSize, cfg.Cache.SendfileThreshold)
		if err != nil {
			return nil, nil, err
		}
		diskLayer = d
		layers = append(layers, d)
	}
	if cfg.Cache.Redis.Enabled {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Cache.Redis.Address,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			PoolSize: cfg.Cache.Redis.PoolSize,
		})
		layers = append(layers, cache.NewRedis(client, cfg.Cache.Redis.KeyPrefix))
	}

	return cache.NewTiered(logger.WithField("component", "cache"), layers...), diskLayer, nil
}

func buildSnapshot(cfg *config.Config) (*snapshot, error) {
	bindings := make([]router.Binding, 0, len(cfg.Buckets))
	buckets := make(map[string]*bucketRuntime, len(cfg.Buckets))
	bucketCaps := make(map[string]ratelimit.ScopeConfig, len(cfg.Buckets))

	for _, b := range cfg.Buckets {
		bindings = append(bindings, router.Binding{Name: b.Name, PathPrefix: b.PathPrefix})

		allow, err := parseCIDRs(b.Allowlist)
		if err != nil {
			return nil, err
		}
		block, err := parseCIDRs(b.Blocklist)
		if err != nil {
			return nil, err
		}

		replicas := make([]*replica.Replica, 0, len(b.Replicas))
		for _, rc := range b.Replicas {
			replicas = append(replicas, replica.New(replica.Config{
				Endpoint:         rc.Endpoint,
				Region:           rc.Region,
				AccessKey:        rc.AccessKey,
				SecretKey:        rc.SecretKey,
				Priority:         rc.Priority,
				FailureThreshold: rc.FailureThreshold,
				Cooldown:         time.Duration(rc.CooldownSeconds) * time.Second,
				SuccessThreshold: rc.SuccessThreshold,
			}))
		}

		cacheEnabled := true
		if b.CacheOverrides.Enabled != nil {
			cacheEnabled = *b.CacheOverrides.Enabled
		}
		ttl := b.CacheOverrides.TTLSeconds
		if ttl == 0 {
			ttl = cfg.Cache.DefaultTTLSeconds
		}
		maxItemSize := b.CacheOverrides.MaxItemSize
		if maxItemSize <= 0 {
			maxItemSize = cfg.Cache.Memory.MaxItemSize
		}

		buckets[b.Name] = &bucketRuntime{
			cfg:          b,
			authorizer:   admin.New(b.Authorizer),
			allow:        allow,
			block:        block,
			selector:     replica.NewSelector(replicas),
			cacheEnabled: cacheEnabled,
			ttlSeconds:   ttl,
			maxItemSize:  maxItemSize,
		}

		if b.RateCaps.RequestsPerSecond > 0 {
			bucketCaps[b.Name] = ratelimit.ScopeConfig{RequestsPerSecond: b.RateCaps.RequestsPerSecond, Burst: b.RateCaps.Burst}
		}
	}

	limiter := ratelimit.New(
		ratelimit.ScopeConfig{RequestsPerSecond: cfg.RateLimit.GlobalRequestsPerSecond, Burst: cfg.RateLimit.GlobalBurst},
		ratelimit.ScopeConfig{RequestsPerSecond: cfg.RateLimit.PerIPRequestsPerSecond, Burst: cfg.RateLimit.PerIPBurst},
		ratelimit.ScopeConfig{RequestsPerSecond: cfg.RateLimit.PerUserRequestsPerSecond, Burst: cfg.RateLimit.PerUserBurst},
		bucketCaps,
	)

	return &snapshot{
		cfg:     cfg,
		rt:      router.New(bindings),
		buckets: buckets,
		limiter: limiter,
	}, nil
}

func parseCIDRs(cidrs []string) ([]*net.IPNet, error) {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, ipnet, err := net.ParseCIDR(c)
		if err != nil {
			return nil, fmt.Errorf("invalid CIDR %q: %w", c, err)
		}
		out = append(out, ipnet)
	}
	return out, nil
}

func (s *Server) currentConfig() *config.Config {
	return s.snap.Load().cfg
}

// Start runs the public and admin HTTP servers until ctx is cancelled, then
// drains both within the configured shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		s.logger.WithField("address", s.httpServer.Addr).Info("starting proxy listener")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("proxy listener: %w", err)
		}
	}()
	go func() {
		s.logger.WithField("address", s.adminServer.Addr).Info("starting admin listener")
		if err := s.adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("admin listener: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownTimeout := time.Duration(s.currentConfig().ShutdownTimeout) * time.Second
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var firstErr error
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		firstErr = err
	}
	if err := s.adminServer.Shutdown(shutdownCtx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// ServeHTTP implements the ordered filter chain of §4.13.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := ensureRequestID(r)
	w.Header().Set("X-Request-Id", requestID)
	logger := s.logger.WithFields(logrus.Fields{"request_id": requestID, "method": r.Method, "path": r.URL.Path})

	route := "-"
	status := http.StatusOK
	defer func() {
		s.metrics.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		s.metrics.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		logger.WithFields(logrus.Fields{"status": status, "duration_ms": time.Since(start).Milliseconds(), "bucket": route}).Info("request handled")
	}()

	if r.Method == http.MethodOptions {
		w.Header().Set("Allow", "GET, HEAD, OPTIONS")
		w.WriteHeader(http.StatusNoContent)
		status = http.StatusNoContent
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		status = writeAPIErr(w, logger, requestID, apierror.New(apierror.MethodNotAllowed, "only GET, HEAD and OPTIONS are accepted"))
		return
	}

	if len(r.URL.Path) > 4096 || containsControlChar(r.URL.Path) {
		status = writeAPIErr(w, logger, requestID, apierror.New(apierror.BadRequest, "request path is malformed or too long"))
		return
	}

	snap := s.snap.Load()

	result, err := snap.rt.Route(r.URL.Path)
	if err != nil {
		status = writeAPIErr(w, logger, requestID, asAPIErr(err))
		return
	}
	route = result.Binding.Name
	logger = logger.WithField("bucket", route)

	rt := snap.buckets[result.Binding.Name]

	ip := ratelimit.ClientIP(r)
	if blocked, aerr := checkACL(rt, ip); blocked {
		status = writeAPIErr(w, logger, requestID, aerr)
		return
	}

	if d := snap.limiter.Allow(ip, route, ""); !d.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(d.RetryAfter/time.Second)+1))
		status = writeAPIErr(w, logger, requestID, apierror.New(apierror.RateLimited, fmt.Sprintf("rate limit exceeded at %v scope", d.Scope)))
		return
	}

	if err := rt.authorizer.Authorize(r); err != nil {
		status = writeAPIErr(w, logger, requestID, asAPIErr(err))
		return
	}

	userKey := extractUserKey(r)
	if d := snap.limiter.AllowUserOnly(userKey); !d.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(d.RetryAfter/time.Second)+1))
		status = writeAPIErr(w, logger, requestID, apierror.New(apierror.RateLimited, "per-user rate limit exceeded"))
		return
	}

	rangeHeader := r.Header.Get("Range")
	parsedRange := rangeparser.Parse(rangeHeader)
	forwardRange := ""
	if parsedRange.Present {
		forwardRange = rangeHeader
	}

	cacheable := rt.cacheEnabled && !parsedRange.Present && r.Method == http.MethodGet
	var fp fingerprint.Fingerprint
	if cacheable {
		fp = fingerprint.Build(route, result.Key, r.Header.Get("Accept-Encoding"))
	} else {
		fp = fingerprint.NotCacheable(route, result.Key)
	}

	if cacheable {
		if res, ok := s.tiered.Get(r.Context(), fp); ok && cache.AcceptsEncoding(res.Entry.Encoding, fp.VariantAxis) {
			s.metrics.CacheHitsTotal.WithLabelValues(res.LayerName).Inc()
			status = s.serveHit(w, r, rt, fp, res, requestID)
			return
		}
		s.metrics.CacheMissesTotal.WithLabelValues("tiered").Inc()
	}

	if !cacheable {
		status = s.serveDirect(w, r, rt, result.Key, forwardRange, requestID, logger)
		return
	}

	status = s.serveCoalescedMiss(w, r, rt, fp, result.Key, requestID, logger)
}

// serveHit writes a cache hit to the client: a sendfile-eligible disk entry
// takes the kernel fast path, everything else streams from the already
// in-memory buffer.
func (s *Server) serveHit(w http.ResponseWriter, r *http.Request, rt *bucketRuntime, fp fingerprint.Fingerprint, res *cache.Result, requestID string) int {
	headers := responseHeaders(res.Entry, fp, requestID)
	headers.Set("X-Cache", "HIT")

	if res.LayerName == "disk" && s.diskLayer != nil {
		if path, size, ok, err := s.diskLayer.GetSendfile(r.Context(), fp); err == nil && ok {
			f, openErr := openForSendfile(path)
			if openErr == nil {
				defer f.Close()
				sendfileMin := s.currentConfig().Cache.SendfileThreshold
				if r.Method == http.MethodHead {
					applyHeadHeaders(w, headers, size)
					return http.StatusOK
				}
				if err := stream.ServeFile(w, headers, f, size, sendfileMin); err != nil {
					s.logger.WithError(err).Warn("sendfile stream failed")
				}
				return http.StatusOK
			}
		}
	}

	if r.Method == http.MethodHead {
		applyHeadHeaders(w, headers, int64(len(res.Entry.Data)))
		return http.StatusOK
	}
	if err := stream.WriteEntry(w, headers, res.Entry.Data); err != nil {
		s.logger.WithError(err).Warn("cache-hit stream failed")
	}
	return http.StatusOK
}

// serveDirect straight-proxies an uncacheable request (range, cache
// disabled for the bucket, or a HEAD) with no buffering: the upstream body
// is copied to the client as it arrives.
func (s *Server) serveDirect(w http.ResponseWriter, r *http.Request, rt *bucketRuntime, key, forwardRange, requestID string, logger *logrus.Entry) int {
	resp, _, err := s.dispatchUpstream(r.Context(), rt, r.Method, key, forwardRange)
	if err != nil {
		return writeAPIErr(w, logger, requestID, asAPIErr(err))
	}
	defer resp.Body.Close()

	return s.forwardResponse(w, r, resp, requestID, logger)
}

// errTooLargeToCoalesce signals that an object turned out larger than the
// bucket's max_item_size once its response arrived. It is never cached, so
// there is nothing for a coalesced fetch to share across waiters; every
// caller (leader and followers alike) falls back to its own direct,
// unbuffered fetch instead of one caller buffering the whole object on
// everyone else's behalf.
var errTooLargeToCoalesce = apierror.New(apierror.Internal, "object exceeds the cache item size limit")

// fetchCoalesced drives the single-flight upstream fetch shared by the
// public miss path and prewarm: the first caller for fp fetches upstream and
// returns the resulting entry, every concurrent caller for the same fp waits
// on that one fetch and receives the identical entry. Accumulation is capped
// at the bucket's max_item_size — the same ceiling that decides cacheability
// — so peak memory per fingerprint never exceeds that bound regardless of
// the object's real size. Callers must check errTooLargeToCoalesce
// specifically: it means the object was never fetched into memory at all,
// not that the fetch failed.
func (s *Server) fetchCoalesced(ctx context.Context, rt *bucketRuntime, fp fingerprint.Fingerprint, key string) (*cache.Entry, error) {
	value, err, _ := s.coalescer.Do(ctx, fp.String(), func(ctx context.Context) (interface{}, error) {
		resp, _, derr := s.dispatchUpstream(ctx, rt, http.MethodGet, key, "")
		if derr != nil {
			return nil, derr
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return nil, mapUpstreamStatus(resp.StatusCode)
		}

		if resp.ContentLength >= 0 && resp.ContentLength > rt.maxItemSize {
			return nil, errTooLargeToCoalesce
		}

		data, ok, rerr := stream.CopyWithBudget(io.Discard, resp.Body, rt.maxItemSize)
		if rerr != nil {
			return nil, apierror.Wrap(apierror.UpstreamError, "reading upstream body failed", rerr)
		}
		if !ok {
			return nil, errTooLargeToCoalesce
		}

		entry := &cache.Entry{
			Data:          data,
			ContentType:   resp.Header.Get("Content-Type"),
			ContentLength: int64(len(data)),
			ETag:          resp.Header.Get("ETag"),
			LastModified:  resp.Header.Get("Last-Modified"),
			Encoding:      variantEncoding(resp.Header.Get("Content-Encoding")),
			CreatedAt:     time.Now(),
			ExpiresAt:     cache.NewExpiry(rt.ttlSeconds, time.Now()),
		}
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*cache.Entry), nil
}

// serveCoalescedMiss handles a cacheable cache miss by driving the fetch
// through fetchCoalesced and writing its result to the client; an object
// that turns out too large to coalesce falls back to a direct, unbuffered
// stream instead of serving a truncated body.
func (s *Server) serveCoalescedMiss(w http.ResponseWriter, r *http.Request, rt *bucketRuntime, fp fingerprint.Fingerprint, key, requestID string, logger *logrus.Entry) int {
	entry, err := s.fetchCoalesced(r.Context(), rt, fp, key)
	if err == errTooLargeToCoalesce {
		return s.serveDirect(w, r, rt, key, "", requestID, logger)
	}
	if err != nil {
		return writeAPIErr(w, logger, requestID, asAPIErr(err))
	}

	s.tiered.SetAsync(fp, entry)

	headers := responseHeaders(entry, fp, requestID)
	headers.Set("X-Cache", "MISS")
	if r.Method == http.MethodHead {
		applyHeadHeaders(w, headers, entry.ContentLength)
		return http.StatusOK
	}
	if err := stream.WriteEntry(w, headers, entry.Data); err != nil {
		s.logger.WithError(err).Warn("miss-path stream failed")
	}
	return http.StatusOK
}

// forwardResponse maps an upstream response's status to the client-facing
// one and streams its body straight through with no buffering.
func (s *Server) forwardResponse(w http.ResponseWriter, r *http.Request, resp *http.Response, requestID string, logger *logrus.Entry) int {
	if resp.StatusCode >= 400 {
		return writeAPIErr(w, logger, requestID, mapUpstreamStatus(resp.StatusCode))
	}

	for _, h := range []string{"Content-Type", "Content-Length", "ETag", "Last-Modified", "Content-Range"} {
		if v := resp.Header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("X-Request-Id", requestID)
	w.Header().Set("X-Cache", "MISS")
	w.WriteHeader(resp.StatusCode)

	if r.Method == http.MethodHead {
		return resp.StatusCode
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		logger.WithError(err).Warn("direct stream to client failed")
	}
	return resp.StatusCode
}

func mapUpstreamStatus(status int) *apierror.Error {
	switch status {
	case http.StatusNotFound:
		return apierror.New(apierror.ObjectNotFound, "object not found upstream")
	case http.StatusForbidden:
		return apierror.New(apierror.Forbidden, "upstream denied the request")
	case http.StatusUnauthorized:
		return apierror.New(apierror.Unauthorized, "upstream rejected the request credentials")
	case http.StatusRequestedRangeNotSatisfiable:
		return apierror.New(apierror.RangeNotSatisfiable, "requested range is outside the object")
	default:
		return apierror.New(apierror.UpstreamError, "upstream returned an unexpected error status")
	}
}

func checkACL(rt *bucketRuntime, ip string) (blocked bool, err *apierror.Error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false, nil
	}
	for _, n := range rt.block {
		if n.Contains(parsed) {
			return true, apierror.New(apierror.Forbidden, "client IP is blocklisted")
		}
	}
	if len(rt.allow) == 0 {
		return false, nil
	}
	for _, n := range rt.allow {
		if n.Contains(parsed) {
			return false, nil
		}
	}
	return true, apierror.New(apierror.Forbidden, "client IP is not allowlisted")
}

func responseHeaders(entry *cache.Entry, fp fingerprint.Fingerprint, requestID string) http.Header {
	h := http.Header{}
	if entry.ContentType != "" {
		h.Set("Content-Type", entry.ContentType)
	}
	if entry.ETag != "" {
		h.Set("ETag", entry.ETag)
	}
	if entry.LastModified != "" {
		h.Set("Last-Modified", entry.LastModified)
	}
	h.Set("Accept-Ranges", "bytes")
	h.Set("X-Request-Id", requestID)
	if fp.VariantAxis != "" {
		h.Set("Vary", "Accept-Encoding")
	}
	return h
}

func applyHeadHeaders(w http.ResponseWriter, headers http.Header, size int64) {
	for k, vs := range headers {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)
}

func variantEncoding(contentEncoding string) string {
	if contentEncoding == "" {
		return "identity"
	}
	return strings.ToLower(contentEncoding)
}

func writeAPIErr(w http.ResponseWriter, logger *logrus.Entry, requestID string, err *apierror.Error) int {
	apierror.Write(w, logger, err, requestID)
	return err.Kind.Status()
}

func asAPIErr(err error) *apierror.Error {
	if ae, ok := err.(*apierror.Error); ok {
		return ae
	}
	return apierror.Wrap(apierror.Internal, "unexpected internal error", err)
}

func containsControlChar(s string) bool {
	for _, b := range []byte(s) {
		if b < 0x20 || b == 0x7f {
			return true
		}
	}
	return false
}

func ensureRequestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-Id"); id != "" {
		return id
	}
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// extractUserKey best-efforts a bearer token's subject claim for per-user
// rate limiting; the token was already verified by the bucket's Authorizer,
// so this only needs to read the claim, not re-validate the signature.
func extractUserKey(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	raw := strings.TrimSpace(strings.TrimPrefix(auth, prefix))

	var claims jwt.RegisteredClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, &claims); err != nil {
		return ""
	}
	return claims.Subject
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.bootstrapped.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	snap := s.snap.Load()
	for name, rt := range snap.buckets {
		if _, _, ok := rt.selector.Select(); !ok {
			s.logger.WithField("bucket", name).Warn("readiness check failed: no replica configured")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

package pipeline

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yatagarasu/yatagarasu/internal/apierror"
	"github.com/yatagarasu/yatagarasu/internal/replica"
	"github.com/yatagarasu/yatagarasu/internal/signer"
)

// dispatchUpstream selects a replica, signs and sends method against key
// (with rangeHeader forwarded verbatim when non-empty), retrying idempotent
// requests on network errors and the configured 5xx subset up to
// Upstream.MaxRetries times with exponential backoff. The breaker is
// updated on every attempt's outcome. It returns the final *http.Response
// (caller closes Body) or an apierror mapped per §7.
func (s *Server) dispatchUpstream(ctx context.Context, rt *bucketRuntime, method, key, rangeHeader string) (*http.Response, *replica.Replica, error) {
	sel, trial, ok := rt.selector.Select()
	if !ok {
		return nil, nil, apierror.New(apierror.Unavailable, "no replica configured for bucket")
	}
	if sel.State() == replica.Open && !trial {
		return nil, nil, apierror.New(apierror.Unavailable, "all replicas unavailable")
	}

	cfg := s.currentConfig().Upstream
	maxAttempts := cfg.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	totalTimeout := time.Duration(cfg.TotalTimeoutMS) * time.Millisecond
	if totalTimeout <= 0 {
		totalTimeout = 30 * time.Second
	}
	// Connect and read timeouts are enforced by the transport's DialContext
	// and ResponseHeaderTimeout at client-construction time (see
	// newUpstreamClient); totalTimeout here bounds the whole attempt
	// including body transfer.

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * 50 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, sel, apierror.Wrap(apierror.UpstreamTimeout, "request cancelled during retry backoff", ctx.Err())
			}
			// Only ever retry against a replica still willing to take traffic;
			// a trial that fails must not be retried against itself.
			sel, trial, ok = rt.selector.Select()
			if !ok || (sel.State() == replica.Open && !trial) {
				return nil, sel, apierror.New(apierror.Unavailable, "replica opened during retry")
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, totalTimeout)
		resp, err := s.sendOnce(attemptCtx, sel, method, key, rangeHeader)
		cancel()

		if err != nil {
			lastErr = err
			sel.RecordFailure()
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil, sel, apierror.Wrap(apierror.Internal, "client disconnected", ctx.Err())
			}
			if isTimeoutErr(err) {
				lastErr = apierror.Wrap(apierror.UpstreamTimeout, "upstream request timed out", err)
			} else {
				lastErr = apierror.Wrap(apierror.UpstreamError, "upstream request failed", err)
			}
			continue
		}

		if replica.CountsAsFailure(resp.StatusCode) {
			sel.RecordFailure()
			resp.Body.Close()
			lastErr = apierror.New(apierror.UpstreamError, "upstream returned a server error")
			continue
		}

		sel.RecordSuccess()
		return resp, sel, nil
	}

	return nil, sel, lastErr
}

func (s *Server) sendOnce(ctx context.Context, r *replica.Replica, method, key, rangeHeader string) (*http.Response, error) {
	req, err := buildUpstreamRequest(ctx, r, method, key, rangeHeader)
	if err != nil {
		return nil, err
	}

	signer.Sign(req, signer.Credentials{AccessKey: r.AccessKey, SecretKey: r.SecretKey, Region: r.Region}, nil)

	return s.upstreamClient.Do(req)
}

func buildUpstreamRequest(ctx context.Context, r *replica.Replica, method, key, rangeHeader string) (*http.Request, error) {
	u, err := url.Parse(r.Endpoint)
	if err != nil {
		return nil, err
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + key

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Host = req.URL.Host
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	return req, nil
}

func isTimeoutErr(err error) bool {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Package templatecache fetches small text/JSON assets (prompt templates,
// phoneme lexicons) over HTTP with a time-to-live cache and early
// background refresh, coalescing concurrent misses with singleflight.
package templatecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// ttl is how long an entry is served without triggering any fetch.
	ttl = 15 * time.Minute
	// earlyRefresh is the age at which a cache hit still serves the stale
	// body but also kicks off a background refresh.
	earlyRefresh = 12 * time.Minute
	// fetchTimeout bounds a single upstream HTTP GET.
	fetchTimeout = 10 * time.Second
)

// ErrUpstreamUnavailable is returned when a fetch fails and no cached body
// (even a stale one) exists to fall back to.
var ErrUpstreamUnavailable = errors.New("templatecache: upstream unavailable")

// entry is a single cached template.
type entry struct {
	body      []byte
	fetchedAt time.Time
}

// age reports how long ago the entry was fetched, evaluated at now.
func (e entry) age(now time.Time) time.Duration {
	return now.Sub(e.fetchedAt)
}

// Fetcher is a process-wide cache of small HTTP-fetched assets. It is safe
// for concurrent use.
type Fetcher struct {
	client *http.Client

	mu      sync.RWMutex
	entries map[string]entry

	sf singleflight.Group
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient overrides the default *http.Client used for fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		f.client = c
	}
}

// New returns a ready-to-use Fetcher with an empty cache.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:  &http.Client{},
		entries: make(map[string]entry),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch returns the body of url, using the cache per the TTL/early-refresh
// policy described in the package doc:
//
//   - hit younger than 12 min: return the cached body immediately.
//   - hit in [12 min, 15 min): return the cached body and spawn a
//     single-flighted background refresh.
//   - miss or hit ≥ 15 min: fetch synchronously; on failure, fall back to a
//     stale cached body if one exists, otherwise return
//     ErrUpstreamUnavailable.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	now := time.Now()

	f.mu.RLock()
	e, ok := f.entries[url]
	f.mu.RUnlock()

	if ok {
		age := e.age(now)
		if age < earlyRefresh {
			return e.body, nil
		}
		if age < ttl {
			f.backgroundRefresh(url)
			return e.body, nil
		}
	}

	body, err := f.fetchAndStore(ctx, url)
	if err != nil {
		if ok {
			slog.Warn("templatecache: fetch failed, serving stale entry", "url", url, "err", err)
			return e.body, nil
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrUpstreamUnavailable, url, err)
	}
	return body, nil
}

// backgroundRefresh spawns (at most once per URL, coalesced via
// singleflight) a goroutine that refreshes the cache entry for url.
func (f *Fetcher) backgroundRefresh(url string) {
	go func() {
		_, _, _ = f.sf.Do(url, func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
			defer cancel()
			body, err := f.fetchAndStore(ctx, url)
			if err != nil {
				slog.Warn("templatecache: background refresh failed", "url", url, "err", err)
			}
			return body, err
		})
	}()
}

// fetchAndStore performs the singleflight-coalesced upstream GET and, on
// success, updates the cache. Concurrent callers for the same cold URL
// share one HTTP request.
func (f *Fetcher) fetchAndStore(ctx context.Context, url string) ([]byte, error) {
	v, err, _ := f.sf.Do(url, func() (any, error) {
		fctx, cancel := context.WithTimeout(ctx, fetchTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(fctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("do request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}

		f.mu.Lock()
		f.entries[url] = entry{body: body, fetchedAt: time.Now()}
		f.mu.Unlock()

		return body, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

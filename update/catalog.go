package update

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"cumulus/internal/applog"
)

const (
	defaultCacheTTL       = time.Hour
	defaultMaxPages       = 10
	defaultCatalogRetries = 3
	defaultRetryBaseDelay = 500 * time.Millisecond
	defaultRetryMaxDelay  = 8 * time.Second
)

// CatalogClientOptions configures a CatalogClient.
type CatalogClientOptions struct {
	Owner      string
	Repo       string
	BaseAPIURL string // defaults to https://api.github.com
	UserAgent  string
	CachePath  string // file backing the on-disk cache
	Doer       HTTPDoer
	TTL        time.Duration
	MaxPages   int
	MaxRetries int
	Clock      func() time.Time
	Logger     *applog.Logger
}

// CatalogClient fetches the release catalog with ETag-based conditional
// requests and a persisted, identity-scoped cache. A single fetch never
// holds the client's lock longer than one round-trip: concurrent callers
// for the same (channel, owner, repo) are coalesced via singleflight so
// they observe one shared result instead of firing duplicate requests.
type CatalogClient struct {
	owner      string
	repo       string
	baseAPIURL string
	userAgent  string
	cachePath  string
	doer       HTTPDoer
	ttl        time.Duration
	maxPages   int
	maxRetries int
	clock      func() time.Time
	logger     *applog.Logger

	mu         sync.Mutex
	cache      *CatalogCache
	lastStatus int

	group singleflight.Group
}

// NewCatalogClient constructs a client with sane defaults for any option
// left zero-valued.
func NewCatalogClient(opts CatalogClientOptions) *CatalogClient {
	baseAPI := strings.TrimRight(opts.BaseAPIURL, "/")
	if baseAPI == "" {
		baseAPI = "https://api.github.com"
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = "cumulus-update-client/1.0"
	}
	doer := opts.Doer
	if doer == nil {
		doer = newHTTPClient(20 * time.Second)
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultCatalogRetries
	}
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}

	return &CatalogClient{
		owner:      opts.Owner,
		repo:       opts.Repo,
		baseAPIURL: baseAPI,
		userAgent:  userAgent,
		cachePath:  opts.CachePath,
		doer:       doer,
		ttl:        ttl,
		maxPages:   maxPages,
		maxRetries: maxRetries,
		clock:      clock,
		logger:     opts.Logger,
	}
}

// LastStatus returns the HTTP status code of the most recent network
// response observed, or 0 if no request has completed yet.
func (c *CatalogClient) LastStatus() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastStatus
}

// CacheAge returns how long ago the current cache entry was last refreshed,
// or 0 if there is no cache yet.
func (c *CatalogClient) CacheAge() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cache == nil {
		return 0
	}
	return c.clock().Sub(c.cache.LastCheck)
}

func (c *CatalogClient) recordStatus(status int) {
	c.mu.Lock()
	c.lastStatus = status
	c.mu.Unlock()
}

// FetchReleases returns the release catalog for the configured owner/repo,
// honoring channel-scoped caching as described in the design: an in-memory
// hit within the TTL short-circuits entirely; otherwise the disk cache is
// consulted before any network call, and a successful or 304 response
// refreshes both layers atomically.
func (c *CatalogClient) FetchReleases(ctx context.Context, channel Channel) ([]Release, error) {
	key := fmt.Sprintf("%s/%s/%s", c.owner, c.repo, channel)
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		return c.fetchReleasesLocked(ctx, channel)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Release), nil
}

func (c *CatalogClient) fetchReleasesLocked(ctx context.Context, channel Channel) ([]Release, error) {
	if releases, ok := c.freshMemoryCache(channel); ok {
		return releases, nil
	}
	if releases, ok := c.loadDiskCacheIfValid(channel); ok {
		return releases, nil
	}

	etag := c.cachedETag(channel)
	releases, newETag, status, err := c.fetchFromNetwork(ctx, etag)
	if err != nil {
		if cached, ok := c.anyCachedList(channel); ok {
			return cached, nil
		}
		return nil, err
	}

	if status == http.StatusNotModified {
		c.touchCache(channel)
		if cached, ok := c.anyCachedList(channel); ok {
			return cached, nil
		}
		return nil, newErr(ErrCacheCorrupt, "304 received with no cache to refresh", nil)
	}

	c.storeCache(channel, releases, newETag)
	return releases, nil
}

// freshMemoryCache returns the in-memory cache only if it matches the
// identifying triple and is still within the TTL.
func (c *CatalogClient) freshMemoryCache(channel Channel) ([]Release, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cache == nil || !c.cache.matches(channel, c.owner, c.repo) {
		return nil, false
	}
	if c.clock().Sub(c.cache.LastCheck) > c.ttl {
		return nil, false
	}
	return c.cache.Releases, true
}

// loadDiskCacheIfValid reads the on-disk cache, promotes it to memory if
// it matches and parses cleanly, and returns it only when also within TTL.
func (c *CatalogClient) loadDiskCacheIfValid(channel Channel) ([]Release, bool) {
	cache := c.readDiskCache()
	if cache == nil || !cache.matches(channel, c.owner, c.repo) {
		return nil, false
	}
	c.mu.Lock()
	c.cache = cache
	c.mu.Unlock()
	if c.clock().Sub(cache.LastCheck) > c.ttl {
		return nil, false
	}
	return cache.Releases, true
}

// anyCachedList returns whatever cache (memory or disk) matches, ignoring
// the TTL — used as a fallback on network failure.
func (c *CatalogClient) anyCachedList(channel Channel) ([]Release, bool) {
	c.mu.Lock()
	cache := c.cache
	c.mu.Unlock()
	if cache == nil || !cache.matches(channel, c.owner, c.repo) {
		cache = c.readDiskCache()
	}
	if cache == nil || !cache.matches(channel, c.owner, c.repo) {
		return nil, false
	}
	return cache.Releases, true
}

// cachedETag returns the remembered ETag only when it was captured for
// the same identifying triple, preventing cross-channel masquerade.
func (c *CatalogClient) cachedETag(channel Channel) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cache != nil && c.cache.matches(channel, c.owner, c.repo) {
		return c.cache.ETag
	}
	return ""
}

func (c *CatalogClient) touchCache(channel Channel) {
	c.mu.Lock()
	if c.cache != nil && c.cache.matches(channel, c.owner, c.repo) {
		c.cache.LastCheck = c.clock()
	}
	snapshot := c.cache
	c.mu.Unlock()
	if snapshot != nil {
		c.writeDiskCache(snapshot)
	}
}

func (c *CatalogClient) storeCache(channel Channel, releases []Release, etag string) {
	entry := &CatalogCache{
		LastCheck: c.clock(),
		Releases:  releases,
		ETag:      etag,
		Channel:   channel,
		Owner:     c.owner,
		Repo:      c.repo,
	}
	c.mu.Lock()
	c.cache = entry
	c.mu.Unlock()
	c.writeDiskCache(entry)
}

// fetchFromNetwork performs page 1 (conditionally, if etag is non-empty),
// follows Link: rel="next" pagination up to maxPages, and applies bounded
// retry with exponential backoff to transport-level failures. A 403 with
// rate-limit indicators is never retried; it is reported to the caller,
// who falls back to cache.
func (c *CatalogClient) fetchFromNetwork(ctx context.Context, etag string) ([]Release, string, int, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/releases", c.baseAPIURL, c.owner, c.repo)
	headers := map[string]string{
		"Accept":     "application/vnd.github+json",
		"User-Agent": c.userAgent,
	}
	if etag != "" {
		headers["If-None-Match"] = etag
	}

	var lastErr error
	delay := defaultRetryBaseDelay
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		releases, newETag, status, err := c.fetchAllPages(ctx, url, headers)
		if err == nil {
			return releases, newETag, status, nil
		}
		if rlErr, ok := err.(*Error); ok && rlErr.Kind == ErrRateLimited {
			return nil, "", 0, err
		}
		if httpErr, ok := err.(*Error); ok && httpErr.Kind == ErrHTTP {
			return nil, "", 0, err
		}
		lastErr = err
		if attempt < c.maxRetries {
			select {
			case <-ctx.Done():
				return nil, "", 0, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > defaultRetryMaxDelay {
				delay = defaultRetryMaxDelay
			}
			delay += time.Duration(rand.Int63n(int64(delay/4) + 1))
		}
	}
	return nil, "", 0, newErr(ErrNetwork, "catalog fetch failed after retries", lastErr)
}

// fetchAllPages issues the conditional first request, handles 304/403/4xx-5xx,
// and walks the Link header for subsequent pages (plain GETs, no conditional
// header — only page 1 carries If-None-Match).
func (c *CatalogClient) fetchAllPages(ctx context.Context, url string, firstPageHeaders map[string]string) ([]Release, string, int, error) {
	resp, err := getWithHeaders(ctx, c.doer, url, firstPageHeaders)
	if err != nil {
		return nil, "", 0, err
	}
	defer resp.Body.Close()
	c.recordStatus(resp.StatusCode)

	if resp.StatusCode == http.StatusNotModified {
		drain(resp.Body)
		return nil, resp.Header.Get("ETag"), http.StatusNotModified, nil
	}
	if resp.StatusCode == http.StatusForbidden && isRateLimited(resp) {
		drain(resp.Body)
		if c.logger != nil {
			c.logger.WarnRateLimited("catalog-rate-limit", time.Minute, "github release catalog rate limited", "owner", c.owner, "repo", c.repo)
		}
		return nil, "", 0, newErr(ErrRateLimited, "github rate limit exceeded", nil)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, "", 0, &Error{Kind: ErrHTTP, HTTPStatus: resp.StatusCode, Message: string(body)}
	}

	var page []Release
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, "", 0, newErr(ErrNetwork, "decoding releases page", err)
	}
	etag := resp.Header.Get("ETag")
	all := page

	next := parseNextLink(resp.Header.Get("Link"))
	for page := 1; next != "" && page < c.maxPages; page++ {
		resp, err := getWithHeaders(ctx, c.doer, next, map[string]string{
			"Accept":     "application/vnd.github+json",
			"User-Agent": c.userAgent,
		})
		if err != nil {
			return nil, "", 0, err
		}
		c.recordStatus(resp.StatusCode)
		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			resp.Body.Close()
			return nil, "", 0, &Error{Kind: ErrHTTP, HTTPStatus: resp.StatusCode, Message: string(body)}
		}
		var more []Release
		decErr := json.NewDecoder(resp.Body).Decode(&more)
		next = parseNextLink(resp.Header.Get("Link"))
		resp.Body.Close()
		if decErr != nil {
			return nil, "", 0, newErr(ErrNetwork, "decoding releases page", decErr)
		}
		all = append(all, more...)
	}

	return all, etag, http.StatusOK, nil
}

// isRateLimited inspects GitHub's rate-limit headers to distinguish a
// true rate-limit 403 from an ordinary forbidden/auth failure.
func isRateLimited(resp *http.Response) bool {
	if resp.Header.Get("X-RateLimit-Remaining") == "0" {
		return true
	}
	return resp.Header.Get("Retry-After") != ""
}

// parseNextLink extracts the rel="next" URL from a GitHub-style Link
// header: `<url>; rel="next", <url>; rel="last"`.
func parseNextLink(header string) string {
	if header == "" {
		return ""
	}
	for _, part := range strings.Split(header, ",") {
		segments := strings.Split(part, ";")
		if len(segments) < 2 {
			continue
		}
		url := strings.TrimSpace(segments[0])
		url = strings.TrimPrefix(url, "<")
		url = strings.TrimSuffix(url, ">")
		for _, attr := range segments[1:] {
			attr = strings.TrimSpace(attr)
			if attr == `rel="next"` {
				return url
			}
		}
	}
	return ""
}

// readDiskCache reads and parses the cache file, treating any read or
// parse error as "no cache" per the design's corruption-handling rule.
func (c *CatalogClient) readDiskCache() *CatalogCache {
	if c.cachePath == "" {
		return nil
	}
	data, err := os.ReadFile(c.cachePath)
	if err != nil {
		return nil
	}
	var cache CatalogCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil
	}
	return &cache
}

// writeDiskCache persists the cache atomically: write to a temp file in
// the same directory, then rename over the final path, so a crash
// mid-write can never leave a readable-but-truncated cache file.
func (c *CatalogClient) writeDiskCache(cache *CatalogCache) {
	if c.cachePath == "" {
		return
	}
	data, err := json.Marshal(cache)
	if err != nil {
		return
	}
	_ = atomicWriteFile(c.cachePath, data)
}

// InvalidateCache discards both the in-memory and on-disk cache. Called
// by the orchestrator when the owner or repo setting changes; a channel
// change is handled by the cache's (channel, owner, repo) match instead.
func (c *CatalogClient) InvalidateCache() {
	c.mu.Lock()
	c.cache = nil
	c.mu.Unlock()
	if c.cachePath != "" {
		_ = os.Remove(c.cachePath)
	}
}

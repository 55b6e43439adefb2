package update

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cumulus/internal/applog"
)

// scriptedDoer replays a fixed sequence of responses keyed by call order,
// recording each request it was asked to perform.
type scriptedDoer struct {
	responses []func(req *http.Request) (*http.Response, error)
	calls     int32
	requests  []*http.Request
}

func (d *scriptedDoer) Do(req *http.Request) (*http.Response, error) {
	idx := int(atomic.AddInt32(&d.calls, 1)) - 1
	d.requests = append(d.requests, req)
	if idx >= len(d.responses) {
		return nil, io.ErrUnexpectedEOF
	}
	return d.responses[idx](req)
}

func jsonBody(v interface{}) io.ReadCloser {
	data, _ := json.Marshal(v)
	return io.NopCloser(strings.NewReader(string(data)))
}

func TestCatalogClientConditionalGetReturnsCachedOn304(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "update-cache.json")

	doer := &scriptedDoer{
		responses: []func(req *http.Request) (*http.Response, error){
			func(req *http.Request) (*http.Response, error) {
				return &http.Response{
					StatusCode: http.StatusOK,
					Header:     http.Header{"ETag": {`"abc123"`}},
					Body:       jsonBody([]Release{{TagName: "v1.0.0"}}),
				}, nil
			},
			func(req *http.Request) (*http.Response, error) {
				assert.Equal(t, `"abc123"`, req.Header.Get("If-None-Match"))
				return &http.Response{
					StatusCode: http.StatusNotModified,
					Header:     http.Header{"ETag": {`"abc123"`}},
					Body:       io.NopCloser(strings.NewReader("")),
				}, nil
			},
		},
	}

	frozen := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := int32(0)
	client := NewCatalogClient(CatalogClientOptions{
		Owner:     "example",
		Repo:      "app",
		CachePath: cachePath,
		Doer:      doer,
		TTL:       time.Millisecond, // force the memory cache to go stale between calls
		Clock: func() time.Time {
			n := atomic.AddInt32(&tick, 1)
			return frozen.Add(time.Duration(n) * time.Second)
		},
	})

	releases, err := client.FetchReleases(context.Background(), ChannelStable)
	require.NoError(t, err)
	require.Len(t, releases, 1)
	assert.Equal(t, "v1.0.0", releases[0].TagName)

	releases2, err := client.FetchReleases(context.Background(), ChannelStable)
	require.NoError(t, err)
	require.Len(t, releases2, 1)
	assert.Equal(t, "v1.0.0", releases2[0].TagName)
	assert.Equal(t, int32(2), atomic.LoadInt32(&doer.calls))
}

func TestCatalogClientPaginationAggregatesPages(t *testing.T) {
	doer := &scriptedDoer{
		responses: []func(req *http.Request) (*http.Response, error){
			func(req *http.Request) (*http.Response, error) {
				return &http.Response{
					StatusCode: http.StatusOK,
					Header:     http.Header{"Link": {`<https://api.github.com/repos/e/a/releases?page=2>; rel="next"`}},
					Body:       jsonBody([]Release{{TagName: "v2.0.0"}}),
				}, nil
			},
			func(req *http.Request) (*http.Response, error) {
				assert.Contains(t, req.URL.String(), "page=2")
				return &http.Response{
					StatusCode: http.StatusOK,
					Header:     http.Header{},
					Body:       jsonBody([]Release{{TagName: "v1.0.0"}}),
				}, nil
			},
		},
	}

	client := NewCatalogClient(CatalogClientOptions{
		Owner: "e",
		Repo:  "a",
		Doer:  doer,
	})

	releases, err := client.FetchReleases(context.Background(), ChannelStable)
	require.NoError(t, err)
	require.Len(t, releases, 2)
	assert.Equal(t, "v2.0.0", releases[0].TagName)
	assert.Equal(t, "v1.0.0", releases[1].TagName)
}

func TestCatalogClientRateLimitFallsBackToCache(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "update-cache.json")

	calls := 0
	doer := &scriptedDoer{
		responses: []func(req *http.Request) (*http.Response, error){
			func(req *http.Request) (*http.Response, error) {
				calls++
				return &http.Response{
					StatusCode: http.StatusOK,
					Header:     http.Header{"ETag": {`"v1"`}},
					Body:       jsonBody([]Release{{TagName: "v1.0.0"}}),
				}, nil
			},
			func(req *http.Request) (*http.Response, error) {
				return &http.Response{
					StatusCode: http.StatusForbidden,
					Header:     http.Header{"X-RateLimit-Remaining": {"0"}},
					Body:       io.NopCloser(strings.NewReader("rate limited")),
				}, nil
			},
		},
	}

	tick := int32(0)
	client := NewCatalogClient(CatalogClientOptions{
		Owner:     "e",
		Repo:      "a",
		CachePath: cachePath,
		Doer:      doer,
		TTL:       time.Millisecond,
		Clock: func() time.Time {
			n := atomic.AddInt32(&tick, 1)
			return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(n) * time.Second)
		},
	})

	first, err := client.FetchReleases(context.Background(), ChannelStable)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := client.FetchReleases(context.Background(), ChannelStable)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "v1.0.0", second[0].TagName)
}

func TestCatalogClientRateLimitLogsWarning(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "update-cache.json")

	doer := &scriptedDoer{
		responses: []func(req *http.Request) (*http.Response, error){
			func(req *http.Request) (*http.Response, error) {
				return &http.Response{
					StatusCode: http.StatusForbidden,
					Header:     http.Header{"X-RateLimit-Remaining": {"0"}},
					Body:       io.NopCloser(strings.NewReader("rate limited")),
				}, nil
			},
		},
	}

	logger := applog.New(applog.DEBUG, "", 10)
	logger.SetConsoleOutput(false)
	client := NewCatalogClient(CatalogClientOptions{
		Owner:     "e",
		Repo:      "a",
		CachePath: cachePath,
		Doer:      doer,
		Logger:    logger,
	})

	_, err := client.FetchReleases(context.Background(), ChannelStable)
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrRateLimited))

	buf := logger.GetBuffer()
	require.Len(t, buf, 1)
	assert.Equal(t, applog.WARN, buf[0].Level)
	assert.Equal(t, http.StatusForbidden, client.LastStatus())
}

func TestCatalogClientInvalidateCacheClearsDisk(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "update-cache.json")

	doer := &scriptedDoer{
		responses: []func(req *http.Request) (*http.Response, error){
			func(req *http.Request) (*http.Response, error) {
				return &http.Response{
					StatusCode: http.StatusOK,
					Header:     http.Header{"ETag": {`"v1"`}},
					Body:       jsonBody([]Release{{TagName: "v1.0.0"}}),
				}, nil
			},
		},
	}

	client := NewCatalogClient(CatalogClientOptions{
		Owner:     "e",
		Repo:      "a",
		CachePath: cachePath,
		Doer:      doer,
	})

	_, err := client.FetchReleases(context.Background(), ChannelStable)
	require.NoError(t, err)

	client.InvalidateCache()
	assert.Nil(t, client.readDiskCache())
}

package update

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"
)

// forbiddenNameChars mirrors the shell/filesystem metacharacters the
// design disallows in a downloaded asset's file name.
const forbiddenNameChars = `<>:"|?*`

// progressReader wraps an io.Reader and invokes callback at most once per
// percentage point, avoiding a flood of near-duplicate progress events.
type progressReader struct {
	reader      io.Reader
	totalSize   int64
	bytesRead   int64
	callback    DownloadProgressFunc
	lastPercent int32
}

func newProgressReader(reader io.Reader, totalSize int64, callback DownloadProgressFunc) *progressReader {
	return &progressReader{reader: reader, totalSize: totalSize, callback: callback, lastPercent: -1}
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.bytesRead += int64(n)
		if pr.callback != nil {
			if pr.totalSize > 0 {
				percent := int32((pr.bytesRead * 100) / pr.totalSize)
				if percent > 100 {
					percent = 100
				}
				if percent > atomic.LoadInt32(&pr.lastPercent) {
					atomic.StoreInt32(&pr.lastPercent, percent)
					pr.callback(pr.bytesRead, pr.totalSize)
				}
			} else {
				pr.callback(pr.bytesRead, 0)
			}
		}
	}
	return n, err
}

// cancelReader wraps an io.Reader and checks ctx at chunk boundaries, so a
// cancellation is observed within one Read call rather than only after the
// full body has streamed.
type cancelReader struct {
	ctx    context.Context
	reader io.Reader
}

func (c *cancelReader) Read(p []byte) (int, error) {
	select {
	case <-c.ctx.Done():
		return 0, c.ctx.Err()
	default:
	}
	return c.reader.Read(p)
}

// Downloader streams update artifacts to a staging directory with
// cooperative cancellation, retry-with-backoff, and atomic placement.
type Downloader struct {
	doer       HTTPDoer
	stagingDir string
	maxRetries int
	clock      func() time.Time
}

// DownloaderOptions configures a Downloader.
type DownloaderOptions struct {
	Doer       HTTPDoer
	StagingDir string
	MaxRetries int
	Clock      func() time.Time
}

func NewDownloader(opts DownloaderOptions) *Downloader {
	doer := opts.Doer
	if doer == nil {
		doer = newStreamingHTTPClient()
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultCatalogRetries
	}
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Downloader{doer: doer, stagingDir: opts.StagingDir, maxRetries: maxRetries, clock: clock}
}

// Download streams url into <stagingDir>/<assetName>, reporting progress
// through onProgress (nil is fine). On any failure — including
// cancellation — the partially written file is removed; callers never see
// a truncated artifact left on disk. The final file is placed atomically
// via rename once the stream completes in full. Transport failures are
// retried; a cancellation or an HTTP error status is returned at once.
func (d *Downloader) Download(ctx context.Context, url, assetName string, expectedSize int64, onProgress DownloadProgressFunc) (string, error) {
	destPath, err := d.resolveDestPath(assetName)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(d.stagingDir, 0o755); err != nil {
		return "", newErr(ErrInvalidPath, "creating staging directory", err)
	}
	if err := d.checkDiskSpace(expectedSize); err != nil {
		return "", err
	}

	var lastErr error
	delay := defaultRetryBaseDelay
	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", newErr(ErrCancelled, "download cancelled", err)
		}
		err := d.attemptDownload(ctx, url, destPath, expectedSize, onProgress)
		if err == nil {
			return destPath, nil
		}
		if IsKind(err, ErrCancelled) || IsKind(err, ErrHTTP) {
			return "", err
		}
		lastErr = err
		if attempt < d.maxRetries {
			select {
			case <-ctx.Done():
				return "", newErr(ErrCancelled, "download cancelled", ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
			if delay > defaultRetryMaxDelay {
				delay = defaultRetryMaxDelay
			}
		}
	}
	return "", newErr(ErrNetwork, "download failed after retries", lastErr)
}

// diskSpaceMarginMB is added on top of the expected artifact size when
// checking free space, as a margin for filesystem block rounding and the
// temporary ".partial" file coexisting briefly with the final rename target.
const diskSpaceMarginMB = 16

// checkDiskSpace fails fast with ErrInsufficientSpace when the staging
// volume doesn't have room for the artifact, rather than discovering a full
// disk partway through a multi-hundred-megabyte stream. Skipped when the
// server never told us a size (expectedSize <= 0) since there is nothing
// meaningful to compare against.
func (d *Downloader) checkDiskSpace(expectedSize int64) error {
	if expectedSize <= 0 {
		return nil
	}
	availableMB, err := availableDiskSpaceMB(d.stagingDir)
	if err != nil {
		// Best-effort: a platform or filesystem that can't report free space
		// shouldn't block a download that might otherwise succeed.
		return nil
	}
	neededMB := expectedSize/(1024*1024) + diskSpaceMarginMB
	if availableMB < neededMB {
		return newErr(ErrInsufficientSpace, "insufficient disk space for artifact", nil)
	}
	return nil
}

// resolveDestPath validates assetName against path traversal and shell
// metacharacters before joining it to the staging directory.
func (d *Downloader) resolveDestPath(assetName string) (string, error) {
	if assetName == "" || assetName != filepath.Base(assetName) || strings.Contains(assetName, "..") {
		return "", newErr(ErrInvalidPath, "unsafe asset name: "+assetName, nil)
	}
	if strings.ContainsAny(assetName, forbiddenNameChars) {
		return "", newErr(ErrInvalidPath, "unsafe characters in asset name: "+assetName, nil)
	}
	return filepath.Join(d.stagingDir, assetName), nil
}

func (d *Downloader) attemptDownload(ctx context.Context, url, destPath string, expectedSize int64, onProgress DownloadProgressFunc) (err error) {
	tmpPath := destPath + ".partial"

	req, buildErr := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if buildErr != nil {
		return newErr(ErrInvalidPath, "building download request", buildErr)
	}
	resp, doErr := d.doer.Do(req)
	if doErr != nil {
		return newErr(ErrNetwork, "download request failed", doErr)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return newHTTPErr(resp.StatusCode, "download request returned error status")
	}

	total := expectedSize
	if total <= 0 {
		total = resp.ContentLength
	}

	out, openErr := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if openErr != nil {
		return newErr(ErrInvalidPath, "creating staging file", openErr)
	}
	defer func() {
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	src := io.Reader(&cancelReader{ctx: ctx, reader: resp.Body})
	src = newProgressReader(src, total, onProgress)

	_, copyErr := io.Copy(out, src)
	closeErr := out.Close()
	if copyErr != nil {
		if ctx.Err() != nil {
			return newErr(ErrCancelled, "download cancelled mid-stream", ctx.Err())
		}
		return newErr(ErrNetwork, "download stream failed", copyErr)
	}
	if closeErr != nil {
		return newErr(ErrInvalidPath, "finalizing staged file", closeErr)
	}

	if renameErr := os.Rename(tmpPath, destPath); renameErr != nil {
		return newErr(ErrInvalidPath, "placing staged file", renameErr)
	}
	return nil
}

// Cleanup removes a staged file and its possible leftover partial sibling,
// used when verification fails downstream and the artifact must not be
// handed to the host application.
func (d *Downloader) Cleanup(destPath string) {
	os.Remove(destPath)
	os.Remove(destPath + ".partial")
}

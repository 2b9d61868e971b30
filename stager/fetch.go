// Package stager downloads Brazilian public datasets into a local cache and
// derives the boundary and health-facility layers used for OpenStreetMap
// conflation. Each step is idempotent: a destination that already exists is
// never retrieved again, and downloads land atomically so presence of a file
// always means a completed retrieval.
package stager

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/eticaai/osm-dados-abertos/logging"
	"github.com/eticaai/osm-dados-abertos/metrics"
	"github.com/juju/ratelimit"
)

// partSuffix marks in-flight downloads. A leftover .part file from an
// interrupted run is truncated and overwritten on the next attempt; it never
// satisfies the presence check.
const partSuffix = ".part"

// Fetcher retrieves dataset URLs into cache paths
type Fetcher struct {
	client *http.Client
	bucket *ratelimit.Bucket // nil means unthrottled
}

// NewFetcher builds a fetcher. rateLimit is in bytes/second; 0 disables
// throttling. Government mirrors are slow and shared, so production configs
// usually set a limit.
func NewFetcher(timeout time.Duration, rateLimit int64) *Fetcher {
	f := &Fetcher{
		client: &http.Client{
			Timeout: timeout,
		},
	}
	if rateLimit > 0 {
		f.bucket = ratelimit.NewBucketWithRate(float64(rateLimit), rateLimit)
	}
	return f
}

// Fetch ensures dest holds the content of url. It returns true when a
// download happened and false when the existing file was kept. The download
// is written to dest+".part" and renamed into place only after the body is
// fully copied (and the checksum verified, when one is known), so a crash
// mid-download leaves dest absent and the next run retries from scratch.
func (f *Fetcher) Fetch(ctx context.Context, name, url, dest, wantSHA256 string) (bool, error) {
	dest = filepath.Clean(dest)

	// Presence check only. Content is trusted because writes are atomic;
	// a pre-existing file is never re-validated here.
	if _, err := os.Stat(dest); err == nil {
		logging.Info("Dataset already cached, skipping download", "dataset", name, "path", dest)
		metrics.DatasetCacheHits.WithLabelValues(name).Inc()
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
		return false, fmt.Errorf("%w: creating cache directory for %s: %v", ErrRetrieval, name, err)
	}

	logging.Info("Downloading dataset", "dataset", name, "url", url)
	start := time.Now()

	written, err := f.download(ctx, url, dest, wantSHA256)
	if err != nil {
		metrics.DatasetDownloadsTotal.WithLabelValues(name, "error").Inc()
		return false, fmt.Errorf("%w: %s: %v", ErrRetrieval, name, err)
	}

	metrics.DatasetDownloadsTotal.WithLabelValues(name, "ok").Inc()
	metrics.DatasetDownloadBytes.WithLabelValues(name).Add(float64(written))
	logging.Info("Dataset downloaded", "dataset", name,
		"bytes", written, "duration", time.Since(start).Round(time.Millisecond).String())
	return true, nil
}

// download does the transport work: GET, throttled copy to the temp path,
// checksum, fsync, rename. Any failure removes the temp file.
func (f *Fetcher) download(ctx context.Context, url, dest, wantSHA256 string) (written int64, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("building request for %s: %v", url, err)
	}

	response, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("downloading %s: %v", url, err)
	}
	defer func() {
		if cerr := response.Body.Close(); cerr != nil {
			logging.Warn("Failed to close response body", "error", cerr)
		}
	}()

	if response.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("downloading %s: unexpected status %s", url, response.Status)
	}

	tmp := dest + partSuffix
	out, err := os.Create(filepath.Clean(tmp))
	if err != nil {
		return 0, fmt.Errorf("creating %s: %v", tmp, err)
	}
	defer func() {
		if err != nil {
			_ = out.Close()
			_ = os.Remove(tmp)
		}
	}()

	var reader io.Reader = response.Body
	if f.bucket != nil {
		reader = ratelimit.Reader(reader, f.bucket)
	}

	digest := sha256.New()
	written, err = io.Copy(out, io.TeeReader(reader, digest))
	if err != nil {
		return 0, fmt.Errorf("copying %s: %v", url, err)
	}

	if wantSHA256 != "" {
		got := hex.EncodeToString(digest.Sum(nil))
		if got != wantSHA256 {
			err = fmt.Errorf("checksum mismatch for %s: want %s, got %s", url, wantSHA256, got)
			return 0, err
		}
	}

	if err = out.Sync(); err != nil {
		return 0, fmt.Errorf("syncing %s: %v", tmp, err)
	}
	if err = out.Close(); err != nil {
		return 0, fmt.Errorf("closing %s: %v", tmp, err)
	}

	// The rename is what makes the presence check a completion guarantee
	if err = os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("moving %s into place: %v", dest, err)
	}

	return written, nil
}

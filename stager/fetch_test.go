package stager

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

// countingServer serves fixed content and counts how many requests arrive
func countingServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int64) {
	t.Helper()

	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func testFetcher() *Fetcher {
	return NewFetcher(10*time.Second, 0)
}

func TestFetchDownloadsWhenAbsent(t *testing.T) {
	server, calls := countingServer(t, http.StatusOK, "pbf-content")
	dest := filepath.Join(t.TempDir(), "brasil-latest.osm.pbf")

	downloaded, err := testFetcher().Fetch(context.Background(), "osm-brasil", server.URL, dest, "")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !downloaded {
		t.Error("Expected a download to happen")
	}
	if calls.Load() != 1 {
		t.Errorf("Expected 1 transport call, got %d", calls.Load())
	}

	content, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("Expected destination file: %v", err)
	}
	if string(content) != "pbf-content" {
		t.Errorf("Unexpected content: %s", content)
	}
}

func TestFetchIdempotence(t *testing.T) {
	server, calls := countingServer(t, http.StatusOK, "payload")
	dest := filepath.Join(t.TempDir(), "dataset.zip")
	fetcher := testFetcher()

	if _, err := fetcher.Fetch(context.Background(), "ds", server.URL, dest, ""); err != nil {
		t.Fatalf("First fetch failed: %v", err)
	}
	downloaded, err := fetcher.Fetch(context.Background(), "ds", server.URL, dest, "")
	if err != nil {
		t.Fatalf("Second fetch failed: %v", err)
	}

	if downloaded {
		t.Error("Expected second fetch to be a cache hit")
	}
	// Second invocation must perform no network work at all
	if calls.Load() != 1 {
		t.Errorf("Expected transport call counter to stay at 1, got %d", calls.Load())
	}
}

func TestFetchSkipOnPresenceEvenWithGarbage(t *testing.T) {
	server, calls := countingServer(t, http.StatusOK, "real-content")
	dest := filepath.Join(t.TempDir(), "dataset.zip")

	// Pre-seeded empty file: presence alone suppresses retrieval
	if err := os.WriteFile(dest, nil, 0640); err != nil {
		t.Fatalf("Failed to seed destination: %v", err)
	}

	downloaded, err := testFetcher().Fetch(context.Background(), "ds", server.URL, dest, "")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if downloaded {
		t.Error("Expected retrieval to be skipped")
	}
	if calls.Load() != 0 {
		t.Errorf("Expected transport mock never invoked, got %d calls", calls.Load())
	}
}

func TestFetchBadStatusIsRetrievalError(t *testing.T) {
	server, _ := countingServer(t, http.StatusInternalServerError, "boom")
	dest := filepath.Join(t.TempDir(), "dataset.zip")

	_, err := testFetcher().Fetch(context.Background(), "ds", server.URL, dest, "")
	if err == nil {
		t.Fatal("Expected error for HTTP 500")
	}
	if !errors.Is(err, ErrRetrieval) {
		t.Errorf("Expected ErrRetrieval, got %v", err)
	}
	if ErrorKind(err) != "retrieval" {
		t.Errorf("Expected retrieval kind, got %s", ErrorKind(err))
	}

	// A failed retrieval must leave nothing behind, partial or final
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Error("Expected no destination file after failure")
	}
	if _, statErr := os.Stat(dest + partSuffix); !os.IsNotExist(statErr) {
		t.Error("Expected no temp file after failure")
	}
}

func TestFetchLeftoverTempDoesNotSatisfyGuard(t *testing.T) {
	server, calls := countingServer(t, http.StatusOK, "fresh")
	dest := filepath.Join(t.TempDir(), "dataset.zip")

	// Simulates an interrupted run: temp file present, destination absent
	if err := os.WriteFile(dest+partSuffix, []byte("trunca"), 0640); err != nil {
		t.Fatalf("Failed to seed temp file: %v", err)
	}

	downloaded, err := testFetcher().Fetch(context.Background(), "ds", server.URL, dest, "")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !downloaded || calls.Load() != 1 {
		t.Error("Expected retrieval to be retried from scratch")
	}

	content, _ := os.ReadFile(dest)
	if string(content) != "fresh" {
		t.Errorf("Expected fresh content, got %s", content)
	}
	if _, statErr := os.Stat(dest + partSuffix); !os.IsNotExist(statErr) {
		t.Error("Expected temp file to be renamed away")
	}
}

func TestFetchChecksumVerification(t *testing.T) {
	body := "verified-content"
	server, _ := countingServer(t, http.StatusOK, body)
	dir := t.TempDir()

	sum := sha256.Sum256([]byte(body))
	good := hex.EncodeToString(sum[:])

	dest := filepath.Join(dir, "good.zip")
	if _, err := testFetcher().Fetch(context.Background(), "ds", server.URL, dest, good); err != nil {
		t.Fatalf("Expected matching checksum to pass, got %v", err)
	}

	dest = filepath.Join(dir, "bad.zip")
	_, err := testFetcher().Fetch(context.Background(), "ds", server.URL, dest,
		"0000000000000000000000000000000000000000000000000000000000000000")
	if !errors.Is(err, ErrRetrieval) {
		t.Errorf("Expected ErrRetrieval for checksum mismatch, got %v", err)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Error("Expected no destination file after checksum mismatch")
	}
}

func TestFetchRateLimitedDownload(t *testing.T) {
	server, _ := countingServer(t, http.StatusOK, "abcdefgh")
	dest := filepath.Join(t.TempDir(), "dataset.zip")

	// High enough rate to not slow the test, but exercising the throttled path
	fetcher := NewFetcher(10*time.Second, 1<<20)
	if fetcher.bucket == nil {
		t.Fatal("Expected a rate limit bucket to be configured")
	}

	if _, err := fetcher.Fetch(context.Background(), "ds", server.URL, dest, ""); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	content, _ := os.ReadFile(dest)
	if string(content) != "abcdefgh" {
		t.Errorf("Unexpected content through throttled reader: %s", content)
	}
}

package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteTextfile(t *testing.T) {
	DatasetDownloadsTotal.WithLabelValues("osm-brasil", "ok").Inc()
	DatasetCacheHits.WithLabelValues("ibge-uf").Inc()
	ExternalCommandsTotal.WithLabelValues("osmium", "ok").Inc()

	path := filepath.Join(t.TempDir(), "osm_dados_abertos.prom")
	if err := WriteTextfile(path); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Expected textfile to exist: %v", err)
	}

	text := string(content)
	for _, want := range []string{
		"dataset_downloads_total",
		"dataset_cache_hits_total",
		"external_commands_total",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected %s in textfile output", want)
		}
	}

	// Atomic write must not leave the temp file behind
	if _, err := os.Stat(path + ".part"); !os.IsNotExist(err) {
		t.Error("Expected temp metrics file to be renamed away")
	}
}

func TestWriteTextfileBadPath(t *testing.T) {
	err := WriteTextfile(filepath.Join(t.TempDir(), "missing", "out.prom"))
	if err == nil {
		t.Error("Expected error for unwritable path")
	}
}

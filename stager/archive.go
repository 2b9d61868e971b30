package stager

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/eticaai/osm-dados-abertos/logging"
)

// Unzip extracts every entry of zipPath into destDir. Entries whose cleaned
// path would escape destDir are rejected.
func Unzip(zipPath, destDir string) error {
	reader, err := zip.OpenReader(filepath.Clean(zipPath))
	if err != nil {
		return fmt.Errorf("opening archive %s: %w", zipPath, err)
	}
	defer func() {
		if cerr := reader.Close(); cerr != nil {
			logging.Warn("Failed to close archive", "path", zipPath, "error", cerr)
		}
	}()

	destDir = filepath.Clean(destDir)
	if err := os.MkdirAll(destDir, 0750); err != nil {
		return fmt.Errorf("creating %s: %w", destDir, err)
	}

	extracted := 0
	for _, entry := range reader.File {
		target := filepath.Join(destDir, filepath.Clean(entry.Name))
		if !strings.HasPrefix(target, destDir+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes destination directory", entry.Name)
		}

		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0750); err != nil {
				return fmt.Errorf("creating directory %s: %w", target, err)
			}
			continue
		}

		if err := extractFile(entry, target); err != nil {
			return err
		}
		extracted++
	}

	logging.Info("Archive unpacked", "archive", filepath.Base(zipPath), "files", extracted, "dest", destDir)
	return nil
}

func extractFile(entry *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
		return fmt.Errorf("creating directory for %s: %w", target, err)
	}

	in, err := entry.Open()
	if err != nil {
		return fmt.Errorf("opening archive entry %s: %w", entry.Name, err)
	}
	defer func() {
		if cerr := in.Close(); cerr != nil {
			logging.Warn("Failed to close archive entry", "entry", entry.Name, "error", cerr)
		}
	}()

	out, err := os.Create(filepath.Clean(target))
	if err != nil {
		return fmt.Errorf("creating %s: %w", target, err)
	}

	// #nosec G110 -- the archives are fixed government datasets, sizes are known
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("extracting %s: %w", entry.Name, err)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", target, err)
	}
	return nil
}

// Package health provides preflight checks for the staging pipeline.
package health

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/eticaai/osm-dados-abertos/interfaces"
)

// requiredTools are the external collaborators the pipeline shells out to
var requiredTools = []string{"osmium", "ogr2ogr"}

// Preflight verifies that a staging run can succeed on this host: the
// external tools resolve on PATH and the working directories are writable.
type Preflight struct {
	runner     interfaces.CommandRunner
	cacheDir   string
	scratchDir string
}

// NewPreflight creates a preflight checker with injected dependencies
func NewPreflight(runner interfaces.CommandRunner, cacheDir, scratchDir string) *Preflight {
	return &Preflight{
		runner:     runner,
		cacheDir:   cacheDir,
		scratchDir: scratchDir,
	}
}

// Check runs every probe and reports per-probe results. The error is
// non-nil when any probe failed, so `doctor` can exit non-zero.
func (p *Preflight) Check() (details map[string]string, err error) {
	details = make(map[string]string)
	failed := 0

	for _, tool := range requiredTools {
		if lookErr := p.runner.LookPath(tool); lookErr != nil {
			details[tool] = fmt.Sprintf("missing: %v", lookErr)
			failed++
		} else {
			details[tool] = "ok"
		}
	}

	for name, dir := range map[string]string{"cache_dir": p.cacheDir, "scratch_dir": p.scratchDir} {
		if probeErr := probeWritable(dir); probeErr != nil {
			details[name] = fmt.Sprintf("not writable: %v", probeErr)
			failed++
		} else {
			details[name] = "ok"
		}
	}

	if failed > 0 {
		return details, fmt.Errorf("%d preflight check(s) failed", failed)
	}
	return details, nil
}

// probeWritable creates the directory if needed and verifies a file can be
// created and removed inside it
func probeWritable(dir string) error {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}

	probe := filepath.Join(dir, ".preflight")
	f, err := os.Create(filepath.Clean(probe))
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Remove(probe)
}

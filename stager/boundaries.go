package stager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/eticaai/osm-dados-abertos/interfaces"
	"github.com/eticaai/osm-dados-abertos/logging"
	"github.com/eticaai/osm-dados-abertos/metrics"
)

// Brazilian administrative boundary tagging: admin_level=4 is a state (UF),
// admin_level=8 is a municipality.
type boundaryLevel struct {
	adminLevel string
	slug       string
}

var boundaryLevels = []boundaryLevel{
	{adminLevel: "4", slug: "uf"},
	{adminLevel: "8", slug: "municipios"},
}

// BoundaryExtractor derives state and municipality boundary layers from the
// cached country-wide OSM extract, using osmium for the tag filtering and
// ogr2ogr for the GeoPackage conversion.
type BoundaryExtractor struct {
	runner     interfaces.CommandRunner
	osmExtract string // Path to the cached .osm.pbf
	scratchDir string
}

// NewBoundaryExtractor builds an extractor with an injected runner
func NewBoundaryExtractor(runner interfaces.CommandRunner, osmExtract, scratchDir string) *BoundaryExtractor {
	return &BoundaryExtractor{
		runner:     runner,
		osmExtract: osmExtract,
		scratchDir: scratchDir,
	}
}

// Extract produces, for each administrative level, a filtered PBF and a
// GeoPackage under the scratch directory. Every output has its own
// existence guard, so deleting one artifact only redoes that artifact.
func (b *BoundaryExtractor) Extract(ctx context.Context) error {
	if _, err := os.Stat(b.osmExtract); err != nil {
		return fmt.Errorf("%w: OSM extract not staged at %s (run stage first)", ErrConversion, b.osmExtract)
	}

	for _, level := range boundaryLevels {
		if err := b.extractLevel(ctx, level); err != nil {
			metrics.PipelineStepsFailed.WithLabelValues("boundaries-"+level.slug, ErrorKind(err)).Inc()
			return err
		}
	}
	return nil
}

func (b *BoundaryExtractor) extractLevel(ctx context.Context, level boundaryLevel) error {
	pbfOut := filepath.Join(b.scratchDir, fmt.Sprintf("brasil-%s.osm.pbf", level.slug))
	gpkgOut := filepath.Join(b.scratchDir, fmt.Sprintf("brasil-%s.gpkg", level.slug))

	if _, err := os.Stat(pbfOut); err == nil {
		logging.Info("Boundary extract already present, skipping filter", "path", pbfOut)
	} else {
		logging.Info("Filtering boundaries", "admin_level", level.adminLevel, "out", pbfOut)
		// osmium combines multiple filter expressions with OR, so the
		// admin level predicate must be the only expression; adding
		// r/boundary=administrative would widen the match to every
		// administrative boundary regardless of level.
		err := b.runner.Run(ctx, "osmium", "tags-filter",
			"--overwrite",
			"-o", pbfOut,
			b.osmExtract,
			"r/admin_level="+level.adminLevel,
		)
		if err != nil {
			return fmt.Errorf("%w: osmium tags-filter admin_level=%s: %v", ErrConversion, level.adminLevel, err)
		}
	}

	if _, err := os.Stat(gpkgOut); err == nil {
		logging.Info("GeoPackage already present, skipping conversion", "path", gpkgOut)
		return nil
	}

	logging.Info("Converting boundaries to GeoPackage", "out", gpkgOut)
	if err := b.runner.Run(ctx, "ogr2ogr", "-f", "GPKG", gpkgOut, pbfOut); err != nil {
		return fmt.Errorf("%w: ogr2ogr %s: %v", ErrConversion, gpkgOut, err)
	}
	return nil
}

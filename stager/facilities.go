package stager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/eticaai/osm-dados-abertos/csv2geojson"
	"github.com/eticaai/osm-dados-abertos/interfaces"
	"github.com/eticaai/osm-dados-abertos/logging"
	"github.com/eticaai/osm-dados-abertos/metrics"
)

// CNES establishment registry layout: ";"-delimited, Latin-1, with the
// coordinate columns below.
const (
	cnesLatColumn = "NU_LATITUDE"
	cnesLonColumn = "NU_LONGITUDE"
	cnesCSVName   = "tbEstabelecimento.csv"
)

// FacilityGeocoder converts the unpacked CNES establishment CSV into a
// GeoJSONSeq stream and a GeoPackage, optionally restricted to rows
// matching an attribute-equality filter such as "CO_ESTADO_GESTOR=42".
type FacilityGeocoder struct {
	runner     interfaces.CommandRunner
	scratchDir string
	csvPath    string // Defaults to <scratch>/tbEstabelecimento.csv
}

// NewFacilityGeocoder builds a geocoder with an injected runner
func NewFacilityGeocoder(runner interfaces.CommandRunner, scratchDir string) *FacilityGeocoder {
	return &FacilityGeocoder{
		runner:     runner,
		scratchDir: scratchDir,
		csvPath:    filepath.Join(scratchDir, cnesCSVName),
	}
}

// SetCSVPath overrides the establishment CSV location
func (g *FacilityGeocoder) SetCSVPath(path string) {
	g.csvPath = path
}

// Geocode runs the conversion chain. filter is an attribute-equality
// expression carried verbatim into the converter, or empty for all rows.
// Both outputs have their own existence guard.
func (g *FacilityGeocoder) Geocode(ctx context.Context, filter string) error {
	if err := g.geocode(ctx, filter); err != nil {
		metrics.PipelineStepsFailed.WithLabelValues("facilities", ErrorKind(err)).Inc()
		return err
	}
	return nil
}

func (g *FacilityGeocoder) geocode(ctx context.Context, filter string) error {
	if _, err := os.Stat(g.csvPath); err != nil {
		return fmt.Errorf("%w: establishment CSV not staged at %s (run stage first)", ErrConversion, g.csvPath)
	}

	var containAnd []csv2geojson.Clause
	if filter != "" {
		clause, err := csv2geojson.ParseClause(filter)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrConversion, err)
		}
		containAnd = append(containAnd, clause)
	}

	base := "DATASUS-tbEstabelecimento" + filterSuffix(filter)
	geojsonlOut := filepath.Join(g.scratchDir, base+".geojsonl")
	gpkgOut := filepath.Join(g.scratchDir, base+".gpkg")

	if _, err := os.Stat(geojsonlOut); err == nil {
		logging.Info("GeoJSONSeq already present, skipping conversion", "path", geojsonlOut)
	} else if err := g.convertCSV(geojsonlOut, containAnd); err != nil {
		return err
	}

	if _, err := os.Stat(gpkgOut); err == nil {
		logging.Info("GeoPackage already present, skipping conversion", "path", gpkgOut)
		return nil
	}

	logging.Info("Converting facilities to GeoPackage", "out", gpkgOut)
	if err := g.runner.Run(ctx, "ogr2ogr", "-f", "GPKG", gpkgOut, geojsonlOut); err != nil {
		return fmt.Errorf("%w: ogr2ogr %s: %v", ErrConversion, gpkgOut, err)
	}
	return nil
}

// convertCSV writes the GeoJSONSeq output atomically: convert into a .part
// file, rename when the whole CSV has been processed.
func (g *FacilityGeocoder) convertCSV(dest string, containAnd []csv2geojson.Clause) error {
	logging.Info("Converting establishment CSV", "csv", g.csvPath, "out", dest)

	in, err := os.Open(filepath.Clean(g.csvPath))
	if err != nil {
		return fmt.Errorf("%w: opening %s: %v", ErrConversion, g.csvPath, err)
	}
	defer func() {
		if cerr := in.Close(); cerr != nil {
			logging.Warn("Failed to close establishment CSV", "error", cerr)
		}
	}()

	tmp := dest + partSuffix
	out, err := os.Create(filepath.Clean(tmp))
	if err != nil {
		return fmt.Errorf("%w: creating %s: %v", ErrConversion, tmp, err)
	}

	convErr := csv2geojson.Convert(in, out, csv2geojson.Options{
		LatColumn:      cnesLatColumn,
		LonColumn:      cnesLonColumn,
		Delimiter:      ';',
		Encoding:       "latin-1",
		ContainAnd:     containAnd,
		Format:         csv2geojson.FormatGeoJSONSeq,
		IgnoreWarnings: true,
	})
	if convErr != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: converting %s: %v", ErrConversion, g.csvPath, convErr)
	}

	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: closing %s: %v", ErrConversion, tmp, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: moving %s into place: %v", ErrConversion, dest, err)
	}
	return nil
}

// filterSuffix makes filtered outputs land next to unfiltered ones without
// clobbering them, e.g. "-CO_ESTADO_GESTOR-42"
func filterSuffix(filter string) string {
	if filter == "" {
		return ""
	}
	return "-" + strings.ReplaceAll(filter, "=", "-")
}

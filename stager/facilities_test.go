package stager

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/eticaai/osm-dados-abertos/csv2geojson"
	"golang.org/x/text/encoding/charmap"
)

// seedCNES writes a small Latin-1 establishment CSV into scratch
func seedCNES(t *testing.T) string {
	t.Helper()

	scratch := t.TempDir()
	raw := "CO_CNES;NO_FANTASIA;CO_ESTADO_GESTOR;NU_LATITUDE;NU_LONGITUDE\n" +
		"100;POSTO SÃO JOSÉ;42;-27,59;-48,54\n" +
		"200;HOSPITAL CENTRAL;35;-23.55;-46.63\n" +
		"300;SEM COORDENADA;42;;\n"

	encoded, err := charmap.ISO8859_1.NewEncoder().String(raw)
	if err != nil {
		t.Fatalf("Failed to encode fixture: %v", err)
	}
	if err := os.WriteFile(filepath.Join(scratch, cnesCSVName), []byte(encoded), 0640); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}
	return scratch
}

func readFeatures(t *testing.T, path string) []csv2geojson.Feature {
	t.Helper()

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Expected GeoJSONSeq output at %s: %v", path, err)
	}

	var features []csv2geojson.Feature
	for _, line := range strings.Split(strings.TrimRight(string(content), "\n"), "\n") {
		if line == "" {
			continue
		}
		var f csv2geojson.Feature
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "\x1e")), &f); err != nil {
			t.Fatalf("Bad GeoJSONSeq record %q: %v", line, err)
		}
		features = append(features, f)
	}
	return features
}

func TestGeocodeProducesGeoJSONSeqAndGeoPackage(t *testing.T) {
	scratch := seedCNES(t)
	runner := &fakeRunner{}

	g := NewFacilityGeocoder(runner, scratch)
	if err := g.Geocode(context.Background(), ""); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	geojsonl := filepath.Join(scratch, "DATASUS-tbEstabelecimento.geojsonl")
	features := readFeatures(t, geojsonl)

	// Row 300 has no coordinates and is dropped
	if len(features) != 2 {
		t.Fatalf("Expected 2 features, got %d", len(features))
	}
	if features[0].Properties["NO_FANTASIA"] != "POSTO SÃO JOSÉ" {
		t.Errorf("Expected Latin-1 decoded name, got %q", features[0].Properties["NO_FANTASIA"])
	}
	// Decimal comma coordinates from DATASUS parse as floats
	if features[0].Geometry.Coordinates[1] != -27.59 {
		t.Errorf("Unexpected latitude: %v", features[0].Geometry.Coordinates)
	}

	call := runner.callFor("ogr2ogr", filepath.Join(scratch, "DATASUS-tbEstabelecimento.gpkg"))
	if call == nil {
		t.Fatal("Expected an ogr2ogr call for the GeoPackage")
	}
	if !slices.Contains(call, geojsonl) {
		t.Errorf("Expected the GeoJSONSeq file as conversion input, got %v", call)
	}
}

func TestGeocodeFilterPassThrough(t *testing.T) {
	scratch := seedCNES(t)
	runner := &fakeRunner{}

	// The equality expression travels verbatim into the converter
	g := NewFacilityGeocoder(runner, scratch)
	if err := g.Geocode(context.Background(), "CO_ESTADO_GESTOR=42"); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	geojsonl := filepath.Join(scratch, "DATASUS-tbEstabelecimento-CO_ESTADO_GESTOR-42.geojsonl")
	features := readFeatures(t, geojsonl)

	if len(features) != 1 {
		t.Fatalf("Expected only the UF 42 row with coordinates, got %d", len(features))
	}
	if features[0].Properties["CO_CNES"] != "100" {
		t.Errorf("Expected establishment 100, got %v", features[0].Properties)
	}
}

func TestGeocodeBadFilterIsConversionError(t *testing.T) {
	scratch := seedCNES(t)

	err := NewFacilityGeocoder(&fakeRunner{}, scratch).Geocode(context.Background(), "=42")
	if !errors.Is(err, ErrConversion) {
		t.Errorf("Expected ErrConversion for bad filter, got %v", err)
	}
}

func TestGeocodeMissingCSV(t *testing.T) {
	runner := &fakeRunner{}

	err := NewFacilityGeocoder(runner, t.TempDir()).Geocode(context.Background(), "")
	if !errors.Is(err, ErrConversion) {
		t.Fatalf("Expected ErrConversion for missing CSV, got %v", err)
	}
	if len(runner.calls) != 0 {
		t.Error("Expected no tool invocations without a staged CSV")
	}
}

func TestGeocodeSkipsExistingOutputs(t *testing.T) {
	scratch := seedCNES(t)

	first := &fakeRunner{}
	if err := NewFacilityGeocoder(first, scratch).Geocode(context.Background(), ""); err != nil {
		t.Fatalf("First geocode failed: %v", err)
	}

	second := &fakeRunner{}
	if err := NewFacilityGeocoder(second, scratch).Geocode(context.Background(), ""); err != nil {
		t.Fatalf("Second geocode failed: %v", err)
	}
	if len(second.calls) != 0 {
		t.Errorf("Expected no tool invocations on rerun, got %v", second.calls)
	}
}

func TestGeocodeLeavesNoTempOnSuccess(t *testing.T) {
	scratch := seedCNES(t)

	if err := NewFacilityGeocoder(&fakeRunner{}, scratch).Geocode(context.Background(), ""); err != nil {
		t.Fatalf("Geocode failed: %v", err)
	}

	tmp := filepath.Join(scratch, "DATASUS-tbEstabelecimento.geojsonl"+partSuffix)
	if _, err := os.Stat(tmp); !os.IsNotExist(err) {
		t.Error("Expected temp conversion file to be renamed away")
	}
}

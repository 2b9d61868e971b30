// Package csv2geojson converts delimited text with latitude/longitude
// columns into GeoJSON (RFC 7946) or GeoJSON Text Sequences (RFC 8142).
// It exists for the DATASUS CNES establishment registry (";"-delimited,
// Latin-1, NU_LATITUDE/NU_LONGITUDE columns) but is generic over any CSV
// with point coordinates.
package csv2geojson

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/eticaai/osm-dados-abertos/logging"
	"golang.org/x/text/encoding/charmap"
)

// Format selects the output framing
type Format string

const (
	FormatGeoJSON    Format = "GeoJSON"
	FormatGeoJSONSeq Format = "GeoJSONSeq"
)

// recordSeparator prefixes every GeoJSONSeq record, per RFC 8142
const recordSeparator = "\x1e"

// Options controls one conversion run. LatColumn and LonColumn are
// mandatory; everything else has a usable zero value.
type Options struct {
	LatColumn string
	LonColumn string
	Delimiter rune   // Defaults to ','
	Encoding  string // utf-8 (default), latin-1/iso-8859-1, windows-1252

	// ContainAnd rows must match every clause; ContainOr rows must match at
	// least one clause. Both may be combined.
	ContainAnd []Clause
	ContainOr  []Clause

	Format         Format // Defaults to FormatGeoJSON
	IgnoreWarnings bool   // Suppress per-row coordinate warnings
}

// Geometry is a GeoJSON point geometry
type Geometry struct {
	Coordinates [2]float64 `json:"coordinates"` // [lon, lat]
	Type        string     `json:"type"`
}

// Feature is a GeoJSON feature with string properties, matching what a CSV
// row can carry. Empty columns are omitted from Properties.
type Feature struct {
	Geometry   Geometry          `json:"geometry"`
	Properties map[string]string `json:"properties"`
	Type       string            `json:"type"`
}

// Convert reads delimited text from r and writes the converted features to
// w. The first row is the header. Rows without usable coordinates are
// skipped (with a warning unless IgnoreWarnings); filter clauses naming a
// column absent from the header are a hard error.
func Convert(r io.Reader, w io.Writer, opts Options) error {
	if opts.LatColumn == "" || opts.LonColumn == "" {
		return fmt.Errorf("latitude and longitude column names are required")
	}

	decoded, err := decodeReader(r, opts.Encoding)
	if err != nil {
		return err
	}

	reader := csv.NewReader(decoded)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read header row: %w", err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[name] = i
	}

	if _, ok := columns[opts.LatColumn]; !ok {
		return fmt.Errorf("latitude column %q not in header", opts.LatColumn)
	}
	if _, ok := columns[opts.LonColumn]; !ok {
		return fmt.Errorf("longitude column %q not in header", opts.LonColumn)
	}
	for _, c := range append(append([]Clause{}, opts.ContainAnd...), opts.ContainOr...) {
		if _, ok := columns[c.Key]; !ok {
			return fmt.Errorf("filter column %q not in header", c.Key)
		}
	}

	format := opts.Format
	if format == "" {
		format = FormatGeoJSON
	}

	if format == FormatGeoJSON {
		if _, err := io.WriteString(w, `{"type": "FeatureCollection", "features": [`+"\n"); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}

	lineCount := 0
	written := 0
	skippedNoCoordinates := 0
	skippedBadCoordinates := 0
	skippedFiltered := 0
	first := true

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read row %d: %w", lineCount+2, err)
		}
		lineCount++

		row := make(map[string]string, len(header))
		for name, i := range columns {
			if i < len(record) {
				row[name] = record[i]
			}
		}

		if !matchesFilters(row, opts.ContainAnd, opts.ContainOr) {
			skippedFiltered++
			continue
		}

		lat := strings.TrimSpace(row[opts.LatColumn])
		lon := strings.TrimSpace(row[opts.LonColumn])
		if lat == "" || lon == "" {
			skippedNoCoordinates++
			if !opts.IgnoreWarnings {
				logging.Warn("Row has no usable coordinates", "row", lineCount+1)
			}
			continue
		}

		latitude, latErr := parseCoordinate(lat)
		longitude, lonErr := parseCoordinate(lon)
		if latErr != nil || lonErr != nil {
			skippedBadCoordinates++
			if !opts.IgnoreWarnings {
				logging.Warn("Row has unparseable coordinates",
					"row", lineCount+1, "lat", lat, "lon", lon)
			}
			continue
		}

		feature := Feature{
			Geometry: Geometry{
				Coordinates: [2]float64{longitude, latitude},
				Type:        "Point",
			},
			Properties: featureProperties(row, opts.LatColumn, opts.LonColumn),
			Type:       "Feature",
		}

		encoded, err := json.Marshal(feature)
		if err != nil {
			return fmt.Errorf("failed to encode feature at row %d: %w", lineCount+1, err)
		}

		if format == FormatGeoJSONSeq {
			if _, err := fmt.Fprintf(w, "%s%s\n", recordSeparator, encoded); err != nil {
				return fmt.Errorf("failed to write output: %w", err)
			}
		} else {
			prefix := ",\n"
			if first {
				prefix = ""
			}
			if _, err := fmt.Fprintf(w, "%s%s", prefix, encoded); err != nil {
				return fmt.Errorf("failed to write output: %w", err)
			}
		}

		first = false
		written++
	}

	if format == FormatGeoJSON {
		if _, err := io.WriteString(w, "\n]}\n"); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}

	if skippedNoCoordinates > 0 || skippedBadCoordinates > 0 || skippedFiltered > 0 {
		logging.Info("CSV conversion skip statistics",
			"no_coordinates", skippedNoCoordinates,
			"bad_coordinates", skippedBadCoordinates,
			"filtered_out", skippedFiltered,
			"total_rows", lineCount,
			"features_written", written)
	}

	return nil
}

// matchesFilters applies the contain-and (all must hold) and contain-or
// (at least one must hold) predicates
func matchesFilters(row map[string]string, containAnd, containOr []Clause) bool {
	for _, c := range containAnd {
		if !c.matches(row) {
			return false
		}
	}

	if len(containOr) == 0 {
		return true
	}
	for _, c := range containOr {
		if c.matches(row) {
			return true
		}
	}
	return false
}

// parseCoordinate accepts decimal-comma values, which DATASUS exports use
func parseCoordinate(value string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(value, ",", "."), 64)
}

// featureProperties copies every non-empty column except the coordinate ones
func featureProperties(row map[string]string, latColumn, lonColumn string) map[string]string {
	properties := make(map[string]string, len(row))
	for key, value := range row {
		if key == latColumn || key == lonColumn {
			continue
		}
		if strings.TrimSpace(value) == "" {
			continue
		}
		properties[key] = value
	}
	return properties
}

// decodeReader wraps r with the decoder for the requested source encoding
func decodeReader(r io.Reader, encoding string) (io.Reader, error) {
	switch strings.ToLower(encoding) {
	case "", "utf-8", "utf8":
		return r, nil
	case "latin-1", "latin1", "iso-8859-1", "iso8859-1":
		return charmap.ISO8859_1.NewDecoder().Reader(r), nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder().Reader(r), nil
	default:
		return nil, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}

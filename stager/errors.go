package stager

import "errors"

// The pipeline distinguishes exactly two failure kinds. Both are fatal: the
// run aborts on the first one and later steps never start.
var (
	// ErrRetrieval covers transport failures: dial errors, bad HTTP
	// status, interrupted body copies, checksum mismatches.
	ErrRetrieval = errors.New("retrieval failed")

	// ErrConversion covers a downstream step rejecting its input: archive
	// extraction, osmium, ogr2ogr, or the CSV converter.
	ErrConversion = errors.New("conversion failed")
)

// ErrorKind labels an error for metrics and logs
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrRetrieval):
		return "retrieval"
	case errors.Is(err, ErrConversion):
		return "conversion"
	default:
		return "unknown"
	}
}

// Package interfaces defines core abstractions for the staging pipeline
// to improve testability, maintainability, and separation of concerns.
package interfaces

import "context"

// CommandRunner defines the contract for invoking external geospatial tools
// (osmium, ogr2ogr). The pipeline never inspects tool output; it only cares
// about the exit status, so the contract is argv in, error out. Tests inject
// a recording implementation to assert exact argument pass-through.
type CommandRunner interface {
	// Run executes tool with args and blocks until it exits.
	Run(ctx context.Context, tool string, args ...string) error

	// LookPath reports whether tool is resolvable for execution.
	LookPath(tool string) error
}

// Pipeline defines the contract for a complete staging run: download and
// unpack every dataset, then derive the boundary and facility layers.
type Pipeline interface {
	Run(ctx context.Context) error
}

// Scheduler defines the contract for unattended operation.
// It manages the recurring refresh of the staged datasets.
type Scheduler interface {
	// Start runs the pipeline once and schedules the recurring refresh.
	// ctx is passed to every pipeline run; cancelling it interrupts an
	// in-flight run.
	Start(ctx context.Context) error
	Stop()
}

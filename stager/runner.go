package stager

import (
	"context"
	"os"
	"os/exec"

	"github.com/eticaai/osm-dados-abertos/interfaces"
	"github.com/eticaai/osm-dados-abertos/logging"
	"github.com/eticaai/osm-dados-abertos/metrics"
)

// Compile-time check to ensure ExecRunner implements CommandRunner
var _ interfaces.CommandRunner = (*ExecRunner)(nil)

// ExecRunner invokes external tools as child processes. Tool output goes
// straight to the operator's terminal; the pipeline only interprets the
// exit status.
type ExecRunner struct{}

// Run executes tool with args and blocks until it exits
func (ExecRunner) Run(ctx context.Context, tool string, args ...string) error {
	logging.Debug("Running external tool", "tool", tool, "args", args)

	// #nosec G204 -- tool names are fixed and arguments are composed from config, not request input
	cmd := exec.CommandContext(ctx, tool, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		metrics.ExternalCommandsTotal.WithLabelValues(tool, "error").Inc()
		return err
	}

	metrics.ExternalCommandsTotal.WithLabelValues(tool, "ok").Inc()
	return nil
}

// LookPath reports whether tool is resolvable on PATH
func (ExecRunner) LookPath(tool string) error {
	_, err := exec.LookPath(tool)
	return err
}

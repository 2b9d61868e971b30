package stager

import (
	"context"

	"github.com/eticaai/osm-dados-abertos/config"
	"github.com/eticaai/osm-dados-abertos/interfaces"
	"github.com/eticaai/osm-dados-abertos/logging"
)

// Compile-time check to ensure FullPipeline implements Pipeline
var _ interfaces.Pipeline = (*FullPipeline)(nil)

// FullPipeline chains the three stages end to end: stage every dataset,
// extract the boundary layers, geocode the facilities. Used by the auto
// subcommand; each stage is also invokable on its own.
type FullPipeline struct {
	stager     *Stager
	boundaries *BoundaryExtractor
	facilities *FacilityGeocoder
	filter     string
}

// NewFullPipeline wires the pipeline from configuration
func NewFullPipeline(cfg *config.Config, runner interfaces.CommandRunner, filter string) *FullPipeline {
	s := New(cfg)
	return &FullPipeline{
		stager:     s,
		boundaries: NewBoundaryExtractor(runner, s.OSMExtractPath(), cfg.ScratchDir),
		facilities: NewFacilityGeocoder(runner, cfg.ScratchDir),
		filter:     filter,
	}
}

// Run executes the whole chain, aborting on the first failed step
func (p *FullPipeline) Run(ctx context.Context) error {
	logging.Info("Starting full staging run")

	if err := p.stager.StageAll(ctx); err != nil {
		return err
	}
	if err := p.boundaries.Extract(ctx); err != nil {
		return err
	}
	if err := p.facilities.Geocode(ctx, p.filter); err != nil {
		return err
	}

	logging.Info("Full staging run finished")
	return nil
}

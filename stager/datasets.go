package stager

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/eticaai/osm-dados-abertos/config"
	"github.com/eticaai/osm-dados-abertos/logging"
	"github.com/eticaai/osm-dados-abertos/metrics"
)

// Dataset describes one remote artifact to stage. SHA256 is optional; when
// set, the download is verified before it is moved into the cache.
type Dataset struct {
	Name      string
	URL       string
	CacheFile string
	SHA256    string
	Unpack    bool // Extract into the scratch directory on first population
}

// Stager stages a fixed list of datasets into the cache directory
type Stager struct {
	fetcher    *Fetcher
	cacheDir   string
	scratchDir string
	datasets   []Dataset
}

// New builds a stager with the default Brazilian dataset list
func New(cfg *config.Config) *Stager {
	fetcher := NewFetcher(time.Duration(cfg.HTTPTimeoutMin)*time.Minute, cfg.DownloadRateLimit)
	return NewWithDatasets(fetcher, cfg.CacheDir, cfg.ScratchDir, DefaultDatasets(cfg))
}

// NewWithDatasets builds a stager over an explicit dataset list. Tests use
// this to point at local transport fakes.
func NewWithDatasets(fetcher *Fetcher, cacheDir, scratchDir string, datasets []Dataset) *Stager {
	return &Stager{
		fetcher:    fetcher,
		cacheDir:   cacheDir,
		scratchDir: scratchDir,
		datasets:   datasets,
	}
}

// DefaultDatasets returns the staged dataset descriptors: the country-wide
// OSM extract, the IBGE state and municipality boundary archives, and the
// DATASUS CNES establishment registry.
func DefaultDatasets(cfg *config.Config) []Dataset {
	return []Dataset{
		{
			Name:      "osm-brasil",
			URL:       cfg.OSMBrasilURL,
			CacheFile: "brasil-latest.osm.pbf",
		},
		{
			Name:      "ibge-uf",
			URL:       cfg.IBGEUFURL,
			CacheFile: "BR_UF_2022.zip",
			Unpack:    true,
		},
		{
			Name:      "ibge-municipios",
			URL:       cfg.IBGEMunicipioURL,
			CacheFile: "BR_Municipios_2022.zip",
			Unpack:    true,
		},
		{
			Name:      "cnes-estabelecimentos",
			URL:       cfg.CNESURL,
			CacheFile: "BASE_DE_DADOS_CNES.zip",
			Unpack:    true,
		},
	}
}

// Datasets returns the configured dataset list
func (s *Stager) Datasets() []Dataset {
	return s.datasets
}

// CachePath returns the cache destination for a dataset
func (s *Stager) CachePath(ds Dataset) string {
	return filepath.Join(s.cacheDir, ds.CacheFile)
}

// OSMExtractPath returns the cache path of the country-wide OSM extract
func (s *Stager) OSMExtractPath() string {
	for _, ds := range s.datasets {
		if ds.Name == "osm-brasil" {
			return s.CachePath(ds)
		}
	}
	return filepath.Join(s.cacheDir, "brasil-latest.osm.pbf")
}

// StageAll stages every dataset in order. The first failure aborts the run;
// datasets after it are not attempted.
func (s *Stager) StageAll(ctx context.Context) error {
	for _, ds := range s.datasets {
		if err := s.Stage(ctx, ds); err != nil {
			return err
		}
	}
	return nil
}

// StageOnly stages a single dataset by name
func (s *Stager) StageOnly(ctx context.Context, name string) error {
	for _, ds := range s.datasets {
		if ds.Name == name {
			return s.Stage(ctx, ds)
		}
	}
	return fmt.Errorf("unknown dataset: %s", name)
}

// Stage downloads one dataset if its cache path is absent, and unpacks it
// on first population. The unpack runs inside the same presence guard as
// the download: if the cache file already exists, neither runs, even when
// the unpacked artifacts have been deleted from the scratch directory. The
// guard is keyed on the cache file only.
func (s *Stager) Stage(ctx context.Context, ds Dataset) error {
	dest := s.CachePath(ds)

	downloaded, err := s.fetcher.Fetch(ctx, ds.Name, ds.URL, dest, ds.SHA256)
	if err != nil {
		metrics.PipelineStepsFailed.WithLabelValues(ds.Name, ErrorKind(err)).Inc()
		return err
	}
	if !downloaded {
		return nil
	}

	if ds.Unpack {
		if err := Unzip(dest, s.scratchDir); err != nil {
			err = fmt.Errorf("%w: unpacking %s: %v", ErrConversion, ds.Name, err)
			metrics.PipelineStepsFailed.WithLabelValues(ds.Name, ErrorKind(err)).Inc()
			return err
		}
	}

	logging.Info("Dataset staged", "dataset", ds.Name)
	return nil
}

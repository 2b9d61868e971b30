// Package metrics provides Prometheus metrics for the staging pipeline:
//   - dataset_downloads_total: Counter with dataset and result labels
//   - dataset_download_bytes_total: Counter of bytes retrieved per dataset
//   - dataset_cache_hits_total: Counter of skipped retrievals per dataset
//   - external_commands_total: Counter with tool and result labels
//   - pipeline_steps_failed_total: Counter with step and kind labels
//
// The binary is short-lived, so there is no scrape endpoint; metrics are
// written after each run to a node-exporter textfile (see WriteTextfile).
// All metrics are registered with the Prometheus default registry during
// package initialization.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

var (
	DatasetDownloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataset_downloads_total",
			Help: "Total dataset retrievals attempted",
		},
		[]string{"dataset", "result"},
	)

	DatasetDownloadBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataset_download_bytes_total",
			Help: "Bytes retrieved per dataset",
		},
		[]string{"dataset"},
	)

	DatasetCacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataset_cache_hits_total",
			Help: "Retrievals skipped because the destination already existed",
		},
		[]string{"dataset"},
	)

	ExternalCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "external_commands_total",
			Help: "External tool invocations",
		},
		[]string{"tool", "result"},
	)

	PipelineStepsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_steps_failed_total",
			Help: "Pipeline steps aborted, by error kind",
		},
		[]string{"step", "kind"},
	)
)

func init() {
	prometheus.MustRegister(DatasetDownloadsTotal)
	prometheus.MustRegister(DatasetDownloadBytes)
	prometheus.MustRegister(DatasetCacheHits)
	prometheus.MustRegister(ExternalCommandsTotal)
	prometheus.MustRegister(PipelineStepsFailed)
}

// WriteTextfile gathers the default registry and writes it in the Prometheus
// text exposition format, atomically, for node_exporter's textfile collector.
func WriteTextfile(path string) error {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	tmp := path + ".part"
	f, err := os.Create(filepath.Clean(tmp))
	if err != nil {
		return fmt.Errorf("failed to create metrics textfile: %w", err)
	}

	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(f, mf); err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
			return fmt.Errorf("failed to encode metrics: %w", err)
		}
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to close metrics textfile: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to move metrics textfile into place: %w", err)
	}

	return nil
}

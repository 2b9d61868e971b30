// Command osm-dados-abertos stages Brazilian public datasets (OSM extract,
// IBGE boundaries, DATASUS CNES registry) into a local cache and derives
// the geospatial layers used for conflation against OpenStreetMap.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"unicode/utf8"

	"github.com/eticaai/osm-dados-abertos/config"
	"github.com/eticaai/osm-dados-abertos/csv2geojson"
	"github.com/eticaai/osm-dados-abertos/health"
	"github.com/eticaai/osm-dados-abertos/logging"
	"github.com/eticaai/osm-dados-abertos/metrics"
	"github.com/eticaai/osm-dados-abertos/scheduler"
	"github.com/eticaai/osm-dados-abertos/stager"
	"github.com/joho/godotenv"
)

const usage = `Usage: osm-dados-abertos <command> [flags]

Commands:
  stage        Download and unpack every configured dataset (-only NAME for one)
  boundaries   Derive state and municipality boundary layers from the OSM extract
  facilities   Geocode the CNES establishment registry (-filter COLUMN=VALUE)
  csv2geojson  Convert a CSV with point coordinates to GeoJSON on stdout
  auto         Run the full pipeline now and refresh it daily until interrupted
  doctor       Check external tools and directories before a run
`

// knownCommands is the dispatch table guard: only these reach config loading
var knownCommands = map[string]bool{
	"stage":       true,
	"boundaries":  true,
	"facilities":  true,
	"csv2geojson": true,
	"auto":        true,
	"doctor":      true,
}

// isHelp recognizes the help spellings that must work even under a broken
// environment, before any configuration is read
func isHelp(command string) bool {
	switch command {
	case "help", "-h", "--help":
		return true
	}
	return false
}

func main() {
	// Command validation and help come first: they must not depend on the
	// environment being loadable.
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	command := os.Args[1]

	if isHelp(command) {
		fmt.Print(usage)
		return
	}
	if !knownCommands[command] {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", command)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	// A local .env overrides nothing already exported, same as in dev setups
	if err := godotenv.Load(); err != nil {
		logging.Debug("No .env file found, using system environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logging.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.InitLogger(cfg.LogLevel, cfg.LogDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var runErr error
	switch command {
	case "stage":
		runErr = runStage(ctx, cfg, os.Args[2:])
	case "boundaries":
		runErr = runBoundaries(ctx, cfg, os.Args[2:])
	case "facilities":
		runErr = runFacilities(ctx, cfg, os.Args[2:])
	case "csv2geojson":
		runErr = runCSV2GeoJSON(os.Args[2:])
	case "auto":
		runErr = runAuto(ctx, cfg, os.Args[2:])
	case "doctor":
		runErr = runDoctor(cfg)
	}

	flushMetrics(cfg)

	if runErr != nil {
		logging.Error("Run failed", "command", command, "error", runErr)
		os.Exit(1)
	}
}

func runStage(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("stage", flag.ExitOnError)
	only := fs.String("only", "", "stage a single dataset by name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s := stager.New(cfg)
	if *only != "" {
		return s.StageOnly(ctx, *only)
	}
	return s.StageAll(ctx)
}

func runBoundaries(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("boundaries", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	s := stager.New(cfg)
	b := stager.NewBoundaryExtractor(stager.ExecRunner{}, s.OSMExtractPath(), cfg.ScratchDir)
	return b.Extract(ctx)
}

func runFacilities(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("facilities", flag.ExitOnError)
	filter := fs.String("filter", "", "attribute equality filter, e.g. CO_ESTADO_GESTOR=42")
	csvPath := fs.String("csv", "", "override the establishment CSV path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	g := stager.NewFacilityGeocoder(stager.ExecRunner{}, cfg.ScratchDir)
	if *csvPath != "" {
		g.SetCSVPath(*csvPath)
	}
	return g.Geocode(ctx, *filter)
}

func runCSV2GeoJSON(args []string) error {
	fs := flag.NewFlagSet("csv2geojson", flag.ExitOnError)
	lat := fs.String("lat", "", "name of the latitude column (required)")
	lon := fs.String("lon", "", "name of the longitude column (required)")
	delimiter := fs.String("delimiter", ",", "field delimiter")
	encoding := fs.String("encoding", "utf-8", "source encoding: utf-8, latin-1, windows-1252")
	outputType := fs.String("output-type", "GeoJSON", "GeoJSON or GeoJSONSeq")
	ignoreWarnings := fs.Bool("ignore-warnings", false, "suppress per-row coordinate warnings")
	var containAnd, containOr stringSlice
	fs.Var(&containAnd, "contain-and", "rows must match every clause, e.g. -contain-and UF=42 (repeatable)")
	fs.Var(&containOr, "contain-or", "rows must match at least one clause (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	delimiterRune, _ := utf8.DecodeRuneInString(*delimiter)
	if delimiterRune == utf8.RuneError {
		return fmt.Errorf("invalid delimiter: %q", *delimiter)
	}

	andClauses, err := csv2geojson.ParseClauses(containAnd)
	if err != nil {
		return err
	}
	orClauses, err := csv2geojson.ParseClauses(containOr)
	if err != nil {
		return err
	}

	input := os.Stdin
	if name := fs.Arg(0); name != "" && name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return fmt.Errorf("opening %s: %w", name, err)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil {
				logging.Warn("Failed to close input file", "error", cerr)
			}
		}()
		input = f
	}

	return csv2geojson.Convert(input, os.Stdout, csv2geojson.Options{
		LatColumn:      *lat,
		LonColumn:      *lon,
		Delimiter:      delimiterRune,
		Encoding:       *encoding,
		ContainAnd:     andClauses,
		ContainOr:      orClauses,
		Format:         csv2geojson.Format(*outputType),
		IgnoreWarnings: *ignoreWarnings,
	})
}

func runAuto(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("auto", flag.ExitOnError)
	filter := fs.String("filter", "", "attribute equality filter for the facility layer")
	if err := fs.Parse(args); err != nil {
		return err
	}

	pipeline := stager.NewFullPipeline(cfg, stager.ExecRunner{}, *filter)
	sched := scheduler.NewScheduler(pipeline)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	logging.Info("Unattended mode: refreshing daily, interrupt to stop")
	<-ctx.Done()
	logging.Info("Shutting down")
	return nil
}

func runDoctor(cfg *config.Config) error {
	preflight := health.NewPreflight(stager.ExecRunner{}, cfg.CacheDir, cfg.ScratchDir)
	details, err := preflight.Check()

	names := make([]string, 0, len(details))
	for name := range details {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("%-12s %s\n", name, details[name])
	}
	return err
}

// flushMetrics exports run counters for node_exporter's textfile collector
func flushMetrics(cfg *config.Config) {
	if cfg.MetricsTextfile == "" {
		return
	}
	if err := metrics.WriteTextfile(cfg.MetricsTextfile); err != nil {
		logging.Warn("Failed to write metrics textfile", "error", err)
	}
}

// stringSlice collects repeated flag values
type stringSlice []string

func (s *stringSlice) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSlice) Set(value string) error {
	*s = append(*s, value)
	return nil
}

// Command mapmatch loads a GPS trace from CSV, snaps it to the road
// network stored in the configured spatial store, and writes the matched
// segment ids to the configured sink.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"mapmatch/pkg/candidates"
	"mapmatch/pkg/config"
	"mapmatch/pkg/db"
	"mapmatch/pkg/ingest"
	"mapmatch/pkg/logging"
	"mapmatch/pkg/model"
	"mapmatch/pkg/scorer"
	"mapmatch/pkg/store"
	"mapmatch/pkg/viterbi"
)

// Exit codes per spec.md §6.
const (
	exitOK                   = 0
	exitConfigError          = 1
	exitNoStartingCandidates = 2
	exitFatalMatchError      = 3
)

var (
	configPath = flag.String("config", "configs/mapmatch.yaml", "path to the YAML config file")
	inputPath  = flag.String("input", "", "path to the input observation CSV")
	outputPath = flag.String("output", "", "path to write matched segment ids (default stdout)")
	outFormat  = flag.String("format", "lines", "output format: lines or json")
	initConfig = flag.Bool("init-config", false, "generate a default config file and exit")
	trace      = flag.Bool("trace", false, "log per-candidate emission/transition score trails at debug level")
)

func main() {
	flag.Parse()
	logging.EnableTrace = *trace

	if *initConfig {
		if err := config.GenerateDefault(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "failed to generate config: %v\n", err)
			os.Exit(exitConfigError)
		}
		fmt.Printf("config file generated: %s\n", *configPath)
		return
	}

	if *inputPath == "" {
		fmt.Fprintln(os.Stderr, "-input is required")
		os.Exit(exitConfigError)
	}

	os.Exit(run(context.Background()))
}

func run(ctx context.Context) int {
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return exitConfigError
	}

	cleanupLogs, err := logging.Init(&cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		return exitConfigError
	}
	defer cleanupLogs()

	dbConn, err := db.Init(cfg.DB.Path)
	if err != nil {
		slog.Error("failed to open spatial store", "error", err)
		return exitConfigError
	}
	defer dbConn.Close()

	segStore := store.NewSQLiteStore(dbConn)
	cache := store.NewCellCache(time.Duration(cfg.Grid.CellTTL))
	provider := candidates.NewProvider(segStore, cache, cfg.Grid.H3Resolution)

	emission := scorer.NewEmissionScorer(cfg.Emission, cfg.Match.SigmaDistance)
	transition := scorer.NewTransitionScorer(cfg.Transit, cfg.Match.SigmaTransition, cfg.Match.BacktrackFactor)
	matcher := viterbi.NewMatcher(provider, emission, transition)

	inFile, err := os.Open(*inputPath)
	if err != nil {
		slog.Error("failed to open input file", "path", *inputPath, "error", err)
		return exitConfigError
	}
	defer inFile.Close()

	observations, err := ingest.ReadObservations(inFile)
	if err != nil {
		slog.Error("failed to read observations", "error", err)
		return exitConfigError
	}

	observations = sliceBounds(observations, cfg.Match.Start, cfg.Match.End)
	slog.Info("matching observations", "count", len(observations))

	result := matcher.Match(ctx, observations, cfg.Match)

	out := os.Stdout
	if *outputPath != "" {
		f, err := os.Create(*outputPath)
		if err != nil {
			slog.Error("failed to open output file", "path", *outputPath, "error", err)
			return exitConfigError
		}
		defer f.Close()
		out = f
	}
	if err := ingest.WriteSegmentIDs(out, result.SegmentIDs, ingest.ParseFormat(*outFormat)); err != nil {
		slog.Error("failed to write output", "error", err)
		return exitConfigError
	}

	if result.Err != nil {
		var matchErr *viterbi.MatchError
		if errors.As(result.Err, &matchErr) && matchErr.Kind == viterbi.NoStartingCandidates {
			slog.Error("matching failed", "error", result.Err)
			return exitNoStartingCandidates
		}
		slog.Error("matching failed", "error", result.Err)
		return exitFatalMatchError
	}

	return exitOK
}

// sliceBounds applies the configured [start, end) window to observations.
// end == 0 means "to the end of the list".
func sliceBounds(observations []model.Observation, start, end int) []model.Observation {
	if start < 0 {
		start = 0
	}
	if start > len(observations) {
		start = len(observations)
	}
	if end <= 0 || end > len(observations) {
		end = len(observations)
	}
	if end < start {
		end = start
	}
	return observations[start:end]
}

package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rusma07/event-recommender-system/internal/cli"
	"github.com/rusma07/event-recommender-system/internal/jobs"
	"github.com/rusma07/event-recommender-system/internal/simmodel"
)

func runBuildModel(args []string) int {
	fs := flag.NewFlagSet("build-model", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Minute, "Command timeout")
	output := fs.String("output", "", "Artifact path (defaults to MODEL_PATH)")
	workers := fs.Int("workers", 0, "Similarity worker count (defaults to MODEL_BUILD_WORKERS)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *workers < 0 {
		fmt.Fprintln(os.Stderr, "--workers must be >= 0")
		return 2
	}

	cfg, logger, err := loadEnvConfig(envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	if *output != "" {
		cfg.ModelPath = *output
	}
	if *workers > 0 {
		cfg.ModelBuildWorkers = *workers
	}

	ctx, cancel, pool, err := connectPool(*timeout, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("build-model command failed to connect to database")
		fmt.Fprintf(os.Stderr, "Build failed: %v\n", err)
		return 1
	}
	defer cancel()
	defer pool.Close()

	rebuilder := newRebuilder(cfg, pool, simmodel.NewFileStore(cfg.ModelPath), nil, logger)
	status, err := rebuilder.RunNow(ctx, jobs.TriggerCLI)
	if err != nil {
		if errors.Is(err, jobs.ErrBuildInProgress) {
			fmt.Fprintln(os.Stderr, "Build skipped: another process is building the model")
			return 1
		}
		fmt.Fprintf(os.Stderr, "Build failed: %v\n", err)
		return 1
	}

	logger.Info().
		Str("build_uuid", status.BuildUUID).
		Int("events", status.Events).
		Int("skipped", status.Skipped).
		Int("vocabulary_size", status.VocabularySize).
		Str("path", cfg.ModelPath).
		Msg("similarity model built")
	fmt.Printf(
		"build-model events=%d skipped=%d vocabulary=%d path=%s build_uuid=%s\n",
		status.Events,
		status.Skipped,
		status.VocabularySize,
		cfg.ModelPath,
		status.BuildUUID,
	)
	return 0
}

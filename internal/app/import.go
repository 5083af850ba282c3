package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rusma07/event-recommender-system/internal/catalog"
	"github.com/rusma07/event-recommender-system/internal/cli"
	"github.com/rusma07/event-recommender-system/internal/db"
	"github.com/rusma07/event-recommender-system/internal/jobs"
	"github.com/rusma07/event-recommender-system/internal/simmodel"
)

// importBatch is the merged content of all import files. A later file wins
// when two files carry the same event id.
type importBatch struct {
	Events       []catalog.Event
	Interactions []catalog.Interaction
	TagClicks    []catalog.Interaction
}

type importFileError struct {
	Path string
	Err  error
}

func loadImportBatch(paths []string) (importBatch, []importFileError) {
	byID := map[int64]catalog.Event{}
	batch := importBatch{}
	var failures []importFileError

	for _, path := range paths {
		file, err := readImportFile(path)
		if err != nil {
			failures = append(failures, importFileError{Path: path, Err: err})
			continue
		}
		for _, ev := range file.Events {
			byID[ev.ID] = ev
		}
		for _, in := range file.Interactions {
			// Tag clicks go through the merge path; the log keeps one row per user.
			if in.Type == catalog.InteractionTagClick {
				batch.TagClicks = append(batch.TagClicks, in)
				continue
			}
			batch.Interactions = append(batch.Interactions, in)
		}
	}

	batch.Events = make([]catalog.Event, 0, len(byID))
	for _, ev := range byID {
		batch.Events = append(batch.Events, ev)
	}
	sort.Slice(batch.Events, func(i, j int) bool { return batch.Events[i].ID < batch.Events[j].ID })
	return batch, failures
}

func runImport(args []string) int {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	dir := fs.String("dir", "testdata/events", "Directory containing .json import files")
	recursive := fs.Bool("recursive", true, "Recursively scan subdirectories")
	timeout := fs.Duration("timeout", 5*time.Minute, "Command timeout")
	dryRun := fs.Bool("dry-run", false, "Validate and summarize without writing")
	buildModel := fs.Bool("build-model", false, "Rebuild the similarity model after a successful import")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	files, err := collectJSONFiles(strings.TrimSpace(*dir), *recursive)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Import setup failed: %v\n", err)
		return 1
	}
	if len(files) == 0 {
		fmt.Fprintf(os.Stderr, "Import failed: no .json files found under %s\n", strings.TrimSpace(*dir))
		return 1
	}

	batch, failures := loadImportBatch(files)
	for _, failure := range failures {
		fmt.Fprintf(os.Stderr, "INVALID %s: %v\n", failure.Path, failure.Err)
	}
	if len(failures) > 0 {
		fmt.Fprintf(os.Stderr, "Import aborted: %d of %d files invalid\n", len(failures), len(files))
		return 1
	}

	if *dryRun {
		fmt.Printf(
			"import dry_run=true files=%d events=%d interactions=%d tag_clicks=%d\n",
			len(files), len(batch.Events), len(batch.Interactions), len(batch.TagClicks),
		)
		return 0
	}

	cfg, logger, err := loadEnvConfig(envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	ctx, cancel, pool, err := connectPool(*timeout, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("import command failed to connect to database")
		fmt.Fprintf(os.Stderr, "Import failed: %v\n", err)
		return 1
	}
	defer cancel()
	defer pool.Close()

	upserted, err := pool.UpsertEvents(ctx, batch.Events)
	if err != nil {
		logger.Error().Err(err).Int("events", len(batch.Events)).Msg("import events failed")
		fmt.Fprintf(os.Stderr, "Import failed: %v\n", err)
		return 1
	}
	inserted, err := pool.InsertInteractions(ctx, batch.Interactions)
	if err != nil {
		logger.Error().Err(err).Int("interactions", len(batch.Interactions)).Msg("import interactions failed")
		fmt.Fprintf(os.Stderr, "Import failed: %v\n", err)
		return 1
	}
	merged, err := recordTagClicks(ctx, pool, batch.TagClicks)
	if err != nil {
		logger.Error().Err(err).Msg("import tag clicks failed")
		fmt.Fprintf(os.Stderr, "Import failed: %v\n", err)
		return 1
	}

	if upserted > 0 || inserted > 0 || merged > 0 {
		retireCachedRecommendations(ctx, cfg, logger)
	}

	logger.Info().
		Int("files", len(files)).
		Int64("events", upserted).
		Int64("interactions", inserted).
		Int("tag_clicks", merged).
		Msg("import completed")
	fmt.Printf("import files=%d events=%d interactions=%d tag_clicks=%d\n", len(files), upserted, inserted, merged)

	if !*buildModel {
		return 0
	}

	rebuilder := newRebuilder(cfg, pool, simmodel.NewFileStore(cfg.ModelPath), nil, logger)
	status, err := rebuilder.RunNow(ctx, jobs.TriggerCLI)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Model build failed: %v\n", err)
		return 1
	}
	fmt.Printf("build-model events=%d skipped=%d vocabulary=%d path=%s\n", status.Events, status.Skipped, status.VocabularySize, cfg.ModelPath)
	return 0
}

type interactionRecorder interface {
	RecordInteraction(ctx context.Context, in catalog.Interaction) (db.RecordResult, error)
}

func recordTagClicks(ctx context.Context, recorder interactionRecorder, items []catalog.Interaction) (int, error) {
	for i, in := range items {
		if _, err := recorder.RecordInteraction(ctx, in); err != nil {
			return i, fmt.Errorf("record tag click of user %d: %w", in.UserID, err)
		}
	}
	return len(items), nil
}

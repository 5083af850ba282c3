package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rusma07/event-recommender-system/internal/cli"
	"github.com/rusma07/event-recommender-system/internal/recommend"
)

func runRecommend(args []string) int {
	fs := flag.NewFlagSet("recommend", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	userID := fs.Int64("user-id", 0, "User to recommend for")
	topK := fs.Int("top-k", 0, "Number of results (defaults to RECOMMEND_TOP_K)")
	maxPerCluster := fs.Int("max-per-cluster", 0, "Per-cluster cap (defaults to RECOMMEND_MAX_PER_CLUSTER)")
	similarityWeight := fs.Float64("similarity-weight", -1, "Similarity weight (defaults to RECOMMEND_SIMILARITY_WEIGHT)")
	tagWeight := fs.Float64("tag-weight", -1, "Tag weight (defaults to RECOMMEND_TAG_WEIGHT)")
	noCache := fs.Bool("no-cache", false, "Bypass the Redis recommendation cache")
	formatRaw := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *userID <= 0 {
		fmt.Fprintln(os.Stderr, "--user-id must be > 0")
		return 2
	}
	if *topK < 0 || *maxPerCluster < 0 {
		fmt.Fprintln(os.Stderr, "--top-k and --max-per-cluster must be >= 0")
		return 2
	}
	format, err := parseOutputFormat(*formatRaw, outputFormatTable)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	cfg, logger, err := loadEnvConfig(envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	req := defaultRequestFromConfig(cfg)
	req.UserID = *userID
	if *topK > 0 {
		req.TopK = min(*topK, cfg.RecommendMaxTopK)
	}
	if *maxPerCluster > 0 {
		req.MaxPerCluster = *maxPerCluster
	}
	req.SimilarityWeight, req.TagWeight = resolveWeights(req.SimilarityWeight, req.TagWeight, *similarityWeight, *tagWeight)
	if err := req.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	ctx, cancel, pool, err := connectPool(*timeout, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("recommend command failed to connect to database")
		fmt.Fprintf(os.Stderr, "Recommend failed: %v\n", err)
		return 1
	}
	defer cancel()
	defer pool.Close()

	stack, err := newRecommenderStack(ctx, cfg, pool, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Recommend failed: %v\n", err)
		return 1
	}
	defer stack.Close()

	var recommender recommend.Recommender = stack.cached
	if *noCache {
		recommender = stack.engine
	}
	resp, err := recommender.Recommend(ctx, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Recommend failed: %v\n", err)
		return 1
	}

	logger.Info().
		Int64("user_id", req.UserID).
		Str("tier", string(resp.Tier)).
		Int("results", len(resp.Results)).
		Str("model_version", stack.holder.Current().Version()).
		Msg("recommend completed")

	if format == outputFormatJSON {
		if err := printJSON(resp); err != nil {
			fmt.Fprintf(os.Stderr, "Write output failed: %v\n", err)
			return 1
		}
		return 0
	}

	fmt.Printf("recommend user_id=%d tier=%s results=%d\n", req.UserID, resp.Tier, len(resp.Results))
	rows := make([][]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		rows = append(rows, []string{
			strconv.FormatInt(r.EventID, 10),
			truncateForTable(r.Title, 40),
			r.Cluster,
			formatScore(r.SimilarityScore),
			formatScore(r.TagScore),
			formatScore(r.FinalScore),
			r.StartDate,
			truncateForTable(strings.Join(r.Tags, ","), 30),
		})
	}
	if err := writeTable([]string{"EVENT_ID", "TITLE", "CLUSTER", "SIM", "TAG", "FINAL", "START", "TAGS"}, rows); err != nil {
		fmt.Fprintf(os.Stderr, "Write output failed: %v\n", err)
		return 1
	}
	return 0
}

// resolveWeights applies the weight flags over the configured defaults.
// Negative flag values mean unset; a single flag implies its complement.
func resolveWeights(defaultSim, defaultTag, simFlag, tagFlag float64) (float64, float64) {
	switch {
	case simFlag >= 0 && tagFlag >= 0:
		return simFlag, tagFlag
	case simFlag >= 0:
		return simFlag, 1 - simFlag
	case tagFlag >= 0:
		return 1 - tagFlag, tagFlag
	default:
		return defaultSim, defaultTag
	}
}

package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/rusma07/event-recommender-system/internal/catalog"
	"github.com/rusma07/event-recommender-system/internal/cluster"
	"github.com/rusma07/event-recommender-system/internal/config"
	"github.com/rusma07/event-recommender-system/internal/db"
	"github.com/rusma07/event-recommender-system/internal/jobs"
	"github.com/rusma07/event-recommender-system/internal/profile"
	"github.com/rusma07/event-recommender-system/internal/recommend"
	"github.com/rusma07/event-recommender-system/internal/simmodel"
)

// recommenderStack is everything the recommend and serve commands share.
type recommenderStack struct {
	store    *catalog.GuardedStore
	assigner *cluster.Assigner
	holder   *simmodel.Holder
	modelFS  *simmodel.FileStore
	engine   *recommend.Engine
	cached   *recommend.CachedRecommender
	redis    *redis.Client
}

func (s *recommenderStack) Close() {
	if s != nil && s.redis != nil {
		_ = s.redis.Close()
	}
}

func loadAssigner(cfg *config.Config) (*cluster.Assigner, error) {
	path := strings.TrimSpace(cfg.ClusterTableFile)
	if path == "" {
		return cluster.NewAssigner(nil), nil
	}
	table, err := cluster.LoadTable(path)
	if err != nil {
		return nil, err
	}
	return cluster.NewAssigner(table), nil
}

func policyFromConfig(cfg *config.Config) recommend.Policy {
	return recommend.Policy{
		MinInteractions:   cfg.RecommendMinInteractions,
		InteractedPenalty: cfg.RecommendInteractedPenalty,
		InteractionWeights: map[catalog.InteractionType]float64{
			catalog.InteractionView:     cfg.InteractionWeightView,
			catalog.InteractionTagClick: cfg.InteractionWeightTagClick,
			catalog.InteractionRegister: cfg.InteractionWeightRegister,
		},
		Profile: profile.Weights{
			TagClick: cfg.RecommendTagClickWeight,
			Implicit: cfg.RecommendImplicitTagWeight,
		},
	}
}

func defaultRequestFromConfig(cfg *config.Config) recommend.Request {
	return recommend.Request{
		TopK:             cfg.RecommendTopK,
		MaxPerCluster:    cfg.RecommendMaxPerCluster,
		SimilarityWeight: cfg.RecommendSimilarityWeight,
		TagWeight:        cfg.RecommendTagWeight,
	}
}

func guardOptionsFromConfig(cfg *config.Config) catalog.GuardOptions {
	return catalog.GuardOptions{
		Timeout:          cfg.FetchTimeout,
		FailureThreshold: cfg.BreakerFailureThreshold,
		OpenTimeout:      cfg.BreakerOpenTimeout,
	}
}

// newRecommenderStack wires the guarded store, the model holder and the engine,
// with the Redis cache in front when REDIS_ADDR is set. A missing model file
// is logged and leaves the engine on its non-hybrid tiers.
func newRecommenderStack(ctx context.Context, cfg *config.Config, pool *db.Pool, logger zerolog.Logger) (*recommenderStack, error) {
	assigner, err := loadAssigner(cfg)
	if err != nil {
		return nil, fmt.Errorf("load cluster table: %w", err)
	}

	store := catalog.NewGuardedStore(pool, logger, guardOptionsFromConfig(cfg))
	modelFS := simmodel.NewFileStore(cfg.ModelPath)
	holder := simmodel.NewHolder(modelFS, logger)
	if err := holder.Reload(); err != nil {
		logger.Warn().Err(err).Str("path", cfg.ModelPath).Msg("starting without a similarity model")
	}

	engine, err := recommend.NewEngine(store, store, holder, logger, recommend.Options{
		Policy:   policyFromConfig(cfg),
		Assigner: assigner,
		Seed:     cfg.RecommendSeed,
	})
	if err != nil {
		return nil, err
	}

	client, err := recommend.NewRedisClient(ctx, recommend.CacheOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		TTL:      cfg.RecommendCacheTTL,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("recommendation cache disabled")
		client = nil
	}

	return &recommenderStack{
		store:    store,
		assigner: assigner,
		holder:   holder,
		modelFS:  modelFS,
		engine:   engine,
		cached:   recommend.NewCachedRecommender(engine, client, holder, cfg.RecommendCacheTTL, logger),
		redis:    client,
	}, nil
}

// retireCachedRecommendations bumps the shared catalog generation after a
// command wrote events or interactions, so running servers stop serving
// lists computed from the old catalog.
func retireCachedRecommendations(ctx context.Context, cfg *config.Config, logger zerolog.Logger) {
	client, err := recommend.NewRedisClient(ctx, recommend.CacheOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("recommendation cache not reachable; cached lists expire after RECOMMEND_CACHE_TTL")
		return
	}
	if client == nil {
		return
	}
	defer client.Close()
	if err := recommend.BumpCatalogGeneration(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("recommendation cache invalidation failed")
	}
}

func newRebuilder(cfg *config.Config, pool *db.Pool, store *simmodel.FileStore, holder *simmodel.Holder, logger zerolog.Logger) *jobs.Rebuilder {
	builder := simmodel.NewBuilder(logger, simmodel.BuilderOptions{Workers: cfg.ModelBuildWorkers})
	return jobs.NewRebuilder(pool, pool, builder, store, holder, logger, jobs.Options{
		Debounce: cfg.ModelRebuildDebounce,
		Interval: cfg.ModelRebuildInterval,
		Timeout:  cfg.ModelRebuildTimeout,
	})
}

package recommend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type CacheOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedisClient returns nil when no address is configured; the cache is then
// a pass-through.
func NewRedisClient(ctx context.Context, opts CacheOptions) (*redis.Client, error) {
	if strings.TrimSpace(opts.Addr) == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return client, nil
}

// catalogGenerationKey counts catalog writes. It is part of every cache key,
// so bumping it retires all cached lists, including those of other processes.
const catalogGenerationKey = "rec:catalog:generation"

// BumpCatalogGeneration retires every cached recommendation list. Commands
// that write the catalog without a CachedRecommender call it directly.
func BumpCatalogGeneration(ctx context.Context, client *redis.Client) error {
	if client == nil {
		return nil
	}
	if err := client.Incr(ctx, catalogGenerationKey).Err(); err != nil {
		return fmt.Errorf("bump catalog generation: %w", err)
	}
	return nil
}

// CachedRecommender is a read-through Redis cache in front of a Recommender.
// Keys include the model version and the catalog generation, so a rebuild or
// a catalog write invalidates everything, and a logged interaction
// invalidates that user's entries. Cache errors are logged and never returned.
type CachedRecommender struct {
	next   Recommender
	client *redis.Client
	models ModelSource
	ttl    time.Duration
	logger zerolog.Logger
}

func NewCachedRecommender(next Recommender, client *redis.Client, models ModelSource, ttl time.Duration, logger zerolog.Logger) *CachedRecommender {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedRecommender{
		next:   next,
		client: client,
		models: models,
		ttl:    ttl,
		logger: logger.With().Str("component", "recommend_cache").Logger(),
	}
}

func (c *CachedRecommender) Recommend(ctx context.Context, req Request) (Response, error) {
	if c.client == nil {
		return c.next.Recommend(ctx, req)
	}
	if err := req.Validate(); err != nil {
		return Response{}, err
	}

	generation, err := c.catalogGeneration(ctx)
	if err != nil {
		cacheLookups.WithLabelValues("error").Inc()
		c.logger.Warn().Err(err).Msg("recommendation cache generation read failed")
		return c.next.Recommend(ctx, req)
	}

	key := cacheKey(req, c.modelVersion(), generation)
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached Response
		if decodeErr := json.Unmarshal(raw, &cached); decodeErr == nil {
			cacheLookups.WithLabelValues("hit").Inc()
			return cached, nil
		}
		cacheLookups.WithLabelValues("corrupt").Inc()
	case errors.Is(err, redis.Nil):
		cacheLookups.WithLabelValues("miss").Inc()
	default:
		cacheLookups.WithLabelValues("error").Inc()
		c.logger.Warn().Err(err).Str("key", key).Msg("recommendation cache read failed")
	}

	resp, err := c.next.Recommend(ctx, req)
	if err != nil {
		return resp, err
	}
	if resp.Tier != TierEmpty {
		c.store(ctx, req.UserID, key, resp)
	}
	return resp, nil
}

func (c *CachedRecommender) store(ctx context.Context, userID int64, key string, resp Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		c.logger.Warn().Err(err).Msg("encode cached recommendations failed")
		return
	}
	index := userIndexKey(userID)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, payload, c.ttl)
		pipe.SAdd(ctx, index, key)
		pipe.Expire(ctx, index, c.ttl)
		return nil
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("recommendation cache write failed")
	}
}

// Invalidate drops every cached response of a user.
func (c *CachedRecommender) Invalidate(ctx context.Context, userID int64) {
	if c == nil || c.client == nil {
		return
	}
	index := userIndexKey(userID)
	keys, err := c.client.SMembers(ctx, index).Result()
	if err != nil {
		c.logger.Warn().Err(err).Int64("user_id", userID).Msg("recommendation cache invalidation failed")
		return
	}
	keys = append(keys, index)
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn().Err(err).Int64("user_id", userID).Msg("recommendation cache invalidation failed")
	}
}

// CatalogChanged retires every cached list after an event write.
func (c *CachedRecommender) CatalogChanged(ctx context.Context) {
	if c == nil || c.client == nil {
		return
	}
	if err := BumpCatalogGeneration(ctx, c.client); err != nil {
		c.logger.Warn().Err(err).Msg("recommendation cache invalidation failed")
	}
}

func (c *CachedRecommender) catalogGeneration(ctx context.Context) (int64, error) {
	generation, err := c.client.Get(ctx, catalogGenerationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return generation, err
}

func (c *CachedRecommender) modelVersion() string {
	if c.models == nil {
		return "none"
	}
	return c.models.Current().Version()
}

func cacheKey(req Request, modelVersion string, catalogGeneration int64) string {
	return fmt.Sprintf(
		"rec:user:%d:k:%d:c:%d:w:%.4f:%.4f:m:%s:g:%d",
		req.UserID,
		req.TopK,
		req.MaxPerCluster,
		req.SimilarityWeight,
		req.TagWeight,
		modelVersion,
		catalogGeneration,
	)
}

func userIndexKey(userID int64) string {
	return fmt.Sprintf("rec:user:%d:keys", userID)
}

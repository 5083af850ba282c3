package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// ErrInvalidWeights is returned when the default blend weights do not sum to 1.
var ErrInvalidWeights = errors.New("RECOMMEND_SIMILARITY_WEIGHT + RECOMMEND_TAG_WEIGHT must equal 1")

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"8"`

	ModelPath            string        `envconfig:"MODEL_PATH" default:"models/similarity.json"`
	ModelBuildWorkers    int           `envconfig:"MODEL_BUILD_WORKERS" default:"0"`
	ModelRebuildInterval time.Duration `envconfig:"MODEL_REBUILD_INTERVAL" default:"0s"`
	ModelRebuildDebounce time.Duration `envconfig:"MODEL_REBUILD_DEBOUNCE" default:"30s"`
	ModelRebuildTimeout  time.Duration `envconfig:"MODEL_REBUILD_TIMEOUT" default:"5m"`

	ClusterTableFile string `envconfig:"CLUSTER_TABLE_FILE" default:""`

	RecommendTopK              int     `envconfig:"RECOMMEND_TOP_K" default:"15"`
	RecommendMaxTopK           int     `envconfig:"RECOMMEND_MAX_TOP_K" default:"100"`
	RecommendMaxPerCluster     int     `envconfig:"RECOMMEND_MAX_PER_CLUSTER" default:"2"`
	RecommendSimilarityWeight  float64 `envconfig:"RECOMMEND_SIMILARITY_WEIGHT" default:"0.75"`
	RecommendTagWeight         float64 `envconfig:"RECOMMEND_TAG_WEIGHT" default:"0.25"`
	RecommendMinInteractions   int     `envconfig:"RECOMMEND_MIN_INTERACTIONS" default:"3"`
	RecommendInteractedPenalty float64 `envconfig:"RECOMMEND_INTERACTED_PENALTY" default:"0.3"`
	RecommendTagClickWeight    float64 `envconfig:"RECOMMEND_TAG_CLICK_WEIGHT" default:"2.0"`
	RecommendImplicitTagWeight float64 `envconfig:"RECOMMEND_IMPLICIT_TAG_WEIGHT" default:"1.0"`
	RecommendSeed              int64   `envconfig:"RECOMMEND_SEED" default:"0"`

	InteractionWeightView     float64 `envconfig:"INTERACTION_WEIGHT_VIEW" default:"1"`
	InteractionWeightTagClick float64 `envconfig:"INTERACTION_WEIGHT_TAG_CLICK" default:"2"`
	InteractionWeightRegister float64 `envconfig:"INTERACTION_WEIGHT_REGISTER" default:"5"`

	FetchTimeout            time.Duration `envconfig:"FETCH_TIMEOUT" default:"5s"`
	BreakerFailureThreshold uint32        `envconfig:"BREAKER_FAILURE_THRESHOLD" default:"5"`
	BreakerOpenTimeout      time.Duration `envconfig:"BREAKER_OPEN_TIMEOUT" default:"30s"`

	RedisAddr         string        `envconfig:"REDIS_ADDR" default:""`
	RedisPassword     string        `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB           int           `envconfig:"REDIS_DB" default:"0"`
	RecommendCacheTTL time.Duration `envconfig:"RECOMMEND_CACHE_TTL" default:"10m"`

	CORSAllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// ModelSettings is the part of Config the offline model commands need. It
// loads without DATABASE_URL.
type ModelSettings struct {
	ModelPath string `envconfig:"MODEL_PATH" default:"models/similarity.json"`
}

func LoadModelSettings() (ModelSettings, error) {
	var settings ModelSettings
	if err := envconfig.Process("", &settings); err != nil {
		return ModelSettings{}, err
	}
	if strings.TrimSpace(settings.ModelPath) == "" {
		return ModelSettings{}, fmt.Errorf("MODEL_PATH is required")
	}
	return settings, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) cannot exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if strings.TrimSpace(c.ModelPath) == "" {
		return fmt.Errorf("MODEL_PATH is required")
	}
	if c.ModelBuildWorkers < 0 {
		return fmt.Errorf("MODEL_BUILD_WORKERS must be >= 0")
	}
	if c.ModelRebuildInterval < 0 || c.ModelRebuildDebounce < 0 {
		return fmt.Errorf("MODEL_REBUILD_INTERVAL and MODEL_REBUILD_DEBOUNCE must be >= 0")
	}
	if c.ModelRebuildTimeout <= 0 {
		return fmt.Errorf("MODEL_REBUILD_TIMEOUT must be > 0")
	}
	if c.RecommendMaxTopK < 1 {
		return fmt.Errorf("RECOMMEND_MAX_TOP_K must be >= 1")
	}
	if c.RecommendTopK < 1 || c.RecommendTopK > c.RecommendMaxTopK {
		return fmt.Errorf("RECOMMEND_TOP_K must be between 1 and RECOMMEND_MAX_TOP_K (%d)", c.RecommendMaxTopK)
	}
	if c.RecommendMaxPerCluster < 1 {
		return fmt.Errorf("RECOMMEND_MAX_PER_CLUSTER must be >= 1")
	}
	if c.RecommendSimilarityWeight < 0 || c.RecommendTagWeight < 0 {
		return fmt.Errorf("RECOMMEND_SIMILARITY_WEIGHT and RECOMMEND_TAG_WEIGHT must be >= 0")
	}
	if math.Abs(c.RecommendSimilarityWeight+c.RecommendTagWeight-1) > 1e-6 {
		return ErrInvalidWeights
	}
	if c.RecommendMinInteractions < 0 {
		return fmt.Errorf("RECOMMEND_MIN_INTERACTIONS must be >= 0")
	}
	if c.RecommendInteractedPenalty < 0 || c.RecommendInteractedPenalty > 1 {
		return fmt.Errorf("RECOMMEND_INTERACTED_PENALTY must be within [0,1]")
	}
	if c.RecommendTagClickWeight < 0 || c.RecommendImplicitTagWeight < 0 {
		return fmt.Errorf("RECOMMEND_TAG_CLICK_WEIGHT and RECOMMEND_IMPLICIT_TAG_WEIGHT must be >= 0")
	}
	if c.InteractionWeightView < 0 || c.InteractionWeightTagClick < 0 || c.InteractionWeightRegister < 0 {
		return fmt.Errorf("INTERACTION_WEIGHT_* must be >= 0")
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT must be > 0")
	}
	if c.BreakerFailureThreshold < 1 {
		return fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be >= 1")
	}
	if c.RedisDB < 0 {
		return fmt.Errorf("REDIS_DB must be >= 0")
	}
	if c.RecommendCacheTTL <= 0 {
		return fmt.Errorf("RECOMMEND_CACHE_TTL must be > 0")
	}
	return nil
}

func (c *Config) CORSAllowedOriginsList() []string {
	if c == nil {
		return nil
	}

	parts := strings.Split(c.CORSAllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		if _, exists := seen[origin]; exists {
			continue
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}
	return origins
}

package config

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func validConfig() Config {
	return Config{
		Environment:                "local",
		LogLevel:                   "info",
		DatabaseURL:                "postgres://localhost:5432/eventrec",
		DBMinConns:                 1,
		DBMaxConns:                 8,
		ModelPath:                  "models/similarity.json",
		ModelRebuildDebounce:       30e9,
		ModelRebuildTimeout:        300e9,
		RecommendTopK:              15,
		RecommendMaxTopK:           100,
		RecommendMaxPerCluster:     2,
		RecommendSimilarityWeight:  0.75,
		RecommendTagWeight:         0.25,
		RecommendMinInteractions:   3,
		RecommendInteractedPenalty: 0.3,
		RecommendTagClickWeight:    2,
		RecommendImplicitTagWeight: 1,
		InteractionWeightView:      1,
		InteractionWeightTagClick:  2,
		InteractionWeightRegister:  5,
		FetchTimeout:               5e9,
		BreakerFailureThreshold:    5,
		BreakerOpenTimeout:         30e9,
		RecommendCacheTTL:          600e9,
	}
}

func TestValidate_Defaults(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to be valid: %v", err)
	}
}

func TestValidate_RejectsWeightsNotSummingToOne(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.RecommendTagWeight = 0.5
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidWeights) {
		t.Fatalf("expected ErrInvalidWeights, got %v", err)
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	t.Parallel()

	cases := map[string]func(*Config){
		"RECOMMEND_TOP_K":              func(c *Config) { c.RecommendTopK = 0 },
		"RECOMMEND_MAX_PER_CLUSTER":    func(c *Config) { c.RecommendMaxPerCluster = 0 },
		"RECOMMEND_INTERACTED_PENALTY": func(c *Config) { c.RecommendInteractedPenalty = 1.5 },
		"DB_MIN_CONNS":                 func(c *Config) { c.DBMinConns = 9 },
		"FETCH_TIMEOUT":                func(c *Config) { c.FetchTimeout = 0 },
		"MODEL_PATH":                   func(c *Config) { c.ModelPath = " " },
	}
	for field, mutate := range cases {
		cfg := validConfig()
		mutate(&cfg)
		err := cfg.Validate()
		if err == nil {
			t.Fatalf("expected %s to be rejected", field)
		}
		if !strings.Contains(err.Error(), field) {
			t.Fatalf("expected error mentioning %s, got %v", field, err)
		}
	}
}

func TestCORSAllowedOriginsList(t *testing.T) {
	t.Parallel()

	cfg := Config{CORSAllowedOrigins: " https://a.example ,https://b.example,,https://a.example"}
	want := []string{"https://a.example", "https://b.example"}
	if got := cfg.CORSAllowedOriginsList(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected origins: got %v want %v", got, want)
	}
}

func TestLoadModelSettings_WithoutDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("MODEL_PATH", "/tmp/eventrec/model.json")

	settings, err := LoadModelSettings()
	if err != nil {
		t.Fatalf("load model settings: %v", err)
	}
	if settings.ModelPath != "/tmp/eventrec/model.json" {
		t.Fatalf("unexpected model path: %q", settings.ModelPath)
	}
}

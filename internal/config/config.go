package config

import (
	"fmt"
	"os"

	"github.com/naoina/toml"
)

// Config holds all governor configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Database  DatabaseConfig  `toml:"database"`
	Pool      PoolDefaults    `toml:"pool"`
	Detector  DetectorConfig  `toml:"detector"`
	Ranking   RankingConfig   `toml:"ranking"`
	RateLimit RateLimitConfig `toml:"ratelimit"`
	Auth      AuthConfig      `toml:"auth"`
}

type ServerConfig struct {
	Bind string `toml:"bind"`
	Port int    `toml:"port"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

// PoolDefaults seeds new pools that don't override governance parameters.
// The five weights must sum to 1.0; pool creation rejects configs that don't.
type PoolDefaults struct {
	WeightReputation   float64 `toml:"weight_reputation"`
	WeightValidation   float64 `toml:"weight_validation"`
	WeightOutcome      float64 `toml:"weight_outcome"`
	WeightRecency      float64 `toml:"weight_recency"`
	WeightConsistency  float64 `toml:"weight_consistency"`
	DecayRate          float64 `toml:"decay_rate"` // lambda, per day
	BaselineReputation float64 `toml:"baseline_reputation"`
	MinConfidence      float64 `toml:"min_confidence"`
	MaxValidatorWeight float64 `toml:"max_validator_weight"`
	ConfirmQuorum      int     `toml:"confirm_quorum"`
}

// DetectorConfig tunes the poison and amplification checks.
type DetectorConfig struct {
	OutlierZ               float64 `toml:"outlier_z"`                // z-score threshold for the outlier flag
	OutlierMinSamples      int     `toml:"outlier_min_samples"`      // minimum same-class peers before z-scoring
	ContradictionThreshold int     `toml:"contradiction_threshold"`  // contradictions before a dispute transition
	NegativeOutcome        float64 `toml:"negative_outcome"`         // outcome signal below this counts as negative
	ReviewDelta            float64 `toml:"review_delta"`             // composite movement that triggers human review
	ReputationFloor        float64 `toml:"reputation_floor"`         // reputation below this triggers human review
	DiscountSlope          float64 `toml:"discount_slope"`           // correlation → discount steepness
	DiscountFloor          float64 `toml:"discount_floor"`           // minimum independence discount
	ValidateQuarantined    bool    `toml:"validate_quarantined"`     // allow validation events on quarantined artifacts
}

// RankingConfig is the default relevance weight table; queries may override
// it, but the four weights must always sum to 1.0.
type RankingConfig struct {
	WeightTask       float64 `toml:"weight_task"`
	WeightSimilarity float64 `toml:"weight_similarity"`
	WeightTrust      float64 `toml:"weight_trust"`
	WeightRecency    float64 `toml:"weight_recency"`
	MismatchStep     float64 `toml:"mismatch_step"` // classification score lost per level of mismatch
	MaxResults       int     `toml:"max_results"`
}

type RateLimitConfig struct {
	PerMinute int `toml:"per_minute"` // sustained operations per agent per minute
	Burst     int `toml:"burst"`
}

// AuthConfig maps bearer tokens to agent identities. Empty means every
// caller is accepted as whoever X-Agent-ID claims (development mode).
type AuthConfig struct {
	Tokens map[string]string `toml:"tokens"` // token -> agent_id
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37740,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		Pool: PoolDefaults{
			WeightReputation:   0.30,
			WeightValidation:   0.25,
			WeightOutcome:      0.25,
			WeightRecency:      0.10,
			WeightConsistency:  0.10,
			DecayRate:          0.01,
			BaselineReputation: 0.5,
			MinConfidence:      0.3,
			MaxValidatorWeight: 1.0,
			ConfirmQuorum:      2,
		},
		Detector: DetectorConfig{
			OutlierZ:               3.0,
			OutlierMinSamples:      5,
			ContradictionThreshold: 3,
			NegativeOutcome:        0.4,
			ReviewDelta:            0.2,
			ReputationFloor:        0.2,
			DiscountSlope:          0.6,
			DiscountFloor:          0.1,
			ValidateQuarantined:    false,
		},
		Ranking: RankingConfig{
			WeightTask:       0.35,
			WeightSimilarity: 0.25,
			WeightTrust:      0.30,
			WeightRecency:    0.10,
			MismatchStep:     0.15,
			MaxResults:       10,
		},
		RateLimit: RateLimitConfig{
			PerMinute: 120,
			Burst:     30,
		},
	}
}

// Load reads a TOML config file over the defaults. A missing file is not an
// error; the defaults apply.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}

package domain

import (
	"math"
	"time"
)

// weightSumTolerance is the floating-point tolerance for the base-weight
// and normalized-weight sum invariants.
const weightSumTolerance = 1e-9

// Config holds the complete Harrier configuration. Loaded once at startup
// and validated before anything is served; reloads go through the same
// validation.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Scoring pipeline settings
	Scoring ScoringConfig `json:"scoring"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// External collaborators
	Collaborators CollaboratorConfig `json:"collaborators"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// DecisionThresholds maps final scores to categorical outcomes.
// Boundaries are half-open: score < Review approves, Review <= score <
// Block reviews, score >= Block blocks.
type DecisionThresholds struct {
	Review float64 `json:"review"`
	Block  float64 `json:"block"`
}

// FeatureDefaults are the per-feature fallback values substituted when a
// dependency is unavailable.
type FeatureDefaults struct {
	Velocity           float64 `json:"velocity"`
	AmountDeviation    float64 `json:"amount_deviation"`
	BeneficiaryNovelty float64 `json:"beneficiary_novelty"`
	DeviceConsistency  float64 `json:"device_consistency"`
	TemporalAnomaly    float64 `json:"temporal_anomaly"`
}

// ScoringConfig holds the scoring pipeline settings.
type ScoringConfig struct {
	// BaseWeights are the process-wide fixed weights blended with
	// corridor multipliers. Must sum to 1.0.
	BaseWeights WeightVector `json:"baseWeights"`

	Thresholds DecisionThresholds `json:"thresholds"`

	// MaterialityFloor is the minimum contribution for a feature to rank
	// as a primary factor.
	MaterialityFloor float64 `json:"materialityFloor"`

	// MitigatingCeiling is the maximum contribution for a feature to
	// rank as a mitigating factor.
	MitigatingCeiling float64 `json:"mitigatingCeiling"`

	// Degraded-dependency fallbacks.
	Defaults FeatureDefaults `json:"defaults"`

	// SimilarityFloor is the minimum similarity for inheriting a
	// profile from another corridor.
	SimilarityFloor float64 `json:"similarityFloor"`

	// Infrastructure adjustment rule.
	InfraHealthThreshold float64       `json:"infraHealthThreshold"`
	InfraAdjustment      float64       `json:"infraAdjustment"`
	InfraWindow          time.Duration `json:"infraWindow"`

	// LookupTimeout bounds each external lookup, tied to the overall
	// per-request latency budget (target P99 < 200ms).
	LookupTimeout time.Duration `json:"lookupTimeout"`
}

// CollaboratorConfig holds settings for external data sources.
type CollaboratorConfig struct {
	// SenderHistoryURL is the sender history service endpoint; empty
	// means the repository-backed mirror is used.
	SenderHistoryURL string `json:"senderHistoryURL"`

	// InfraFeedURL is the infrastructure status feed endpoint; empty
	// means a static all-healthy feed (dev/test).
	InfraFeedURL string `json:"infraFeedURL"`

	// Circuit breaker settings for HTTP collaborators.
	BreakerMaxFailures uint32        `json:"breakerMaxFailures"`
	BreakerTimeout     time.Duration `json:"breakerTimeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
	Endpoint    string `json:"endpoint"`
}

// DefaultConfig returns the default single-node configuration:
// SQLite + in-memory cache + channel bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Scoring: ScoringConfig{
			BaseWeights: WeightVector{
				Velocity:           0.25,
				AmountDeviation:    0.20,
				BeneficiaryNovelty: 0.25,
				DeviceConsistency:  0.20,
				TemporalAnomaly:    0.10,
			},
			Thresholds: DecisionThresholds{
				Review: 0.3,
				Block:  0.6,
			},
			MaterialityFloor:  0.1,
			MitigatingCeiling: 0.02,
			Defaults: FeatureDefaults{
				Velocity:           0.0,
				AmountDeviation:    0.0,
				BeneficiaryNovelty: 0.3,
				DeviceConsistency:  0.4,
				TemporalAnomaly:    0.0,
			},
			SimilarityFloor:      0.5,
			InfraHealthThreshold: 0.7,
			InfraAdjustment:      -0.3,
			InfraWindow:          time.Hour,
			LookupTimeout:        100 * time.Millisecond,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./harrier.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Collaborators: CollaboratorConfig{
			BreakerMaxFailures: 5,
			BreakerTimeout:     30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "harrier",
		},
	}
}

// ProConfig returns a distributed configuration:
// PostgreSQL + Redis two-phase cache + NATS.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "harrier",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}

// Validate rejects configuration that must never be activated. Called once
// at startup and on every reload; a failure here is fatal, never surfaced
// mid-request.
func (c *Config) Validate() error {
	return c.Scoring.Validate()
}

// Validate checks the scoring invariants.
func (s *ScoringConfig) Validate() error {
	if math.Abs(s.BaseWeights.Sum()-1.0) > weightSumTolerance {
		return &ConfigurationInvariantError{
			Subject: "base weights",
			Reason:  "must sum to 1.0",
		}
	}
	for _, w := range s.BaseWeights.Values() {
		if w < 0 {
			return &ConfigurationInvariantError{
				Subject: "base weights",
				Reason:  "must be non-negative",
			}
		}
	}
	if s.Thresholds.Review <= 0 || s.Thresholds.Block <= s.Thresholds.Review {
		return &ConfigurationInvariantError{
			Subject: "decision thresholds",
			Reason:  "must satisfy 0 < review < block",
		}
	}
	if s.InfraAdjustment > 0 {
		return &ConfigurationInvariantError{
			Subject: "infrastructure adjustment",
			Reason:  "must not increase risk",
		}
	}
	if s.SimilarityFloor < 0 || s.SimilarityFloor > 1 {
		return &ConfigurationInvariantError{
			Subject: "similarity floor",
			Reason:  "must be in [0,1]",
		}
	}
	return nil
}

// WeightSumTolerance exposes the invariant tolerance for tests and the
// weight adjuster.
func WeightSumTolerance() float64 { return weightSumTolerance }

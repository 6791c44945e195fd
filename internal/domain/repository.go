// Package domain defines the core interfaces and types for Harrier.
package domain

import (
	"context"
	"time"
)

// StoredProfile is a persisted profile version with its paired multiplier
// set. At most one version per corridor is active at a time.
type StoredProfile struct {
	Corridor    string
	Version     string
	Profile     *CorridorProfile
	Multipliers MultiplierSet
	Active      bool
	CreatedAt   time.Time
}

// PolicyRule is a decision override rule: a CEL expression evaluated against
// a completed score result that may escalate the decision. Overrides only
// ever tighten a decision, never relax one.
type PolicyRule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Tier restricts the rule to corridors of that tier; 0 means all.
	Tier int `json:"tier"`

	// Expression is a CEL expression over the score result returning bool.
	Expression string `json:"expression"`

	// Escalate is the decision to escalate to when the expression holds.
	Escalate string `json:"escalate"`

	Enabled bool `json:"enabled"`
}

// Repository defines the interface for data persistence: versioned corridor
// profiles, baseline offsets, sender history, policy rules and score-result
// audit records.
type Repository interface {
	// Profile versions
	SaveProfile(ctx context.Context, stored *StoredProfile) error
	GetActiveProfile(ctx context.Context, corridor string) (*StoredProfile, error)
	ListActiveProfiles(ctx context.Context) ([]*StoredProfile, error)
	ListProfileVersions(ctx context.Context, corridor string, limit int) ([]*StoredProfile, error)
	ActivateProfile(ctx context.Context, corridor, version string) error

	// Baseline offsets
	SaveBaseline(ctx context.Context, corridor string, offset float64) error
	GetBaseline(ctx context.Context, corridor string) (float64, error)

	// Sender history (external-owned data mirrored for lookup)
	GetSenderHistory(ctx context.Context, senderID string) (*SenderHistorySnapshot, error)
	SaveSenderHistory(ctx context.Context, snapshot *SenderHistorySnapshot) error

	// Policy rules
	SavePolicyRule(ctx context.Context, rule *PolicyRule) error
	ListPolicyRules(ctx context.Context) ([]*PolicyRule, error)

	// Score result audit
	SaveResult(ctx context.Context, result *ScoreResult) error
	GetResult(ctx context.Context, resultID string) (*ScoreResult, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

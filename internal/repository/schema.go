package repository

// Schema definitions for the Harrier database.
// Compatible with both SQLite and PostgreSQL.

const schemaCorridorProfiles = `
CREATE TABLE IF NOT EXISTS corridor_profiles (
    corridor TEXT NOT NULL,
    version TEXT NOT NULL,
    tier INTEGER NOT NULL,
    profile TEXT NOT NULL,
    multipliers TEXT NOT NULL,
    active INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (corridor, version)
);

CREATE INDEX IF NOT EXISTS idx_corridor_profiles_active ON corridor_profiles(corridor, active);
`

const schemaCorridorBaselines = `
CREATE TABLE IF NOT EXISTS corridor_baselines (
    corridor TEXT PRIMARY KEY,
    offset_value REAL NOT NULL DEFAULT 0,
    updated_at TIMESTAMP NOT NULL
);
`

const schemaSenderHistory = `
CREATE TABLE IF NOT EXISTS sender_history (
    sender_id TEXT PRIMARY KEY,
    beneficiaries TEXT NOT NULL,
    devices TEXT NOT NULL,
    account_age_days INTEGER NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

const schemaPolicyRules = `
CREATE TABLE IF NOT EXISTS policy_rules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    tier INTEGER NOT NULL DEFAULT 0,
    expression TEXT NOT NULL,
    escalate TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_policy_rules_enabled ON policy_rules(enabled);
`

const schemaScoreResults = `
CREATE TABLE IF NOT EXISTS score_results (
    id TEXT PRIMARY KEY,
    tx_id TEXT NOT NULL,
    corridor TEXT NOT NULL,
    decision TEXT NOT NULL,
    raw_score REAL NOT NULL,
    final_score REAL NOT NULL,
    degraded INTEGER NOT NULL DEFAULT 0,
    profile_version TEXT NOT NULL,
    result TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_score_results_tx ON score_results(tx_id);
CREATE INDEX IF NOT EXISTS idx_score_results_corridor ON score_results(corridor, timestamp);
CREATE INDEX IF NOT EXISTS idx_score_results_decision ON score_results(decision, timestamp);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaCorridorProfiles,
		schemaCorridorBaselines,
		schemaSenderHistory,
		schemaPolicyRules,
		schemaScoreResults,
	}
}

// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/corridorsec/harrier/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveProfile stores a profile version. Re-saving an existing version
// replaces its payload; the active flag is managed by ActivateProfile.
func (r *SQLRepository) SaveProfile(ctx context.Context, stored *domain.StoredProfile) error {
	if stored == nil || stored.Corridor == "" || stored.Version == "" {
		return fmt.Errorf("%w: corridor and version are required", ErrInvalidInput)
	}

	profileJSON, err := json.Marshal(stored.Profile)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	multipliersJSON, err := json.Marshal(stored.Multipliers)
	if err != nil {
		return fmt.Errorf("failed to marshal multipliers: %w", err)
	}

	createdAt := stored.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO corridor_profiles (corridor, version, tier, profile, multipliers, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (corridor, version) DO UPDATE SET
			tier = excluded.tier,
			profile = excluded.profile,
			multipliers = excluded.multipliers
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		stored.Corridor, stored.Version, stored.Profile.Tier,
		string(profileJSON), string(multipliersJSON),
		boolToInt(stored.Active), createdAt,
	)
	return err
}

// GetActiveProfile retrieves the active profile version for a corridor.
func (r *SQLRepository) GetActiveProfile(ctx context.Context, corridor string) (*domain.StoredProfile, error) {
	query := `
		SELECT corridor, version, profile, multipliers, active, created_at
		FROM corridor_profiles
		WHERE corridor = ? AND active = 1
	`
	return r.scanProfile(r.db.QueryRowContext(ctx, r.rebind(query), corridor))
}

// ListActiveProfiles retrieves the active profile of every corridor.
func (r *SQLRepository) ListActiveProfiles(ctx context.Context) ([]*domain.StoredProfile, error) {
	query := `
		SELECT corridor, version, profile, multipliers, active, created_at
		FROM corridor_profiles
		WHERE active = 1
		ORDER BY corridor
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.collectProfiles(rows)
}

// ListProfileVersions retrieves the stored versions for a corridor, newest
// first.
func (r *SQLRepository) ListProfileVersions(ctx context.Context, corridor string, limit int) ([]*domain.StoredProfile, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT corridor, version, profile, multipliers, active, created_at
		FROM corridor_profiles
		WHERE corridor = ?
		ORDER BY version DESC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), corridor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.collectProfiles(rows)
}

// ActivateProfile marks one version active and deactivates the rest.
func (r *SQLRepository) ActivateProfile(ctx context.Context, corridor, version string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		r.rebind(`UPDATE corridor_profiles SET active = 0 WHERE corridor = ?`),
		corridor,
	); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx,
		r.rebind(`UPDATE corridor_profiles SET active = 1 WHERE corridor = ? AND version = ?`),
		corridor, version,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: profile %s version %s", ErrNotFound, corridor, version)
	}

	return tx.Commit()
}

// SaveBaseline upserts the corridor's additive baseline offset.
func (r *SQLRepository) SaveBaseline(ctx context.Context, corridor string, offset float64) error {
	if corridor == "" {
		return fmt.Errorf("%w: corridor is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO corridor_baselines (corridor, offset_value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (corridor) DO UPDATE SET
			offset_value = excluded.offset_value,
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query), corridor, offset, time.Now().UTC())
	return err
}

// GetBaseline returns the corridor's baseline offset. Unknown corridors
// have offset 0.
func (r *SQLRepository) GetBaseline(ctx context.Context, corridor string) (float64, error) {
	query := `SELECT offset_value FROM corridor_baselines WHERE corridor = ?`

	var offset float64
	err := r.db.QueryRowContext(ctx, r.rebind(query), corridor).Scan(&offset)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return offset, nil
}

// GetSenderHistory retrieves the mirrored sender history snapshot.
func (r *SQLRepository) GetSenderHistory(ctx context.Context, senderID string) (*domain.SenderHistorySnapshot, error) {
	query := `
		SELECT sender_id, beneficiaries, devices, account_age_days
		FROM sender_history
		WHERE sender_id = ?
	`

	var snapshot domain.SenderHistorySnapshot
	var beneficiariesJSON, devicesJSON string

	err := r.db.QueryRowContext(ctx, r.rebind(query), senderID).Scan(
		&snapshot.SenderID, &beneficiariesJSON, &devicesJSON, &snapshot.AccountAgeDays,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: sender %s", ErrNotFound, senderID)
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(beneficiariesJSON), &snapshot.Beneficiaries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal beneficiaries: %w", err)
	}
	if err := json.Unmarshal([]byte(devicesJSON), &snapshot.Devices); err != nil {
		return nil, fmt.Errorf("failed to unmarshal devices: %w", err)
	}

	return &snapshot, nil
}

// SaveSenderHistory upserts a sender history snapshot.
func (r *SQLRepository) SaveSenderHistory(ctx context.Context, snapshot *domain.SenderHistorySnapshot) error {
	if snapshot == nil || snapshot.SenderID == "" {
		return fmt.Errorf("%w: senderId is required", ErrInvalidInput)
	}

	beneficiariesJSON, _ := json.Marshal(snapshot.Beneficiaries)
	devicesJSON, _ := json.Marshal(snapshot.Devices)

	query := `
		INSERT INTO sender_history (sender_id, beneficiaries, devices, account_age_days, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (sender_id) DO UPDATE SET
			beneficiaries = excluded.beneficiaries,
			devices = excluded.devices,
			account_age_days = excluded.account_age_days,
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		snapshot.SenderID, string(beneficiariesJSON), string(devicesJSON),
		snapshot.AccountAgeDays, time.Now().UTC(),
	)
	return err
}

// SavePolicyRule upserts a policy override rule.
func (r *SQLRepository) SavePolicyRule(ctx context.Context, rule *domain.PolicyRule) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO policy_rules (id, name, description, tier, expression, escalate, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			tier = excluded.tier,
			expression = excluded.expression,
			escalate = excluded.escalate,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.Tier,
		rule.Expression, rule.Escalate, boolToInt(rule.Enabled),
		now, now,
	)
	return err
}

// ListPolicyRules retrieves all stored policy rules.
func (r *SQLRepository) ListPolicyRules(ctx context.Context) ([]*domain.PolicyRule, error) {
	query := `
		SELECT id, name, description, tier, expression, escalate, enabled
		FROM policy_rules
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.PolicyRule
	for rows.Next() {
		var rule domain.PolicyRule
		var enabled int
		if err := rows.Scan(
			&rule.ID, &rule.Name, &rule.Description, &rule.Tier,
			&rule.Expression, &rule.Escalate, &enabled,
		); err != nil {
			return nil, err
		}
		rule.Enabled = enabled == 1
		rules = append(rules, &rule)
	}
	return rules, rows.Err()
}

// SaveResult stores a completed score result for audit.
func (r *SQLRepository) SaveResult(ctx context.Context, result *domain.ScoreResult) error {
	if result == nil || result.ID == "" {
		return fmt.Errorf("%w: result id is required", ErrInvalidInput)
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	query := `
		INSERT INTO score_results (id, tx_id, corridor, decision, raw_score, final_score, degraded, profile_version, result, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		result.ID, result.TxID, result.Corridor, result.Decision,
		result.RawScore, result.FinalScore, boolToInt(result.Degraded),
		result.ProfileVersion, string(resultJSON), result.Timestamp,
	)
	return err
}

// GetResult retrieves a score result by ID.
func (r *SQLRepository) GetResult(ctx context.Context, resultID string) (*domain.ScoreResult, error) {
	query := `SELECT result FROM score_results WHERE id = ?`

	var resultJSON string
	err := r.db.QueryRowContext(ctx, r.rebind(query), resultID).Scan(&resultJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: result %s", ErrNotFound, resultID)
	}
	if err != nil {
		return nil, err
	}

	var result domain.ScoreResult
	if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return &result, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func (r *SQLRepository) scanProfile(row *sql.Row) (*domain.StoredProfile, error) {
	var stored domain.StoredProfile
	var profileJSON, multipliersJSON string
	var active int

	err := row.Scan(
		&stored.Corridor, &stored.Version,
		&profileJSON, &multipliersJSON,
		&active, &stored.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	stored.Active = active == 1
	if err := json.Unmarshal([]byte(profileJSON), &stored.Profile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}
	if err := json.Unmarshal([]byte(multipliersJSON), &stored.Multipliers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal multipliers: %w", err)
	}
	return &stored, nil
}

func (r *SQLRepository) collectProfiles(rows *sql.Rows) ([]*domain.StoredProfile, error) {
	var profiles []*domain.StoredProfile
	for rows.Next() {
		var stored domain.StoredProfile
		var profileJSON, multipliersJSON string
		var active int

		if err := rows.Scan(
			&stored.Corridor, &stored.Version,
			&profileJSON, &multipliersJSON,
			&active, &stored.CreatedAt,
		); err != nil {
			return nil, err
		}

		stored.Active = active == 1
		if err := json.Unmarshal([]byte(profileJSON), &stored.Profile); err != nil {
			return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
		}
		if err := json.Unmarshal([]byte(multipliersJSON), &stored.Multipliers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal multipliers: %w", err)
		}
		profiles = append(profiles, &stored)
	}
	return profiles, rows.Err()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

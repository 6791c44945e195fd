package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/corridorsec/harrier/internal/domain"
)

func testProfile(corridor, version string) *domain.CorridorProfile {
	return &domain.CorridorProfile{
		Corridor: corridor,
		Tier:     3,
		Amount: domain.AmountDistribution{
			Median: 200, Mean: 310, Std: 420,
			P25: 90, P75: 450, P95: 1200, P99: 3500,
			Min: 5, Max: 9800,
		},
		Velocity: domain.VelocityDistribution{
			Median24h: 2, Mean24h: 2.7, P9524h: 8,
		},
		Temporal: domain.TemporalPatterns{
			PeakHours: []int{9, 10, 11, 17, 18, 19},
			PeakDays:  []int{1, 5, 6},
		},
		Population: domain.PopulationStats{
			TransactionCount: 48211,
			UniqueSenders:    9300,
		},
		AvgBeneficiariesPerSender: 2.4,
		AvgDeviceChangeRate:       0.02,
		BaselineFraudRate:         0.031,
		Version:                   version,
		ProfileDate:               time.Now().UTC(),
		DataWindowDays:            90,
	}
}

func TestSQLiteRepository(t *testing.T) {
	// Create temp database file
	tmpFile, err := os.CreateTemp("", "harrier-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	cfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	}

	repo, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndActivateProfile", func(t *testing.T) {
		stored := &domain.StoredProfile{
			Corridor:    "GBP_NGN",
			Version:     "2026-W34",
			Profile:     testProfile("GBP_NGN", "2026-W34"),
			Multipliers: domain.DefaultMultipliers(),
		}

		if err := repo.SaveProfile(ctx, stored); err != nil {
			t.Fatalf("SaveProfile failed: %v", err)
		}
		if err := repo.ActivateProfile(ctx, "GBP_NGN", "2026-W34"); err != nil {
			t.Fatalf("ActivateProfile failed: %v", err)
		}

		active, err := repo.GetActiveProfile(ctx, "GBP_NGN")
		if err != nil {
			t.Fatalf("GetActiveProfile failed: %v", err)
		}
		if active.Version != "2026-W34" {
			t.Errorf("expected version 2026-W34, got %s", active.Version)
		}
		if active.Profile.Tier != 3 {
			t.Errorf("expected tier 3, got %d", active.Profile.Tier)
		}
		if active.Profile.Amount.P95 != 1200 {
			t.Errorf("expected p95 1200, got %g", active.Profile.Amount.P95)
		}
	})

	t.Run("ActivateSwitchesVersions", func(t *testing.T) {
		next := &domain.StoredProfile{
			Corridor:    "GBP_NGN",
			Version:     "2026-W35",
			Profile:     testProfile("GBP_NGN", "2026-W35"),
			Multipliers: domain.MultiplierSet{Velocity: 1.4, AmountDeviation: 1.0, BeneficiaryNovelty: 1.2, DeviceConsistency: 1.0, TemporalAnomaly: 0.8},
		}
		if err := repo.SaveProfile(ctx, next); err != nil {
			t.Fatalf("SaveProfile failed: %v", err)
		}
		if err := repo.ActivateProfile(ctx, "GBP_NGN", "2026-W35"); err != nil {
			t.Fatalf("ActivateProfile failed: %v", err)
		}

		active, err := repo.GetActiveProfile(ctx, "GBP_NGN")
		if err != nil {
			t.Fatalf("GetActiveProfile failed: %v", err)
		}
		if active.Version != "2026-W35" {
			t.Errorf("expected active version 2026-W35, got %s", active.Version)
		}
		if active.Multipliers.Velocity != 1.4 {
			t.Errorf("expected velocity multiplier 1.4, got %g", active.Multipliers.Velocity)
		}

		versions, err := repo.ListProfileVersions(ctx, "GBP_NGN", 10)
		if err != nil {
			t.Fatalf("ListProfileVersions failed: %v", err)
		}
		if len(versions) != 2 {
			t.Fatalf("expected 2 versions, got %d", len(versions))
		}
		// Newest first
		if versions[0].Version != "2026-W35" {
			t.Errorf("expected newest version first, got %s", versions[0].Version)
		}
	})

	t.Run("ActivateUnknownVersion", func(t *testing.T) {
		err := repo.ActivateProfile(ctx, "GBP_NGN", "2026-W99")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("ListActiveProfiles", func(t *testing.T) {
		other := &domain.StoredProfile{
			Corridor:    "USD_MXN",
			Version:     "2026-W35",
			Profile:     testProfile("USD_MXN", "2026-W35"),
			Multipliers: domain.DefaultMultipliers(),
		}
		if err := repo.SaveProfile(ctx, other); err != nil {
			t.Fatalf("SaveProfile failed: %v", err)
		}
		if err := repo.ActivateProfile(ctx, "USD_MXN", "2026-W35"); err != nil {
			t.Fatalf("ActivateProfile failed: %v", err)
		}

		profiles, err := repo.ListActiveProfiles(ctx)
		if err != nil {
			t.Fatalf("ListActiveProfiles failed: %v", err)
		}
		if len(profiles) != 2 {
			t.Errorf("expected 2 active profiles, got %d", len(profiles))
		}
	})

	t.Run("Baselines", func(t *testing.T) {
		// Unknown corridor reads as 0
		offset, err := repo.GetBaseline(ctx, "EUR_TRY")
		if err != nil {
			t.Fatalf("GetBaseline failed: %v", err)
		}
		if offset != 0 {
			t.Errorf("expected 0 for unknown corridor, got %g", offset)
		}

		if err := repo.SaveBaseline(ctx, "GBP_NGN", 0.05); err != nil {
			t.Fatalf("SaveBaseline failed: %v", err)
		}
		offset, _ = repo.GetBaseline(ctx, "GBP_NGN")
		if offset != 0.05 {
			t.Errorf("expected 0.05, got %g", offset)
		}

		// Upsert replaces
		if err := repo.SaveBaseline(ctx, "GBP_NGN", 0.08); err != nil {
			t.Fatalf("SaveBaseline upsert failed: %v", err)
		}
		offset, _ = repo.GetBaseline(ctx, "GBP_NGN")
		if offset != 0.08 {
			t.Errorf("expected 0.08 after upsert, got %g", offset)
		}
	})

	t.Run("SenderHistory", func(t *testing.T) {
		snapshot := &domain.SenderHistorySnapshot{
			SenderID:       "sender-001",
			Beneficiaries:  []string{"ben-1", "ben-2"},
			Devices:        []string{"dev-a"},
			AccountAgeDays: 180,
		}

		if err := repo.SaveSenderHistory(ctx, snapshot); err != nil {
			t.Fatalf("SaveSenderHistory failed: %v", err)
		}

		retrieved, err := repo.GetSenderHistory(ctx, "sender-001")
		if err != nil {
			t.Fatalf("GetSenderHistory failed: %v", err)
		}
		if len(retrieved.Beneficiaries) != 2 {
			t.Errorf("expected 2 beneficiaries, got %d", len(retrieved.Beneficiaries))
		}
		if !retrieved.KnowsDevice("dev-a") {
			t.Error("expected device dev-a to be known")
		}

		_, err = repo.GetSenderHistory(ctx, "nonexistent")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("PolicyRules", func(t *testing.T) {
		rule := &domain.PolicyRule{
			ID:         "rule-001",
			Name:       "high-tier-degraded-review",
			Tier:       4,
			Expression: `degraded && score >= 0.25`,
			Escalate:   domain.DecisionReview,
			Enabled:    true,
		}

		if err := repo.SavePolicyRule(ctx, rule); err != nil {
			t.Fatalf("SavePolicyRule failed: %v", err)
		}

		rules, err := repo.ListPolicyRules(ctx)
		if err != nil {
			t.Fatalf("ListPolicyRules failed: %v", err)
		}
		if len(rules) != 1 {
			t.Fatalf("expected 1 rule, got %d", len(rules))
		}
		if rules[0].Escalate != domain.DecisionReview {
			t.Errorf("expected escalate REVIEW, got %s", rules[0].Escalate)
		}
		if !rules[0].Enabled {
			t.Error("expected rule to be enabled")
		}
	})

	t.Run("SaveAndGetResult", func(t *testing.T) {
		result := &domain.ScoreResult{
			ID:             "res-001",
			TxID:           "tx-001",
			Corridor:       "GBP_NGN",
			RawScore:       0.41,
			FinalScore:     0.46,
			Decision:       domain.DecisionReview,
			ProfileVersion: "2026-W35",
			Timestamp:      time.Now().UTC(),
		}

		if err := repo.SaveResult(ctx, result); err != nil {
			t.Fatalf("SaveResult failed: %v", err)
		}

		retrieved, err := repo.GetResult(ctx, "res-001")
		if err != nil {
			t.Fatalf("GetResult failed: %v", err)
		}
		if retrieved.Decision != domain.DecisionReview {
			t.Errorf("expected REVIEW, got %s", retrieved.Decision)
		}
		if retrieved.FinalScore != 0.46 {
			t.Errorf("expected final score 0.46, got %g", retrieved.FinalScore)
		}

		_, err = repo.GetResult(ctx, "nonexistent")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

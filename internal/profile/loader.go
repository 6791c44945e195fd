package profile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/corridorsec/harrier/internal/domain"
)

// Load builds a profile repository from the active profiles in persistent
// storage. An empty store yields an empty (but valid) snapshot; every
// lookup against it fails with MissingProfileError until profiles are
// published.
func Load(ctx context.Context, store domain.Repository, similarityFloor float64) (*Repository, error) {
	stored, err := store.ListActiveProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active profiles: %w", err)
	}

	snap, err := NewSnapshot(stored)
	if err != nil {
		return nil, err
	}

	slog.Info("profile snapshot loaded", "corridors", len(stored))
	return NewRepository(snap, similarityFloor), nil
}

// Reload rebuilds the snapshot from storage and swaps it in atomically.
// On validation failure the previous snapshot stays live.
func Reload(ctx context.Context, store domain.Repository, repo *Repository) (int, error) {
	stored, err := store.ListActiveProfiles(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list active profiles: %w", err)
	}

	snap, err := NewSnapshot(stored)
	if err != nil {
		return 0, err
	}

	repo.Swap(snap)
	slog.Info("profile snapshot reloaded", "corridors", len(stored))
	return len(stored), nil
}

// Publish validates and persists a new profile version, activates it, and
// swaps a fresh snapshot in. Versions are ISO-week strings; a version that
// does not sort after the active one is rejected so replays can never roll
// a corridor backwards.
func Publish(ctx context.Context, store domain.Repository, repo *Repository, stored *domain.StoredProfile) error {
	if stored == nil || stored.Profile == nil {
		return &domain.ConfigurationInvariantError{
			Subject: "profile publish",
			Reason:  "profile body is required",
		}
	}

	if err := ValidateProfile(stored.Profile); err != nil {
		return err
	}
	mult := stored.Multipliers.FillDefaults()
	if err := mult.Validate(); err != nil {
		return fmt.Errorf("corridor %s: %w", stored.Corridor, err)
	}
	stored.Multipliers = mult

	current, err := store.GetActiveProfile(ctx, stored.Corridor)
	if err == nil && current != nil {
		if stored.Version <= current.Version {
			return &domain.ConfigurationInvariantError{
				Subject: "profile " + stored.Corridor,
				Reason: fmt.Sprintf("version %s does not advance active version %s",
					stored.Version, current.Version),
			}
		}
		CheckDrift(current.Profile, stored.Profile)
	}

	stored.Active = true
	if err := store.SaveProfile(ctx, stored); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	if err := store.ActivateProfile(ctx, stored.Corridor, stored.Version); err != nil {
		return fmt.Errorf("failed to activate profile: %w", err)
	}

	if _, err := Reload(ctx, store, repo); err != nil {
		return err
	}

	slog.Info("profile published",
		"corridor", stored.Corridor,
		"version", stored.Version,
		"tier", stored.Profile.Tier,
	)
	return nil
}

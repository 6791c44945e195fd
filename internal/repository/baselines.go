package repository

import (
	"context"

	"github.com/corridorsec/harrier/internal/domain"
)

// BaselineStore adapts the repository's baseline table to
// domain.CorridorBaselineStore for the scoring path.
type BaselineStore struct {
	repo domain.Repository
}

// NewBaselineStore creates a baseline store backed by the repository.
func NewBaselineStore(repo domain.Repository) *BaselineStore {
	return &BaselineStore{repo: repo}
}

// Baseline returns the corridor's additive offset; 0 for unknown corridors.
func (s *BaselineStore) Baseline(ctx context.Context, corridorID string) (float64, error) {
	return s.repo.GetBaseline(ctx, corridorID)
}

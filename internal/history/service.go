// Package history provides sender history lookups and the 24h velocity
// counter consulted by the feature extractor.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/corridorsec/harrier/internal/domain"
)

// RepositoryService serves sender history from the locally mirrored store.
// The mirror is owned by the external history pipeline; the core only
// reads it.
type RepositoryService struct {
	repo domain.Repository
}

// NewRepositoryService creates a repository-backed history service.
func NewRepositoryService(repo domain.Repository) *RepositoryService {
	return &RepositoryService{repo: repo}
}

// Get returns the sender's history snapshot.
func (s *RepositoryService) Get(ctx context.Context, senderID string) (*domain.SenderHistorySnapshot, error) {
	if senderID == "" {
		return nil, fmt.Errorf("senderID is required")
	}
	return s.repo.GetSenderHistory(ctx, senderID)
}

// HTTPService fetches sender history from an upstream service, protected
// by a circuit breaker so a failing upstream degrades features quickly
// instead of burning the request latency budget.
type HTTPService struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPService creates a breaker-protected history client.
func NewHTTPService(baseURL string, cfg domain.CollaboratorConfig) *HTTPService {
	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	timeout := cfg.BreakerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "sender-history",
		Timeout: timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
	})

	return &HTTPService{
		baseURL: baseURL,
		client:  &http.Client{},
		breaker: breaker,
	}
}

// Get fetches the sender's history snapshot from the upstream service.
func (s *HTTPService) Get(ctx context.Context, senderID string) (*domain.SenderHistorySnapshot, error) {
	result, err := s.breaker.Execute(func() (interface{}, error) {
		url := fmt.Sprintf("%s/senders/%s/history", s.baseURL, senderID)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("history service returned %d", resp.StatusCode)
		}

		var snapshot domain.SenderHistorySnapshot
		if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
			return nil, fmt.Errorf("failed to decode history: %w", err)
		}
		snapshot.SenderID = senderID
		return &snapshot, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.SenderHistorySnapshot), nil
}

// VelocityCounter tracks per-sender transaction counts over a rolling
// window using the cache's atomic windowed counters.
type VelocityCounter struct {
	cache domain.Cache
}

// NewVelocityCounter creates a cache-backed velocity counter.
func NewVelocityCounter(cache domain.Cache) *VelocityCounter {
	return &VelocityCounter{cache: cache}
}

// Observe records one transaction for the sender in the given window.
func (v *VelocityCounter) Observe(ctx context.Context, senderID string, window time.Duration) error {
	_, err := v.cache.IncrementCounter(ctx, velocityKey(senderID), window)
	return err
}

// Count returns the sender's transaction count in the trailing window.
// Satisfies domain.VelocityGetter.
func (v *VelocityCounter) Count(ctx context.Context, senderID string, window time.Duration) (int64, error) {
	if senderID == "" {
		return 0, fmt.Errorf("senderID is required")
	}
	return v.cache.GetCounter(ctx, velocityKey(senderID))
}

func velocityKey(senderID string) string {
	return "velocity:" + senderID
}

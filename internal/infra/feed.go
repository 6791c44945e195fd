package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/corridorsec/harrier/internal/domain"
)

// HTTPFeed fetches corridor infrastructure status from an upstream HTTP
// service. Calls run through a circuit breaker: a tripped breaker fails
// fast and the monitor degrades to stale or absent status the same way it
// does on timeout.
type HTTPFeed struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPFeed creates a breaker-protected status feed client.
func NewHTTPFeed(baseURL string, cfg domain.CollaboratorConfig) *HTTPFeed {
	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	timeout := cfg.BreakerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "infrastructure-feed",
		Timeout: timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
	})

	return &HTTPFeed{
		baseURL: baseURL,
		client:  &http.Client{},
		breaker: breaker,
	}
}

// Get fetches the status for a corridor over the given rolling window.
func (f *HTTPFeed) Get(ctx context.Context, corridorID string, window time.Duration) (*domain.InfrastructureStatus, error) {
	result, err := f.breaker.Execute(func() (interface{}, error) {
		url := fmt.Sprintf("%s/corridors/%s/status?window=%d", f.baseURL, corridorID, int(window.Seconds()))
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("infrastructure feed returned %d", resp.StatusCode)
		}

		var status domain.InfrastructureStatus
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			return nil, fmt.Errorf("failed to decode status: %w", err)
		}
		status.Corridor = corridorID
		return &status, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.InfrastructureStatus), nil
}

// StaticFeed reports every corridor as fully healthy. Used for
// single-node deployments without a status feed, and in tests.
type StaticFeed struct{}

// Get returns a healthy status for the corridor.
func (StaticFeed) Get(ctx context.Context, corridorID string, window time.Duration) (*domain.InfrastructureStatus, error) {
	now := time.Now().UTC()
	return &domain.InfrastructureStatus{
		Corridor:    corridorID,
		WindowStart: now.Add(-window),
		WindowEnd:   now,
		Health:      1.0,
	}, nil
}

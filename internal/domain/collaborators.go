package domain

import (
	"context"
	"time"
)

// SenderHistorySnapshot is the sender's known behaviour, owned by an
// external service and read-only to the core.
type SenderHistorySnapshot struct {
	SenderID       string   `json:"senderId"`
	Beneficiaries  []string `json:"beneficiaries"`
	Devices        []string `json:"devices"`
	AccountAgeDays int      `json:"accountAgeDays"`
}

// KnowsBeneficiary reports whether the beneficiary has been seen before.
func (s *SenderHistorySnapshot) KnowsBeneficiary(id string) bool {
	for _, b := range s.Beneficiaries {
		if b == id {
			return true
		}
	}
	return false
}

// KnowsDevice reports whether the device fingerprint has been seen before.
func (s *SenderHistorySnapshot) KnowsDevice(fingerprint string) bool {
	for _, d := range s.Devices {
		if d == fingerprint {
			return true
		}
	}
	return false
}

// SenderHistoryService supplies sender history snapshots. Lookups carry a
// bounded timeout; on timeout callers degrade to defaults rather than fail.
type SenderHistoryService interface {
	Get(ctx context.Context, senderID string) (*SenderHistorySnapshot, error)
}

// VelocityGetter returns the count of a sender's transactions in the
// trailing window.
type VelocityGetter func(ctx context.Context, senderID string, window time.Duration) (int64, error)

// VelocityObserver records a scored transaction against the sender's
// rolling velocity window.
type VelocityObserver interface {
	Observe(ctx context.Context, senderID string, window time.Duration) error
}

// Infrastructure error classes reported by the status feed.
const (
	ErrorClassTimeout     = "timeout"
	ErrorClassRejection   = "rejection"
	ErrorClassUnavailable = "unavailable"
)

// InfrastructureStatus is a point-in-time read of payment-rail health for a
// corridor over a rolling window. Never cached beyond its stated window.
type InfrastructureStatus struct {
	Corridor    string    `json:"corridor"`
	WindowStart time.Time `json:"windowStart"`
	WindowEnd   time.Time `json:"windowEnd"`
	Health      float64   `json:"health"` // [0,1], 1 = fully healthy
	CommonError string    `json:"commonError,omitempty"`
	FetchedAt   time.Time `json:"fetchedAt"`

	// Stale marks a status served past its window because a fresh fetch
	// was unavailable.
	Stale bool `json:"stale,omitempty"`
}

// InfrastructureStatusFeed is the upstream source of rail health data.
type InfrastructureStatusFeed interface {
	Get(ctx context.Context, corridorID string, window time.Duration) (*InfrastructureStatus, error)
}

// CorridorBaselineStore supplies the fixed per-corridor additive offset
// applied after feature scoring. Unknown corridors have offset 0.
type CorridorBaselineStore interface {
	Baseline(ctx context.Context, corridorID string) (float64, error)
}

// DecisionRecord is the per-decision record emitted to monitoring for
// downstream aggregation. The core only emits these; it computes no rolling
// metrics itself.
type DecisionRecord struct {
	ResultID  string             `json:"resultId"`
	TxID      string             `json:"txId"`
	Corridor  string             `json:"corridor"`
	Decision  string             `json:"decision"`
	Score     float64            `json:"score"`
	Features  map[string]float64 `json:"features"`
	Weights   map[string]float64 `json:"weights"`
	Degraded  bool               `json:"degraded"`
	LatencyMs int64              `json:"latencyMs"`
	Timestamp time.Time          `json:"timestamp"`
}

// MonitoringSink receives per-decision records. Implementations must not
// block the scoring path.
type MonitoringSink interface {
	Record(ctx context.Context, rec *DecisionRecord)
}

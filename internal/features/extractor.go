// Package features computes the five normalized risk signals for a
// transaction against its corridor profile.
package features

import (
	"context"
	"log/slog"
	"time"

	"github.com/corridorsec/harrier/internal/domain"
)

// Extractor computes feature scores, consulting sender history and the
// velocity counter. Each upstream lookup carries a bounded timeout; an
// unavailable dependency degrades the affected features to configured
// defaults instead of failing the scoring call.
type Extractor struct {
	history  domain.SenderHistoryService
	velocity domain.VelocityGetter
	defaults domain.FeatureDefaults
	timeout  time.Duration
}

// New creates a feature extractor.
func New(history domain.SenderHistoryService, velocity domain.VelocityGetter, defaults domain.FeatureDefaults, lookupTimeout time.Duration) *Extractor {
	if lookupTimeout <= 0 {
		lookupTimeout = 100 * time.Millisecond
	}
	return &Extractor{
		history:  history,
		velocity: velocity,
		defaults: defaults,
		timeout:  lookupTimeout,
	}
}

// Extract computes the feature vector for a transaction. The scoring
// functions themselves are pure; only the history and velocity lookups can
// fail, and failure marks the dependent features as degraded.
func (e *Extractor) Extract(ctx context.Context, tx *domain.Transaction, profile *domain.CorridorProfile) domain.FeatureVector {
	var fv domain.FeatureVector

	amount, _ := tx.Amount.Float64()
	fv.AmountDeviation = domain.FeatureScore{Value: AmountDeviationScore(amount, profile)}
	fv.TemporalAnomaly = domain.FeatureScore{Value: TemporalAnomalyScore(tx.Timestamp, profile)}

	hist, histErr := e.fetchHistory(ctx, tx.SenderID)
	if histErr != nil {
		slog.Warn("sender history unavailable, using degraded defaults",
			"sender", tx.SenderID,
			"error", histErr,
		)
		fv.BeneficiaryNovelty = domain.FeatureScore{Value: e.defaults.BeneficiaryNovelty, Degraded: true}
		fv.DeviceConsistency = domain.FeatureScore{Value: e.defaults.DeviceConsistency, Degraded: true}
	} else {
		fv.BeneficiaryNovelty = domain.FeatureScore{Value: BeneficiaryNoveltyScore(hist, tx.BeneficiaryID, profile)}
		fv.DeviceConsistency = domain.FeatureScore{Value: DeviceConsistencyScore(hist, tx.DeviceFingerprint, profile)}
	}

	count, velErr := e.fetchVelocity(ctx, tx.SenderID)
	if velErr != nil {
		slog.Warn("velocity counter unavailable, using degraded default",
			"sender", tx.SenderID,
			"error", velErr,
		)
		fv.Velocity = domain.FeatureScore{Value: e.defaults.Velocity, Degraded: true}
	} else {
		fv.Velocity = domain.FeatureScore{Value: VelocityScore(count, profile)}
	}

	return fv
}

func (e *Extractor) fetchHistory(ctx context.Context, senderID string) (*domain.SenderHistorySnapshot, error) {
	if e.history == nil {
		return nil, &domain.ExternalTimeoutError{Source: "sender history"}
	}
	lookupCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	hist, err := e.history.Get(lookupCtx, senderID)
	if err != nil {
		return nil, &domain.ExternalTimeoutError{Source: "sender history", Err: err}
	}
	return hist, nil
}

func (e *Extractor) fetchVelocity(ctx context.Context, senderID string) (int64, error) {
	if e.velocity == nil {
		return 0, &domain.ExternalTimeoutError{Source: "velocity counter"}
	}
	lookupCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	count, err := e.velocity(lookupCtx, senderID, 24*time.Hour)
	if err != nil {
		return 0, &domain.ExternalTimeoutError{Source: "velocity counter", Err: err}
	}
	return count, nil
}

// VelocityScore maps the sender's trailing 24h transaction count against
// the corridor's median velocity. At or below the median the signal is
// quiet; above it the score rises linearly with the ratio and saturates at
// five times the median.
func VelocityScore(count24h int64, profile *domain.CorridorProfile) float64 {
	median := profile.Velocity.Median24h
	if median <= 0 {
		return 0.0
	}
	ratio := float64(count24h) / median
	if ratio <= 1.0 {
		return 0.0
	}
	score := (ratio - 1.0) / 4.0
	if score > 1.0 {
		return 1.0
	}
	return score
}

// AmountDeviationScore measures how far the amount sits above the
// corridor's amount distribution. Zero at or below the median, 0.5 at the
// 95th percentile, capped at 1.0. Monotonic non-decreasing and continuous
// at both boundaries.
func AmountDeviationScore(amount float64, profile *domain.CorridorProfile) float64 {
	median := profile.Amount.Median
	p95 := profile.Amount.P95

	switch {
	case amount <= median:
		return 0.0
	case amount <= p95:
		return (amount - median) / (p95 - median) * 0.5
	default:
		score := 0.5 + (amount-p95)/p95
		if score > 1.0 {
			return 1.0
		}
		return score
	}
}

// BeneficiaryNoveltyScore is 0 for a known beneficiary. For an unknown one
// the score depends on how established the sender's beneficiary set is
// relative to the corridor norm: senders still below the corridor average
// are expected to add recipients.
func BeneficiaryNoveltyScore(hist *domain.SenderHistorySnapshot, beneficiaryID string, profile *domain.CorridorProfile) float64 {
	if hist.KnowsBeneficiary(beneficiaryID) {
		return 0.0
	}
	if float64(len(hist.Beneficiaries)) < profile.AvgBeneficiariesPerSender {
		return 0.3
	}
	return 0.7
}

// DeviceConsistencyScore is 0 for a known device fingerprint. For an
// unknown device the sender's device change rate (devices per account age
// day) is compared against twice the corridor average.
func DeviceConsistencyScore(hist *domain.SenderHistorySnapshot, fingerprint string, profile *domain.CorridorProfile) float64 {
	if hist.KnowsDevice(fingerprint) {
		return 0.0
	}

	ageDays := hist.AccountAgeDays
	if ageDays < 1 {
		ageDays = 1
	}
	changeRate := float64(len(hist.Devices)) / float64(ageDays)

	if changeRate > 2*profile.AvgDeviceChangeRate {
		return 0.9
	}
	return 0.4
}

// TemporalAnomalyScore sums an off-peak-hour component (0.3) and an
// off-peak-day component (0.2). Range [0, 0.5].
func TemporalAnomalyScore(ts time.Time, profile *domain.CorridorProfile) float64 {
	score := 0.0
	if !profile.Temporal.InPeakHours(ts.Hour()) {
		score += 0.3
	}
	if !profile.Temporal.InPeakDays(ts.Weekday()) {
		score += 0.2
	}
	return score
}

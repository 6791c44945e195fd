package profile

import (
	"fmt"
	"log/slog"

	"github.com/corridorsec/harrier/internal/domain"
)

// Validation thresholds.
const (
	maxWeeklyDriftPercent = 25.0
	minTransactionCount   = 100
	maxFraudRate          = 0.10
)

// ValidateProfile checks a corridor profile for integrity and statistical
// consistency. A profile failing validation must never be activated.
func ValidateProfile(p *domain.CorridorProfile) error {
	invalid := func(reason string) error {
		return &domain.ConfigurationInvariantError{
			Subject: "profile " + p.Corridor,
			Reason:  reason,
		}
	}

	if p.Corridor == "" {
		return invalid("corridor code is required")
	}
	if p.Version == "" {
		return invalid("version is required")
	}
	if p.Tier < domain.TierMin || p.Tier > domain.TierMax {
		return invalid(fmt.Sprintf("tier %d outside [%d,%d]", p.Tier, domain.TierMin, domain.TierMax))
	}

	a := p.Amount
	if a.Median <= 0 {
		return invalid("median amount must be positive")
	}
	if !(a.P25 <= a.Median && a.Median <= a.P75) {
		return invalid("amount percentiles out of order (p25/median/p75)")
	}
	if !(a.Median <= a.P95 && a.P95 <= a.P99) {
		return invalid("upper amount percentiles out of order (median/p95/p99)")
	}
	if a.P95 <= a.Median {
		return invalid("p95 amount must exceed median")
	}
	if a.Min > a.Median {
		return invalid("minimum amount exceeds median")
	}
	if a.Max != 0 && a.Max < a.P99 {
		return invalid("maximum amount below p99")
	}

	v := p.Velocity
	if v.Median24h <= 0 {
		return invalid("median 24h velocity must be positive")
	}
	if v.Median24h > v.P9524h && v.P9524h != 0 {
		return invalid("median velocity exceeds p95 velocity")
	}

	if p.BaselineFraudRate < 0 {
		return invalid("baseline fraud rate cannot be negative")
	}

	for _, h := range p.Temporal.PeakHours {
		if h < 0 || h > 23 {
			return invalid(fmt.Sprintf("peak hour %d outside [0,23]", h))
		}
	}
	for _, d := range p.Temporal.PeakDays {
		if d < 0 || d > 6 {
			return invalid(fmt.Sprintf("peak day %d outside [0,6]", d))
		}
	}

	if p.AvgDeviceChangeRate < 0 {
		return invalid("average device change rate cannot be negative")
	}
	if p.AvgBeneficiariesPerSender < 0 {
		return invalid("average beneficiaries per sender cannot be negative")
	}

	// Soft signals: logged, not rejected.
	if p.BaselineFraudRate > maxFraudRate {
		slog.Warn("unusually high baseline fraud rate",
			"corridor", p.Corridor,
			"fraud_rate", p.BaselineFraudRate,
		)
	}
	if p.Population.TransactionCount > 0 && p.Population.TransactionCount < minTransactionCount {
		slog.Warn("low transaction count may produce an unreliable profile",
			"corridor", p.Corridor,
			"count", p.Population.TransactionCount,
		)
	}

	return nil
}

// CheckDrift compares key metrics across profile versions and logs metrics
// whose weekly change exceeds the drift ceiling. Drift is advisory: the
// training pipeline owns the data, the scoring core only flags surprises.
func CheckDrift(old, updated *domain.CorridorProfile) {
	if old == nil || updated == nil || old.Corridor != updated.Corridor {
		return
	}

	metrics := []struct {
		name     string
		old, new float64
	}{
		{"median_amount", old.Amount.Median, updated.Amount.Median},
		{"p95_amount", old.Amount.P95, updated.Amount.P95},
		{"median_velocity_24h", old.Velocity.Median24h, updated.Velocity.Median24h},
		{"baseline_fraud_rate", old.BaselineFraudRate, updated.BaselineFraudRate},
	}

	for _, m := range metrics {
		if m.old == 0 {
			continue
		}
		drift := abs(m.new-m.old) / m.old * 100
		if drift > maxWeeklyDriftPercent {
			slog.Warn("high drift between profile versions",
				"corridor", updated.Corridor,
				"metric", m.name,
				"drift_percent", drift,
				"old", m.old,
				"new", m.new,
			)
		}
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

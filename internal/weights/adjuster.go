// Package weights blends the fixed base feature weights with
// corridor-specific multipliers into a normalized weight vector.
package weights

import (
	"math"

	"github.com/corridorsec/harrier/internal/domain"
)

// Adjuster computes corridor-adjusted weight vectors. Base weights are
// process-wide configuration validated at startup; multiplier sets are
// validated at profile-load time, so Adjust never fails at request time.
type Adjuster struct {
	base domain.WeightVector
}

// New creates a weight adjuster. The base weights must already have passed
// configuration validation (non-negative, summing to 1.0).
func New(base domain.WeightVector) *Adjuster {
	return &Adjuster{base: base}
}

// Adjust multiplies each base weight by its corridor multiplier and
// normalizes so the components sum to 1.0 within 1e-9.
func (a *Adjuster) Adjust(m domain.MultiplierSet) domain.WeightVector {
	adjusted := domain.WeightVector{
		Velocity:           a.base.Velocity * m.Velocity,
		AmountDeviation:    a.base.AmountDeviation * m.AmountDeviation,
		BeneficiaryNovelty: a.base.BeneficiaryNovelty * m.BeneficiaryNovelty,
		DeviceConsistency:  a.base.DeviceConsistency * m.DeviceConsistency,
		TemporalAnomaly:    a.base.TemporalAnomaly * m.TemporalAnomaly,
	}

	total := adjusted.Sum()
	return domain.WeightVector{
		Velocity:           adjusted.Velocity / total,
		AmountDeviation:    adjusted.AmountDeviation / total,
		BeneficiaryNovelty: adjusted.BeneficiaryNovelty / total,
		DeviceConsistency:  adjusted.DeviceConsistency / total,
		TemporalAnomaly:    adjusted.TemporalAnomaly / total,
	}
}

// CheckNormalized verifies the weight-sum invariant, used by tests and the
// audit path.
func CheckNormalized(w domain.WeightVector) bool {
	if math.Abs(w.Sum()-1.0) > domain.WeightSumTolerance() {
		return false
	}
	for _, v := range w.Values() {
		if v < 0 {
			return false
		}
	}
	return true
}

package domain

import (
	"time"
)

// Corridor risk tiers, coarse classification by historical fraud rate.
const (
	TierMin = 1
	TierMax = 4
)

// AmountDistribution holds the corridor's amount statistics, computed by the
// weekly training pipeline over a trailing data window.
type AmountDistribution struct {
	Median float64 `json:"median"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	P25    float64 `json:"p25"`
	P75    float64 `json:"p75"`
	P95    float64 `json:"p95"`
	P99    float64 `json:"p99"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// VelocityDistribution holds per-sender 24h transaction count statistics.
type VelocityDistribution struct {
	Median24h float64 `json:"median_24h"`
	Mean24h   float64 `json:"mean_24h"`
	P9524h    float64 `json:"p95_24h"`
}

// TemporalPatterns captures when legitimate activity concentrates.
// Days use time.Weekday numbering (0=Sunday).
type TemporalPatterns struct {
	PeakHours []int `json:"peak_hours"`
	PeakDays  []int `json:"peak_days"`
}

// InPeakHours reports whether the hour is a peak activity hour.
func (t TemporalPatterns) InPeakHours(hour int) bool {
	for _, h := range t.PeakHours {
		if h == hour {
			return true
		}
	}
	return false
}

// InPeakDays reports whether the weekday is a peak activity day.
func (t TemporalPatterns) InPeakDays(day time.Weekday) bool {
	for _, d := range t.PeakDays {
		if d == int(day) {
			return true
		}
	}
	return false
}

// PopulationStats describes the data the profile was built from.
type PopulationStats struct {
	TransactionCount    int64 `json:"transaction_count"`
	UniqueSenders       int64 `json:"unique_senders"`
	UniqueBeneficiaries int64 `json:"unique_beneficiaries"`
}

// FraudPatterns holds corridor fraud-pattern metadata.
type FraudPatterns struct {
	CommonVectors      []string `json:"common_vectors"`
	AvgFraudAmount     float64  `json:"avg_fraud_amount"`
	VelocityMultiplier float64  `json:"velocity_multiplier"`
}

// CorridorProfile is the statistical baseline for one payment corridor.
// Profiles are immutable once published; a new version fully replaces the
// old one as an atomic snapshot.
type CorridorProfile struct {
	Corridor string `json:"corridor_code"`
	Tier     int    `json:"tier"`

	Amount   AmountDistribution   `json:"amount_distribution"`
	Velocity VelocityDistribution `json:"velocity_distribution"`
	Temporal TemporalPatterns     `json:"temporal_patterns"`

	Population PopulationStats `json:"population"`
	Fraud      FraudPatterns   `json:"fraud_patterns"`

	// Derived behavioural baselines consulted by the feature extractor.
	AvgBeneficiariesPerSender float64 `json:"avg_beneficiaries_per_sender"`
	AvgDeviceChangeRate       float64 `json:"avg_device_change_rate"`

	BaselineFraudRate float64 `json:"baseline_fraud_rate"`

	// RelatedCorridors are declared relationships used by the
	// similarity fallback for unknown corridors.
	RelatedCorridors []string `json:"related_corridors,omitempty"`

	// Version is an ISO-week string (e.g. "2026-W35"); versions for a
	// corridor are monotonically increasing.
	Version        string    `json:"version"`
	ProfileDate    time.Time `json:"profile_date"`
	DataWindowDays int       `json:"data_window_days"`
}

// MultiplierSet holds the corridor-specific per-feature weight multipliers,
// version-paired with a CorridorProfile. All values must be positive; a
// missing entry defaults to 1.0 at load time.
type MultiplierSet struct {
	Velocity           float64 `json:"velocity"`
	AmountDeviation    float64 `json:"amount_deviation"`
	BeneficiaryNovelty float64 `json:"beneficiary_novelty"`
	DeviceConsistency  float64 `json:"device_consistency"`
	TemporalAnomaly    float64 `json:"temporal_anomaly"`
}

// DefaultMultipliers returns the neutral multiplier set.
func DefaultMultipliers() MultiplierSet {
	return MultiplierSet{
		Velocity:           1.0,
		AmountDeviation:    1.0,
		BeneficiaryNovelty: 1.0,
		DeviceConsistency:  1.0,
		TemporalAnomaly:    1.0,
	}
}

// FillDefaults replaces zero entries with the neutral multiplier 1.0.
// Negative entries are left as-is so validation can reject them.
func (m MultiplierSet) FillDefaults() MultiplierSet {
	if m.Velocity == 0 {
		m.Velocity = 1.0
	}
	if m.AmountDeviation == 0 {
		m.AmountDeviation = 1.0
	}
	if m.BeneficiaryNovelty == 0 {
		m.BeneficiaryNovelty = 1.0
	}
	if m.DeviceConsistency == 0 {
		m.DeviceConsistency = 1.0
	}
	if m.TemporalAnomaly == 0 {
		m.TemporalAnomaly = 1.0
	}
	return m
}

// Validate rejects multiplier sets that must never be activated.
func (m MultiplierSet) Validate() error {
	for _, mv := range []struct {
		name  string
		value float64
	}{
		{FeatureVelocity, m.Velocity},
		{FeatureAmountDeviation, m.AmountDeviation},
		{FeatureBeneficiaryNovelty, m.BeneficiaryNovelty},
		{FeatureDeviceConsistency, m.DeviceConsistency},
		{FeatureTemporalAnomaly, m.TemporalAnomaly},
	} {
		if mv.value <= 0 {
			return &ConfigurationInvariantError{
				Subject: "multiplier set",
				Reason:  mv.name + " multiplier must be positive",
			}
		}
	}
	return nil
}

// ResolvedProfile is the result of a corridor lookup: the profile and its
// paired multipliers, flagged when they were inherited from a similar
// corridor because the requested one has no profile of its own.
type ResolvedProfile struct {
	Profile       *CorridorProfile
	Multipliers   MultiplierSet
	Inherited     bool
	InheritedFrom string
}

// ProfileRepository provides read access to versioned corridor profiles
// with similarity-based fallback for unknown corridors. Reads are lock-free
// relative to background snapshot updates.
type ProfileRepository interface {
	// Get resolves the profile and multipliers for a corridor, falling
	// back to the nearest similar corridor. Returns MissingProfileError
	// when nothing is similar enough.
	Get(corridorID string) (*ResolvedProfile, error)

	// Corridors lists the corridor codes in the active snapshot.
	Corridors() []string
}

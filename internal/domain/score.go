package domain

import (
	"time"
)

// Canonical feature names. The order of FeatureNames is the fixed
// tie-breaking order used wherever determinism requires one.
const (
	FeatureVelocity           = "velocity"
	FeatureAmountDeviation    = "amount_deviation"
	FeatureBeneficiaryNovelty = "beneficiary_novelty"
	FeatureDeviceConsistency  = "device_consistency"
	FeatureTemporalAnomaly    = "temporal_anomaly"
)

// FeatureNames is the canonical ordering of the five risk signals.
var FeatureNames = [5]string{
	FeatureVelocity,
	FeatureAmountDeviation,
	FeatureBeneficiaryNovelty,
	FeatureDeviceConsistency,
	FeatureTemporalAnomaly,
}

// FeatureScore is one normalized risk signal in [0,1]. Degraded marks a
// score produced from a configured default because a dependency was
// unavailable.
type FeatureScore struct {
	Value    float64 `json:"value"`
	Degraded bool    `json:"degraded,omitempty"`
}

// FeatureVector is the fixed, strongly typed record of the five signals.
// Adding a signal is an explicit migration, not a map key.
type FeatureVector struct {
	Velocity           FeatureScore `json:"velocity"`
	AmountDeviation    FeatureScore `json:"amount_deviation"`
	BeneficiaryNovelty FeatureScore `json:"beneficiary_novelty"`
	DeviceConsistency  FeatureScore `json:"device_consistency"`
	TemporalAnomaly    FeatureScore `json:"temporal_anomaly"`
}

// Values returns the feature values in canonical order.
func (f FeatureVector) Values() [5]float64 {
	return [5]float64{
		f.Velocity.Value,
		f.AmountDeviation.Value,
		f.BeneficiaryNovelty.Value,
		f.DeviceConsistency.Value,
		f.TemporalAnomaly.Value,
	}
}

// DegradedSources returns the canonical names of features that fell back to
// their configured defaults.
func (f FeatureVector) DegradedSources() []string {
	var out []string
	flags := [5]bool{
		f.Velocity.Degraded,
		f.AmountDeviation.Degraded,
		f.BeneficiaryNovelty.Degraded,
		f.DeviceConsistency.Degraded,
		f.TemporalAnomaly.Degraded,
	}
	for i, degraded := range flags {
		if degraded {
			out = append(out, FeatureNames[i])
		}
	}
	return out
}

// AsMap renders the feature values keyed by canonical name.
func (f FeatureVector) AsMap() map[string]float64 {
	v := f.Values()
	m := make(map[string]float64, len(FeatureNames))
	for i, name := range FeatureNames {
		m[name] = v[i]
	}
	return m
}

// WeightVector is a normalized weight per feature. Components are
// non-negative and sum to 1.0 within 1e-9.
type WeightVector struct {
	Velocity           float64 `json:"velocity"`
	AmountDeviation    float64 `json:"amount_deviation"`
	BeneficiaryNovelty float64 `json:"beneficiary_novelty"`
	DeviceConsistency  float64 `json:"device_consistency"`
	TemporalAnomaly    float64 `json:"temporal_anomaly"`
}

// Values returns the weights in canonical order.
func (w WeightVector) Values() [5]float64 {
	return [5]float64{
		w.Velocity,
		w.AmountDeviation,
		w.BeneficiaryNovelty,
		w.DeviceConsistency,
		w.TemporalAnomaly,
	}
}

// Sum returns the total of all components.
func (w WeightVector) Sum() float64 {
	v := w.Values()
	return v[0] + v[1] + v[2] + v[3] + v[4]
}

// AsMap renders the weights keyed by canonical name.
func (w WeightVector) AsMap() map[string]float64 {
	v := w.Values()
	m := make(map[string]float64, len(FeatureNames))
	for i, name := range FeatureNames {
		m[name] = v[i]
	}
	return m
}

// Decision categories.
const (
	DecisionApprove = "APPROVE"
	DecisionReview  = "REVIEW"
	DecisionBlock   = "BLOCK"
)

// Adjustments records the post-weighting score corrections.
type Adjustments struct {
	Infrastructure float64 `json:"infrastructure"`
	Baseline       float64 `json:"baseline"`
}

// Explanation is the ranked human-readable score breakdown.
type Explanation struct {
	PrimaryFactors    []string `json:"primary_factors"`
	MitigatingFactors []string `json:"mitigating_factors"`
	CorridorContext   string   `json:"corridor_context"`
}

// ResultMetadata carries processing information for audit.
type ResultMetadata struct {
	TraceID       string `json:"traceId,omitempty"`
	TotalMs       int64  `json:"totalMs"`
	EngineVersion string `json:"engineVersion"`
}

// ScoreResult is the complete, auditable outcome of scoring one
// transaction.
type ScoreResult struct {
	ID       string `json:"id"`
	TxID     string `json:"txId"`
	Corridor string `json:"corridor"`

	Features FeatureVector `json:"features"`
	Weights  WeightVector  `json:"weights"`

	RawScore    float64     `json:"rawScore"`
	Adjustments Adjustments `json:"adjustments"`
	FinalScore  float64     `json:"finalScore"`

	Decision    string      `json:"decision"`
	Explanation Explanation `json:"explanation"`

	// Degraded is set when any input fell back to a default: a feature
	// dependency timed out, a stale infrastructure status was used, or
	// the corridor profile was inherited.
	Degraded        bool     `json:"degraded"`
	DegradedSources []string `json:"degradedSources,omitempty"`

	InheritedProfile bool   `json:"inheritedProfile"`
	ProfileVersion   string `json:"profileVersion"`

	Timestamp time.Time      `json:"timestamp"`
	Metadata  ResultMetadata `json:"metadata"`
}

// ScoreResponse is the API response shape for POST /score.
type ScoreResponse struct {
	Decision    string             `json:"decision"`
	Score       float64            `json:"score"`
	Features    map[string]float64 `json:"features"`
	Weights     map[string]float64 `json:"weights"`
	Adjustments Adjustments        `json:"adjustments"`
	Explanation Explanation        `json:"explanation"`

	Degraded        bool     `json:"degraded"`
	DegradedSources []string `json:"degraded_sources,omitempty"`

	ResultID string         `json:"result_id"`
	Metadata ResultMetadata `json:"metadata"`
}

// ToResponse converts a ScoreResult to its API shape.
func (r *ScoreResult) ToResponse() *ScoreResponse {
	return &ScoreResponse{
		Decision:        r.Decision,
		Score:           r.FinalScore,
		Features:        r.Features.AsMap(),
		Weights:         r.Weights.AsMap(),
		Adjustments:     r.Adjustments,
		Explanation:     r.Explanation,
		Degraded:        r.Degraded,
		DegradedSources: r.DegradedSources,
		ResultID:        r.ID,
		Metadata:        r.Metadata,
	}
}

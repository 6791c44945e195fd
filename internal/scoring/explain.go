package scoring

import (
	"fmt"
	"sort"

	"github.com/corridorsec/harrier/internal/domain"
)

// Explainer renders a score breakdown into ranked human-readable factors.
type Explainer struct {
	materialityFloor  float64
	mitigatingCeiling float64
}

// NewExplainer creates an explainability builder. materialityFloor is the
// minimum contribution for a primary factor; mitigatingCeiling the maximum
// contribution for a mitigating one.
func NewExplainer(materialityFloor, mitigatingCeiling float64) *Explainer {
	return &Explainer{
		materialityFloor:  materialityFloor,
		mitigatingCeiling: mitigatingCeiling,
	}
}

// factorDescriptions, keyed by canonical feature name, describe what an
// elevated signal means.
var factorDescriptions = map[string]string{
	domain.FeatureVelocity:           "transaction velocity above corridor norm",
	domain.FeatureAmountDeviation:    "amount above corridor norm",
	domain.FeatureBeneficiaryNovelty: "beneficiary not previously seen for sender",
	domain.FeatureDeviceConsistency:  "unrecognized device fingerprint",
	domain.FeatureTemporalAnomaly:    "activity outside corridor peak times",
}

// mitigatingDescriptions describe a quiet signal.
var mitigatingDescriptions = map[string]string{
	domain.FeatureVelocity:           "transaction velocity within corridor norm",
	domain.FeatureAmountDeviation:    "amount within corridor norm",
	domain.FeatureBeneficiaryNovelty: "beneficiary familiar to sender",
	domain.FeatureDeviceConsistency:  "device fingerprint recognized",
	domain.FeatureTemporalAnomaly:    "activity within corridor peak times",
}

type contribution struct {
	name  string
	order int // canonical position, deterministic tie-break
	value float64
}

// Build ranks each feature's contribution (feature × weight) into primary
// and mitigating factors and derives the corridor context string. Ties are
// broken by the canonical feature order so output is deterministic.
func (x *Explainer) Build(fv domain.FeatureVector, w domain.WeightVector, resolved *domain.ResolvedProfile) domain.Explanation {
	fvals := fv.Values()
	wvals := w.Values()

	contribs := make([]contribution, len(domain.FeatureNames))
	for i, name := range domain.FeatureNames {
		contribs[i] = contribution{name: name, order: i, value: fvals[i] * wvals[i]}
	}

	primary := make([]contribution, 0, len(contribs))
	mitigating := make([]contribution, 0, len(contribs))
	for _, c := range contribs {
		switch {
		case c.value > x.materialityFloor:
			primary = append(primary, c)
		case c.value <= x.mitigatingCeiling:
			mitigating = append(mitigating, c)
		}
	}

	sort.SliceStable(primary, func(i, j int) bool {
		if primary[i].value != primary[j].value {
			return primary[i].value > primary[j].value
		}
		return primary[i].order < primary[j].order
	})
	sort.SliceStable(mitigating, func(i, j int) bool {
		if mitigating[i].value != mitigating[j].value {
			return mitigating[i].value < mitigating[j].value
		}
		return mitigating[i].order < mitigating[j].order
	})

	expl := domain.Explanation{
		CorridorContext: corridorContext(resolved),
	}
	for _, c := range primary {
		expl.PrimaryFactors = append(expl.PrimaryFactors,
			fmt.Sprintf("%s (contribution %.3f)", factorDescriptions[c.name], c.value))
	}
	for _, c := range mitigating {
		expl.MitigatingFactors = append(expl.MitigatingFactors, mitigatingDescriptions[c.name])
	}
	return expl
}

func corridorContext(resolved *domain.ResolvedProfile) string {
	p := resolved.Profile
	ctx := fmt.Sprintf("corridor %s, risk tier %d", p.Corridor, p.Tier)
	if resolved.Inherited {
		ctx += fmt.Sprintf(", profile inherited from %s", resolved.InheritedFrom)
	}
	return ctx
}

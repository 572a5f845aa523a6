package triage

import "math"

// Default weighting and classification cut points, overridable per call.
const DefaultAlpha = 0.6

var DefaultThresholds = [2]float64{0.4, 0.7}

// Components records how a severity evaluation was derived.
type Components struct {
	ImageScore    *float64   `json:"imageScore"`
	SymptomScore  *float64   `json:"symptomScore"`
	Alpha         float64    `json:"alpha"`
	Thresholds    [2]float64 `json:"thresholds"`
	MissingInputs []string   `json:"missingInputs"`
	UsedFallback  bool       `json:"usedFallback"`
}

// Evaluation is the combined severity estimate. A nil score (and class) is a
// valid state before enough data has been collected, not an error.
type Evaluation struct {
	SeverityScore *float64       `json:"severityScore"`
	SeverityClass *SeverityClass `json:"severityClass"`
	Components    Components     `json:"components"`
}

// ClampAlpha clamps the image weight to [0,1] and rounds to two decimals.
// Non-finite input falls back to the default.
func ClampAlpha(value float64) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return DefaultAlpha
	}
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return Round2(value)
}

// NormalizeThresholds validates the two ascending cut points; invalid or
// non-ascending input falls back to the defaults.
func NormalizeThresholds(thresholds [2]float64) [2]float64 {
	low, high := thresholds[0], thresholds[1]
	if math.IsNaN(low) || math.IsNaN(high) || math.IsInf(low, 0) || math.IsInf(high, 0) {
		return DefaultThresholds
	}
	if low >= high {
		return DefaultThresholds
	}
	return [2]float64{Round2(low), Round2(high)}
}

// ClassifySeverity maps a score to its discrete class. A nil score has no
// class.
func ClassifySeverity(score *float64, thresholds [2]float64) *SeverityClass {
	if score == nil {
		return nil
	}
	norm := NormalizeThresholds(thresholds)
	var class SeverityClass
	switch {
	case *score < norm[0]:
		class = SeverityMild
	case *score > norm[1]:
		class = SeveritySevere
	default:
		class = SeverityModerate
	}
	return &class
}

// CalculateSeverity blends the image and symptom sub-scores:
// alpha*image + (1-alpha)*symptom. When exactly one input is present the
// score equals that input and the fallback is recorded; when neither is
// present the score and class are nil.
func CalculateSeverity(imageScore, symptomScore *float64, alpha float64, thresholds [2]float64) Evaluation {
	resolvedAlpha := ClampAlpha(alpha)
	normThresholds := NormalizeThresholds(thresholds)

	missing := []string{}
	if imageScore == nil {
		missing = append(missing, "imageScore")
	}
	if symptomScore == nil {
		missing = append(missing, "symptomScore")
	}

	var score *float64
	switch len(missing) {
	case 2:
		score = nil
	case 1:
		if imageScore == nil {
			score = symptomScore
		} else {
			score = imageScore
		}
	default:
		blended := resolvedAlpha**imageScore + (1-resolvedAlpha)**symptomScore
		score = &blended
	}
	if score != nil {
		if math.IsNaN(*score) || math.IsInf(*score, 0) {
			score = nil
		} else {
			clamped := math.Max(0, math.Min(1, Round2(*score)))
			score = &clamped
		}
	}

	return Evaluation{
		SeverityScore: score,
		SeverityClass: ClassifySeverity(score, normThresholds),
		Components: Components{
			ImageScore:    imageScore,
			SymptomScore:  symptomScore,
			Alpha:         resolvedAlpha,
			Thresholds:    normThresholds,
			MissingInputs: missing,
			UsedFallback:  len(missing) > 0,
		},
	}
}

// SymptomScore derives the 0-1 symptom sub-score from the mandatory fields:
// fever 0.3, cough longer than three days 0.2, dyspnea 0.35, comorbidity 0.15.
func SymptomScore(fields SymptomFields) float64 {
	score := 0.0
	if fields.FeverStatus != nil && *fields.FeverStatus {
		score += 0.3
	}
	if fields.OnsetDays != nil && *fields.OnsetDays > 3 {
		score += 0.2
	}
	if fields.Dyspnea != nil && *fields.Dyspnea {
		score += 0.35
	}
	if fields.Comorbidity != nil && *fields.Comorbidity {
		score += 0.15
	}
	return Round2(score)
}

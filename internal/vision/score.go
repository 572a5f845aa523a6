package vision

import (
	"strings"

	"respira-triage/internal/triage"
)

// Sputum markers and their severity weights. Order matters: it is the
// tie-break order when two markers share the highest confidence.
const (
	MarkerGreen       = "GREEN"
	MarkerBloodTinged = "BLOOD_TINGED"
	MarkerViscous     = "VISCOUS"
	MarkerClear       = "CLEAR"

	CategoryUnknown = "UNKNOWN"
)

var markerOrder = []string{MarkerGreen, MarkerBloodTinged, MarkerViscous, MarkerClear}

var markerWeights = map[string]float64{
	MarkerGreen:       0.4,
	MarkerBloodTinged: 0.3,
	MarkerViscous:     0.2,
	MarkerClear:       0.1,
}

// NormalizeMarkers uppercases marker names, clamps confidences and drops
// anything outside the known marker set. When the same marker appears twice
// the higher-confidence entry wins.
func NormalizeMarkers(raw map[string]triage.MarkerEntry) map[string]triage.MarkerEntry {
	out := make(map[string]triage.MarkerEntry, len(raw))
	for name, entry := range raw {
		key := strings.ToUpper(strings.TrimSpace(name))
		if _, known := markerWeights[key]; !known {
			continue
		}
		entry.Confidence = triage.ClampConfidence(entry.Confidence)
		if prev, ok := out[key]; ok && prev.Confidence >= entry.Confidence {
			continue
		}
		out[key] = entry
	}
	return out
}

// MergeMarkers overlays fresh marker evidence onto the previous set; for each
// marker the higher-confidence entry survives, keeping the rationale and
// keywords of the losing side when the winner has none.
func MergeMarkers(prev, incoming map[string]triage.MarkerEntry) map[string]triage.MarkerEntry {
	merged := make(map[string]triage.MarkerEntry, len(prev)+len(incoming))
	for k, v := range NormalizeMarkers(prev) {
		merged[k] = v
	}
	for k, v := range NormalizeMarkers(incoming) {
		existing, ok := merged[k]
		if !ok {
			merged[k] = v
			continue
		}
		winner, loser := v, existing
		if existing.Confidence >= v.Confidence {
			winner, loser = existing, v
		}
		if winner.Rationale == "" {
			winner.Rationale = loser.Rationale
		}
		if len(winner.Keywords) == 0 {
			winner.Keywords = loser.Keywords
		}
		merged[k] = winner
	}
	return merged
}

// ImageScore computes the weighted-average severity over markers with
// positive confidence. No positive marker means no score, not a zero score.
func ImageScore(markers map[string]triage.MarkerEntry) *float64 {
	norm := NormalizeMarkers(markers)
	var weightedSum, weightSum float64
	for _, name := range markerOrder {
		entry, ok := norm[name]
		if !ok || entry.Confidence <= 0 {
			continue
		}
		weightedSum += markerWeights[name] * entry.Confidence
		weightSum += markerWeights[name]
	}
	if weightSum == 0 {
		return nil
	}
	score := triage.ClampConfidence(weightedSum / weightSum)
	return &score
}

// DetermineSputumCategory picks the dominant marker: highest confidence,
// ties broken by severity-weight order. Returns UNKNOWN with no confidence
// when nothing positive was detected.
func DetermineSputumCategory(markers map[string]triage.MarkerEntry) (string, *float64) {
	norm := NormalizeMarkers(markers)
	best := ""
	bestConfidence := 0.0
	for _, name := range markerOrder {
		entry, ok := norm[name]
		if !ok || entry.Confidence <= 0 {
			continue
		}
		if entry.Confidence > bestConfidence {
			best = name
			bestConfidence = entry.Confidence
		}
	}
	if best == "" {
		return CategoryUnknown, nil
	}
	return best, &bestConfidence
}

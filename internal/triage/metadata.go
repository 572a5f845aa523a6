package triage

import (
	"encoding/json"
	"math"
	"strings"
	"time"
)

// MaxAuditLogLength caps the status audit log; the oldest entries are dropped
// once the cap is exceeded.
const MaxAuditLogLength = 40

// ClampConfidence clamps a confidence to [0,1] and rounds it to two decimals.
// Non-finite input yields 0.
func ClampConfidence(value float64) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0
	}
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return Round2(value)
}

// Round2 rounds to two decimal places.
func Round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func sanitizeSignal(value string) string {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) > 120 {
		trimmed = trimmed[:120]
	}
	return trimmed
}

// Clone deep-copies the metadata document. Merges never mutate their input.
func (m Metadata) Clone() Metadata {
	raw, err := json.Marshal(m)
	if err != nil {
		return Metadata{}
	}
	var out Metadata
	if err := json.Unmarshal(raw, &out); err != nil {
		return Metadata{}
	}
	return out
}

// SymptomUpdate is a partial symptom-extraction update to merge into the
// document. Nil field values never erase previously known values.
type SymptomUpdate struct {
	At               time.Time
	SeveritySymptom  *float64
	Fields           SymptomFields
	Confidences      map[Field]float64
	Rationales       map[Field]string
	RecommendImage   *bool
	Provider         string
	Model            string
	HeuristicSignals []string
	FallbackUsed     bool
	Raw              map[string]any
}

// VisionUpdate is an image-analysis update to merge into the document.
type VisionUpdate struct {
	At                       time.Time
	SeverityImageScore       *float64
	Markers                  map[string]MarkerEntry
	Summary                  string
	Provider                 string
	Model                    string
	BlobName                 string
	SputumCategory           string
	SputumCategoryConfidence *float64
	Raw                      map[string]any
}

// MergeStats carries the row counts known at merge time. A nil count leaves
// the corresponding stats untouched.
type MergeStats struct {
	SymptomEntries *int
	ImageCount     *int
}

func buildDataCompleteness(m Metadata, at time.Time) *DataCompleteness {
	var fields SymptomFields
	if m.LastSymptomExtraction != nil {
		fields = m.LastSymptomExtraction.Fields
	}
	missing := fields.Missing()
	return &DataCompleteness{
		MissingSymptoms:       missing,
		ReadyForPreprocessing: len(missing) == 0,
		ImageProvided:         m.ImageProvided(),
		ImageRecommended:      true,
		NeedsMoreSymptoms:     len(missing) > 0,
		UpdatedAt:             at,
	}
}

// ApplyDataCompleteness recomputes the derived completeness view from the
// merged fields and image stats.
func ApplyDataCompleteness(m Metadata, at time.Time) Metadata {
	out := m.Clone()
	out.DataCompleteness = buildDataCompleteness(out, at)
	return out
}

func mergeFields(prev, incoming SymptomFields) SymptomFields {
	merged := prev
	if incoming.FeverStatus != nil {
		merged.FeverStatus = incoming.FeverStatus
	}
	if incoming.OnsetDays != nil {
		v := *incoming.OnsetDays
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			merged.OnsetDays = &v
		}
	}
	if incoming.Dyspnea != nil {
		merged.Dyspnea = incoming.Dyspnea
	}
	if incoming.Comorbidity != nil {
		merged.Comorbidity = incoming.Comorbidity
	}
	return merged
}

// MergeSymptomExtraction merges a symptom-extraction update into the document.
// A previously known field is overwritten only when the update supplies a
// non-nil value for it; confidence and rationale maps are shallow-merged.
// The completeness view is recomputed afterwards.
func MergeSymptomExtraction(m Metadata, update SymptomUpdate, stats MergeStats) Metadata {
	base := m.Clone()
	at := update.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var prev SymptomExtraction
	if base.LastSymptomExtraction != nil {
		prev = *base.LastSymptomExtraction
	}

	merged := SymptomExtraction{
		At:              at,
		SeveritySymptom: update.SeveritySymptom,
		Fields:          mergeFields(prev.Fields, update.Fields),
		Confidences:     map[Field]float64{},
		Rationales:      map[Field]string{},
		Provider:        update.Provider,
		Model:           update.Model,
		FallbackUsed:    update.FallbackUsed || prev.FallbackUsed,
		Raw:             update.Raw,
	}
	for k, v := range prev.Confidences {
		merged.Confidences[k] = v
	}
	for k, v := range update.Confidences {
		merged.Confidences[k] = ClampConfidence(v)
	}
	for k, v := range prev.Rationales {
		merged.Rationales[k] = v
	}
	for k, v := range update.Rationales {
		merged.Rationales[k] = v
	}
	merged.MissingFields = merged.Fields.Missing()

	switch {
	case update.RecommendImage != nil:
		merged.RecommendImage = *update.RecommendImage
	case base.LastSymptomExtraction != nil:
		merged.RecommendImage = prev.RecommendImage
	default:
		merged.RecommendImage = true
	}

	signals := make([]string, 0, len(update.HeuristicSignals))
	for _, s := range update.HeuristicSignals {
		if clean := sanitizeSignal(s); clean != "" {
			signals = append(signals, clean)
		}
		if len(signals) == 20 {
			break
		}
	}
	merged.HeuristicSignals = signals
	merged.HeuristicsUsed = len(signals) > 0 || prev.HeuristicsUsed

	base.LastSymptomExtraction = &merged
	if stats.SymptomEntries != nil {
		base.SymptomStats = &EntryStats{Total: *stats.SymptomEntries, LastUpdated: at}
	}
	base.DataCompleteness = buildDataCompleteness(base, at)
	return base
}

// MergeVisionAnalysis merges an image-analysis update into the document and
// recomputes the completeness view.
func MergeVisionAnalysis(m Metadata, update VisionUpdate, stats MergeStats) Metadata {
	base := m.Clone()
	at := update.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	base.LastVisionAnalysis = &VisionAnalysis{
		At:                       at,
		SeverityImageScore:       update.SeverityImageScore,
		Markers:                  update.Markers,
		Summary:                  update.Summary,
		Provider:                 update.Provider,
		Model:                    update.Model,
		BlobName:                 update.BlobName,
		SputumCategory:           update.SputumCategory,
		SputumCategoryConfidence: update.SputumCategoryConfidence,
		Raw:                      update.Raw,
	}
	if stats.ImageCount != nil {
		base.ImageStats = &EntryStats{Total: *stats.ImageCount, LastUpdated: at}
	}
	base.DataCompleteness = buildDataCompleteness(base, at)
	return base
}

// AppendStatusTransition appends an audit entry, drops entries past the cap
// (oldest first) and updates the last-transition pointer.
func AppendStatusTransition(m Metadata, entry StatusTransition) Metadata {
	base := m.Clone()
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	if entry.Actor.Type == "" {
		entry.Actor.Type = ActorSystem
	} else {
		entry.Actor.Type = strings.ToUpper(entry.Actor.Type)
	}
	log := append(base.StatusAuditLog, entry)
	if len(log) > MaxAuditLogLength {
		log = log[len(log)-MaxAuditLogLength:]
	}
	base.StatusAuditLog = log
	base.LastStatusTransition = &entry
	return base
}

// RecordApproval stamps the doctor's decision onto the document.
func RecordApproval(m Metadata, approval Approval) Metadata {
	base := m.Clone()
	if approval.At.IsZero() {
		approval.At = time.Now().UTC()
	}
	base.LastApproval = &approval
	return base
}

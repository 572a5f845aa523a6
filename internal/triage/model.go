package triage

import "time"

// EpisodeStatus is the lifecycle status of a triage episode. An episode is
// "active" while the chatbot is collecting data or a doctor review is pending;
// the three severity statuses are terminal classifications.
type EpisodeStatus string

const (
	StatusInProgress     EpisodeStatus = "IN_PROGRESS"
	StatusAwaitingReview EpisodeStatus = "AWAITING_REVIEW"
	StatusMild           EpisodeStatus = "MILD"
	StatusModerate       EpisodeStatus = "MODERATE"
	StatusSevere         EpisodeStatus = "SEVERE"
)

// ActiveStatuses are the statuses in which an episode still owns the patient
// conversation. At most one episode per patient may be in this group.
var ActiveStatuses = []EpisodeStatus{StatusInProgress, StatusAwaitingReview}

func (s EpisodeStatus) Valid() bool {
	switch s {
	case StatusInProgress, StatusAwaitingReview, StatusMild, StatusModerate, StatusSevere:
		return true
	}
	return false
}

// SeverityClass is the discrete three-bucket severity label.
type SeverityClass string

const (
	SeverityMild     SeverityClass = "MILD"
	SeverityModerate SeverityClass = "MODERATE"
	SeveritySevere   SeverityClass = "SEVERE"
)

func (c SeverityClass) Valid() bool {
	switch c {
	case SeverityMild, SeverityModerate, SeveritySevere:
		return true
	}
	return false
}

// Field names one of the four mandatory symptom signals.
type Field string

const (
	FieldFeverStatus Field = "feverStatus"
	FieldOnsetDays   Field = "onsetDays"
	FieldDyspnea     Field = "dyspnea"
	FieldComorbidity Field = "comorbidity"
)

// RequiredFields is the canonical ordering of the mandatory symptom fields.
// The questionnaire asks them in this order and the summary lists them in this
// order.
var RequiredFields = []Field{FieldFeverStatus, FieldOnsetDays, FieldDyspnea, FieldComorbidity}

// TaskStatus tracks the collection progress of a single mandatory field.
type TaskStatus string

const (
	TaskPending   TaskStatus = "PENDING"
	TaskAsking    TaskStatus = "ASKING"
	TaskCollected TaskStatus = "COLLECTED"
	TaskConfirmed TaskStatus = "CONFIRMED"
	TaskClarify   TaskStatus = "CLARIFY"
)

func validTaskStatus(s TaskStatus) bool {
	switch s {
	case TaskPending, TaskAsking, TaskCollected, TaskConfirmed, TaskClarify:
		return true
	}
	return false
}

// ConfirmationState tracks the summary-confirmation sub-dialogue.
type ConfirmationState string

const (
	ConfirmNone      ConfirmationState = "NONE"
	ConfirmRequest   ConfirmationState = "REQUEST"
	ConfirmConfirmed ConfirmationState = "CONFIRMED"
	ConfirmRevise    ConfirmationState = "REVISE"
)

func validConfirmationState(s ConfirmationState) bool {
	switch s {
	case ConfirmNone, ConfirmRequest, ConfirmConfirmed, ConfirmRevise:
		return true
	}
	return false
}

// ImageRequestState tracks whether the patient has been asked for a sputum
// photo and how they responded.
type ImageRequestState string

const (
	ImageNotRequested ImageRequestState = "NONE"
	ImageRequested    ImageRequestState = "REQUESTED"
	ImageDeclined     ImageRequestState = "DECLINED"
	ImageFulfilled    ImageRequestState = "FULFILLED"
)

// SymptomFields holds the four mandatory signals. A nil pointer means the
// signal has not been resolved yet; it is never defaulted.
type SymptomFields struct {
	FeverStatus *bool    `json:"feverStatus"`
	OnsetDays   *float64 `json:"onsetDays"`
	Dyspnea     *bool    `json:"dyspnea"`
	Comorbidity *bool    `json:"comorbidity"`
}

// Get returns the value of a mandatory field as an untyped pointer check.
// It reports whether the field currently holds a value.
func (f SymptomFields) Has(field Field) bool {
	switch field {
	case FieldFeverStatus:
		return f.FeverStatus != nil
	case FieldOnsetDays:
		return f.OnsetDays != nil
	case FieldDyspnea:
		return f.Dyspnea != nil
	case FieldComorbidity:
		return f.Comorbidity != nil
	}
	return false
}

// Missing returns the mandatory fields that are still unresolved, in
// RequiredFields order.
func (f SymptomFields) Missing() []Field {
	missing := make([]Field, 0, len(RequiredFields))
	for _, field := range RequiredFields {
		if !f.Has(field) {
			missing = append(missing, field)
		}
	}
	return missing
}

// SymptomExtraction is the latest merged view of the text pipeline output.
type SymptomExtraction struct {
	At               time.Time         `json:"at"`
	SeveritySymptom  *float64          `json:"severitySymptom"`
	Fields           SymptomFields     `json:"fields"`
	Confidences      map[Field]float64 `json:"confidences,omitempty"`
	Rationales       map[Field]string  `json:"rationales,omitempty"`
	MissingFields    []Field           `json:"missingFields"`
	RecommendImage   bool              `json:"recommendImage"`
	Provider         string            `json:"provider,omitempty"`
	Model            string            `json:"model,omitempty"`
	HeuristicsUsed   bool              `json:"heuristicsApplied"`
	HeuristicSignals []string          `json:"heuristicsSignals,omitempty"`
	FallbackUsed     bool              `json:"fallbackUsed"`
	Raw              map[string]any    `json:"raw,omitempty"`
}

// MarkerEntry is the qualitative confidence for one image severity marker.
type MarkerEntry struct {
	Confidence float64  `json:"confidence"`
	Source     string   `json:"source,omitempty"`
	Rationale  string   `json:"rationale,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
}

// VisionAnalysis is the latest merged view of the image pipeline output.
type VisionAnalysis struct {
	At                       time.Time              `json:"at"`
	SeverityImageScore       *float64               `json:"severityImageScore"`
	Markers                  map[string]MarkerEntry `json:"markers,omitempty"`
	Summary                  string                 `json:"summary,omitempty"`
	Provider                 string                 `json:"provider,omitempty"`
	Model                    string                 `json:"model,omitempty"`
	BlobName                 string                 `json:"blobName,omitempty"`
	SputumCategory           string                 `json:"sputumCategory,omitempty"`
	SputumCategoryConfidence *float64               `json:"sputumCategoryConfidence,omitempty"`
	Raw                      map[string]any         `json:"raw,omitempty"`
}

// DataCompleteness is the derived readiness view, recomputed after every merge.
type DataCompleteness struct {
	MissingSymptoms       []Field   `json:"missingSymptoms"`
	ReadyForPreprocessing bool      `json:"readyForPreprocessing"`
	ImageProvided         bool      `json:"imageProvided"`
	ImageRecommended      bool      `json:"imageRecommended"`
	NeedsMoreSymptoms     bool      `json:"needsMoreSymptoms"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

// EntryStats counts the rows a pipeline has produced for the episode.
type EntryStats struct {
	Total       int       `json:"total"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// TaskState is the collection state of one mandatory field inside the
// conversation.
type TaskState struct {
	Field         Field      `json:"field"`
	Status        TaskStatus `json:"status"`
	Prompt        string     `json:"prompt,omitempty"`
	LatestAnswer  string     `json:"latestAnswer,omitempty"`
	LastUpdatedAt *time.Time `json:"lastUpdatedAt,omitempty"`
	LastAskedAt   *time.Time `json:"lastAskedAt,omitempty"`
}

// ImageRequest tracks the image-solicitation sub-state, including the cooldown
// anchor used to avoid nagging the patient.
type ImageRequest struct {
	State           ImageRequestState `json:"state"`
	LastRequestedAt *time.Time        `json:"lastRequestedAt,omitempty"`
}

// Conversation is the dialogue workflow state for an episode.
type Conversation struct {
	Tasks             map[Field]*TaskState `json:"tasks"`
	ConfirmationState ConfirmationState    `json:"confirmationState"`
	Summary           string               `json:"summary,omitempty"`
	LastReply         string               `json:"lastReply,omitempty"`
	ReadyForDoctor    bool                 `json:"readyForDoctor"`
	EscalatedAt       *time.Time           `json:"escalatedAt,omitempty"`
	ImageRequest      ImageRequest         `json:"imageRequest"`
	AllowSmallTalk    bool                 `json:"allowSmallTalk"`
	LastUpdatedAt     *time.Time           `json:"lastUpdatedAt,omitempty"`
}

// Actor identifies who caused a status transition.
type Actor struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

const (
	ActorSystem  = "SYSTEM"
	ActorPatient = "PATIENT"
	ActorDoctor  = "DOCTOR"
)

// StatusTransition is one entry of the bounded audit log.
type StatusTransition struct {
	At      time.Time      `json:"at"`
	From    EpisodeStatus  `json:"from,omitempty"`
	To      EpisodeStatus  `json:"to,omitempty"`
	Actor   Actor          `json:"actor"`
	Reason  string         `json:"reason,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Approval records the doctor's review decision.
type Approval struct {
	At              time.Time     `json:"at"`
	DoctorID        string        `json:"doctorId"`
	SeverityScore   *float64      `json:"severityScore"`
	SeverityClass   SeverityClass `json:"severityClass"`
	Components      Components    `json:"components"`
	OverrideApplied bool          `json:"overrideApplied"`
	Notes           string        `json:"notes,omitempty"`
}

// Metadata is the per-episode triage aggregate. It is owned exclusively by the
// episode row and must only ever be written through the merge functions in
// this package.
type Metadata struct {
	LastSymptomExtraction *SymptomExtraction `json:"lastSymptomExtraction,omitempty"`
	LastVisionAnalysis    *VisionAnalysis    `json:"lastVisionAnalysis,omitempty"`
	DataCompleteness      *DataCompleteness  `json:"dataCompleteness,omitempty"`
	Conversation          *Conversation      `json:"conversation,omitempty"`
	SymptomStats          *EntryStats        `json:"symptomStats,omitempty"`
	ImageStats            *EntryStats        `json:"imageStats,omitempty"`
	StatusAuditLog        []StatusTransition `json:"statusAuditLog,omitempty"`
	LastStatusTransition  *StatusTransition  `json:"lastStatusTransition,omitempty"`
	LastApproval          *Approval          `json:"lastApproval,omitempty"`
}

// ImageProvided reports whether at least one image record exists for the
// episode, based on the last merged image stats.
func (m Metadata) ImageProvided() bool {
	return m.ImageStats != nil && m.ImageStats.Total > 0
}

// Package triage holds the pure domain of brain-dump triage: the candidate
// contract produced by the model, its validator, text normalization, dump
// segmentation, and the versioned prompt registry. Nothing here performs I/O.
package triage

// Task status values. Mutually exclusive; time-sensitivity (due date,
// urgency) is orthogonal and coexists with any status.
const (
	StatusInbox      = "INBOX"
	StatusNext       = "NEXT"
	StatusInProgress = "IN_PROGRESS"
	StatusWaiting    = "WAITING"
	StatusSomeday    = "SOMEDAY"
	StatusDone       = "DONE"
	StatusArchived   = "ARCHIVED"
)

// ValidStatuses is the set of accepted task status values.
var ValidStatuses = map[string]bool{
	StatusInbox:      true,
	StatusNext:       true,
	StatusInProgress: true,
	StatusWaiting:    true,
	StatusSomeday:    true,
	StatusDone:       true,
	StatusArchived:   true,
}

// Effort t-shirt sizes.
const (
	EffortXS = "XS"
	EffortS  = "S"
	EffortM  = "M"
	EffortL  = "L"
	EffortXL = "XL"
)

// ValidEfforts is the set of accepted effort values.
var ValidEfforts = map[string]bool{
	EffortXS: true,
	EffortS:  true,
	EffortM:  true,
	EffortL:  true,
	EffortXL: true,
}

// PARA buckets classify where a captured item lives.
const (
	BucketProject  = "PROJECT"
	BucketArea     = "AREA"
	BucketResource = "RESOURCE"
	BucketArchive  = "ARCHIVE"
)

// ValidBuckets is the set of accepted para_bucket values.
var ValidBuckets = map[string]bool{
	BucketProject:  true,
	BucketArea:     true,
	BucketResource: true,
	BucketArchive:  true,
}

// Energy signals: how a task feels to do.
const (
	EnergyJoy     = "JOY"
	EnergyNeutral = "NEUTRAL"
	EnergyDrain   = "DRAIN"
)

// ValidEnergySignals is the set of accepted energy_signal values.
var ValidEnergySignals = map[string]bool{
	EnergyJoy:     true,
	EnergyNeutral: true,
	EnergyDrain:   true,
}

// Project status values.
const (
	ProjectActive   = "ACTIVE"
	ProjectDone     = "DONE"
	ProjectSomeday  = "SOMEDAY"
	ProjectArchived = "ARCHIVED"
)

// ValidProjectStatuses is the set of accepted project status values.
var ValidProjectStatuses = map[string]bool{
	ProjectActive:   true,
	ProjectDone:     true,
	ProjectSomeday:  true,
	ProjectArchived: true,
}

// Triage session lifecycle states. FAILED is terminal and reachable from
// any non-terminal state.
const (
	SessionCreated    = "CREATED"
	SessionParsing    = "PARSING"
	SessionEnriching  = "ENRICHING"
	SessionFinalizing = "FINALIZING"
	SessionPersisted  = "PERSISTED"
	SessionFailed     = "FAILED"
)

// Suggestion types.
const (
	SuggestionTask    = "task"
	SuggestionProject = "project"
	SuggestionArea    = "area"
)

// Decision actions.
const (
	ActionAccept = "accept"
	ActionReject = "reject"
)

// Field bounds enforced by the validator. Over-long values are truncated,
// never rejected (containment for model output of any provenance).
const (
	MaxTitleChars       = 200
	MaxDescriptionChars = 2000
	MaxNextActionChars  = 500
	MaxQuestionChars    = 500
	MaxQuestions        = 10
	MaxSuggestionNames  = 10
)

// DuplicateFlag annotates one possible duplicate of a candidate. Flags are
// advisory: merging is always a user decision.
type DuplicateFlag struct {
	TaskID string  `json:"task_id"`
	Reason string  `json:"reason"`
	Score  float64 `json:"score,omitempty"`
}

// Candidate is one validated triage item, matching the contract the model
// must satisfy. The zero value is not valid; candidates are produced by
// ParseResponse or ApplyEdit.
type Candidate struct {
	RawText             string          `json:"raw_text"`
	ActionTitle         string          `json:"action_title"`
	Description         string          `json:"description"`
	Status              string          `json:"status"`
	Priority            int             `json:"priority"`
	Urgency             int             `json:"urgency"`
	Effort              string          `json:"effort"`
	ParaBucket          string          `json:"para_bucket"`
	ProjectSuggestions  []string        `json:"project_suggestions"`
	AreaSuggestions     []string        `json:"area_suggestions"`
	NeedsClarification  bool            `json:"needs_clarification"`
	ClarifyingQuestions []string        `json:"clarifying_questions"`
	DuplicateCandidates []DuplicateFlag `json:"duplicate_candidates"`
	NextAction          string          `json:"next_action"`
	DueDate             string          `json:"due_date,omitempty"`
	EnergySignal        string          `json:"energy_signal,omitempty"`
}

// EditOverlay carries user edits for one accepted suggestion. Set fields
// override the stored payload; nil fields fall back to it. Confirmed
// duplicates ride along with the edit rather than as a separate step.
type EditOverlay struct {
	ActionTitle         *string   `json:"action_title,omitempty"`
	Description         *string   `json:"description,omitempty"`
	Status              *string   `json:"status,omitempty"`
	Priority            *float64  `json:"priority,omitempty"`
	Urgency             *float64  `json:"urgency,omitempty"`
	Effort              *string   `json:"effort,omitempty"`
	ParaBucket          *string   `json:"para_bucket,omitempty"`
	NextAction          *string   `json:"next_action,omitempty"`
	DueDate             *string   `json:"due_date,omitempty"`
	EnergySignal        *string   `json:"energy_signal,omitempty"`
	ProjectSuggestions  *[]string `json:"project_suggestions,omitempty"`
	AreaSuggestions     *[]string `json:"area_suggestions,omitempty"`
	ConfirmedDuplicates []string  `json:"confirmed_duplicates,omitempty"`
}

// Decision is one reviewed verdict on a suggestion.
type Decision struct {
	SuggestionID string       `json:"suggestion_id"`
	Action       string       `json:"action"`
	EditedData   *EditOverlay `json:"edited_data,omitempty"`
}

package triage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	cozyerrors "github.com/hpungsan/cozytriage/internal/errors"
)

const (
	defaultScore = 3
	minScore     = 1
	maxScore     = 5
)

// ParseResponse validates a raw model response against the candidate
// contract. The expected shape is {"items": [...]}; a bare JSON array is
// tolerated. A markdown code fence around the JSON is stripped. Model-
// provided duplicate_candidates are dropped: duplicate flags are derived
// from the store, never trusted from the model.
//
// Returns SCHEMA_VIOLATION when the response is not parseable or any item
// breaks the contract. Pure function, no I/O.
func ParseResponse(raw string) ([]Candidate, error) {
	text := stripFence(raw)
	if strings.TrimSpace(text) == "" {
		return nil, cozyerrors.NewSchemaViolation("response is empty")
	}

	var envelope struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal([]byte(text), &envelope); err != nil {
		// Tolerate a bare array of items.
		var bare []map[string]any
		if err2 := json.Unmarshal([]byte(text), &bare); err2 != nil {
			return nil, cozyerrors.NewSchemaViolation(fmt.Sprintf("response is not valid JSON: %v", err))
		}
		envelope.Items = bare
	}
	if len(envelope.Items) == 0 {
		return nil, cozyerrors.NewSchemaViolation("response contains no items")
	}

	candidates := make([]Candidate, 0, len(envelope.Items))
	for i, item := range envelope.Items {
		c, err := validateItem(item)
		if err != nil {
			return nil, fmt.Errorf("items[%d]: %w", i, err)
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// ApplyEdit overlays user edits onto a stored candidate payload and re-runs
// the field rules on the merged result. Set overlay fields win; everything
// else keeps the payload value. The committed candidate is always the
// merged one, never the raw payload.
func ApplyEdit(base Candidate, edit *EditOverlay) (Candidate, error) {
	merged := base
	if edit != nil {
		if edit.ActionTitle != nil {
			merged.ActionTitle = *edit.ActionTitle
		}
		if edit.Description != nil {
			merged.Description = *edit.Description
		}
		if edit.Status != nil {
			merged.Status = *edit.Status
		}
		if edit.Priority != nil {
			merged.Priority = clampScore(*edit.Priority)
		}
		if edit.Urgency != nil {
			merged.Urgency = clampScore(*edit.Urgency)
		}
		if edit.Effort != nil {
			merged.Effort = *edit.Effort
		}
		if edit.ParaBucket != nil {
			merged.ParaBucket = *edit.ParaBucket
		}
		if edit.NextAction != nil {
			merged.NextAction = *edit.NextAction
		}
		if edit.DueDate != nil {
			merged.DueDate = *edit.DueDate
		}
		if edit.EnergySignal != nil {
			merged.EnergySignal = *edit.EnergySignal
		}
		if edit.ProjectSuggestions != nil {
			merged.ProjectSuggestions = *edit.ProjectSuggestions
		}
		if edit.AreaSuggestions != nil {
			merged.AreaSuggestions = *edit.AreaSuggestions
		}
	}
	if err := checkFields(&merged); err != nil {
		return Candidate{}, err
	}
	return merged, nil
}

// validateItem checks one raw item against the contract and returns the
// normalized candidate.
func validateItem(m map[string]any) (Candidate, error) {
	var c Candidate
	var err error

	if c.RawText, err = requiredString(m, "raw_text"); err != nil {
		return Candidate{}, err
	}
	if c.ActionTitle, err = requiredString(m, "action_title"); err != nil {
		return Candidate{}, err
	}
	if strings.TrimSpace(c.ActionTitle) == "" {
		return Candidate{}, cozyerrors.NewSchemaViolation("action_title cannot be empty")
	}
	if c.Description, err = requiredString(m, "description"); err != nil {
		return Candidate{}, err
	}
	if c.Status, err = requiredString(m, "status"); err != nil {
		return Candidate{}, err
	}
	if c.Effort, err = requiredString(m, "effort"); err != nil {
		return Candidate{}, err
	}
	if c.ParaBucket, err = requiredString(m, "para_bucket"); err != nil {
		return Candidate{}, err
	}

	if c.Priority, err = numericScore(m, "priority"); err != nil {
		return Candidate{}, err
	}
	if c.Urgency, err = numericScore(m, "urgency"); err != nil {
		return Candidate{}, err
	}

	if c.NextAction, err = optionalString(m, "next_action"); err != nil {
		return Candidate{}, err
	}
	if c.DueDate, err = optionalString(m, "due_date"); err != nil {
		return Candidate{}, err
	}
	if c.EnergySignal, err = optionalString(m, "energy_signal"); err != nil {
		return Candidate{}, err
	}

	if c.ProjectSuggestions, err = nameList(m, "project_suggestions"); err != nil {
		return Candidate{}, err
	}
	if c.AreaSuggestions, err = nameList(m, "area_suggestions"); err != nil {
		return Candidate{}, err
	}

	if c.NeedsClarification, err = optionalBool(m, "needs_clarification"); err != nil {
		return Candidate{}, err
	}
	if c.ClarifyingQuestions, err = questionList(m, "clarifying_questions"); err != nil {
		return Candidate{}, err
	}

	// duplicate_candidates from the model are intentionally discarded here.
	c.DuplicateCandidates = nil

	if err := checkFields(&c); err != nil {
		return Candidate{}, err
	}
	return c, nil
}

// checkFields enforces enums, clamps, and truncation on a structured
// candidate. Shared by the response parser and the edit-overlay path so
// both produce identically normalized records.
func checkFields(c *Candidate) error {
	if !ValidStatuses[c.Status] {
		return cozyerrors.NewSchemaViolation(fmt.Sprintf("invalid status %q", c.Status))
	}
	if !ValidEfforts[c.Effort] {
		return cozyerrors.NewSchemaViolation(fmt.Sprintf("invalid effort %q", c.Effort))
	}
	if !ValidBuckets[c.ParaBucket] {
		return cozyerrors.NewSchemaViolation(fmt.Sprintf("invalid para_bucket %q", c.ParaBucket))
	}
	if c.EnergySignal != "" && !ValidEnergySignals[c.EnergySignal] {
		return cozyerrors.NewSchemaViolation(fmt.Sprintf("invalid energy_signal %q", c.EnergySignal))
	}
	if c.DueDate != "" {
		if _, err := time.Parse("2006-01-02", c.DueDate); err != nil {
			return cozyerrors.NewSchemaViolation(fmt.Sprintf("invalid due_date %q, want YYYY-MM-DD", c.DueDate))
		}
	}

	if strings.TrimSpace(c.ActionTitle) == "" {
		return cozyerrors.NewSchemaViolation("action_title cannot be empty")
	}

	c.Priority = clampInt(c.Priority)
	c.Urgency = clampInt(c.Urgency)

	c.ActionTitle = Truncate(c.ActionTitle, MaxTitleChars)
	c.Description = Truncate(c.Description, MaxDescriptionChars)
	c.NextAction = Truncate(c.NextAction, MaxNextActionChars)

	var err error
	if c.ProjectSuggestions, err = cleanNames(c.ProjectSuggestions, "project_suggestions"); err != nil {
		return err
	}
	if c.AreaSuggestions, err = cleanNames(c.AreaSuggestions, "area_suggestions"); err != nil {
		return err
	}

	if len(c.ClarifyingQuestions) > MaxQuestions {
		c.ClarifyingQuestions = c.ClarifyingQuestions[:MaxQuestions]
	}
	for i, q := range c.ClarifyingQuestions {
		c.ClarifyingQuestions[i] = Truncate(q, MaxQuestionChars)
	}
	if c.ClarifyingQuestions == nil {
		c.ClarifyingQuestions = []string{}
	}
	if c.DuplicateCandidates == nil {
		c.DuplicateCandidates = []DuplicateFlag{}
	}
	return nil
}

// cleanNames trims entries, drops empties, and enforces the list cap.
func cleanNames(names []string, field string) ([]string, error) {
	cleaned := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n != "" {
			cleaned = append(cleaned, n)
		}
	}
	if len(cleaned) > MaxSuggestionNames {
		return nil, cozyerrors.NewSchemaViolation(
			fmt.Sprintf("%s exceeds %d entries", field, MaxSuggestionNames))
	}
	return cleaned, nil
}

func requiredString(m map[string]any, key string) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", cozyerrors.NewSchemaViolation(fmt.Sprintf("missing required field: %s", key))
	}
	s, ok := v.(string)
	if !ok {
		return "", cozyerrors.NewSchemaViolation(fmt.Sprintf("field %s must be a string", key))
	}
	return s, nil
}

func optionalString(m map[string]any, key string) (string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", cozyerrors.NewSchemaViolation(fmt.Sprintf("field %s must be a string", key))
	}
	return s, nil
}

func optionalBool(m map[string]any, key string) (bool, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, cozyerrors.NewSchemaViolation(fmt.Sprintf("field %s must be a boolean", key))
	}
	return b, nil
}

// numericScore reads priority/urgency: JSON numbers and numeric strings are
// clamped into [1,5]; absent defaults to 3; anything else is rejected.
func numericScore(m map[string]any, key string) (int, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return defaultScore, nil
	}
	switch n := v.(type) {
	case float64:
		return clampScore(n), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, cozyerrors.NewSchemaViolation(fmt.Sprintf("%s must be numeric, got %q", key, n))
		}
		return clampScore(f), nil
	default:
		return 0, cozyerrors.NewSchemaViolation(fmt.Sprintf("%s must be numeric, got %T", key, v))
	}
}

// nameList reads a suggestion-name list whose entries may be plain strings
// or {"name": "..."} objects.
func nameList(m map[string]any, key string) ([]string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return []string{}, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, cozyerrors.NewSchemaViolation(fmt.Sprintf("field %s must be a list", key))
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		switch e := item.(type) {
		case string:
			names = append(names, e)
		case map[string]any:
			name, _ := e["name"].(string)
			names = append(names, name)
		default:
			return nil, cozyerrors.NewSchemaViolation(
				fmt.Sprintf("entries of %s must be names", key))
		}
	}
	return names, nil
}

func questionList(m map[string]any, key string) ([]string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return []string{}, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, cozyerrors.NewSchemaViolation(fmt.Sprintf("field %s must be a list", key))
	}
	questions := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, cozyerrors.NewSchemaViolation(
				fmt.Sprintf("entries of %s must be strings", key))
		}
		questions = append(questions, s)
	}
	return questions, nil
}

func clampScore(f float64) int {
	return clampInt(int(f))
}

func clampInt(n int) int {
	if n < minScore {
		return minScore
	}
	if n > maxScore {
		return maxScore
	}
	return n
}

// stripFence removes a surrounding markdown code fence, with or without a
// language tag. Models wrap JSON in fences often enough that rejecting the
// wrapper would waste the retry.
func stripFence(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		// Drop the language tag line (e.g. "json").
		first := strings.TrimSpace(text[:idx])
		if first == "" || !strings.ContainsAny(first, "{[") {
			text = text[idx+1:]
		}
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

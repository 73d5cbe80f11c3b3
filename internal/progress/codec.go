package progress

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/p-n-ai/pai-player/internal/course"
)

// IDResolver maps stored ids onto the canonical ids of a course.
// *course.Normalizer implements it.
type IDResolver interface {
	ModuleID(id string) (string, bool)
	StepID(id string) (string, bool)
	StepAt(moduleID string, index int) (string, bool)
	ModuleOf(stepID string) (string, bool)
}

// CorruptRecordError reports a stored record that cannot be decoded.
type CorruptRecordError struct {
	Err error
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("corrupt progress record: %v", e.Err)
}

func (e *CorruptRecordError) Unwrap() error {
	return e.Err
}

// wireRecord accepts the current layout and every field name written by
// older player builds.
type wireRecord struct {
	CourseVersion    string                   `json:"courseVersion"`
	Cursor           *course.Location         `json:"cursor"`
	CompletedSteps   json.RawMessage          `json:"completedSteps"`
	CompletedModules []string                 `json:"completedModules"`
	QuizResults      map[string]AttemptResult `json:"quizResults"`
	ExamResult       *AttemptResult           `json:"examResult"`
	LearnerIdentity  *Identity                `json:"learnerIdentity"`
	CompletedAt      *time.Time               `json:"completedAt"`

	Current *struct {
		ModuleID  string `json:"moduleId"`
		StepID    string `json:"stepId"`
		StepIndex *int   `json:"stepIndex"`
	} `json:"current"`
	LastLocation *struct {
		M json.RawMessage `json:"m"`
		S json.RawMessage `json:"s"`
	} `json:"lastLocation"`
	ActiveStepID   string                   `json:"activeStepId"`
	Completed      []string                 `json:"completed"`
	QuizScores     map[string]AttemptResult `json:"quizScores"`
	FinalExamScore *AttemptResult           `json:"finalExamScore"`
	Exam           *struct {
		Score  *int `json:"score"`
		Passed bool `json:"passed"`
	} `json:"exam"`
	LearnerName string `json:"learnerName"`
	RoleID      string `json:"roleId"`
}

// Encode serialises a record in the current layout.
func Encode(rec Record) ([]byte, error) {
	if rec.CompletedSteps == nil {
		rec.CompletedSteps = []string{}
	}
	if rec.CompletedModules == nil {
		rec.CompletedModules = []string{}
	}
	if rec.QuizResults == nil {
		rec.QuizResults = map[string]AttemptResult{}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encoding progress record: %w", err)
	}
	return data, nil
}

// Decode parses a stored record, backfilling legacy field names and passing
// every id through ids. Unknown ids are dropped. A nil ids keeps canonical
// fields verbatim and drops legacy positional references.
func Decode(data []byte, ids IDResolver) (Record, error) {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return Record{}, &CorruptRecordError{Err: err}
	}

	rec := NewRecord(w.CourseVersion)
	rec.CompletedAt = w.CompletedAt

	steps, err := decodeCompletedSteps(w.CompletedSteps, ids)
	if err != nil {
		return Record{}, &CorruptRecordError{Err: err}
	}
	for _, id := range steps {
		if canonical, ok := resolveStep(ids, id); ok {
			rec.AddCompletedStep(canonical)
		}
	}

	modules := w.CompletedModules
	if modules == nil {
		modules = w.Completed
	}
	for _, id := range modules {
		if canonical, ok := resolveModule(ids, id); ok {
			rec.AddCompletedModule(canonical)
		}
	}

	quiz := w.QuizResults
	if quiz == nil {
		quiz = w.QuizScores
	}
	for id, res := range quiz {
		if canonical, ok := resolveStep(ids, id); ok {
			rec.QuizResults[canonical] = res
		}
	}

	switch {
	case w.ExamResult != nil:
		rec.ExamResult = w.ExamResult
	case w.FinalExamScore != nil:
		rec.ExamResult = w.FinalExamScore
	case w.Exam != nil && w.Exam.Score != nil:
		rec.ExamResult = &AttemptResult{Percent: *w.Exam.Score, Passed: w.Exam.Passed}
	}

	switch {
	case w.LearnerIdentity != nil:
		id := *w.LearnerIdentity
		rec.LearnerIdentity = &id
	case w.LearnerName != "" || w.RoleID != "":
		rec.LearnerIdentity = &Identity{Name: w.LearnerName, Role: w.RoleID}
	}

	rec.Cursor = decodeCursor(&w, ids)
	return rec, nil
}

func decodeCursor(w *wireRecord, ids IDResolver) *course.Location {
	var moduleID, stepID string
	switch {
	case w.Cursor != nil:
		moduleID, stepID = w.Cursor.ModuleID, w.Cursor.StepID
	case w.Current != nil:
		moduleID, stepID = w.Current.ModuleID, w.Current.StepID
		if stepID == "" && w.Current.StepIndex != nil {
			stepID, _ = stepAt(ids, moduleID, *w.Current.StepIndex)
		}
	case w.LastLocation != nil:
		moduleID = rawString(w.LastLocation.M)
		stepID = positionalStep(ids, moduleID, rawString(w.LastLocation.S))
	case w.ActiveStepID != "":
		stepID = w.ActiveStepID
	default:
		return nil
	}

	step, ok := resolveStep(ids, stepID)
	if !ok || step == "" {
		return nil
	}
	module, ok := resolveModule(ids, moduleID)
	if ids != nil {
		// Step ids are unique across the course, so the step wins over a
		// stale module id.
		if owner, found := ids.ModuleOf(step); found {
			module, ok = owner, true
		}
	}
	if !ok || module == "" {
		return nil
	}
	return &course.Location{ModuleID: module, StepID: step}
}

// decodeCompletedSteps accepts a flat array of step ids or the older map of
// module number to 1-based step numbers.
func decodeCompletedSteps(raw json.RawMessage, ids IDResolver) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '[' {
		var flat []string
		if err := json.Unmarshal(raw, &flat); err != nil {
			return nil, fmt.Errorf("completedSteps: %w", err)
		}
		return flat, nil
	}

	var byModule map[string][]json.RawMessage
	if err := json.Unmarshal(raw, &byModule); err != nil {
		return nil, fmt.Errorf("completedSteps: %w", err)
	}
	var out []string
	for _, module := range slices.Sorted(maps.Keys(byModule)) {
		for _, s := range byModule[module] {
			if id := positionalStep(ids, module, rawString(s)); id != "" {
				out = append(out, id)
			}
		}
	}
	return out, nil
}

// positionalStep resolves a 1-based step number, or a step id, within a module.
func positionalStep(ids IDResolver, moduleID, step string) string {
	if n, err := strconv.Atoi(step); err == nil {
		id, _ := stepAt(ids, moduleID, n-1)
		return id
	}
	return step
}

func stepAt(ids IDResolver, moduleID string, index int) (string, bool) {
	if ids == nil {
		return "", false
	}
	return ids.StepAt(moduleID, index)
}

func resolveStep(ids IDResolver, id string) (string, bool) {
	if ids == nil {
		return id, id != ""
	}
	return ids.StepID(id)
}

func resolveModule(ids IDResolver, id string) (string, bool) {
	if ids == nil {
		return id, id != ""
	}
	return ids.ModuleID(id)
}

// rawString renders a JSON string or number as a plain string.
func rawString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

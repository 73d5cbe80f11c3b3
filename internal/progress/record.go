// Package progress persists one learner's position and results in a course.
package progress

import (
	"maps"
	"slices"
	"time"

	"github.com/p-n-ai/pai-player/internal/course"
)

// AttemptResult is the stored outcome of one quiz or exam attempt.
type AttemptResult struct {
	Score   int  `json:"score"`
	Total   int  `json:"total"`
	Percent int  `json:"percent"`
	Passed  bool `json:"passed"`
}

// Identity is the learner's self-declared name and role.
type Identity struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// Record is the durable progress of one learner in one course.
type Record struct {
	CourseVersion    string                   `json:"courseVersion"`
	Cursor           *course.Location         `json:"cursor"`
	CompletedSteps   []string                 `json:"completedSteps"`
	CompletedModules []string                 `json:"completedModules"`
	QuizResults      map[string]AttemptResult `json:"quizResults"`
	ExamResult       *AttemptResult           `json:"examResult"`
	LearnerIdentity  *Identity                `json:"learnerIdentity"`
	CompletedAt      *time.Time               `json:"completedAt"`
}

// NewRecord returns the default record for a course version.
func NewRecord(courseVersion string) Record {
	return Record{
		CourseVersion:    courseVersion,
		CompletedSteps:   []string{},
		CompletedModules: []string{},
		QuizResults:      map[string]AttemptResult{},
	}
}

// HasCompletedStep reports whether stepID is in CompletedSteps.
func (r Record) HasCompletedStep(stepID string) bool {
	return slices.Contains(r.CompletedSteps, stepID)
}

// HasCompletedModule reports whether moduleID is in CompletedModules.
func (r Record) HasCompletedModule(moduleID string) bool {
	return slices.Contains(r.CompletedModules, moduleID)
}

// HasIdentity reports whether both name and role are recorded.
func (r Record) HasIdentity() bool {
	return r.LearnerIdentity != nil && r.LearnerIdentity.Name != "" && r.LearnerIdentity.Role != ""
}

// AddCompletedStep appends stepID once. It reports whether the set grew.
func (r *Record) AddCompletedStep(stepID string) bool {
	if r.HasCompletedStep(stepID) {
		return false
	}
	r.CompletedSteps = append(r.CompletedSteps, stepID)
	return true
}

// AddCompletedModule appends moduleID once. It reports whether the set grew.
func (r *Record) AddCompletedModule(moduleID string) bool {
	if r.HasCompletedModule(moduleID) {
		return false
	}
	r.CompletedModules = append(r.CompletedModules, moduleID)
	return true
}

// Clone returns a deep copy safe to mutate.
func (r Record) Clone() Record {
	out := r
	out.CompletedSteps = append([]string{}, r.CompletedSteps...)
	out.CompletedModules = append([]string{}, r.CompletedModules...)
	out.QuizResults = maps.Clone(r.QuizResults)
	if out.QuizResults == nil {
		out.QuizResults = map[string]AttemptResult{}
	}
	if r.Cursor != nil {
		c := *r.Cursor
		out.Cursor = &c
	}
	if r.ExamResult != nil {
		e := *r.ExamResult
		out.ExamResult = &e
	}
	if r.LearnerIdentity != nil {
		id := *r.LearnerIdentity
		out.LearnerIdentity = &id
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

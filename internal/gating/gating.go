// Package gating decides which modules and steps a learner may open.
package gating

import (
	"github.com/p-n-ai/pai-player/internal/course"
	"github.com/p-n-ai/pai-player/internal/progress"
	"github.com/p-n-ai/pai-player/internal/sequence"
)

// Reason explains a denied request. The empty Reason means allowed.
type Reason string

const (
	ReasonNone     Reason = ""
	ReasonNotFound Reason = "not_found"
	ReasonLocked   Reason = "locked"
)

// Decision is the result of a navigation check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason,omitempty"`
	// Missing lists prerequisite module ids that are not yet complete.
	Missing []string `json:"missing,omitempty"`
}

// ModuleState is the course-map state of a module.
type ModuleState string

const (
	StateComplete ModuleState = "complete"
	StateCurrent  ModuleState = "current"
	StateOpen     ModuleState = "open"
	StateLocked   ModuleState = "locked"
)

// ModuleStatus summarises one module for the course map.
type ModuleStatus struct {
	ModuleID   string      `json:"moduleId"`
	State      ModuleState `json:"state"`
	InProgress bool        `json:"inProgress"`
	StepsDone  int         `json:"stepsDone"`
	StepsTotal int         `json:"stepsTotal"`
}

// Engine evaluates gating rules for one course.
type Engine struct {
	course   *course.Course
	resolver *sequence.Resolver
}

// New creates a gating engine over c and its linear order.
func New(c *course.Course, r *sequence.Resolver) *Engine {
	return &Engine{course: c, resolver: r}
}

// Frontier returns the farthest linear position reached: the maximum of the
// farthest completed step and the cursor. It is -1 for a fresh record.
func (e *Engine) Frontier(rec progress.Record) int {
	frontier := -1
	for _, id := range rec.CompletedSteps {
		if pos := e.resolver.StepPosition(id); pos > frontier {
			frontier = pos
		}
	}
	if rec.Cursor != nil {
		if pos := e.resolver.Position(rec.Cursor.ModuleID, rec.Cursor.StepID); pos > frontier {
			frontier = pos
		}
	}
	return frontier
}

// IsModuleUnlocked reports whether the module may be entered. The exam
// module also requires CanStartExam, whatever the frontier.
func (e *Engine) IsModuleUnlocked(rec progress.Record, moduleID string) bool {
	steps, err := e.course.StepsOf(moduleID)
	if err != nil {
		return false
	}
	if moduleID == e.course.ExamModuleID() && !e.CanStartExam(rec) {
		return false
	}

	first := e.resolver.Position(moduleID, steps[0].ID)
	if first <= e.Frontier(rec)+1 {
		return true
	}
	if rec.HasCompletedModule(moduleID) {
		return true
	}
	return rec.Cursor != nil && rec.Cursor.ModuleID == moduleID
}

// IsStepReachable reports whether the step may be opened.
func (e *Engine) IsStepReachable(rec progress.Record, moduleID, stepID string) bool {
	pos := e.resolver.Position(moduleID, stepID)
	if pos < 0 || !e.IsModuleUnlocked(rec, moduleID) {
		return false
	}
	if pos <= e.Frontier(rec)+1 || rec.HasCompletedStep(stepID) {
		return true
	}
	return rec.Cursor != nil && rec.Cursor.StepID == stepID
}

// CanStartExam reports whether every exam prerequisite module is complete.
func (e *Engine) CanStartExam(rec progress.Record) bool {
	return len(e.missingExamPrerequisites(rec)) == 0
}

// Check authorises navigation to a step.
func (e *Engine) Check(rec progress.Record, moduleID, stepID string) Decision {
	mi, err := e.course.ModuleIndex(moduleID)
	if err != nil || e.resolver.Position(moduleID, stepID) < 0 {
		return Decision{Reason: ReasonNotFound}
	}
	if e.IsStepReachable(rec, moduleID, stepID) {
		return Decision{Allowed: true}
	}

	var missing []string
	if moduleID == e.course.ExamModuleID() {
		missing = e.missingExamPrerequisites(rec)
	}
	if len(missing) == 0 {
		for _, m := range e.course.AllModules()[:mi] {
			if !rec.HasCompletedModule(m.ID) {
				missing = append(missing, m.ID)
			}
		}
	}
	return Decision{Reason: ReasonLocked, Missing: missing}
}

// ModuleState returns the course-map status of a module.
func (e *Engine) ModuleState(rec progress.Record, moduleID string) ModuleStatus {
	status := ModuleStatus{ModuleID: moduleID, State: StateLocked}
	steps, err := e.course.StepsOf(moduleID)
	if err != nil {
		return status
	}

	status.StepsTotal = len(steps)
	for _, s := range steps {
		if rec.HasCompletedStep(s.ID) {
			status.StepsDone++
		}
	}
	status.InProgress = status.StepsDone > 0 && status.StepsDone < status.StepsTotal

	switch {
	case rec.HasCompletedModule(moduleID):
		status.State = StateComplete
	case rec.Cursor != nil && rec.Cursor.ModuleID == moduleID && e.IsModuleUnlocked(rec, moduleID):
		status.State = StateCurrent
	case e.IsModuleUnlocked(rec, moduleID):
		status.State = StateOpen
	}
	return status
}

// ModuleStates returns the status of every module in authoring order.
func (e *Engine) ModuleStates(rec progress.Record) []ModuleStatus {
	modules := e.course.AllModules()
	out := make([]ModuleStatus, 0, len(modules))
	for _, m := range modules {
		out = append(out, e.ModuleState(rec, m.ID))
	}
	return out
}

func (e *Engine) missingExamPrerequisites(rec progress.Record) []string {
	var missing []string
	for _, id := range e.course.ExamPrerequisiteModules() {
		if !rec.HasCompletedModule(id) {
			missing = append(missing, id)
		}
	}
	return missing
}

package course

import (
	"errors"
	"fmt"
	"slices"
)

// ErrNotFound is matched by every NotFoundError.
var ErrNotFound = errors.New("not found")

// NotFoundError reports a module or step id absent from the course.
type NotFoundError struct {
	Kind string // "course", "module" or "step"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// New indexes a course, applies default pass thresholds and validates it.
func New(c Course) (*Course, error) {
	c.Modules = cloneModules(c.Modules)
	for mi := range c.Modules {
		for si := range c.Modules[mi].Steps {
			s := &c.Modules[mi].Steps[si]
			if s.PassPercent == 0 {
				switch s.Type {
				case StepQuiz:
					s.PassPercent = DefaultQuizPassPercent
				case StepExam:
					s.PassPercent = DefaultExamPassPercent
				}
			}
		}
	}
	c.index()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Course) index() {
	c.moduleIdx = make(map[string]int, len(c.Modules))
	c.steps = make(map[string]stepRef)
	c.examStep = ""
	for mi, m := range c.Modules {
		if _, dup := c.moduleIdx[m.ID]; !dup {
			c.moduleIdx[m.ID] = mi
		}
		for si, s := range m.Steps {
			if _, dup := c.steps[s.ID]; !dup {
				c.steps[s.ID] = stepRef{module: mi, step: si}
			}
			if s.Type == StepExam && c.examStep == "" {
				c.examStep = s.ID
			}
		}
	}
}

// Validate checks the structural invariants of the course graph.
func (c *Course) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("course id is required")
	}
	if c.Version == "" {
		return fmt.Errorf("course %s: version is required", c.ID)
	}
	if len(c.Modules) == 0 {
		return fmt.Errorf("course %s: at least one module is required", c.ID)
	}

	moduleIDs := make(map[string]bool)
	stepIDs := make(map[string]bool)
	exams := 0
	for _, m := range c.Modules {
		if m.ID == "" {
			return fmt.Errorf("course %s: module id is required", c.ID)
		}
		if moduleIDs[m.ID] {
			return fmt.Errorf("course %s: duplicate module id %q", c.ID, m.ID)
		}
		moduleIDs[m.ID] = true
		if len(m.Steps) == 0 {
			return fmt.Errorf("course %s: module %s has no steps", c.ID, m.ID)
		}
		for _, s := range m.Steps {
			if s.ID == "" {
				return fmt.Errorf("course %s: module %s: step id is required", c.ID, m.ID)
			}
			if stepIDs[s.ID] {
				return fmt.Errorf("course %s: duplicate step id %q", c.ID, s.ID)
			}
			stepIDs[s.ID] = true
			if !s.Type.valid() {
				return fmt.Errorf("course %s: step %s: unknown type %q", c.ID, s.ID, s.Type)
			}
			if s.Type == StepExam {
				exams++
			}
			if s.Type.IsAssessment() {
				if len(s.Questions) == 0 {
					return fmt.Errorf("course %s: step %s: question bank is empty", c.ID, s.ID)
				}
				for qi, q := range s.Questions {
					if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options) {
						return fmt.Errorf("course %s: step %s: question %d: correct index %d out of range", c.ID, s.ID, qi, q.CorrectIndex)
					}
				}
			}
			if s.PassPercent < 0 || s.PassPercent > 100 {
				return fmt.Errorf("course %s: step %s: pass percent %d out of range", c.ID, s.ID, s.PassPercent)
			}
		}
	}
	if exams != 1 {
		return fmt.Errorf("course %s: exactly one exam step is required, found %d", c.ID, exams)
	}
	for _, id := range c.ExamPrerequisites {
		if !moduleIDs[id] {
			return fmt.Errorf("course %s: exam prerequisite %q is not a module", c.ID, id)
		}
	}
	for _, id := range c.CertificateGates {
		if !stepIDs[id] {
			return fmt.Errorf("course %s: certificate gate %q is not a step", c.ID, id)
		}
	}
	return nil
}

// AllModules returns the modules in authoring order.
func (c *Course) AllModules() []Module {
	return c.Modules
}

// Module returns the module with the given id.
func (c *Course) Module(moduleID string) (Module, error) {
	i, err := c.ModuleIndex(moduleID)
	if err != nil {
		return Module{}, err
	}
	return c.Modules[i], nil
}

// StepsOf returns the ordered steps of a module.
func (c *Course) StepsOf(moduleID string) ([]Step, error) {
	m, err := c.Module(moduleID)
	if err != nil {
		return nil, err
	}
	return m.Steps, nil
}

// ModuleIndex returns the authoring position of a module.
func (c *Course) ModuleIndex(moduleID string) (int, error) {
	i, ok := c.moduleIdx[moduleID]
	if !ok {
		return -1, &NotFoundError{Kind: "module", ID: moduleID}
	}
	return i, nil
}

// StepIndex returns the position of a step within its module. A step that
// exists under a different module is reported as not found.
func (c *Course) StepIndex(moduleID, stepID string) (int, error) {
	mi, err := c.ModuleIndex(moduleID)
	if err != nil {
		return -1, err
	}
	ref, ok := c.steps[stepID]
	if !ok || ref.module != mi {
		return -1, &NotFoundError{Kind: "step", ID: stepID}
	}
	return ref.step, nil
}

// Step looks a step up by its course-unique id.
func (c *Course) Step(stepID string) (Step, Module, error) {
	ref, ok := c.steps[stepID]
	if !ok {
		return Step{}, Module{}, &NotFoundError{Kind: "step", ID: stepID}
	}
	m := c.Modules[ref.module]
	return m.Steps[ref.step], m, nil
}

// ExamStep returns the final exam step and the module holding it.
func (c *Course) ExamStep() (Step, Module) {
	s, m, _ := c.Step(c.examStep)
	return s, m
}

// ExamModuleID returns the id of the module holding the final exam.
func (c *Course) ExamModuleID() string {
	_, m := c.ExamStep()
	return m.ID
}

// ExamPrerequisiteModules returns the modules that must be complete before
// the exam can start. Defaults to every module except the exam module.
func (c *Course) ExamPrerequisiteModules() []string {
	if len(c.ExamPrerequisites) > 0 {
		return slices.Clone(c.ExamPrerequisites)
	}
	exam := c.ExamModuleID()
	ids := make([]string, 0, len(c.Modules))
	for _, m := range c.Modules {
		if m.ID != exam {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// RequiredStepIDs returns every step id except the final exam.
func (c *Course) RequiredStepIDs() []string {
	var ids []string
	for _, m := range c.Modules {
		for _, s := range m.Steps {
			if s.ID != c.examStep {
				ids = append(ids, s.ID)
			}
		}
	}
	return ids
}

// HasRole reports whether roleID is declared by the course. Courses without
// declared roles accept any role.
func (c *Course) HasRole(roleID string) bool {
	if len(c.Roles) == 0 {
		return true
	}
	for _, r := range c.Roles {
		if r.ID == roleID {
			return true
		}
	}
	return false
}

// RoleLabel returns the display label of a role, or the id itself.
func (c *Course) RoleLabel(roleID string) string {
	for _, r := range c.Roles {
		if r.ID == roleID {
			return r.Label
		}
	}
	return roleID
}

// ForRole returns a view of the course keeping only the steps required for
// roleID. Modules left empty are dropped; the exam module is always kept.
func (c *Course) ForRole(roleID string) *Course {
	view := *c
	view.Modules = nil
	kept := make(map[string]bool)
	for _, m := range c.Modules {
		var steps []Step
		for _, s := range m.Steps {
			if s.Type == StepExam || len(s.RequiredForRoles) == 0 || slices.Contains(s.RequiredForRoles, roleID) {
				steps = append(steps, s)
			}
		}
		if len(steps) == 0 {
			continue
		}
		m.Steps = steps
		view.Modules = append(view.Modules, m)
		kept[m.ID] = true
	}
	view.Modules = cloneModules(view.Modules)

	view.ExamPrerequisites = nil
	for _, id := range c.ExamPrerequisites {
		if kept[id] {
			view.ExamPrerequisites = append(view.ExamPrerequisites, id)
		}
	}
	view.index()
	view.CertificateGates = nil
	for _, id := range c.CertificateGates {
		if _, ok := view.steps[id]; ok {
			view.CertificateGates = append(view.CertificateGates, id)
		}
	}
	return &view
}

func cloneModules(modules []Module) []Module {
	out := make([]Module, len(modules))
	for i, m := range modules {
		m.Steps = slices.Clone(m.Steps)
		out[i] = m
	}
	return out
}

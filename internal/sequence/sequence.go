// Package sequence flattens a course into its global linear step order.
package sequence

import (
	"github.com/p-n-ai/pai-player/internal/course"
)

// Resolver answers position queries over the linear order of a course:
// modules in authoring order, steps in authoring order within each module.
type Resolver struct {
	order  []course.Location
	byStep map[string]int
}

// New builds the linear order for c.
func New(c *course.Course) *Resolver {
	r := &Resolver{byStep: make(map[string]int)}
	for _, m := range c.AllModules() {
		for _, s := range m.Steps {
			r.byStep[s.ID] = len(r.order)
			r.order = append(r.order, course.Location{ModuleID: m.ID, StepID: s.ID})
		}
	}
	return r
}

// Len returns the number of steps in the course.
func (r *Resolver) Len() int {
	return len(r.order)
}

// First returns the first step of the course.
func (r *Resolver) First() course.Location {
	if len(r.order) == 0 {
		return course.Location{}
	}
	return r.order[0]
}

// At returns the location at a global position.
func (r *Resolver) At(pos int) (course.Location, bool) {
	if pos < 0 || pos >= len(r.order) {
		return course.Location{}, false
	}
	return r.order[pos], true
}

// Position returns the global position of a step, or -1 when the step does
// not exist under moduleID.
func (r *Resolver) Position(moduleID, stepID string) int {
	pos, ok := r.byStep[stepID]
	if !ok || r.order[pos].ModuleID != moduleID {
		return -1
	}
	return pos
}

// StepPosition returns the global position of a step by id alone, or -1.
func (r *Resolver) StepPosition(stepID string) int {
	pos, ok := r.byStep[stepID]
	if !ok {
		return -1
	}
	return pos
}

// Next returns the step after the given one. It reports false at the last
// step of the course or when the step is not found.
func (r *Resolver) Next(moduleID, stepID string) (course.Location, bool) {
	pos := r.Position(moduleID, stepID)
	if pos < 0 {
		return course.Location{}, false
	}
	return r.At(pos + 1)
}

// Previous returns the step before the given one.
func (r *Resolver) Previous(moduleID, stepID string) (course.Location, bool) {
	pos := r.Position(moduleID, stepID)
	if pos < 0 {
		return course.Location{}, false
	}
	return r.At(pos - 1)
}

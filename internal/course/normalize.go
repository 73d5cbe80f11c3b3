package course

import (
	"fmt"
	"strings"
)

// Normalizer translates module and step ids stored by older player builds
// (module-1, m1, numeric, m1s2, 1.2, or ids declared as legacy_ids) into the
// canonical ids of a course.
type Normalizer struct {
	course  *Course
	modules map[string]string
	steps   map[string]string
}

// NewNormalizer builds the alias tables for c. Aliases never shadow a
// canonical id.
func NewNormalizer(c *Course) *Normalizer {
	n := &Normalizer{
		course:  c,
		modules: make(map[string]string),
		steps:   make(map[string]string),
	}

	for _, m := range c.Modules {
		n.modules[m.ID] = m.ID
		for _, s := range m.Steps {
			n.steps[s.ID] = s.ID
		}
	}

	addModule := func(alias, id string) {
		if _, taken := n.modules[alias]; !taken && alias != "" {
			n.modules[alias] = id
		}
	}
	addStep := func(alias, id string) {
		if _, taken := n.steps[alias]; !taken && alias != "" {
			n.steps[alias] = id
		}
	}

	for _, m := range c.Modules {
		for _, alias := range m.LegacyIDs {
			addModule(alias, m.ID)
		}
		for _, s := range m.Steps {
			for _, alias := range s.LegacyIDs {
				addStep(alias, s.ID)
			}
		}
	}
	for mi, m := range c.Modules {
		num := mi + 1
		addModule(fmt.Sprintf("module-%d", num), m.ID)
		addModule(fmt.Sprintf("m%d", num), m.ID)
		addModule(fmt.Sprintf("%d", num), m.ID)
		for si, s := range m.Steps {
			addStep(fmt.Sprintf("m%ds%d", num, si+1), s.ID)
			addStep(fmt.Sprintf("%d.%d", num, si+1), s.ID)
		}
	}
	return n
}

// ModuleID returns the canonical id for a module id in any known form.
func (n *Normalizer) ModuleID(id string) (string, bool) {
	canonical, ok := n.modules[strings.TrimSpace(id)]
	return canonical, ok
}

// StepID returns the canonical id for a step id in any known form.
func (n *Normalizer) StepID(id string) (string, bool) {
	canonical, ok := n.steps[strings.TrimSpace(id)]
	return canonical, ok
}

// StepAt resolves a legacy zero-based step index within a module.
func (n *Normalizer) StepAt(moduleID string, index int) (string, bool) {
	id, ok := n.ModuleID(moduleID)
	if !ok {
		return "", false
	}
	steps, err := n.course.StepsOf(id)
	if err != nil || index < 0 || index >= len(steps) {
		return "", false
	}
	return steps[index].ID, true
}

// ModuleOf returns the module holding a canonical step id.
func (n *Normalizer) ModuleOf(stepID string) (string, bool) {
	_, m, err := n.course.Step(stepID)
	if err != nil {
		return "", false
	}
	return m.ID, true
}

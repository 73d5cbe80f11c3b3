package server

import "github.com/p-n-ai/pai-player/internal/course"

type courseSummary struct {
	ID          string        `json:"id"`
	Version     string        `json:"version"`
	Title       string        `json:"title"`
	EstMinutes  int           `json:"estMinutes,omitempty"`
	ModuleCount int           `json:"moduleCount"`
	Roles       []course.Role `json:"roles,omitempty"`
}

func summarize(c *course.Course) courseSummary {
	return courseSummary{
		ID:          c.ID,
		Version:     c.Version,
		Title:       c.Title,
		EstMinutes:  c.EstMinutes,
		ModuleCount: len(c.Modules),
		Roles:       c.Roles,
	}
}

// courseOutline is the public shape of a course. Answer keys are omitted.
type courseOutline struct {
	courseSummary
	ExamModuleID string          `json:"examModuleId"`
	Modules      []moduleOutline `json:"modules"`
}

type moduleOutline struct {
	ID    string        `json:"id"`
	Title string        `json:"title"`
	Steps []stepOutline `json:"steps"`
}

type stepOutline struct {
	ID               string            `json:"id"`
	Title            string            `json:"title"`
	Type             course.StepType   `json:"type"`
	PassPercent      int               `json:"passPercent,omitempty"`
	RequiredForRoles []string          `json:"requiredForRoles,omitempty"`
	Questions        []questionOutline `json:"questions,omitempty"`
}

type questionOutline struct {
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
}

func outline(c *course.Course) courseOutline {
	out := courseOutline{
		courseSummary: summarize(c),
		ExamModuleID:  c.ExamModuleID(),
		Modules:       make([]moduleOutline, 0, len(c.Modules)),
	}
	for _, m := range c.AllModules() {
		mo := moduleOutline{ID: m.ID, Title: m.Title, Steps: make([]stepOutline, 0, len(m.Steps))}
		for _, s := range m.Steps {
			so := stepOutline{
				ID:               s.ID,
				Title:            s.Title,
				Type:             s.Type,
				PassPercent:      s.PassPercent,
				RequiredForRoles: s.RequiredForRoles,
			}
			for _, q := range s.Questions {
				so.Questions = append(so.Questions, questionOutline{Prompt: q.Prompt, Options: q.Options})
			}
			mo.Steps = append(mo.Steps, so)
		}
		out.Modules = append(out.Modules, mo)
	}
	return out
}

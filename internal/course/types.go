// Package course holds the static, read-only model of a course: ordered
// modules, each an ordered list of typed steps.
package course

// StepType classifies a step.
type StepType string

const (
	StepOverview StepType = "overview"
	StepRuntime  StepType = "runtime"
	StepQuiz     StepType = "quiz"
	StepExam     StepType = "exam"
)

// Default pass thresholds applied when a step does not declare one.
const (
	DefaultQuizPassPercent = 70
	DefaultExamPassPercent = 80
)

// IsAssessment reports whether steps of this type are scored.
func (t StepType) IsAssessment() bool {
	return t == StepQuiz || t == StepExam
}

func (t StepType) valid() bool {
	switch t {
	case StepOverview, StepRuntime, StepQuiz, StepExam:
		return true
	}
	return false
}

// Course represents a course loaded from a content descriptor.
type Course struct {
	ID                string   `yaml:"id" json:"id"`
	Version           string   `yaml:"version" json:"version"`
	Title             string   `yaml:"title" json:"title"`
	EstMinutes        int      `yaml:"est_minutes" json:"estMinutes,omitempty"`
	Roles             []Role   `yaml:"roles" json:"roles,omitempty"`
	Modules           []Module `yaml:"modules" json:"modules"`
	ExamPrerequisites []string `yaml:"exam_prerequisites" json:"examPrerequisites,omitempty"`
	CertificateGates  []string `yaml:"certificate_gates" json:"certificateGates,omitempty"`
	LegacyStorageKeys []string `yaml:"legacy_storage_keys" json:"-"`

	moduleIdx map[string]int
	steps     map[string]stepRef
	examStep  string
}

// Role is a learner role a course can tailor its steps to.
type Role struct {
	ID    string `yaml:"id" json:"id"`
	Label string `yaml:"label" json:"label"`
}

// Module is a top-level unit of a course.
type Module struct {
	ID        string   `yaml:"id" json:"id"`
	Title     string   `yaml:"title" json:"title"`
	Steps     []Step   `yaml:"steps" json:"steps"`
	LegacyIDs []string `yaml:"legacy_ids" json:"-"`
}

// Step is the smallest navigable unit.
type Step struct {
	ID               string     `yaml:"id" json:"id"`
	Title            string     `yaml:"title" json:"title"`
	Type             StepType   `yaml:"type" json:"type"`
	Questions        []Question `yaml:"questions" json:"questions,omitempty"`
	PassPercent      int        `yaml:"pass_percent" json:"passPercent,omitempty"`
	RequiredForRoles []string   `yaml:"required_for_roles" json:"requiredForRoles,omitempty"`
	LegacyIDs        []string   `yaml:"legacy_ids" json:"-"`
}

// Question is one multiple-choice item of a question bank.
type Question struct {
	Prompt       string   `yaml:"prompt" json:"prompt"`
	Options      []string `yaml:"options" json:"options"`
	CorrectIndex int      `yaml:"correct_index" json:"correctIndex"`
}

// Location addresses a step within a module.
type Location struct {
	ModuleID string `json:"moduleId"`
	StepID   string `json:"stepId"`
}

// IsZero reports whether the location is unset.
func (l Location) IsZero() bool {
	return l.ModuleID == "" && l.StepID == ""
}

type stepRef struct {
	module int
	step   int
}

package course_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/p-n-ai/pai-player/internal/course"
)

func TestLoader_LoadCourses(t *testing.T) {
	dir := setupTestCourses(t)

	loader, err := course.NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}

	courses := loader.All()
	if len(courses) != 2 {
		t.Fatalf("All() = %d courses, want 2", len(courses))
	}
	if courses[0].ID != "csir-cert" || courses[1].ID != "json-course" {
		t.Errorf("All() ids = %q, %q; want sorted csir-cert, json-course", courses[0].ID, courses[1].ID)
	}
}

func TestLoader_Get(t *testing.T) {
	dir := setupTestCourses(t)

	loader, err := course.NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}

	c, found := loader.Get("csir-cert")
	if !found {
		t.Fatal("Get(csir-cert) not found")
	}
	if c.Title == "" {
		t.Error("Course.Title is empty")
	}
	steps, err := c.StepsOf("m1")
	if err != nil {
		t.Fatalf("StepsOf(m1) error = %v", err)
	}
	if steps[1].PassPercent != course.DefaultQuizPassPercent {
		t.Errorf("quiz PassPercent = %d, want default %d", steps[1].PassPercent, course.DefaultQuizPassPercent)
	}
	exam, _ := c.ExamStep()
	if exam.PassPercent != 85 {
		t.Errorf("exam PassPercent = %d, want declared 85", exam.PassPercent)
	}
}

func TestLoader_Get_NotFound(t *testing.T) {
	dir := setupTestCourses(t)

	loader, err := course.NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}

	if _, found := loader.Get("NONEXISTENT"); found {
		t.Error("Get(NONEXISTENT) should not be found")
	}
}

func TestLoader_SkipsInvalidDescriptors(t *testing.T) {
	dir := setupTestCourses(t)

	// Fails the schema: step type unknown.
	os.WriteFile(filepath.Join(dir, "bad-type.yaml"), []byte(`
id: bad
version: "1"
modules:
  - id: m1
    steps:
      - id: s1
        type: video
`), 0o644)
	// Passes the schema but has no exam step.
	os.WriteFile(filepath.Join(dir, "no-exam.yaml"), []byte(`
id: no-exam
version: "1"
modules:
  - id: m1
    steps:
      - id: s1
        type: overview
`), 0o644)
	os.WriteFile(filepath.Join(dir, "garbage.yml"), []byte("::: not yaml :::\n\t-"), 0o644)

	loader, err := course.NewLoader(dir)
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}

	if got := len(loader.All()); got != 2 {
		t.Errorf("All() = %d courses, want 2 (invalid descriptors skipped)", got)
	}
}

func TestLoader_EmptyDir(t *testing.T) {
	loader, err := course.NewLoader(t.TempDir())
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}
	if got := len(loader.All()); got != 0 {
		t.Errorf("All() = %d, want 0 for empty dir", got)
	}
}

func TestParse_SchemaErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing version", `{"id":"x","modules":[{"id":"m1","steps":[{"id":"s","type":"exam"}]}]}`},
		{"no modules", `{"id":"x","version":"1","modules":[]}`},
		{"one option", `{"id":"x","version":"1","modules":[{"id":"m1","steps":[{"id":"s","type":"exam","questions":[{"prompt":"p","options":["a"],"correct_index":0}]}]}]}`},
		{"pass percent over 100", `{"id":"x","version":"1","modules":[{"id":"m1","steps":[{"id":"s","type":"overview","pass_percent":120}]}]}`},
		{"empty", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := course.Parse([]byte(tt.doc)); err == nil {
				t.Error("Parse() should return error")
			}
		})
	}
}

func setupTestCourses(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	tracks := filepath.Join(dir, "tracks")
	os.MkdirAll(tracks, 0o755)

	os.WriteFile(filepath.Join(tracks, "csir-cert.yaml"), []byte(`
id: csir-cert
version: "1.0"
title: "OT CSIR Certification"
est_minutes: 45
roles:
  - id: operator
    label: "OT Operator"
modules:
  - id: m1
    title: "CSIR Overview"
    steps:
      - id: m1s1
        type: overview
        title: Overview
      - id: m1s2
        type: quiz
        title: Knowledge Check
        questions:
          - prompt: "Which systems are in scope?"
            options: ["Home Wi-Fi", "BES Cyber Assets"]
            correct_index: 1
  - id: m2
    title: "Exam + Certification"
    steps:
      - id: m2s1
        type: exam
        pass_percent: 85
        questions:
          - prompt: "Passing score?"
            options: ["50%", "80% or higher"]
            correct_index: 1
`), 0o644)

	os.WriteFile(filepath.Join(dir, "json-course.json"), []byte(`{
  "id": "json-course",
  "version": "2",
  "modules": [
    {"id": "a", "steps": [
      {"id": "a1", "type": "runtime"},
      {"id": "a2", "type": "exam", "questions": [{"prompt": "p", "options": ["x", "y"], "correct_index": 0}]}
    ]}
  ]
}`), 0o644)

	return dir
}

func TestLoader_BundledCourses(t *testing.T) {
	loader, err := course.NewLoader(filepath.Join("..", "..", "courses"))
	if err != nil {
		t.Fatalf("NewLoader() error = %v", err)
	}

	c, ok := loader.Get("csir-cert")
	if !ok {
		t.Fatal("bundled csir-cert course did not load")
	}
	if got := c.ExamModuleID(); got != "m4" {
		t.Errorf("ExamModuleID() = %q, want m4", got)
	}
	// m2s2 is engineer/commander only and the exam step is not counted.
	if got := len(c.ForRole("ot-operator").RequiredStepIDs()); got != 7 {
		t.Errorf("operator required steps = %d, want 7", got)
	}
	if got := len(c.ForRole("ot-engineer").RequiredStepIDs()); got != 8 {
		t.Errorf("engineer required steps = %d, want 8", got)
	}
	if len(c.LegacyStorageKeys) != 2 {
		t.Errorf("LegacyStorageKeys = %v, want 2 keys", c.LegacyStorageKeys)
	}
}

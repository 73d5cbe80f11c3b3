// Package coursetest provides course fixtures shared by package tests.
package coursetest

import (
	"testing"

	"github.com/p-n-ai/pai-player/internal/course"
)

// Bank returns n questions whose correct answer is always option 1.
func Bank(n int) []course.Question {
	qs := make([]course.Question, n)
	for i := range qs {
		qs[i] = course.Question{
			Prompt:       "question",
			Options:      []string{"a", "b", "c", "d"},
			CorrectIndex: 1,
		}
	}
	return qs
}

// Descriptor returns the raw three-module fixture:
//
//	m1: m1s1 overview, m1s2 quiz (5 questions)
//	m2: m2s1 overview, m2s2 runtime
//	m3: m3s1 overview, m3s2 exam (5 questions)
func Descriptor() course.Course {
	return course.Course{
		ID:      "fixture",
		Version: "1.0",
		Title:   "Fixture Course",
		Roles: []course.Role{
			{ID: "operator", Label: "OT Operator"},
			{ID: "engineer", Label: "Engineer"},
		},
		Modules: []course.Module{
			{ID: "m1", Title: "Basics", LegacyIDs: []string{"intro"}, Steps: []course.Step{
				{ID: "m1s1", Title: "Overview", Type: course.StepOverview},
				{ID: "m1s2", Title: "Knowledge Check", Type: course.StepQuiz, Questions: Bank(5)},
			}},
			{ID: "m2", Title: "Practice", Steps: []course.Step{
				{ID: "m2s1", Title: "Overview", Type: course.StepOverview},
				{ID: "m2s2", Title: "Drill", Type: course.StepRuntime},
			}},
			{ID: "m3", Title: "Exam", Steps: []course.Step{
				{ID: "m3s1", Title: "Rules", Type: course.StepOverview},
				{ID: "m3s2", Title: "Final Exam", Type: course.StepExam, Questions: Bank(5)},
			}},
		},
	}
}

// New builds the three-module fixture.
func New(t testing.TB) *course.Course {
	t.Helper()
	c, err := course.New(Descriptor())
	if err != nil {
		t.Fatalf("course.New() error = %v", err)
	}
	return c
}

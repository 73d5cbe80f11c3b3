package quiz_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/p-n-ai/pai-player/internal/course"
	"github.com/p-n-ai/pai-player/internal/course/coursetest"
	"github.com/p-n-ai/pai-player/internal/progress"
	"github.com/p-n-ai/pai-player/internal/quiz"
)

// answers returns a full submission with the first `correct` answers right.
func answers(total, correct int) map[int]int {
	a := make(map[int]int, total)
	for i := 0; i < total; i++ {
		if i < correct {
			a[i] = 1
		} else {
			a[i] = 0
		}
	}
	return a
}

func TestScore(t *testing.T) {
	bank := coursetest.Bank(5)

	tests := []struct {
		name    string
		correct int
		want    progress.AttemptResult
	}{
		{"four of five", 4, progress.AttemptResult{Score: 4, Total: 5, Percent: 80, Passed: true}},
		{"three of five", 3, progress.AttemptResult{Score: 3, Total: 5, Percent: 60, Passed: false}},
		{"all", 5, progress.AttemptResult{Score: 5, Total: 5, Percent: 100, Passed: true}},
		{"none", 0, progress.AttemptResult{Score: 0, Total: 5, Percent: 0, Passed: false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := quiz.Score(bank, answers(5, tt.correct), 70)
			if err != nil {
				t.Fatalf("Score() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Score() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestScore_ThresholdBoundary(t *testing.T) {
	got, err := quiz.Score(coursetest.Bank(10), answers(10, 7), 70)
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if !got.Passed {
		t.Errorf("Score() at exactly the threshold = %+v, want passed", got)
	}
}

func TestPercent_RoundHalfUp(t *testing.T) {
	tests := []struct {
		correct, total, want int
	}{
		{1, 8, 13}, // 12.5
		{3, 8, 38}, // 37.5
		{2, 3, 67},
		{1, 3, 33},
		{0, 0, 0},
	}
	for _, tt := range tests {
		if got := quiz.Percent(tt.correct, tt.total); got != tt.want {
			t.Errorf("Percent(%d, %d) = %d, want %d", tt.correct, tt.total, got, tt.want)
		}
	}
}

func TestScore_Incomplete(t *testing.T) {
	bank := coursetest.Bank(5)
	a := answers(5, 5)
	delete(a, 1)
	a[3] = 9

	_, err := quiz.Score(bank, a, 70)
	if !errors.Is(err, quiz.ErrIncompleteSubmission) {
		t.Fatalf("Score() error = %v, want ErrIncompleteSubmission", err)
	}
	var inc *quiz.IncompleteSubmissionError
	if !errors.As(err, &inc) || !slices.Equal(inc.Missing, []int{1, 3}) {
		t.Errorf("Missing = %v, want [1 3]", inc)
	}
}

func TestScore_EmptyBank(t *testing.T) {
	if _, err := quiz.Score(nil, nil, 70); !errors.Is(err, quiz.ErrEmptyBank) {
		t.Errorf("Score(nil) error = %v, want ErrEmptyBank", err)
	}
}

func TestThreshold(t *testing.T) {
	tests := []struct {
		step course.Step
		want int
	}{
		{course.Step{Type: course.StepQuiz}, 70},
		{course.Step{Type: course.StepExam}, 80},
		{course.Step{Type: course.StepQuiz, PassPercent: 90}, 90},
	}
	for _, tt := range tests {
		if got := quiz.Threshold(tt.step); got != tt.want {
			t.Errorf("Threshold(%+v) = %d, want %d", tt.step, got, tt.want)
		}
	}
}

func TestApply_Policies(t *testing.T) {
	step := course.Step{ID: "m1s2", Type: course.StepQuiz}
	pass := progress.AttemptResult{Score: 4, Total: 5, Percent: 80, Passed: true}
	fail := progress.AttemptResult{Score: 2, Total: 5, Percent: 40, Passed: false}

	t.Run("last attempt wins", func(t *testing.T) {
		rec := progress.NewRecord("1.0")
		quiz.Apply(&rec, step, pass, quiz.PolicyLast)
		changed, err := quiz.Apply(&rec, step, fail, quiz.PolicyLast)
		if err != nil || !changed {
			t.Fatalf("Apply() = %v, %v; want changed", changed, err)
		}
		if rec.QuizResults["m1s2"] != fail {
			t.Errorf("stored = %+v, want the failing retake", rec.QuizResults["m1s2"])
		}
	})

	t.Run("best attempt wins", func(t *testing.T) {
		rec := progress.NewRecord("1.0")
		quiz.Apply(&rec, step, pass, quiz.PolicyBest)
		changed, err := quiz.Apply(&rec, step, fail, quiz.PolicyBest)
		if err != nil || changed {
			t.Fatalf("Apply() = %v, %v; want unchanged", changed, err)
		}
		if rec.QuizResults["m1s2"] != pass {
			t.Errorf("stored = %+v, want the earlier pass", rec.QuizResults["m1s2"])
		}
		better := progress.AttemptResult{Score: 5, Total: 5, Percent: 100, Passed: true}
		if changed, _ := quiz.Apply(&rec, step, better, quiz.PolicyBest); !changed {
			t.Error("a better attempt should replace the stored one")
		}
	})

	t.Run("exam result", func(t *testing.T) {
		rec := progress.NewRecord("1.0")
		exam := course.Step{ID: "m3s2", Type: course.StepExam}
		quiz.Apply(&rec, exam, pass, quiz.PolicyLast)
		if rec.ExamResult == nil || *rec.ExamResult != pass {
			t.Errorf("ExamResult = %v, want %+v", rec.ExamResult, pass)
		}
		if _, ok := rec.QuizResults["m3s2"]; ok {
			t.Error("exam attempt should not be stored as a quiz result")
		}
		if !quiz.InputsLocked(rec, exam) {
			t.Error("InputsLocked() should be true after a pass")
		}
	})

	t.Run("not assessed", func(t *testing.T) {
		rec := progress.NewRecord("1.0")
		_, err := quiz.Apply(&rec, course.Step{ID: "x", Type: course.StepOverview}, pass, quiz.PolicyLast)
		if !errors.Is(err, quiz.ErrNotAssessment) {
			t.Errorf("Apply(overview) error = %v, want ErrNotAssessment", err)
		}
	})
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]quiz.Policy{"": quiz.PolicyLast, "last": quiz.PolicyLast, "best": quiz.PolicyBest} {
		if got, err := quiz.ParsePolicy(in); err != nil || got != want {
			t.Errorf("ParsePolicy(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := quiz.ParsePolicy("first"); err == nil {
		t.Error("ParsePolicy(first) should return error")
	}
}

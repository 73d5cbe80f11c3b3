// Package quiz scores knowledge checks and the final exam.
package quiz

import (
	"errors"
	"fmt"

	"github.com/p-n-ai/pai-player/internal/course"
	"github.com/p-n-ai/pai-player/internal/progress"
)

var (
	// ErrIncompleteSubmission is matched by every IncompleteSubmissionError.
	ErrIncompleteSubmission = errors.New("incomplete submission")
	ErrEmptyBank            = errors.New("question bank is empty")
	ErrNotAssessment        = errors.New("step is not a quiz or exam")
)

// IncompleteSubmissionError lists the question indices without an in-range
// answer.
type IncompleteSubmissionError struct {
	Missing []int
}

func (e *IncompleteSubmissionError) Error() string {
	return fmt.Sprintf("incomplete submission: %d unanswered question(s) %v", len(e.Missing), e.Missing)
}

func (e *IncompleteSubmissionError) Is(target error) bool {
	return target == ErrIncompleteSubmission
}

// Score grades answers (question index to chosen option index) against bank.
// Every question must be answered; there is no partial submission.
func Score(bank []course.Question, answers map[int]int, threshold int) (progress.AttemptResult, error) {
	if len(bank) == 0 {
		return progress.AttemptResult{}, ErrEmptyBank
	}

	var missing []int
	correct := 0
	for i, q := range bank {
		choice, ok := answers[i]
		if !ok || choice < 0 || choice >= len(q.Options) {
			missing = append(missing, i)
			continue
		}
		if choice == q.CorrectIndex {
			correct++
		}
	}
	if len(missing) > 0 {
		return progress.AttemptResult{}, &IncompleteSubmissionError{Missing: missing}
	}

	total := len(bank)
	percent := Percent(correct, total)
	return progress.AttemptResult{
		Score:   correct,
		Total:   total,
		Percent: percent,
		Passed:  percent >= threshold,
	}, nil
}

// Percent returns correct/total*100 rounded half up.
func Percent(correct, total int) int {
	if total <= 0 {
		return 0
	}
	return (correct*200 + total) / (2 * total)
}

// Threshold returns the pass percent of an assessed step.
func Threshold(step course.Step) int {
	if step.PassPercent > 0 {
		return step.PassPercent
	}
	if step.Type == course.StepExam {
		return course.DefaultExamPassPercent
	}
	return course.DefaultQuizPassPercent
}

// Policy decides how a new attempt interacts with the stored one.
type Policy string

const (
	// PolicyLast stores the most recent attempt, passing or not.
	PolicyLast Policy = "last"
	// PolicyBest keeps the stored attempt unless the new one scores at least
	// as well.
	PolicyBest Policy = "best"
)

// ParsePolicy accepts "last", "best" or "" (last).
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyLast:
		return PolicyLast, nil
	case PolicyBest:
		return PolicyBest, nil
	}
	return "", fmt.Errorf("unknown retake policy %q", s)
}

// Apply records result for step under policy. It reports whether the stored
// result changed.
func Apply(rec *progress.Record, step course.Step, result progress.AttemptResult, policy Policy) (bool, error) {
	var stored *progress.AttemptResult
	switch step.Type {
	case course.StepQuiz:
		if prev, ok := rec.QuizResults[step.ID]; ok {
			stored = &prev
		}
	case course.StepExam:
		stored = rec.ExamResult
	default:
		return false, ErrNotAssessment
	}

	if policy == PolicyBest && stored != nil && result.Percent < stored.Percent {
		return false, nil
	}

	if step.Type == course.StepExam {
		r := result
		rec.ExamResult = &r
	} else {
		if rec.QuizResults == nil {
			rec.QuizResults = map[string]progress.AttemptResult{}
		}
		rec.QuizResults[step.ID] = result
	}
	return true, nil
}

// Result returns the stored attempt for an assessed step.
func Result(rec progress.Record, step course.Step) (progress.AttemptResult, bool) {
	if step.Type == course.StepExam {
		if rec.ExamResult == nil {
			return progress.AttemptResult{}, false
		}
		return *rec.ExamResult, true
	}
	r, ok := rec.QuizResults[step.ID]
	return r, ok
}

// InputsLocked reports whether a passing attempt is stored for the step, at
// which point the answer inputs are shown read-only.
func InputsLocked(rec progress.Record, step course.Step) bool {
	r, ok := Result(rec, step)
	return ok && r.Passed
}

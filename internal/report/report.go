// Package report exports a learner's progress snapshot as an Excel workbook.
package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/pai-player/internal/course"
	"github.com/p-n-ai/pai-player/internal/player"
	"github.com/p-n-ai/pai-player/internal/progress"
)

const (
	SheetModules     = "Modules"
	SheetAssessments = "Assessments"
)

var (
	moduleHeader     = []any{"Module", "Title", "Steps Done", "Steps Total", "State"}
	assessmentHeader = []any{"Step", "Title", "Type", "Score", "Total", "Percent", "Passed"}
)

// WriteWorkbook writes an .xlsx report of st to w. c is the course view the
// snapshot was taken against.
func WriteWorkbook(w io.Writer, c *course.Course, st player.Status) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetModules); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}
	if err := writeRows(f, SheetModules, moduleRows(st)); err != nil {
		return err
	}

	if _, err := f.NewSheet(SheetAssessments); err != nil {
		return fmt.Errorf("creating sheet: %w", err)
	}
	if err := writeRows(f, SheetAssessments, assessmentRows(c, st)); err != nil {
		return err
	}

	if err := f.SetDocProps(&excelize.DocProperties{
		Title:   c.Title,
		Subject: "Progress report",
		Creator: "pai-player",
	}); err != nil {
		return fmt.Errorf("setting properties: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

func moduleRows(st player.Status) [][]any {
	rows := [][]any{moduleHeader}
	for _, m := range st.Modules {
		rows = append(rows, []any{m.ModuleID, m.Title, m.StepsDone, m.StepsTotal, string(m.State)})
	}
	return rows
}

func assessmentRows(c *course.Course, st player.Status) [][]any {
	rows := [][]any{assessmentHeader}
	for _, m := range c.AllModules() {
		for _, s := range m.Steps {
			if !s.Type.IsAssessment() {
				continue
			}
			row := []any{s.ID, s.Title, string(s.Type)}
			if r, ok := attempt(st, s); ok {
				row = append(row, r.Score, r.Total, r.Percent, yesNo(r.Passed))
			}
			rows = append(rows, row)
		}
	}
	return rows
}

func attempt(st player.Status, s course.Step) (progress.AttemptResult, bool) {
	if s.Type == course.StepExam {
		if st.ExamResult == nil {
			return progress.AttemptResult{}, false
		}
		return *st.ExamResult, true
	}
	r, ok := st.QuizResults[s.ID]
	return r, ok
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("writing %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

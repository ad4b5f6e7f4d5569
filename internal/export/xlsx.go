package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const (
	sheetLines   = "Lines"
	sheetIssues  = "Issues"
	sheetMatches = "Matches"
)

// writeXLSX writes a workbook with one sheet each for lines, issues and
// matches.
func writeXLSX(w io.Writer, docs []Document) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", sheetLines); err != nil {
		return fmt.Errorf("xlsx sheet: %w", err)
	}
	for _, name := range []string{sheetIssues, sheetMatches} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("xlsx sheet: %w", err)
		}
	}

	lines := [][]any{toAny(lineHeader)}
	for _, r := range lineRows(docs) {
		lines = append(lines, toAny(r.strings()))
	}

	issues := [][]any{{"source", "page", "line", "kind", "auto_fixed", "message"}}
	matches := [][]any{{"source", "page", "line", "product_id", "status", "score", "suggestions"}}
	for _, d := range docs {
		if d.Result == nil {
			continue
		}
		for _, is := range d.Result.Issues {
			issues = append(issues, []any{d.Source, d.Page, is.Line, string(is.Kind), is.AutoFixed, is.Message})
		}
		for _, m := range d.Result.Matches {
			var sugg string
			for i, s := range m.Suggestions {
				if i > 0 {
					sugg += "; "
				}
				sugg += fmt.Sprintf("%s %s (%.2f)", s.ProductID, s.Name, s.Score)
			}
			matches = append(matches, []any{d.Source, d.Page, m.Line, m.ProductID, string(m.Status), m.Score, sugg})
		}
	}

	for sheet, rows := range map[string][][]any{sheetLines: lines, sheetIssues: issues, sheetMatches: matches} {
		if err := writeRows(f, sheet, rows); err != nil {
			return err
		}
	}
	_ = f.SetColWidth(sheetLines, "A", "A", 28)
	_ = f.SetColWidth(sheetLines, "D", "D", 32)
	_ = f.SetColWidth(sheetIssues, "F", "F", 60)
	_ = f.SetColWidth(sheetMatches, "G", "G", 60)
	f.SetActiveSheet(0)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("xlsx row %d: %w", i+1, err)
		}
	}
	return nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

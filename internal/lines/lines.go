// Package lines groups recognized table cells into invoice line records.
package lines

import (
	"sort"
	"strings"
	"unicode"

	"github.com/MeKo-Tech/invocr/internal/invoice"
	"github.com/MeKo-Tech/invocr/internal/numeric"
	"github.com/MeKo-Tech/invocr/internal/table"
)

// Build groups cells by row and maps each column to a line field. Header
// rows are skipped, as are rows with neither a name nor a parseable
// quantity.
func Build(cells []invoice.RecognizedCell, columns map[int]table.ColumnRole, headerRows []int) []invoice.LineRecord {
	roles, headers := Roles(cells, columns, headerRows)

	byRow := map[int][]invoice.RecognizedCell{}
	var rows []int
	for _, c := range cells {
		if _, ok := byRow[c.Row]; !ok {
			rows = append(rows, c.Row)
		}
		byRow[c.Row] = append(byRow[c.Row], c)
	}
	sort.Ints(rows)

	var out []invoice.LineRecord
	for _, r := range rows {
		if headers[r] {
			continue
		}
		rowCells := byRow[r]
		sort.SliceStable(rowCells, func(i, j int) bool { return rowCells[i].Col < rowCells[j].Col })

		line := buildLine(r, rowCells, roles)
		if !line.HasName() && !line.Qty.Valid {
			continue
		}
		out = append(out, line)
	}
	return out
}

func buildLine(row int, cells []invoice.RecognizedCell, roles map[int]table.ColumnRole) invoice.LineRecord {
	line := invoice.LineRecord{Row: row}
	var names []string
	for _, c := range cells {
		text := strings.TrimSpace(c.Text)
		if text == "" {
			continue
		}
		switch roles[c.Col] {
		case table.RoleName:
			names = append(names, text)
		case table.RoleQty:
			qty, unit := SplitQtyUnit(text)
			if !line.Qty.Valid {
				line.Qty = numeric.ParseNull(qty)
			}
			if line.Unit == "" && unit != "" {
				line.Unit = invoice.NormalizeUnit(unit)
			}
		case table.RoleUnit:
			line.Unit = invoice.NormalizeUnit(text)
		case table.RolePrice:
			line.Price = numeric.ParseNull(text)
		case table.RoleTotal:
			line.Total = numeric.ParseNull(text)
		}
	}
	line.Name = strings.Join(names, " ")
	return line
}

// SplitQtyUnit separates a quantity cell like "2 kg" or "1,5L" into its
// number and trailing unit word. A bare "k" stays with the number as the
// thousands suffix.
func SplitQtyUnit(s string) (string, string) {
	runes := []rune(strings.TrimSpace(s))
	i := len(runes)
	for i > 0 && (unicode.IsLetter(runes[i-1]) || runes[i-1] == '.') {
		i--
	}
	num := strings.TrimSpace(string(runes[:i]))
	unit := strings.TrimSpace(string(runes[i:]))
	if strings.IndexFunc(unit, unicode.IsLetter) < 0 || strings.EqualFold(unit, "k") {
		return string(runes), ""
	}
	if strings.IndexFunc(num, unicode.IsDigit) < 0 {
		return string(runes), ""
	}
	return num, unit
}

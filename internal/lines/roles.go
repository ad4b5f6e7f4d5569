package lines

import (
	"sort"
	"strings"

	"github.com/MeKo-Tech/invocr/internal/invoice"
	"github.com/MeKo-Tech/invocr/internal/table"
)

// Header keywords per role in English, Indonesian and Russian. Checked in
// order so that "jumlah harga" (line total) wins over "jumlah" (quantity)
// and "harga satuan" (unit price) over "satuan" (unit).
var headerKeywords = []struct {
	role  table.ColumnRole
	words []string
}{
	{table.RoleTotal, []string{"jumlah harga", "total", "amount", "subtotal", "sum", "сумма", "стоимость", "итого"}},
	{table.RolePrice, []string{"harga", "price", "rate", "цена"}},
	{table.RoleQty, []string{"qty", "quantity", "jumlah", "jml", "banyak", "кол"}},
	{table.RoleUnit, []string{"unit", "uom", "satuan", "sat", "ед"}},
	{table.RoleName, []string{"name", "item", "product", "description", "nama", "barang", "наимен", "товар", "назв"}},
}

var indexHeaders = map[string]bool{"no": true, "no.": true, "№": true, "#": true, "nr": true, "n": true}

// ClassifyHeader returns the column role a header text names.
func ClassifyHeader(text string) (table.ColumnRole, bool) {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return "", false
	}
	if indexHeaders[t] {
		return table.RoleIgnore, true
	}
	for _, kw := range headerKeywords {
		for _, w := range kw.words {
			if strings.Contains(t, w) {
				return kw.role, true
			}
		}
	}
	return "", false
}

// Roles resolves the role of every column. Roles reported by the table
// detector win; otherwise the first row is read as a header when at least
// two of its cells name a role; otherwise roles are assigned by position.
// The returned set lists rows to skip as headers. A first row that reads
// as a header is skipped even when the detector supplied the roles.
func Roles(cells []invoice.RecognizedCell, provided map[int]table.ColumnRole,
	headerRows []int,
) (map[int]table.ColumnRole, map[int]bool) {
	headers := make(map[int]bool, len(headerRows))
	for _, r := range headerRows {
		headers[r] = true
	}

	inferred, row, found := inferFromHeader(cells)
	if found {
		headers[row] = true
	}
	switch {
	case len(provided) > 0:
		return provided, headers
	case found:
		return inferred, headers
	default:
		return positional(columnsOf(cells)), headers
	}
}

func inferFromHeader(cells []invoice.RecognizedCell) (map[int]table.ColumnRole, int, bool) {
	if len(cells) == 0 {
		return nil, 0, false
	}
	first := cells[0].Row
	for _, c := range cells {
		if c.Row < first {
			first = c.Row
		}
	}

	roles := map[int]table.ColumnRole{}
	matched := 0
	for _, c := range cells {
		if c.Row != first {
			continue
		}
		if role, ok := ClassifyHeader(c.Text); ok {
			roles[c.Col] = role
			if role != table.RoleIgnore {
				matched++
			}
		}
	}
	if matched < 2 {
		return nil, 0, false
	}
	return roles, first, true
}

func columnsOf(cells []invoice.RecognizedCell) []int {
	seen := map[int]bool{}
	var cols []int
	for _, c := range cells {
		if !seen[c.Col] {
			seen[c.Col] = true
			cols = append(cols, c.Col)
		}
	}
	sort.Ints(cols)
	return cols
}

// positional assigns the usual invoice column order. Six or more columns
// are assumed to start with a row number.
func positional(cols []int) map[int]table.ColumnRole {
	var order []table.ColumnRole
	switch n := len(cols); {
	case n >= 6:
		order = []table.ColumnRole{table.RoleIgnore, table.RoleName, table.RoleQty, table.RoleUnit, table.RolePrice, table.RoleTotal}
	case n == 5:
		order = []table.ColumnRole{table.RoleName, table.RoleQty, table.RoleUnit, table.RolePrice, table.RoleTotal}
	case n == 4:
		order = []table.ColumnRole{table.RoleName, table.RoleQty, table.RolePrice, table.RoleTotal}
	default:
		order = []table.ColumnRole{table.RoleName, table.RoleQty, table.RolePrice}
	}
	roles := make(map[int]table.ColumnRole, len(cols))
	for i, c := range cols {
		if i < len(order) {
			roles[c] = order[i]
		} else {
			roles[c] = table.RoleIgnore
		}
	}
	return roles
}

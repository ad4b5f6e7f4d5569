package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"testing"

	"github.com/MeKo-Tech/invocr/internal/invoice"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sampleResult() *invoice.Result {
	return &invoice.Result{
		Lines: []invoice.LineRecord{
			{Name: "Mozzarella", Qty: invoice.Dec(decimal.RequireFromString("2")), Unit: "kg",
				Price: invoice.Dec(decimal.RequireFromString("85000")), Total: invoice.Dec(decimal.RequireFromString("170000"))},
			{Name: "Mystery", Qty: invoice.Dec(decimal.RequireFromString("1.5"))},
		},
		Issues: []invoice.Issue{
			{Kind: invoice.IssueUnrecognizedName, Line: 1, Message: "no catalog product"},
		},
		Matches: []invoice.MatchResult{
			{Line: 0, ProductID: "1", Status: invoice.MatchOK, Score: 1},
			{Line: 1, Status: invoice.MatchUnknown, Suggestions: []invoice.Suggestion{{ProductID: "2", Name: "Bacon", Score: 0.4}}},
		},
		Accuracy: 1,
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatJSON, false},
		{"JSON", FormatJSON, false},
		{" csv ", FormatCSV, false},
		{"xlsx", FormatXLSX, false},
		{"pdf", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/json", FormatJSON.ContentType())
	assert.Contains(t, FormatCSV.ContentType(), "text/csv")
	assert.Contains(t, FormatXLSX.ContentType(), "spreadsheetml")
}

func TestWriteJSON_SingleResult(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResult(&buf, FormatJSON, sampleResult()))

	var got invoice.Result
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got.Lines, 2)
	assert.Equal(t, "Mozzarella", got.Lines[0].Name)
	assert.True(t, got.Lines[0].Total.Decimal.Equal(decimal.RequireFromString("170000")))
	assert.False(t, got.Lines[1].Price.Valid)
}

func TestWriteJSON_MultipleDocuments(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON,
		Document{Source: "a.png", Result: sampleResult()},
		Document{Source: "b.png", Error: "invalid image"},
	))

	var got []Document
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "a.png", got[0].Source)
	assert.Equal(t, "invalid image", got[1].Error)
	assert.Nil(t, got[1].Result)
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatCSV, Document{Source: "inv.pdf", Page: 2, Result: sampleResult()}))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, lineHeader, records[0])
	assert.Equal(t, []string{
		"inv.pdf", "2", "0", "Mozzarella", "2", "kg", "85000", "170000", "1", "ok", "1.000", "",
	}, records[1])
	assert.Equal(t, "1.5", records[2][4])
	assert.Equal(t, "", records[2][6])
	assert.Equal(t, "unknown", records[2][9])
	assert.Equal(t, "unrecognized_name", records[2][11])
}

func TestWriteCSV_SkipsFailedDocuments(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatCSV, Document{Source: "bad.png", Error: "boom"}))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatXLSX, Document{Source: "inv.png", Result: sampleResult()}))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	assert.Equal(t, []string{sheetLines, sheetIssues, sheetMatches}, f.GetSheetList())

	rows, err := f.GetRows(sheetLines)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Mozzarella", rows[1][3])

	name, err := f.GetCellValue(sheetIssues, "D2")
	require.NoError(t, err)
	assert.Equal(t, "unrecognized_name", name)

	sugg, err := f.GetCellValue(sheetMatches, "G3")
	require.NoError(t, err)
	assert.Contains(t, sugg, "Bacon")
}

func TestWrite_UnknownFormat(t *testing.T) {
	require.Error(t, Write(&bytes.Buffer{}, Format("yaml")))
}

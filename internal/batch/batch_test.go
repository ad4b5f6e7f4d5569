package batch

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MeKo-Tech/invocr/internal/export"
	"github.com/MeKo-Tech/invocr/internal/invoice"
	"github.com/MeKo-Tech/invocr/internal/pipeline"
	"github.com/MeKo-Tech/invocr/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProcessor struct {
	calls atomic.Int32
	fail  []byte
}

func (f *fakeProcessor) ProcessWithProgress(_ context.Context, img []byte, cb pipeline.ProgressCallback) (*invoice.Result, error) {
	f.calls.Add(1)
	if f.fail != nil && bytes.Equal(img, f.fail) {
		return nil, pipeline.ErrRecognitionUnavailable
	}
	cb.OnStage(pipeline.StageRecognize)
	cb.OnStart(1)
	cb.OnProgress(1, 1)
	cb.OnComplete()
	return &invoice.Result{
		Lines: []invoice.LineRecord{{
			Name: "Beras",
			Qty:  decimal.NewNullDecimal(decimal.NewFromInt(5)),
			Unit: "kg",
		}},
		Matches: []invoice.MatchResult{{Line: 0, Status: invoice.MatchUnknown}},
		Stats:   invoice.Stats{Partial: string(img) == "partial"},
	}, nil
}

func writeInvoices(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		testutil.WriteFile(t, dir, n, []byte(n))
	}
	return dir
}

func TestProcessBatch_Directory(t *testing.T) {
	dir := writeInvoices(t, "a.png", "b.jpg", "notes.txt")
	proc := &fakeProcessor{}

	cfg := DefaultConfig()
	cfg.Workers = 2
	res, err := ProcessBatch(context.Background(), proc, []string{dir}, cfg)
	require.NoError(t, err)

	require.Len(t, res.Documents, 2)
	assert.Equal(t, filepath.Join(dir, "a.png"), res.Documents[0].Source)
	assert.Equal(t, filepath.Join(dir, "b.jpg"), res.Documents[1].Source)
	assert.Equal(t, int32(2), proc.calls.Load())
	assert.Equal(t, 2, res.Workers)
}

func TestProcessBatch_NoFiles(t *testing.T) {
	dir := writeInvoices(t, "notes.txt")

	_, err := ProcessBatch(context.Background(), &fakeProcessor{}, []string{dir}, DefaultConfig())
	require.ErrorIs(t, err, ErrNoInvoiceFiles)
}

func TestProcessBatch_InvalidPath(t *testing.T) {
	_, err := ProcessBatch(context.Background(), &fakeProcessor{}, []string{"/nonexistent/file.png"}, DefaultConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot access")
}

func TestProcessBatch_UnsupportedExplicitFile(t *testing.T) {
	dir := writeInvoices(t, "notes.txt")

	_, err := ProcessBatch(context.Background(), &fakeProcessor{}, []string{filepath.Join(dir, "notes.txt")}, DefaultConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported invoice file")
}

func TestProcessBatch_ContinueOnError(t *testing.T) {
	dir := writeInvoices(t, "a.png", "b.png")
	proc := &fakeProcessor{fail: []byte("b.png")}

	cfg := DefaultConfig()
	cfg.ContinueOnError = true
	res, err := ProcessBatch(context.Background(), proc, []string{dir}, cfg)
	require.NoError(t, err)

	require.Len(t, res.Documents, 2)
	assert.NotNil(t, res.Documents[0].Result)
	assert.Nil(t, res.Documents[1].Result)
	assert.Contains(t, res.Documents[1].Error, "recognition")

	s := res.Stats()
	assert.Equal(t, 1, s.Processed)
	assert.Equal(t, 1, s.Failed)
}

func TestProcessBatch_StopOnError(t *testing.T) {
	dir := writeInvoices(t, "a.png", "b.png")
	proc := &fakeProcessor{fail: []byte("b.png")}

	cfg := DefaultConfig()
	cfg.ContinueOnError = false
	_, err := ProcessBatch(context.Background(), proc, []string{dir}, cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, pipeline.ErrRecognitionUnavailable))
	assert.Contains(t, err.Error(), "b.png")
}

func TestProcessBatch_BrokenPDF(t *testing.T) {
	dir := writeInvoices(t, "broken.pdf")

	cfg := DefaultConfig()
	res, err := ProcessBatch(context.Background(), &fakeProcessor{}, []string{dir}, cfg)
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	assert.NotEmpty(t, res.Documents[0].Error)

	cfg.ContinueOnError = false
	_, err = ProcessBatch(context.Background(), &fakeProcessor{}, []string{dir}, cfg)
	require.Error(t, err)
}

func TestProcessBatch_Progress(t *testing.T) {
	dir := writeInvoices(t, "a.png")
	var out bytes.Buffer

	cfg := DefaultConfig()
	cfg.ShowProgress = true
	cfg.ProgressOut = &out
	_, err := ProcessBatch(context.Background(), &fakeProcessor{}, []string{dir}, cfg)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "a.png: recognize")

	out.Reset()
	cfg.Quiet = true
	_, err = ProcessBatch(context.Background(), &fakeProcessor{}, []string{dir}, cfg)
	require.NoError(t, err)
	assert.Empty(t, out.String())
}

func TestResult_StatsAndOutput(t *testing.T) {
	res := &Result{
		Files:    []string{"a.png", "b.png", "c.png"},
		Duration: 3 * time.Second,
		Workers:  2,
		Documents: []export.Document{
			{Source: "a.png", Result: &invoice.Result{
				Lines:   make([]invoice.LineRecord, 3),
				Issues:  []invoice.Issue{{Kind: invoice.IssueUnitMismatch}},
				Matches: []invoice.MatchResult{{Status: invoice.MatchOK}, {Status: invoice.MatchUnknown}},
				Stats:   invoice.Stats{Cached: true},
			}},
			{Source: "b.png", Result: &invoice.Result{Stats: invoice.Stats{Partial: true}}},
			{Source: "c.png", Error: "boom"},
		},
	}

	s := res.Stats()
	assert.Equal(t, 3, s.Files)
	assert.Equal(t, 3, s.Documents)
	assert.Equal(t, 2, s.Processed)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 3, s.Lines)
	assert.Equal(t, 1, s.Issues)
	assert.Equal(t, 1, s.Unmatched)
	assert.Equal(t, 1, s.Partial)
	assert.Equal(t, 1, s.Cached)
	assert.Equal(t, time.Second, s.AveragePerDoc)
	assert.InDelta(t, 1.0, s.ThroughputPerSec, 1e-9)

	var stats bytes.Buffer
	res.PrintStats(&stats)
	assert.Contains(t, stats.String(), "Failed: 1")
	assert.Contains(t, stats.String(), "Unmatched lines: 1")

	var csv bytes.Buffer
	require.NoError(t, res.Write(&csv, export.FormatCSV))
	assert.Contains(t, csv.String(), "a.png")
	assert.NotContains(t, csv.String(), "c.png")
}

func TestResult_StatsEmpty(t *testing.T) {
	s := (&Result{}).Stats()
	assert.Zero(t, s.Documents)
	assert.Zero(t, s.AveragePerDoc)
	assert.Zero(t, s.ThroughputPerSec)
}

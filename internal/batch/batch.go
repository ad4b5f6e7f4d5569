// Package batch processes many invoice files in parallel for the CLI.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MeKo-Tech/invocr/internal/export"
	"github.com/MeKo-Tech/invocr/internal/invoice"
	"github.com/MeKo-Tech/invocr/internal/pipeline"
	"golang.org/x/sync/errgroup"
)

// ErrNoInvoiceFiles is returned when the arguments name no invoice files.
var ErrNoInvoiceFiles = errors.New("no invoice files found")

// Processor runs one invoice image through the extraction pipeline.
type Processor interface {
	ProcessWithProgress(ctx context.Context, img []byte, cb pipeline.ProgressCallback) (*invoice.Result, error)
}

// Result holds the result of batch processing. Documents are ordered by
// file, then by PDF page.
type Result struct {
	Documents []export.Document
	Files     []string
	Duration  time.Duration
	Workers   int
}

// ProcessBatch discovers the invoice files named by args and processes them
// with config.Workers goroutines.
func ProcessBatch(ctx context.Context, proc Processor, args []string, config Config) (*Result, error) {
	files, err := discoverInvoiceFiles(args, config.Recursive, config.IncludePatterns, config.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to discover invoice files: %w", err)
	}
	if len(files) == 0 {
		return nil, ErrNoInvoiceFiles
	}

	workers := min(config.workers(), len(files))
	var out io.Writer
	if config.ShowProgress && !config.Quiet && config.ProgressOut != nil {
		out = &syncWriter{w: config.ProgressOut}
	}

	perFile := make([][]export.Document, len(files))
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range files {
		g.Go(func() error {
			docs, err := processFile(gctx, proc, path, config, out)
			if err != nil {
				return err
			}
			perFile[i] = docs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("batch processing failed: %w", err)
	}

	result := &Result{Files: files, Duration: time.Since(start), Workers: workers}
	for _, docs := range perFile {
		result.Documents = append(result.Documents, docs...)
	}
	return result, nil
}

// Stats summarizes the batch.
func (r *Result) Stats() Stats {
	s := Stats{
		Files:         len(r.Files),
		Documents:     len(r.Documents),
		Workers:       r.Workers,
		TotalDuration: r.Duration,
	}
	for _, d := range r.Documents {
		if d.Result == nil {
			s.Failed++
			continue
		}
		s.Processed++
		s.Lines += len(d.Result.Lines)
		s.Issues += len(d.Result.Issues)
		for _, m := range d.Result.Matches {
			if m.Status != invoice.MatchOK {
				s.Unmatched++
			}
		}
		if d.Result.Stats.Partial {
			s.Partial++
		}
		if d.Result.Stats.Cached {
			s.Cached++
		}
	}
	if s.Documents > 0 {
		s.AveragePerDoc = r.Duration / time.Duration(s.Documents)
	}
	if secs := r.Duration.Seconds(); secs > 0 {
		s.ThroughputPerSec = float64(s.Documents) / secs
	}
	return s
}

// Write encodes the documents in the given format.
func (r *Result) Write(w io.Writer, format export.Format) error {
	return export.Write(w, format, r.Documents...)
}

// PrintStats prints processing statistics.
func (r *Result) PrintStats(w io.Writer) {
	s := r.Stats()
	_, _ = fmt.Fprintf(w, "\nProcessing Statistics:\n")
	_, _ = fmt.Fprintf(w, "  Files: %d\n", s.Files)
	_, _ = fmt.Fprintf(w, "  Invoices: %d\n", s.Documents)
	_, _ = fmt.Fprintf(w, "  Processed: %d\n", s.Processed)
	_, _ = fmt.Fprintf(w, "  Failed: %d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "  Partial: %d\n", s.Partial)
	_, _ = fmt.Fprintf(w, "  Cached: %d\n", s.Cached)
	_, _ = fmt.Fprintf(w, "  Lines: %d\n", s.Lines)
	_, _ = fmt.Fprintf(w, "  Issues: %d\n", s.Issues)
	_, _ = fmt.Fprintf(w, "  Unmatched lines: %d\n", s.Unmatched)
	_, _ = fmt.Fprintf(w, "  Workers: %d\n", s.Workers)
	_, _ = fmt.Fprintf(w, "  Duration: %v\n", s.TotalDuration.Round(time.Millisecond))
	_, _ = fmt.Fprintf(w, "  Avg per invoice: %v\n", s.AveragePerDoc.Round(time.Millisecond))
	_, _ = fmt.Fprintf(w, "  Throughput: %.2f invoices/sec\n", s.ThroughputPerSec)
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func progressFor(out io.Writer, label string) pipeline.ProgressCallback {
	if out == nil {
		return pipeline.NoOpProgressCallback{}
	}
	return pipeline.NewConsoleProgressCallback(out, label+": ")
}

func logFailure(path string, page int, err error) {
	slog.Warn("Invoice processing failed", "file", path, "page", page, "error", err)
}

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"sort"
	"strconv"
	"time"

	"github.com/MeKo-Tech/invocr/internal/cache"
	"github.com/MeKo-Tech/invocr/internal/common"
	"github.com/MeKo-Tech/invocr/internal/invoice"
	"github.com/MeKo-Tech/invocr/internal/lines"
	"github.com/MeKo-Tech/invocr/internal/retry"
	"github.com/MeKo-Tech/invocr/internal/table"
	"github.com/MeKo-Tech/invocr/internal/utils"
)

var errDeadline = errors.New("invoice deadline exceeded")

// Process runs the full pipeline on one invoice image.
func (p *Pipeline) Process(ctx context.Context, img []byte) (*invoice.Result, error) {
	return p.ProcessWithProgress(ctx, img, nil)
}

// ProcessWithProgress is like Process and reports progress to cb.
//
// Data-quality problems never fail the call; they are returned as issues.
// Errors are returned for empty or undecodable images, an unusable catalog,
// cancellation of ctx, and when no recognizer could read the invoice. When
// the configured deadline expires the lines recognized so far are returned
// with Stats.Partial set.
func (p *Pipeline) ProcessWithProgress(ctx context.Context, img []byte, cb ProgressCallback) (*invoice.Result, error) {
	if cb == nil {
		cb = NoOpProgressCallback{}
	}
	if len(img) == 0 {
		return nil, invoice.ErrEmptyImage
	}
	start := time.Now()
	timings := common.NewTimings()

	stop := timings.Start("decode")
	decoded, _, err := utils.DecodeImage(img)
	stop()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", invoice.ErrInvalidImage, err)
	}

	products, err := p.catalog.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	key := cache.Key(img)
	if res := p.cachedResult(ctx, key); res != nil {
		res.Stats.Cached = true
		processingDuration.WithLabelValues("cached").Observe(time.Since(start).Seconds())
		cb.OnComplete()
		return res, nil
	}

	runCtx := retry.WithBudget(ctx, retry.NewBudget(p.cfg.RetryBudget))
	if p.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeoutCause(runCtx, p.cfg.Deadline, errDeadline)
		defer cancel()
	}

	res := &invoice.Result{}
	extracted, err := p.extract(runCtx, img, decoded, &res.Stats, timings, cb)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !errors.Is(context.Cause(runCtx), errDeadline) {
			return nil, err
		}
		p.logger.Warn("Invoice deadline exceeded", "deadline", p.cfg.Deadline, "error", err)
		res.Stats.Partial = true
		extracted = nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	cb.OnStage(StageValidate)
	stop = timings.Start(StageValidate)
	report := p.validator.Validate(extracted)
	stop()

	cb.OnStage(StageMatch)
	stop = timings.Start(StageMatch)
	matches := p.matcher.Match(report.Lines, products)
	stop()

	issues := report.Issues
	if len(products) > 0 {
		issues = append(issues, unrecognizedNames(report.Lines, matches)...)
		sort.SliceStable(issues, func(a, b int) bool { return issues[a].Line < issues[b].Line })
	}
	for _, is := range issues {
		issuesFound.WithLabelValues(string(is.Kind), strconv.FormatBool(is.AutoFixed)).Inc()
	}

	res.Lines = report.Lines
	res.Issues = issues
	res.Matches = matches
	res.Accuracy = report.Accuracy
	timings.Add("total", time.Since(start))
	res.Stats.TimingMs = timings.Millis()

	path := "table"
	if res.Stats.Fallback {
		path = "fallback"
	}
	processingDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())

	if !res.Stats.Partial {
		p.storeResult(ctx, key, res)
	}
	p.logger.Info("Invoice processed", "path", path, "lines", len(res.Lines), "issues", len(res.Issues),
		"accuracy", res.Accuracy, "partial", res.Stats.Partial, "duration_ms", time.Since(start).Milliseconds())
	cb.OnComplete()
	return res, nil
}

// extract produces raw lines, through the table when one is found and the
// whole-image path otherwise.
func (p *Pipeline) extract(ctx context.Context, img []byte, decoded image.Image, stats *invoice.Stats,
	timings *common.Timings, cb ProgressCallback,
) ([]invoice.LineRecord, error) {
	cb.OnStage(StageDetect)
	stop := timings.Start(StageDetect)
	layout, err := p.detect(ctx, img)
	stop()

	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		reason := "error"
		if errors.Is(err, table.ErrTableNotFound) {
			reason = "not_found"
		}
		p.logger.Info("Table detection failed, using whole-image recognition", "reason", reason, "error", err)
		fallbackActivations.WithLabelValues(reason).Inc()
		stats.Fallback = true

		cb.OnStage(StageFallback)
		stop := timings.Start(StageFallback)
		defer stop()
		return p.recognizeDocument(ctx, img)
	}

	return p.extractTable(ctx, decoded, layout, stats, timings, cb)
}

func (p *Pipeline) detect(ctx context.Context, img []byte) (*table.Layout, error) {
	var layout *table.Layout
	err := retry.Do(ctx, p.cfg.DetectRetry, "table.detect", func(ctx context.Context) error {
		var err error
		layout, err = p.tables.Detect(ctx, img)
		return err
	})
	if err != nil {
		return nil, err
	}
	if layout == nil || len(layout.Cells) == 0 {
		return nil, table.ErrTableNotFound
	}
	layout.Sort()
	return layout, nil
}

func (p *Pipeline) extractTable(ctx context.Context, decoded image.Image, layout *table.Layout, stats *invoice.Stats,
	timings *common.Timings, cb ProgressCallback,
) ([]invoice.LineRecord, error) {
	cells := make([]invoice.Cell, len(layout.Cells))
	for i, c := range layout.Cells {
		if len(c.Image) == 0 {
			crop, err := utils.CropCellPNG(decoded, c.Box)
			if err != nil {
				p.logger.Warn("Cell crop failed", "row", c.Row, "col", c.Col, "error", err)
			}
			c.Image = crop
		}
		cells[i] = c
	}

	cb.OnStage(StageRecognize)
	stop := timings.Start(StageRecognize)
	outcomes := p.recognizeCells(ctx, cells, cb)
	stop()

	stats.CellsTotal = len(cells)
	recognized := make([]invoice.RecognizedCell, 0, len(outcomes))
	for _, o := range outcomes {
		if !o.done {
			stats.Partial = true
			continue
		}
		rc := o.cell
		switch {
		case rc.Err != "":
			stats.CellsFailed++
			cellFailures.Inc()
		case rc.Tier == invoice.TierNone:
			stats.CellsSkipped++
		}
		if rc.Escalated {
			stats.CellsEscalated++
			cellEscalations.Inc()
		}
		cellsRecognized.WithLabelValues(string(rc.Tier)).Inc()
		recognized = append(recognized, rc)
	}

	attempted := len(recognized) - stats.CellsSkipped
	if !stats.Partial && attempted > 0 && stats.CellsFailed == attempted {
		return nil, fmt.Errorf("%w: all %d cells failed", ErrRecognitionUnavailable, attempted)
	}
	return lines.Build(recognized, layout.Columns, layout.HeaderRows), nil
}

// unrecognizedNames reports lines the matcher left without a product.
func unrecognizedNames(lines []invoice.LineRecord, matches []invoice.MatchResult) []invoice.Issue {
	var out []invoice.Issue
	for _, m := range matches {
		if m.Status != invoice.MatchUnknown || m.Line < 0 || m.Line >= len(lines) {
			continue
		}
		msg := "line has no readable product name"
		if name := lines[m.Line].Name; name != "" {
			msg = fmt.Sprintf("no catalog product matches %q", name)
		}
		out = append(out, invoice.Issue{Kind: invoice.IssueUnrecognizedName, Line: m.Line, Message: msg})
	}
	return out
}

// cachedResult returns a stored result or nil. Cache failures are logged
// and treated as misses.
func (p *Pipeline) cachedResult(ctx context.Context, key string) *invoice.Result {
	if p.cache == nil {
		return nil
	}
	raw, ok, err := p.cache.Get(ctx, key)
	if err != nil {
		cacheLookups.WithLabelValues("error").Inc()
		p.logger.Warn("Cache read failed", "key", key, "error", err)
		return nil
	}
	if !ok {
		cacheLookups.WithLabelValues("miss").Inc()
		return nil
	}
	var res invoice.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		cacheLookups.WithLabelValues("error").Inc()
		p.logger.Warn("Cached result is unreadable", "key", key, "error", err)
		return nil
	}
	cacheLookups.WithLabelValues("hit").Inc()
	p.logger.Debug("Cache hit", "key", key)
	return &res
}

func (p *Pipeline) storeResult(ctx context.Context, key string, res *invoice.Result) {
	if p.cache == nil {
		return
	}
	raw, err := json.Marshal(res)
	if err != nil {
		p.logger.Warn("Result not cacheable", "error", err)
		return
	}
	if err := p.cache.Set(ctx, key, raw, p.cfg.CacheTTL); err != nil {
		p.logger.Warn("Cache write failed", "key", key, "error", err)
	}
}

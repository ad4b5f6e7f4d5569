package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MeKo-Tech/invocr/internal/cache"
	"github.com/MeKo-Tech/invocr/internal/catalog"
	"github.com/MeKo-Tech/invocr/internal/invoice"
	"github.com/MeKo-Tech/invocr/internal/recognizer"
	"github.com/MeKo-Tech/invocr/internal/retry"
	"github.com/MeKo-Tech/invocr/internal/table"
	"github.com/MeKo-Tech/invocr/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleCatalog = catalog.Static{
	{ID: "1", Name: "Mozzarella", UnitCategory: "kg"},
	{ID: "2", Name: "Bacon", UnitCategory: "kg"},
}

// invoiceRows is a header plus two lines; Bacon's price lost a zero.
var invoiceRows = [][]string{
	{"Name", "Qty", "Unit", "Price", "Total"},
	{"Mozzarella", "2", "kg", "85.000", "170.000"},
	{"Bacon", "1,5", "kg", "12000", "180000"},
}

func cellKey(row, col int) string { return fmt.Sprintf("r%dc%d", row, col) }

// tableOf lays rows out as 20x20 cells whose image bytes name the cell.
func tableOf(rows [][]string) (table.Static, map[string]string) {
	texts := map[string]string{}
	layout := &table.Layout{}
	for r, row := range rows {
		for c, text := range row {
			key := cellKey(r, c)
			texts[key] = text
			layout.Cells = append(layout.Cells, invoice.Cell{
				Box:   invoice.Box{X1: float64(c * 20), Y1: float64(r * 20), X2: float64(c*20 + 20), Y2: float64(r*20 + 20)},
				Row:   r,
				Col:   c,
				Image: []byte(key),
			})
		}
	}
	return table.Static{Layout: layout}, texts
}

type fakeCells struct {
	texts      map[string]string
	confidence float64
	fail       map[string]error
	block      map[string]bool
	delay      time.Duration

	calls    atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (f *fakeCells) RecognizeCell(ctx context.Context, img []byte) (recognizer.Recognition, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}

	key := string(img)
	if f.block[key] {
		<-ctx.Done()
		return recognizer.Recognition{}, ctx.Err()
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err := f.fail[key]; err != nil {
		return recognizer.Recognition{}, err
	}
	return recognizer.Recognition{Text: f.texts[key], Confidence: f.confidence}, nil
}

type fakeDocument struct {
	lines []invoice.LineRecord
	err   error
	calls atomic.Int32
}

func (f *fakeDocument) RecognizeCell(context.Context, []byte) (recognizer.Recognition, error) {
	return recognizer.Recognition{}, errors.New("not used")
}

func (f *fakeDocument) RecognizeDocument(context.Context, []byte) ([]invoice.LineRecord, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return append([]invoice.LineRecord(nil), f.lines...), nil
}

type providerFunc func(ctx context.Context, img []byte) (*table.Layout, error)

func (f providerFunc) Detect(ctx context.Context, img []byte) (*table.Layout, error) { return f(ctx, img) }

type sourceFunc func(ctx context.Context) ([]invoice.CatalogProduct, error)

func (f sourceFunc) Load(ctx context.Context) ([]invoice.CatalogProduct, error) { return f(ctx) }

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("cache unreachable")
}

func (brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("cache unreachable")
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxRetries: 1, BaseDelay: time.Millisecond, CallTimeout: time.Second}
}

func testBuilder() *Builder {
	cfg := DefaultConfig()
	cfg.Escalation.Retry = fastPolicy()
	cfg.DetectRetry = fastPolicy()
	return NewBuilder().WithConfig(cfg).WithCatalog(sampleCatalog)
}

func dec(s string) decimal.NullDecimal {
	return invoice.Dec(decimal.RequireFromString(s))
}

func TestProcess_TablePath(t *testing.T) {
	provider, texts := tableOf(invoiceRows)
	fast := &fakeCells{texts: texts, confidence: 0.9}

	p, err := testBuilder().WithTableProvider(provider).WithFastRecognizer(fast).Build()
	require.NoError(t, err)

	res, err := p.Process(context.Background(), testutil.InvoicePNG(t))
	require.NoError(t, err)

	require.Len(t, res.Lines, 2)
	assert.Equal(t, "Mozzarella", res.Lines[0].Name)
	assert.Equal(t, invoice.UnitKg, res.Lines[0].Unit)
	assert.True(t, res.Lines[0].Total.Decimal.Equal(decimal.NewFromInt(170000)))

	bacon := res.Lines[1]
	assert.True(t, bacon.Qty.Decimal.Equal(decimal.RequireFromString("1.5")))
	assert.True(t, bacon.Price.Decimal.Equal(decimal.NewFromInt(120000)), "price corrected, got %s", bacon.Price.Decimal)

	require.Len(t, res.Issues, 1)
	assert.Equal(t, invoice.IssuePriceZeroLost, res.Issues[0].Kind)
	assert.Equal(t, 1, res.Issues[0].Line)
	assert.True(t, res.Issues[0].AutoFixed)
	assert.InDelta(t, 1.0, res.Accuracy, 1e-9)

	require.Len(t, res.Matches, 2)
	assert.Equal(t, "1", res.Matches[0].ProductID)
	assert.Equal(t, "2", res.Matches[1].ProductID)

	assert.Equal(t, 15, res.Stats.CellsTotal)
	assert.False(t, res.Stats.Fallback)
	assert.False(t, res.Stats.Partial)
	assert.Contains(t, res.Stats.TimingMs, StageRecognize)
	assert.Contains(t, res.Stats.TimingMs, "total")
}

func TestProcess_FallbackWhenTableNotFound(t *testing.T) {
	doc := &fakeDocument{lines: []invoice.LineRecord{
		{Name: "Mozzarella", Qty: dec("2"), Unit: "kg", Price: dec("85000"), Total: dec("170000")},
		{Name: "Sabun cuci", Qty: dec("1"), Unit: "pcs", Price: dec("5000"), Total: dec("5000")},
	}}

	p, err := testBuilder().WithSlowRecognizer(doc).Build()
	require.NoError(t, err)

	res, err := p.Process(context.Background(), testutil.InvoicePNG(t))
	require.NoError(t, err)

	assert.True(t, res.Stats.Fallback)
	assert.Equal(t, int32(1), doc.calls.Load())
	require.Len(t, res.Lines, 2)
	assert.Equal(t, 1, res.Lines[1].Row)
	assert.Equal(t, "1", res.Matches[0].ProductID)

	assert.Equal(t, invoice.MatchUnknown, res.Matches[1].Status)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, invoice.IssueUnrecognizedName, res.Issues[0].Kind)
	assert.Equal(t, 1, res.Issues[0].Line)
	assert.InDelta(t, 1.0, res.Accuracy, 1e-9, "accuracy is measured before matching")
}

func TestProcess_FallbackAfterDetectionErrors(t *testing.T) {
	var detectCalls atomic.Int32
	provider := providerFunc(func(context.Context, []byte) (*table.Layout, error) {
		detectCalls.Add(1)
		return nil, &retry.StatusError{Code: http.StatusBadGateway}
	})
	doc := &fakeDocument{lines: []invoice.LineRecord{{Name: "Bacon", Qty: dec("1")}}}

	p, err := testBuilder().WithTableProvider(provider).WithSlowRecognizer(doc).Build()
	require.NoError(t, err)

	res, err := p.Process(context.Background(), testutil.InvoicePNG(t))
	require.NoError(t, err)
	assert.Equal(t, int32(2), detectCalls.Load(), "detection is retried before falling back")
	assert.True(t, res.Stats.Fallback)
	assert.Len(t, res.Lines, 1)
}

func TestProcess_NoWholeImageRecognizer(t *testing.T) {
	p, err := testBuilder().WithFastRecognizer(&fakeCells{}).Build()
	require.NoError(t, err)

	_, err = p.Process(context.Background(), testutil.InvoicePNG(t))
	require.ErrorIs(t, err, ErrRecognitionUnavailable)
}

func TestProcess_ContractViolations(t *testing.T) {
	p, err := testBuilder().WithFastRecognizer(&fakeCells{}).Build()
	require.NoError(t, err)

	_, err = p.Process(context.Background(), nil)
	require.ErrorIs(t, err, invoice.ErrEmptyImage)

	_, err = p.Process(context.Background(), []byte("not an image"))
	require.ErrorIs(t, err, invoice.ErrInvalidImage)

	bad := sourceFunc(func(context.Context) ([]invoice.CatalogProduct, error) {
		return nil, fmt.Errorf("%w: duplicate id", catalog.ErrMalformedCatalog)
	})
	p, err = testBuilder().WithFastRecognizer(&fakeCells{}).WithCatalog(bad).Build()
	require.NoError(t, err)
	_, err = p.Process(context.Background(), testutil.InvoicePNG(t))
	require.ErrorIs(t, err, catalog.ErrMalformedCatalog)
}

func TestBuild_RequiresRecognizer(t *testing.T) {
	_, err := NewBuilder().Build()
	require.ErrorIs(t, err, ErrRecognitionUnavailable)

	_, err = NewBuilder().WithFastRecognizer(&fakeCells{}).WithChunkSize(-1).Build()
	require.NoError(t, err, "non-positive chunk sizes are ignored")

	cfg := DefaultConfig()
	cfg.ChunkSize = 0
	_, err = NewBuilder().WithConfig(cfg).WithFastRecognizer(&fakeCells{}).Build()
	require.Error(t, err)
}

func TestProcess_CellFailureDegrades(t *testing.T) {
	provider, texts := tableOf(invoiceRows)
	fast := &fakeCells{texts: texts, confidence: 0.9, fail: map[string]error{
		cellKey(1, 2): retry.Permanent(errors.New("unreadable")),
	}}

	p, err := testBuilder().WithTableProvider(provider).WithFastRecognizer(fast).Build()
	require.NoError(t, err)

	res, err := p.Process(context.Background(), testutil.InvoicePNG(t))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.CellsFailed)
	require.Len(t, res.Lines, 2)
	assert.Empty(t, res.Lines[0].Unit)
}

func TestProcess_AllCellsFail(t *testing.T) {
	provider, _ := tableOf(invoiceRows)
	fast := &fakeCells{fail: map[string]error{}}
	for r := range invoiceRows {
		for c := range invoiceRows[r] {
			fast.fail[cellKey(r, c)] = retry.Permanent(errors.New("down"))
		}
	}

	p, err := testBuilder().WithTableProvider(provider).WithFastRecognizer(fast).Build()
	require.NoError(t, err)

	_, err = p.Process(context.Background(), testutil.InvoicePNG(t))
	require.ErrorIs(t, err, ErrRecognitionUnavailable)
}

func TestProcess_RetryBudgetIsPerInvoice(t *testing.T) {
	provider, _ := tableOf(invoiceRows)
	cells := len(provider.Layout.Cells)
	fast := &fakeCells{fail: map[string]error{}}
	for _, c := range provider.Layout.Cells {
		fast.fail[string(c.Image)] = &retry.StatusError{Code: http.StatusServiceUnavailable}
	}

	cfg := DefaultConfig()
	cfg.Escalation.Retry = retry.Policy{MaxRetries: 2, BaseDelay: time.Millisecond, CallTimeout: time.Second}
	cfg.DetectRetry = cfg.Escalation.Retry
	cfg.RetryBudget = 2
	p, err := NewBuilder().WithConfig(cfg).WithTableProvider(provider).WithFastRecognizer(fast).Build()
	require.NoError(t, err)

	_, err = p.Process(context.Background(), testutil.InvoicePNG(t))
	require.ErrorIs(t, err, ErrRecognitionUnavailable)
	assert.Equal(t, int32(cells+2), fast.calls.Load(), "one attempt per cell plus the invoice's two retries")

	// A second invoice starts with a fresh budget.
	fast.calls.Store(0)
	_, err = p.Process(context.Background(), testutil.InvoicePNG(t))
	require.ErrorIs(t, err, ErrRecognitionUnavailable)
	assert.Equal(t, int32(cells+2), fast.calls.Load())
}

func TestConfig_ValidateRetryBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryBudget = -1
	require.ErrorContains(t, cfg.Validate(), "retry budget")
}

func TestProcess_EscalatesLowConfidence(t *testing.T) {
	provider, texts := tableOf(invoiceRows)
	fast := &fakeCells{texts: texts, confidence: 0.3}
	slow := &fakeCells{texts: texts, confidence: 0.95}

	p, err := testBuilder().WithTableProvider(provider).WithFastRecognizer(fast).
		WithSlowRecognizer(struct {
			recognizer.CellRecognizer
			recognizer.DocumentRecognizer
		}{slow, &fakeDocument{}}).Build()
	require.NoError(t, err)

	res, err := p.Process(context.Background(), testutil.InvoicePNG(t))
	require.NoError(t, err)
	assert.Equal(t, 15, res.Stats.CellsEscalated)
	assert.Equal(t, int32(15), slow.calls.Load())
	assert.Len(t, res.Lines, 2)
}

func TestProcess_CachesResults(t *testing.T) {
	provider, texts := tableOf(invoiceRows)
	fast := &fakeCells{texts: texts, confidence: 0.9}
	mem := cache.NewMemory(10)

	p, err := testBuilder().WithTableProvider(provider).WithFastRecognizer(fast).WithCache(mem).Build()
	require.NoError(t, err)

	img := testutil.InvoicePNG(t)
	first, err := p.Process(context.Background(), img)
	require.NoError(t, err)
	calls := fast.calls.Load()

	second, err := p.Process(context.Background(), img)
	require.NoError(t, err)
	assert.Equal(t, calls, fast.calls.Load(), "cached result must not call the recognizer")
	assert.True(t, second.Stats.Cached)
	assert.False(t, first.Stats.Cached)
	assert.Equal(t, first.Lines[1].Price.Decimal.String(), second.Lines[1].Price.Decimal.String())
}

func TestProcess_CacheFailureDegradesToMiss(t *testing.T) {
	provider, texts := tableOf(invoiceRows)
	p, err := testBuilder().WithTableProvider(provider).
		WithFastRecognizer(&fakeCells{texts: texts, confidence: 0.9}).
		WithCache(brokenCache{}).Build()
	require.NoError(t, err)

	res, err := p.Process(context.Background(), testutil.InvoicePNG(t))
	require.NoError(t, err)
	assert.Len(t, res.Lines, 2)
	assert.False(t, res.Stats.Cached)
}

func TestProcess_DeadlineReturnsPartialResult(t *testing.T) {
	provider, texts := tableOf(invoiceRows)
	fast := &fakeCells{texts: texts, confidence: 0.9, block: map[string]bool{cellKey(2, 0): true}}
	mem := cache.NewMemory(10)

	p, err := testBuilder().WithTableProvider(provider).WithFastRecognizer(fast).
		WithCache(mem).WithDeadline(100 * time.Millisecond).Build()
	require.NoError(t, err)

	res, err := p.Process(context.Background(), testutil.InvoicePNG(t))
	require.NoError(t, err)
	assert.True(t, res.Stats.Partial)
	require.NotEmpty(t, res.Lines)
	assert.Equal(t, "Mozzarella", res.Lines[0].Name)
	assert.Zero(t, mem.Len(), "partial results are not cached")
}

func TestProcess_CancelPropagates(t *testing.T) {
	provider, texts := tableOf(invoiceRows)
	fast := &fakeCells{texts: texts, confidence: 0.9, block: map[string]bool{cellKey(0, 0): true}}

	p, err := testBuilder().WithTableProvider(provider).WithFastRecognizer(fast).Build()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err = p.Process(ctx, testutil.InvoicePNG(t))
	require.ErrorIs(t, err, context.Canceled)
}

func TestRecognizeCells_BoundedChunks(t *testing.T) {
	rows := make([][]string, 6)
	for i := range rows {
		rows[i] = []string{"Bacon", "1", "kg", "100000", "100000"}
	}
	provider, texts := tableOf(rows)
	fast := &fakeCells{texts: texts, confidence: 0.9, delay: 5 * time.Millisecond}

	p, err := testBuilder().WithTableProvider(provider).WithFastRecognizer(fast).WithChunkSize(4).Build()
	require.NoError(t, err)

	var progressed []int
	var mu sync.Mutex
	cb := &recordingProgress{onProgress: func(current, _ int) {
		mu.Lock()
		progressed = append(progressed, current)
		mu.Unlock()
	}}

	_, err = p.ProcessWithProgress(context.Background(), testutil.InvoicePNG(t), cb)
	require.NoError(t, err)
	assert.LessOrEqual(t, fast.maxSeen.Load(), int32(4))
	assert.Equal(t, int32(30), fast.calls.Load())
	assert.Len(t, progressed, 30)
	assert.Equal(t, []string{StageDetect, StageRecognize, StageValidate, StageMatch}, cb.stages)
	assert.True(t, cb.completed)
}

type recordingProgress struct {
	NoOpProgressCallback
	onProgress func(current, total int)
	stages     []string
	completed  bool
}

func (r *recordingProgress) OnStage(stage string)          { r.stages = append(r.stages, stage) }
func (r *recordingProgress) OnProgress(current, total int) { r.onProgress(current, total) }
func (r *recordingProgress) OnComplete()                   { r.completed = true }

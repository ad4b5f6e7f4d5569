// Package pipeline turns an invoice image into validated, catalog-matched
// line items.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/invocr/internal/cache"
	"github.com/MeKo-Tech/invocr/internal/catalog"
	"github.com/MeKo-Tech/invocr/internal/matcher"
	"github.com/MeKo-Tech/invocr/internal/recognizer"
	"github.com/MeKo-Tech/invocr/internal/retry"
	"github.com/MeKo-Tech/invocr/internal/table"
	"github.com/MeKo-Tech/invocr/internal/utils"
	"github.com/MeKo-Tech/invocr/internal/validation"
)

// ErrRecognitionUnavailable is returned when no recognizer tier could read
// the invoice.
var ErrRecognitionUnavailable = errors.New("recognition unavailable")

// Config holds the pipeline settings. Collaborators are supplied through
// the Builder.
type Config struct {
	Escalation recognizer.EscalationConfig
	Validation validation.Config
	Matching   matcher.Config
	// DetectRetry applies to table detection and the whole-image call.
	DetectRetry retry.Policy
	// RetryBudget caps the retries of all collaborator calls for one
	// invoice, on top of each call's own policy.
	RetryBudget int
	// Deadline bounds one invoice; on expiry partial results are returned.
	Deadline time.Duration
	// ChunkSize is the number of cells recognized concurrently.
	ChunkSize int
	CacheTTL  time.Duration
	// Upload limits the image sent on the whole-image path.
	Upload utils.ImageConstraints
}

// DefaultConfig returns the default pipeline settings.
func DefaultConfig() Config {
	return Config{
		Escalation:  recognizer.DefaultEscalationConfig(),
		Validation:  validation.DefaultConfig(),
		Matching:    matcher.DefaultConfig(),
		DetectRetry: retry.DefaultPolicy(),
		RetryBudget: 2,
		Deadline:    2 * time.Minute,
		ChunkSize:   10,
		CacheTTL:    cache.DefaultTTL,
		Upload:      utils.DefaultImageConstraints(),
	}
}

// Validate checks the settings that have no safe zero value.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.RetryBudget < 0 {
		return fmt.Errorf("retry budget must not be negative, got %d", c.RetryBudget)
	}
	if c.Deadline < 0 {
		return fmt.Errorf("deadline must not be negative, got %v", c.Deadline)
	}
	if t := c.Escalation.ConfidenceThreshold; t < 0 || t > 1 {
		return fmt.Errorf("confidence threshold must be in [0,1], got %v", t)
	}
	return nil
}

// Pipeline processes invoices. It is safe for concurrent use.
type Pipeline struct {
	cfg       Config
	tables    table.Provider
	escalator *recognizer.Escalator
	document  recognizer.DocumentRecognizer
	catalog   catalog.Source
	cache     cache.Cache
	validator *validation.Validator
	matcher   *matcher.Matcher
	logger    *slog.Logger
}

// Builder constructs a Pipeline with fluent configuration.
type Builder struct {
	cfg      Config
	tables   table.Provider
	fast     recognizer.CellRecognizer
	slow     recognizer.CellRecognizer
	document recognizer.DocumentRecognizer
	catalog  catalog.Source
	cache    cache.Cache
	logger   *slog.Logger
}

// NewBuilder creates a builder with default settings.
func NewBuilder() *Builder { return &Builder{cfg: DefaultConfig()} }

// WithConfig replaces the settings.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

// WithTableProvider sets the table detector. Without one every invoice
// takes the whole-image path.
func (b *Builder) WithTableProvider(p table.Provider) *Builder {
	b.tables = p
	return b
}

// WithFastRecognizer sets the fast cell tier.
func (b *Builder) WithFastRecognizer(r recognizer.CellRecognizer) *Builder {
	b.fast = r
	return b
}

// WithSlowRecognizer sets the slow tier, used for escalated cells and the
// whole-image path.
func (b *Builder) WithSlowRecognizer(r recognizer.SlowRecognizer) *Builder {
	if r == nil {
		b.slow, b.document = nil, nil
		return b
	}
	b.slow = r
	b.document = r
	return b
}

// WithCatalog sets the product source.
func (b *Builder) WithCatalog(src catalog.Source) *Builder {
	b.catalog = src
	return b
}

// WithCache enables result caching.
func (b *Builder) WithCache(c cache.Cache) *Builder {
	b.cache = c
	return b
}

// WithLogger sets the logger shared by all stages.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithChunkSize sets how many cells are recognized concurrently.
func (b *Builder) WithChunkSize(n int) *Builder {
	if n > 0 {
		b.cfg.ChunkSize = n
	}
	return b
}

// WithDeadline sets the per-invoice deadline (0 disables it).
func (b *Builder) WithDeadline(d time.Duration) *Builder {
	b.cfg.Deadline = d
	return b
}

// WithAutoFix toggles arithmetic auto-correction.
func (b *Builder) WithAutoFix(enabled bool) *Builder {
	b.cfg.Validation.AutoFix = enabled
	return b
}

// Build validates the configuration and creates the pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	if err := b.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	if b.fast == nil && b.slow == nil {
		return nil, fmt.Errorf("%w: no recognizer configured", ErrRecognitionUnavailable)
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	tables := b.tables
	if tables == nil {
		tables = table.None{}
	}
	src := b.catalog
	if src == nil {
		src = catalog.Static(nil)
	}

	esc, err := recognizer.NewEscalator(b.fast, b.slow, b.cfg.Escalation)
	if err != nil {
		return nil, err
	}
	esc.Logger = logger

	vcfg := b.cfg.Validation
	if vcfg.Logger == nil {
		vcfg.Logger = logger
	}

	return &Pipeline{
		cfg:       b.cfg,
		tables:    tables,
		escalator: esc,
		document:  b.document,
		catalog:   src,
		cache:     b.cache,
		validator: validation.New(vcfg),
		matcher:   matcher.New(b.cfg.Matching, logger),
		logger:    logger,
	}, nil
}

// Config returns the settings the pipeline was built with.
func (p *Pipeline) Config() Config { return p.cfg }

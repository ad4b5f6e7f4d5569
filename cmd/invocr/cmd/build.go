package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/MeKo-Tech/invocr/internal/cache"
	"github.com/MeKo-Tech/invocr/internal/catalog"
	"github.com/MeKo-Tech/invocr/internal/config"
	"github.com/MeKo-Tech/invocr/internal/pipeline"
	"github.com/MeKo-Tech/invocr/internal/recognizer"
	"github.com/MeKo-Tech/invocr/internal/table"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// components is a built pipeline together with the resources it holds open.
type components struct {
	pipeline *pipeline.Pipeline
	closers  []io.Closer
}

func (c *components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i].Close())
	}
	return errors.Join(errs...)
}

// addPipelineFlags registers the collaborator flags shared by process and serve.
func addPipelineFlags(fs *pflag.FlagSet) {
	fs.String("table-url", "", "table detection service URL (empty: whole-page recognition only)")
	fs.String("fast-url", "", "fast cell OCR service URL")
	fs.String("slow-provider", "", "slow tier provider: gemini, openai or none")
	fs.String("slow-url", "", "base URL of an OpenAI-compatible slow tier")
	fs.String("slow-model", "", "slow tier model name")
	fs.String("catalog", "", "product catalog file (YAML or JSON)")
	fs.String("catalog-db", "", "product catalog SQLite database")
	fs.Bool("no-autofix", false, "report arithmetic issues without correcting them")
	fs.String("cache", "", "result cache backend: memory, bolt or none")
	fs.String("cache-path", "", "bbolt cache file (with --cache bolt)")
}

// applyPipelineFlags overrides cfg with the pipeline flags the user set.
func applyPipelineFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	overrides := []struct {
		name string
		dst  *string
	}{
		{"table-url", &cfg.Providers.TableURL},
		{"fast-url", &cfg.Providers.FastURL},
		{"slow-provider", &cfg.Providers.SlowProvider},
		{"slow-url", &cfg.Providers.SlowURL},
		{"slow-model", &cfg.Providers.SlowModel},
		{"catalog", &cfg.Catalog.File},
		{"catalog-db", &cfg.Catalog.DB},
		{"cache", &cfg.Cache.Backend},
		{"cache-path", &cfg.Cache.Path},
	}
	for _, s := range overrides {
		if flags.Changed(s.name) {
			*s.dst, _ = flags.GetString(s.name)
		}
	}
	if flags.Changed("no-autofix") {
		noFix, _ := flags.GetBool("no-autofix")
		cfg.Validation.AutoFix = !noFix
	}
	return cfg.Validate()
}

// buildPipeline wires the configured collaborators into a pipeline.
func buildPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*components, error) {
	pcfg, err := cfg.ToPipelineConfig()
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: time.Duration(cfg.Providers.HTTPTimeoutSec) * time.Second}
	comps := &components{}
	b := pipeline.NewBuilder().WithConfig(pcfg).WithLogger(logger)

	if url := cfg.Providers.TableURL; url != "" {
		tables := table.NewHTTPProvider(url, client)
		tables.Logger = logger
		b.WithTableProvider(tables)
	}
	if url := cfg.Providers.FastURL; url != "" {
		fast := recognizer.NewHTTPCellRecognizer(url, client)
		fast.Logger = logger
		b.WithFastRecognizer(fast)
	}

	slow, closer, err := buildSlowTier(ctx, cfg.Providers, logger)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		comps.closers = append(comps.closers, closer)
	}
	if slow != nil {
		b.WithSlowRecognizer(slow)
	}

	src, err := openCatalog(cfg.Catalog)
	if err != nil {
		_ = comps.Close()
		return nil, err
	}
	if c, ok := src.(io.Closer); ok {
		comps.closers = append(comps.closers, c)
	}
	b.WithCatalog(src)

	store, err := openCache(cfg.Cache, logger)
	if err != nil {
		_ = comps.Close()
		return nil, err
	}
	if store != nil {
		if c, ok := store.(io.Closer); ok {
			comps.closers = append(comps.closers, c)
		}
		b.WithCache(store)
	}

	comps.pipeline, err = b.Build()
	if err != nil {
		_ = comps.Close()
		return nil, fmt.Errorf("failed to build invoice pipeline: %w", err)
	}
	return comps, nil
}

func buildSlowTier(ctx context.Context, p config.ProvidersConfig, logger *slog.Logger) (recognizer.SlowRecognizer, io.Closer, error) {
	switch p.SlowProvider {
	case config.SlowGemini:
		key := p.SlowAPIKey
		if key == "" {
			key = os.Getenv("GEMINI_API_KEY")
		}
		if key == "" {
			logger.Warn("No Gemini API key configured, slow tier disabled")
			return nil, nil, nil
		}
		g, err := recognizer.NewGemini(ctx, recognizer.GeminiConfig{
			APIKey:      key,
			Model:       p.SlowModel,
			Confidence:  p.SlowConfidence,
			Temperature: p.SlowTemperature,
		})
		if err != nil {
			return nil, nil, err
		}
		return g, g, nil
	case config.SlowOpenAI:
		return recognizer.NewOpenAI(recognizer.OpenAIConfig{
			APIKey:      p.SlowAPIKey,
			BaseURL:     p.SlowURL,
			Model:       p.SlowModel,
			Temperature: p.SlowTemperature,
			Confidence:  p.SlowConfidence,
			Timeout:     time.Duration(p.HTTPTimeoutSec) * time.Second,
		}, logger), nil, nil
	default:
		return nil, nil, nil
	}
}

// openCatalog prefers the SQLite store over a catalog file.
func openCatalog(c config.CatalogConfig) (catalog.Source, error) {
	switch {
	case c.DB != "":
		store, err := catalog.OpenStore(c.DB)
		if err != nil {
			return nil, err
		}
		return store, nil
	case c.File != "":
		return catalog.FileSource{Path: c.File}, nil
	default:
		return catalog.Static(nil), nil
	}
}

func openCache(c config.CacheConfig, logger *slog.Logger) (cache.Cache, error) {
	switch c.Backend {
	case config.CacheMemory:
		return cache.NewMemory(c.MaxEntries), nil
	case config.CacheBolt:
		b, err := cache.OpenBolt(c.Path)
		if err != nil {
			return nil, err
		}
		if n, err := b.Prune(); err != nil {
			logger.Warn("Cache prune failed", "error", err)
		} else if n > 0 {
			logger.Debug("Pruned expired cache entries", "count", n)
		}
		return b, nil
	default:
		return nil, nil
	}
}

package batch

import (
	"context"
	"fmt"
	"io"

	"github.com/MeKo-Tech/invocr/internal/export"
	"github.com/MeKo-Tech/invocr/internal/pdf"
	"github.com/MeKo-Tech/invocr/internal/utils"
)

// processFile runs one file through the pipeline. A PDF yields one document
// per extracted page image.
func processFile(ctx context.Context, proc Processor, path string, config Config, out io.Writer) ([]export.Document, error) {
	if utils.IsPDF(path) {
		return processPDF(ctx, proc, path, config, out)
	}

	doc := export.Document{Source: path}
	data, err := utils.ReadImageFile(path)
	if err == nil {
		doc.Result, err = proc.ProcessWithProgress(ctx, data, progressFor(out, path))
	}
	if err != nil {
		if !config.ContinueOnError || ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		logFailure(path, 0, err)
		doc.Error = err.Error()
	}
	return []export.Document{doc}, nil
}

func processPDF(ctx context.Context, proc Processor, path string, config Config, out io.Writer) ([]export.Document, error) {
	pages, err := pdf.ExtractPages(path, config.PageRange)
	if err != nil {
		if !config.ContinueOnError {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		logFailure(path, 0, err)
		return []export.Document{{Source: path, Error: err.Error()}}, nil
	}

	docs := make([]export.Document, 0, len(pages))
	for _, page := range pages {
		doc := export.Document{Source: path, Page: page.Number}
		label := fmt.Sprintf("%s#%d", path, page.Number)
		doc.Result, err = proc.ProcessWithProgress(ctx, page.Image, progressFor(out, label))
		if err != nil {
			if !config.ContinueOnError || ctx.Err() != nil {
				return nil, fmt.Errorf("%s page %d: %w", path, page.Number, err)
			}
			logFailure(path, page.Number, err)
			doc.Error = err.Error()
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

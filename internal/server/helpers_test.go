package server

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MeKo-Tech/invocr/internal/invoice"
	"github.com/MeKo-Tech/invocr/internal/pipeline"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// fakeProcessor returns canned results without running the pipeline.
type fakeProcessor struct {
	fn func(ctx context.Context, img []byte, cb pipeline.ProgressCallback) (*invoice.Result, error)
}

func (f *fakeProcessor) ProcessWithProgress(ctx context.Context, img []byte, cb pipeline.ProgressCallback,
) (*invoice.Result, error) {
	return f.fn(ctx, img, cb)
}

func sampleResult() *invoice.Result {
	return &invoice.Result{
		Lines: []invoice.LineRecord{{
			Name:  "Mozzarella",
			Qty:   invoice.Dec(decimal.RequireFromString("2")),
			Unit:  "kg",
			Price: invoice.Dec(decimal.RequireFromString("85000")),
			Total: invoice.Dec(decimal.RequireFromString("170000")),
		}},
		Issues:   []invoice.Issue{},
		Matches:  []invoice.MatchResult{{Line: 0, ProductID: "1", Status: invoice.MatchOK, Score: 1}},
		Accuracy: 1,
	}
}

func okProcessor() *fakeProcessor {
	return &fakeProcessor{fn: func(_ context.Context, img []byte, cb pipeline.ProgressCallback) (*invoice.Result, error) {
		if len(img) == 0 {
			return nil, invoice.ErrEmptyImage
		}
		cb.OnStage(pipeline.StageRecognize)
		cb.OnStart(2)
		cb.OnProgress(1, 2)
		cb.OnProgress(2, 2)
		cb.OnComplete()
		return sampleResult(), nil
	}}
}

func newTestServer(t *testing.T, proc Processor, mutate ...func(*Config)) *Server {
	t.Helper()
	cfg := Config{CORSOrigin: "*", MaxUploadMB: 1, TimeoutSec: 5, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := NewServer(cfg, proc)
	require.NoError(t, err)
	return s
}

// multipartRequest builds a POST with one file field plus extra form values.
func multipartRequest(t *testing.T, url, field, filename string, data []byte, values map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if field != "" {
		fw, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	for k, v := range values {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, url, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

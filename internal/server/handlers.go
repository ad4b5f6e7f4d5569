package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/MeKo-Tech/invocr/internal/export"
	"github.com/MeKo-Tech/invocr/internal/invoice"
	"github.com/MeKo-Tech/invocr/internal/pdf"
	"github.com/MeKo-Tech/invocr/internal/pipeline"
	"golang.org/x/sync/errgroup"
)

var errBadPDF = errors.New("unreadable pdf")

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status: "healthy",
		Time:   time.Now().UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to encode health response", "error", err)
	}
}

// processHandler extracts one uploaded invoice. The multipart form carries
// either an "image" or a "pdf" file; "format" selects json, csv or xlsx and
// "pages" restricts PDF pages.
func (s *Server) processHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes())
	if err := r.ParseMultipartForm(s.maxUploadBytes()); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			s.writeErrorResponse(w, "File too large", http.StatusRequestEntityTooLarge)
			return
		}
		s.writeErrorResponse(w, "Failed to parse form data", http.StatusBadRequest)
		return
	}

	format, err := export.ParseFormat(formOrQuery(r, "format"))
	if err != nil {
		s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	name, data, err := readUpload(r)
	if err != nil {
		s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	uploadSizeBytes.Observe(float64(len(data)))

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	kind := uploadKind(name, data)
	docs, err := s.processUpload(ctx, name, data, r.FormValue("pages"))
	if err != nil {
		invoiceRequestsTotal.WithLabelValues(kind, "error").Inc()
		s.logger.Warn("Invoice processing failed", "file", name, "error", err)
		s.writeErrorResponse(w, fmt.Sprintf("invoice processing failed: %v", err), statusForError(err))
		return
	}
	invoiceRequestsTotal.WithLabelValues(kind, "success").Inc()

	s.writeDocuments(w, format, docs)
}

// BatchRequest is the JSON body of POST /invoice/batch.
type BatchRequest struct {
	Invoices []BatchInvoice `json:"invoices"`
	Format   string         `json:"format,omitempty"`
}

// BatchInvoice is one invoice of a batch; Data is base64 in JSON.
type BatchInvoice struct {
	Name  string `json:"name"`
	Data  []byte `json:"data"`
	Pages string `json:"pages,omitempty"`
}

const batchConcurrency = 4

// batchHandler processes several invoices in one request. Failures are
// reported per document rather than failing the request.
func (s *Server) batchHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes())
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, fmt.Sprintf("Failed to parse JSON request: %v", err), http.StatusBadRequest)
		return
	}
	if len(req.Invoices) == 0 {
		s.writeErrorResponse(w, "No invoices provided in batch request", http.StatusBadRequest)
		return
	}
	if len(req.Invoices) > s.maxBatch {
		s.writeErrorResponse(w, fmt.Sprintf("Batch too large: %d invoices (max %d)", len(req.Invoices), s.maxBatch),
			http.StatusBadRequest)
		return
	}
	format, err := export.ParseFormat(req.Format)
	if err != nil {
		s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	perItem := make([][]export.Document, len(req.Invoices))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for i, inv := range req.Invoices {
		g.Go(func() error {
			name := inv.Name
			if name == "" {
				name = fmt.Sprintf("invoice-%d", i+1)
			}
			docs, err := s.processUpload(gctx, name, inv.Data, inv.Pages)
			if err != nil {
				docs = []export.Document{{Source: name, Error: err.Error()}}
			}
			for j := range docs {
				docs[j].Source = name
			}
			perItem[i] = docs
			return nil
		})
	}
	_ = g.Wait()

	var docs []export.Document
	failed := 0
	for _, d := range perItem {
		for _, doc := range d {
			if doc.Error != "" {
				failed++
			}
			docs = append(docs, doc)
		}
	}
	status := "success"
	if failed > 0 {
		status = "partial"
	}
	invoiceRequestsTotal.WithLabelValues("batch", status).Inc()

	s.writeDocuments(w, format, docs)
}

// processUpload runs the pipeline over an image or every page of a PDF.
func (s *Server) processUpload(ctx context.Context, name string, data []byte, pages string) ([]export.Document, error) {
	if uploadKind(name, data) != "pdf" {
		res, err := s.processor.ProcessWithProgress(ctx, data, pipeline.NoOpProgressCallback{})
		if err != nil {
			return nil, err
		}
		invoiceLinesExtracted.WithLabelValues("image").Observe(float64(len(res.Lines)))
		return []export.Document{{Result: res}}, nil
	}

	extracted, err := pdf.ExtractPagesFromBytes(data, pages)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errBadPDF, err)
	}
	docs := make([]export.Document, 0, len(extracted))
	for _, page := range extracted {
		doc := export.Document{Source: name, Page: page.Number}
		res, err := s.processor.ProcessWithProgress(ctx, page.Image, pipeline.NoOpProgressCallback{})
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			doc.Error = err.Error()
		} else {
			doc.Result = res
			invoiceLinesExtracted.WithLabelValues("pdf").Observe(float64(len(res.Lines)))
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func readUpload(r *http.Request) (string, []byte, error) {
	for _, field := range []string{"image", "pdf", "file"} {
		file, header, err := r.FormFile(field)
		if err != nil {
			continue
		}
		defer func() { _ = file.Close() }()
		data, err := io.ReadAll(file)
		if err != nil {
			return "", nil, fmt.Errorf("failed to read upload: %w", err)
		}
		return header.Filename, data, nil
	}
	return "", nil, errors.New("no invoice file provided")
}

func uploadKind(name string, data []byte) string {
	if strings.EqualFold(filepath.Ext(name), ".pdf") || bytes.HasPrefix(data, []byte("%PDF-")) {
		return "pdf"
	}
	return "image"
}

func formOrQuery(r *http.Request, key string) string {
	if v := r.FormValue(key); v != "" {
		return v
	}
	return r.URL.Query().Get(key)
}

// statusForError maps pipeline failures to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, invoice.ErrEmptyImage), errors.Is(err, invoice.ErrInvalidImage), errors.Is(err, errBadPDF):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrRecognitionUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeDocuments(w http.ResponseWriter, format export.Format, docs []export.Document) {
	var buf bytes.Buffer
	if err := export.Write(&buf, format, docs...); err != nil {
		s.writeErrorResponse(w, fmt.Sprintf("formatting failed: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	if format == export.FormatXLSX {
		w.Header().Set("Content-Disposition", `attachment; filename="invoice.xlsx"`)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.Error("Failed to write response", "error", err)
	}
}

// writeErrorResponse writes a JSON error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(ErrorResponse{Success: false, Error: message}); err != nil {
		s.logger.Error("Failed to write error response", "error", err)
	}
}

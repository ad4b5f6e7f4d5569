package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/MeKo-Tech/invocr/internal/invoice"
	"github.com/MeKo-Tech/invocr/internal/pipeline"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Processor is the part of the pipeline the server needs.
type Processor interface {
	ProcessWithProgress(ctx context.Context, img []byte, cb pipeline.ProgressCallback) (*invoice.Result, error)
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	processor   Processor
	corsOrigin  string
	maxUploadMB int64
	timeout     time.Duration
	maxBatch    int
	rateLimiter *RateLimiter
	logger      *slog.Logger
}

// RateLimitConfig configures per-client limits. Zero limits are disabled.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	RequestsPerHour   int
	MaxRequestsPerDay int
	MaxDataPerDay     int64
}

// Config holds server configuration.
type Config struct {
	Host        string
	Port        int
	CORSOrigin  string
	MaxUploadMB int64
	TimeoutSec  int
	// MaxBatchItems caps the invoices accepted by /invoice/batch.
	MaxBatchItems int
	RateLimit     RateLimitConfig
	Logger        *slog.Logger
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// NewServer creates a server backed by processor.
func NewServer(config Config, processor Processor) (*Server, error) {
	if processor == nil {
		return nil, errors.New("server requires a processor")
	}
	if config.MaxUploadMB <= 0 {
		config.MaxUploadMB = 20
	}
	if config.TimeoutSec <= 0 {
		config.TimeoutSec = 120
	}
	if config.MaxBatchItems <= 0 {
		config.MaxBatchItems = 20
	}
	if config.CORSOrigin == "" {
		config.CORSOrigin = "*"
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		processor:   processor,
		corsOrigin:  config.CORSOrigin,
		maxUploadMB: config.MaxUploadMB,
		timeout:     time.Duration(config.TimeoutSec) * time.Second,
		maxBatch:    config.MaxBatchItems,
		logger:      logger,
	}
	if rl := config.RateLimit; rl.Enabled {
		s.rateLimiter = NewRateLimiter(rl.RequestsPerMinute, rl.RequestsPerHour, rl.MaxRequestsPerDay, rl.MaxDataPerDay)
	}
	return s, nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/invoice/process", s.corsMiddleware(s.rateLimitMiddleware(s.processHandler)))
	mux.HandleFunc("/invoice/batch", s.corsMiddleware(s.rateLimitMiddleware(s.batchHandler)))
	mux.HandleFunc("/ws/invoice", s.invoiceWebSocketHandler)
	mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) maxUploadBytes() int64 { return s.maxUploadMB * 1024 * 1024 }

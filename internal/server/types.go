// Package server exposes word recognition over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/m2i-duo/mandoc-ocr-api/internal/pipeline"
	"github.com/m2i-duo/mandoc-ocr-api/internal/recognizer"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Backend names, also the first path segment of the recognition routes.
const (
	BackendCRNN      = "crnn"
	BackendTesseract = "tesseract"
)

// RecognitionService is the orchestrator surface the handlers use.
// *pipeline.Pipeline implements it.
type RecognitionService interface {
	Recognize(ctx context.Context, data []byte, mode pipeline.Mode) ([]pipeline.Result, pipeline.Stats, error)
	RecognizeStream(ctx context.Context, data []byte, mode pipeline.Mode, emit pipeline.EmitFunc) ([]pipeline.Result, pipeline.Stats, error)
	RecognizeImages(ctx context.Context, imgs []image.Image, mode pipeline.Mode) ([]pipeline.ImageResult, pipeline.Stats, error)
}

// modelInfoProvider is implemented by *recognizer.Model.
type modelInfoProvider interface {
	Info() recognizer.ModelInfo
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	backends    map[string]RecognitionService
	model       modelInfoProvider
	ocrEngine   string
	ocrLanguage string
	version     string
	corsOrigin  string
	maxUploadMB int64
	timeoutSec  int
	rateLimiter *RateLimiter
	stats       pipeline.Accumulator
	logger      *slog.Logger
	closers     []io.Closer
}

// Config holds server configuration.
type Config struct {
	Host        string
	Port        int
	CORSOrigin  string
	MaxUploadMB int64
	TimeoutSec  int

	// Backends maps BackendCRNN and BackendTesseract to their orchestrators.
	// Routes of a missing backend answer 503.
	Backends map[string]RecognitionService
	// Model describes the sequence model on /models; optional.
	Model       modelInfoProvider
	OCREngine   string
	OCRLanguage string
	Version     string

	// RateLimiter is optional.
	RateLimiter *RateLimiter
	// Closers are closed by Server.Close, e.g. the model and OCR engine.
	Closers []io.Closer
	Logger  *slog.Logger
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version,omitempty"`
	Time       string            `json:"time"`
	Backends   []string          `json:"backends"`
	Processing pipeline.Snapshot `json:"processing"`
	Memory     pipeline.MemStats `json:"memory"`
}

// OCRInfo describes the OCR engine backend.
type OCRInfo struct {
	Engine   string `json:"engine"`
	Language string `json:"language"`
}

// ModelsResponse is returned by /models.
type ModelsResponse struct {
	Model    *recognizer.ModelInfo `json:"model,omitempty"`
	OCR      *OCRInfo              `json:"ocr,omitempty"`
	Backends []string              `json:"backends"`
}

// MergedResponse is returned by the */merged routes.
type MergedResponse struct {
	Text string `json:"text"`
}

// ErrorResponse is the error envelope of every route.
type ErrorResponse struct {
	Error string `json:"error"`
}

var errNoBackends = errors.New("at least one recognition backend is required")

// NewServer creates a new OCR server instance.
func NewServer(config Config) (*Server, error) {
	backends := make(map[string]RecognitionService, len(config.Backends))
	for name, svc := range config.Backends {
		if svc != nil {
			backends[name] = svc
		}
	}
	if len(backends) == 0 {
		return nil, errNoBackends
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxUpload := config.MaxUploadMB
	if maxUpload <= 0 {
		maxUpload = 50
	}
	timeout := config.TimeoutSec
	if timeout <= 0 {
		timeout = 30
	}
	corsOrigin := config.CORSOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}

	return &Server{
		backends:    backends,
		model:       config.Model,
		ocrEngine:   config.OCREngine,
		ocrLanguage: config.OCRLanguage,
		version:     config.Version,
		corsOrigin:  corsOrigin,
		maxUploadMB: maxUpload,
		timeoutSec:  timeout,
		rateLimiter: config.RateLimiter,
		logger:      logger,
		closers:     config.Closers,
	}, nil
}

// Close releases server resources.
func (s *Server) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats returns the processing totals since start.
func (s *Server) Stats() pipeline.Snapshot { return s.stats.Snapshot() }

// backendNames returns the configured backends in sorted order.
func (s *Server) backendNames() []string {
	names := make([]string, 0, len(s.backends))
	for n := range s.backends {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// requestTimeout bounds a single recognition call.
func (s *Server) requestTimeout() time.Duration {
	return time.Duration(s.timeoutSec) * time.Second
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/models", s.corsMiddleware(s.modelsHandler))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws/recognize", s.recognizeWebSocketHandler)

	for _, backend := range []string{BackendCRNN, BackendTesseract} {
		mux.HandleFunc("/"+backend+"/chunks", s.corsMiddleware(s.rateLimitMiddleware(s.chunksHandler(backend))))
		mux.HandleFunc("/"+backend+"/merged", s.corsMiddleware(s.rateLimitMiddleware(s.mergedHandler(backend))))
		mux.HandleFunc("/"+backend+"/pdf", s.corsMiddleware(s.rateLimitMiddleware(s.pdfHandler(backend))))
		mux.HandleFunc("/"+backend+"/batch", s.corsMiddleware(s.rateLimitMiddleware(s.batchHandler(backend))))
	}
}

// Handler returns a mux with all routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return mux
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/m2i-duo/mandoc-ocr-api/internal/pipeline"
	"github.com/m2i-duo/mandoc-ocr-api/internal/utils"
)

// healthHandler returns server health and processing totals.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:     "healthy",
		Version:    s.version,
		Time:       time.Now().UTC().Format(time.RFC3339),
		Backends:   s.backendNames(),
		Processing: s.stats.Snapshot(),
		Memory:     pipeline.GetMemStats(),
	})
}

// modelsHandler describes the loaded model and OCR engine.
func (s *Server) modelsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resp := ModelsResponse{Backends: s.backendNames()}
	if s.model != nil {
		info := s.model.Info()
		resp.Model = &info
	}
	if s.ocrEngine != "" {
		resp.OCR = &OCRInfo{Engine: s.ocrEngine, Language: s.ocrLanguage}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// service returns the orchestrator of backend or answers 503.
func (s *Server) service(w http.ResponseWriter, backend string) (RecognitionService, bool) {
	svc, ok := s.backends[backend]
	if !ok {
		s.writeError(w, http.StatusServiceUnavailable, backend+" backend is not available")
		return nil, false
	}
	return svc, true
}

// recognize runs one image through backend and records metrics and totals.
func (s *Server) recognize(ctx context.Context, svc RecognitionService, backend string, data []byte, mode pipeline.Mode, emit pipeline.EmitFunc) ([]pipeline.Result, pipeline.Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.requestTimeout())
	defer cancel()

	start := time.Now()
	var (
		results []pipeline.Result
		stats   pipeline.Stats
		err     error
	)
	if emit != nil {
		results, stats, err = svc.RecognizeStream(ctx, data, mode, emit)
	} else {
		results, stats, err = svc.Recognize(ctx, data, mode)
	}
	s.observe(backend, mode, time.Since(start), stats, err)
	return results, stats, err
}

func (s *Server) observe(backend string, mode pipeline.Mode, d time.Duration, stats pipeline.Stats, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	recognitionRequestsTotal.WithLabelValues(backend, string(mode), status).Inc()
	recognitionDuration.WithLabelValues(backend, string(mode)).Observe(d.Seconds())
	if err != nil {
		return
	}
	wordsSegmented.WithLabelValues(backend).Observe(float64(stats.Words))
	if stats.Errors > 0 {
		wordErrorsTotal.WithLabelValues(backend).Add(float64(stats.Errors))
	}
	s.stats.Add(stats)
}

// writeRecognitionError maps a recognition failure to a status code.
func (s *Server) writeRecognitionError(w http.ResponseWriter, err error) {
	var decodeErr *utils.DecodeError
	switch {
	case errors.As(err, &decodeErr):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, http.StatusGatewayTimeout, "recognition timed out")
	default:
		s.logger.Error("Recognition failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "recognition failed: "+err.Error())
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

// writeError writes the {"error": ...} envelope.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}

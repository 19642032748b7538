package server

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// corsMiddleware adds CORS headers and records request metrics.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		start := time.Now()
		next(rw, r)
		duration := time.Since(start)

		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rw.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration.Seconds())
	}
}

// rateLimitMiddleware enforces rate limits and quotas per client address.
func (s *Server) rateLimitMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.rateLimiter == nil || !s.rateLimiter.Enabled() {
			next(w, r)
			return
		}

		var dataSize int64
		if r.ContentLength > 0 {
			dataSize = r.ContentLength
		}

		if err := s.rateLimiter.CheckRateLimit(getClientIP(r), dataSize); err != nil {
			s.handleRateLimitError(w, err)
			return
		}

		next(w, r)
	}
}

// handleRateLimitError answers 429 with headers describing the exceeded limit.
func (s *Server) handleRateLimitError(w http.ResponseWriter, err error) {
	var rle *RateLimitError
	var qe *QuotaExceededError
	switch {
	case errors.As(err, &rle):
		rateLimitHits.WithLabelValues(rle.Type).Inc()
		w.Header().Set("X-RateLimit-Type", rle.Type)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rle.Limit))
		w.Header().Set("Retry-After", fmt.Sprintf("%.0f", rle.RetryAfter.Seconds()))
		s.writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.As(err, &qe):
		rateLimitHits.WithLabelValues(qe.Type).Inc()
		w.Header().Set("X-Quota-Type", qe.Type)
		w.Header().Set("X-Quota-Limit", strconv.FormatInt(qe.Limit, 10))
		w.Header().Set("X-Quota-Used", strconv.FormatInt(qe.Used, 10))
		w.Header().Set("X-Quota-Resets", qe.Resets.UTC().Format(http.TimeFormat))
		s.writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, "rate limiting check failed")
	}
}

// getClientIP extracts the client IP address from the request.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

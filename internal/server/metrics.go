package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mandoc_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mandoc_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Recognition metrics
	recognitionRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mandoc_recognition_requests_total",
			Help: "Total number of recognition requests",
		},
		[]string{"backend", "mode", "status"},
	)

	recognitionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mandoc_recognition_duration_seconds",
			Help:    "Recognition duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"backend", "mode"},
	)

	wordsSegmented = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mandoc_words_segmented",
			Help:    "Number of words per recognized image",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		},
		[]string{"backend"},
	)

	wordErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mandoc_word_errors_total",
			Help: "Total number of words whose recognition failed",
		},
		[]string{"backend"},
	)

	rateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mandoc_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
		[]string{"type"},
	)

	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mandoc_upload_size_bytes",
			Help:    "Size of uploaded files in bytes",
			Buckets: []float64{1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024, 50 * 1024 * 1024},
		},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mandoc_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mandoc_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // sent, received
	)
)

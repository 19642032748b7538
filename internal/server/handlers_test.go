package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m2i-duo/mandoc-ocr-api/internal/recognizer"
)

func TestNewServer(t *testing.T) {
	_, err := NewServer(Config{})
	require.ErrorIs(t, err, errNoBackends)

	_, err = NewServer(Config{Backends: map[string]RecognitionService{BackendCRNN: nil}})
	require.ErrorIs(t, err, errNoBackends)

	s, err := NewServer(Config{Backends: map[string]RecognitionService{BackendTesseract: &fakeService{}}})
	require.NoError(t, err)
	assert.Equal(t, int64(50), s.maxUploadMB)
	assert.Equal(t, 30, s.timeoutSec)
	assert.Equal(t, "*", s.corsOrigin)
	assert.Equal(t, []string{BackendTesseract}, s.backendNames())
}

func TestServer_Close(t *testing.T) {
	closed := 0
	s := newTestServer(t, func(c *Config) {
		c.Closers = []io.Closer{
			closerFunc(func() error { closed++; return nil }),
			closerFunc(func() error { closed++; return errBoom }),
		}
	})
	require.ErrorIs(t, s.Close(), errBoom)
	assert.Equal(t, 2, closed)
}

func TestServer_HealthHandler(t *testing.T) {
	server := newTestServer(t, nil)

	tests := []struct {
		name           string
		method         string
		expectedStatus int
		checkResponse  bool
	}{
		{name: "GET request success", method: http.MethodGet, expectedStatus: http.StatusOK, checkResponse: true},
		{name: "POST request not allowed", method: http.MethodPost, expectedStatus: http.StatusMethodNotAllowed},
		{name: "PUT request not allowed", method: http.MethodPut, expectedStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/health", nil)
			w := httptest.NewRecorder()

			server.healthHandler(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			if !tt.checkResponse {
				return
			}
			var response HealthResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
			assert.Equal(t, "healthy", response.Status)
			assert.Equal(t, "test", response.Version)
			assert.NotEmpty(t, response.Time)
			assert.Equal(t, []string{BackendCRNN}, response.Backends)
		})
	}
}

func TestServer_HealthReportsProcessedImages(t *testing.T) {
	server := newTestServer(t, nil)
	handler := server.Handler()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, imageRequest(t, "/crnn/chunks", "image/png", twoWordsPNG(t)))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	var response HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, 1, response.Processing.Stats.Images)
	assert.Equal(t, 2, response.Processing.Stats.Words)
}

func TestServer_ModelsHandler(t *testing.T) {
	info := recognizer.ModelInfo{Checkpoint: "checkpoints/snapshot-3.onnx", Epoch: 3, Loaded: true, Decoder: "bestpath", CharsetSize: 80}
	server := newTestServer(t, func(c *Config) { c.Model = fakeModel{info: info} })

	w := httptest.NewRecorder()
	server.modelsHandler(w, httptest.NewRequest(http.MethodGet, "/models", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var response ModelsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	require.NotNil(t, response.Model)
	assert.Equal(t, info, *response.Model)
	require.NotNil(t, response.OCR)
	assert.Equal(t, "tesseract", response.OCR.Engine)
	assert.Equal(t, "ara", response.OCR.Language)

	w = httptest.NewRecorder()
	server.modelsHandler(w, httptest.NewRequest(http.MethodDelete, "/models", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServer_ModelsHandlerWithoutModel(t *testing.T) {
	server := newTestServer(t, func(c *Config) { c.OCREngine = "" })

	w := httptest.NewRecorder()
	server.modelsHandler(w, httptest.NewRequest(http.MethodGet, "/models", nil))

	var response ModelsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Nil(t, response.Model)
	assert.Nil(t, response.OCR)
}

func TestServer_MetricsRoute(t *testing.T) {
	handler := newTestServer(t, nil).Handler()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, imageRequest(t, "/crnn/merged", "image/png", twoWordsPNG(t)))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "mandoc_recognition_requests_total")
	assert.Contains(t, w.Body.String(), "mandoc_http_requests_total")
}

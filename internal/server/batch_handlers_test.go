package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m2i-duo/mandoc-ocr-api/internal/pipeline"
)

func TestBatchHandler_KeepsUploadOrder(t *testing.T) {
	handler := newTestServer(t, nil).Handler()
	png := twoWordsPNG(t)

	req := multipartRequest(t, "/crnn/batch", []upload{
		{field: imagesField, filename: "a.png", contentType: "image/png", data: png},
		{field: imagesField, filename: "b.png", contentType: "image/png", data: []byte("broken")},
		{field: imagesField, filename: "c.png", contentType: "image/png", data: png},
	}, nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var response BatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	require.Len(t, response.Results, 3)
	for i, r := range response.Results {
		assert.Equal(t, i, r.Index)
	}
	assert.Equal(t, "alpha beta", response.Results[0].Text)
	assert.Contains(t, response.Results[1].Error, "failed to decode image")
	assert.Empty(t, response.Results[1].Results)
	assert.Equal(t, "alpha beta", response.Results[2].Text)
	assert.Equal(t, 2, response.Stats.Images)
	assert.Equal(t, 4, response.Stats.Words)
}

func TestBatchHandler_MergedMode(t *testing.T) {
	handler := newTestServer(t, nil).Handler()

	req := multipartRequest(t, "/crnn/batch", []upload{
		{field: imagesField, filename: "a.png", contentType: "image/png", data: twoWordsPNG(t)},
	}, map[string]string{modeField: string(pipeline.ModeMerged)})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var response BatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	require.Len(t, response.Results, 1)
	require.Len(t, response.Results[0].Results, 1)
	assert.Equal(t, "whole", response.Results[0].Text)
}

func TestBatchHandler_Errors(t *testing.T) {
	handler := newTestServer(t, nil).Handler()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, multipartRequest(t, "/crnn/batch", nil, map[string]string{"note": "empty"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, multipartRequest(t, "/crnn/batch", []upload{
		{field: imagesField, filename: "a.gif", contentType: "image/gif", data: []byte("GIF89a")},
	}, nil))
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/crnn/batch", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestBatchHandler_ServiceError(t *testing.T) {
	handler := newTestServer(t, func(c *Config) {
		c.Backends = map[string]RecognitionService{BackendCRNN: &fakeService{err: errBoom}}
	}).Handler()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, multipartRequest(t, "/crnn/batch", []upload{
		{field: imagesField, filename: "a.png", contentType: "image/png", data: twoWordsPNG(t)},
	}, nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

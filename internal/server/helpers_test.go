package server

import (
	"bytes"
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/m2i-duo/mandoc-ocr-api/internal/pipeline"
	"github.com/m2i-duo/mandoc-ocr-api/internal/recognizer"
	"github.com/m2i-duo/mandoc-ocr-api/internal/testutil"
)

// twoWordLabels labels the testutil.TwoWords crops by their padded width.
var twoWordLabels = map[int]string{56: "alpha", 66: "beta"}

func byWidth(labels map[int]string) pipeline.RecognizerFunc {
	return func(_ context.Context, img *image.Gray) (string, error) {
		if l, ok := labels[img.Bounds().Dx()]; ok {
			return l, nil
		}
		return "whole", nil
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestPipeline builds a real orchestrator around rec.
func newTestPipeline(t *testing.T, rec pipeline.WordRecognizer) *pipeline.Pipeline {
	t.Helper()
	cfg := pipeline.DefaultConfig()
	cfg.Logger = discardLogger()
	p, err := pipeline.NewBuilder().WithConfig(cfg).WithRecognizer(rec).Build()
	require.NoError(t, err)
	return p
}

// newTestServer serves the crnn backend with a labeling pipeline.
func newTestServer(t *testing.T, mutate func(*Config)) *Server {
	t.Helper()
	cfg := Config{
		Backends:    map[string]RecognitionService{BackendCRNN: newTestPipeline(t, byWidth(twoWordLabels))},
		OCREngine:   "tesseract",
		OCRLanguage: "ara",
		Version:     "test",
		Logger:      discardLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewServer(cfg)
	require.NoError(t, err)
	return s
}

func twoWordsPNG(t *testing.T) []byte {
	t.Helper()
	img, _ := testutil.TwoWords()
	return testutil.EncodePNG(t, img)
}

type upload struct {
	field       string
	filename    string
	contentType string
	data        []byte
}

// multipartRequest builds a POST with the given file parts and form values.
func multipartRequest(t *testing.T, path string, files []upload, values map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+f.field+`"; filename="`+f.filename+`"`)
		if f.contentType != "" {
			h.Set("Content-Type", f.contentType)
		}
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	for k, v := range values {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func imageRequest(t *testing.T, path, contentType string, data []byte) *http.Request {
	t.Helper()
	return multipartRequest(t, path, []upload{{field: imageField, filename: "scan.png", contentType: contentType, data: data}}, nil)
}

// fakeService returns fixed results or a fixed error.
type fakeService struct {
	results []pipeline.Result
	err     error
	calls   int
}

func (f *fakeService) Recognize(ctx context.Context, data []byte, mode pipeline.Mode) ([]pipeline.Result, pipeline.Stats, error) {
	return f.RecognizeStream(ctx, data, mode, nil)
}

func (f *fakeService) RecognizeStream(_ context.Context, _ []byte, _ pipeline.Mode, emit pipeline.EmitFunc) ([]pipeline.Result, pipeline.Stats, error) {
	f.calls++
	if f.err != nil {
		return nil, pipeline.Stats{}, f.err
	}
	for i, r := range f.results {
		if emit != nil {
			emit(i, len(f.results), r)
		}
	}
	return f.results, pipeline.Stats{Images: 1, Words: len(f.results)}, nil
}

func (f *fakeService) RecognizeImages(_ context.Context, imgs []image.Image, _ pipeline.Mode) ([]pipeline.ImageResult, pipeline.Stats, error) {
	f.calls++
	if f.err != nil {
		return nil, pipeline.Stats{}, f.err
	}
	out := make([]pipeline.ImageResult, len(imgs))
	for i := range imgs {
		out[i] = pipeline.ImageResult{Index: i, Results: f.results, Text: pipeline.Merge(f.results)}
	}
	return out, pipeline.Stats{Images: len(imgs)}, nil
}

type fakeModel struct{ info recognizer.ModelInfo }

func (m fakeModel) Info() recognizer.ModelInfo { return m.info }

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

var errBoom = errors.New("boom")

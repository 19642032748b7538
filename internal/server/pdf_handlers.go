package server

import (
	"bytes"
	"context"
	"image"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/m2i-duo/mandoc-ocr-api/internal/pdf"
	"github.com/m2i-duo/mandoc-ocr-api/internal/pipeline"
)

const (
	pdfField   = "pdf"
	pagesField = "pages"
	modeField  = "mode"
)

// PDFPageResult holds the recognized images of one PDF page.
type PDFPageResult struct {
	Page   int                    `json:"page"`
	Images []pipeline.ImageResult `json:"images"`
	Text   string                 `json:"text"`
}

// PDFResponse is returned by the */pdf routes.
type PDFResponse struct {
	Pages []PDFPageResult `json:"pages"`
	Stats pipeline.Stats  `json:"stats"`
}

// pdfHandler recognizes every embedded page image of an uploaded PDF.
func (s *Server) pdfHandler(backend string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if !s.parseMultipart(w, r) {
			return
		}
		mode, ok := s.formMode(w, r)
		if !ok {
			return
		}

		file, header, err := r.FormFile(pdfField)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "no PDF file provided")
			return
		}
		defer func() { _ = file.Close() }()
		if ct := uploadContentType(header); !isPDFContentType(ct) {
			s.writeError(w, http.StatusUnsupportedMediaType, "unsupported content type "+ct)
			return
		}
		uploadSizeBytes.Observe(float64(header.Size))

		data, err := io.ReadAll(file)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, "failed to read PDF data")
			return
		}
		pages, err := pdf.ExtractPagesFrom(bytes.NewReader(data), pdf.Options{
			PageRange: r.FormValue(pagesField),
			Logger:    s.logger,
		})
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		svc, ok := s.service(w, backend)
		if !ok {
			return
		}
		imgs := pdf.Flatten(pages)
		if len(imgs) == 0 {
			s.writeJSON(w, http.StatusOK, PDFResponse{Pages: []PDFPageResult{}})
			return
		}
		results, stats, err := s.recognizeImages(r.Context(), svc, backend, imgs, mode)
		if err != nil {
			s.writeRecognitionError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, PDFResponse{Pages: groupByPage(pages, results), Stats: stats})
	}
}

func isPDFContentType(ct string) bool {
	mt, _, err := mime.ParseMediaType(ct)
	return err == nil && (mt == "application/pdf" || mt == "application/octet-stream")
}

// groupByPage splits flattened image results back into their pages.
func groupByPage(pages []pdf.Page, results []pipeline.ImageResult) []PDFPageResult {
	out := make([]PDFPageResult, 0, len(pages))
	next := 0
	for _, p := range pages {
		pr := PDFPageResult{Page: p.Number, Images: make([]pipeline.ImageResult, 0, len(p.Images))}
		var texts []pipeline.Result
		for range p.Images {
			if next >= len(results) {
				break
			}
			res := results[next]
			next++
			pr.Images = append(pr.Images, res)
			if res.Error == "" && res.Text != "" {
				texts = append(texts, pipeline.Result{Label: res.Text})
			}
		}
		pr.Text = pipeline.Merge(texts)
		out = append(out, pr)
	}
	return out
}

// recognizeImages is recognize for decoded images.
func (s *Server) recognizeImages(ctx context.Context, svc RecognitionService, backend string, imgs []image.Image, mode pipeline.Mode) ([]pipeline.ImageResult, pipeline.Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, s.requestTimeout())
	defer cancel()

	start := time.Now()
	results, stats, err := svc.RecognizeImages(ctx, imgs, mode)
	s.observe(backend, mode, time.Since(start), stats, err)
	return results, stats, err
}

// formMode reads the optional "mode" form value, defaulting to chunks.
func (s *Server) formMode(w http.ResponseWriter, r *http.Request) (pipeline.Mode, bool) {
	v := r.FormValue(modeField)
	if v == "" {
		return pipeline.ModeChunks, true
	}
	mode, err := pipeline.ParseMode(v)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return mode, true
}

package server

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/m2i-duo/mandoc-ocr-api/internal/pipeline"
	"github.com/m2i-duo/mandoc-ocr-api/internal/utils"
)

const imageField = "image"

// chunksHandler answers with one result per segmented word.
func (s *Server) chunksHandler(backend string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, ok := s.readImageUpload(w, r)
		if !ok {
			return
		}
		svc, ok := s.service(w, backend)
		if !ok {
			return
		}

		results, _, err := s.recognize(r.Context(), svc, backend, data, pipeline.ModeChunks, nil)
		if err != nil {
			s.writeRecognitionError(w, err)
			return
		}
		if results == nil {
			results = []pipeline.Result{}
		}
		s.writeJSON(w, http.StatusOK, results)
	}
}

// mergedHandler segments the image and joins the word labels.
func (s *Server) mergedHandler(backend string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, ok := s.readImageUpload(w, r)
		if !ok {
			return
		}
		svc, ok := s.service(w, backend)
		if !ok {
			return
		}

		results, _, err := s.recognize(r.Context(), svc, backend, data, pipeline.ModeChunks, nil)
		if err != nil {
			s.writeRecognitionError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, MergedResponse{Text: pipeline.Merge(results)})
	}
}

// readImageUpload validates a multipart upload in the "image" field and
// returns its bytes. On failure the response is already written.
func (s *Server) readImageUpload(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return nil, false
	}
	if !s.parseMultipart(w, r) {
		return nil, false
	}

	file, header, err := r.FormFile(imageField)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "no image file provided")
		return nil, false
	}
	defer func() { _ = file.Close() }()

	if ct := uploadContentType(header); !utils.IsSupportedContentType(ct) {
		s.writeError(w, http.StatusUnsupportedMediaType, "unsupported content type "+ct)
		return nil, false
	}

	uploadSizeBytes.Observe(float64(header.Size))
	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to read image data")
		return nil, false
	}
	return data, true
}

// parseMultipart bounds the body and parses the form.
func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request) bool {
	limit := s.maxUploadMB * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		if isTooLarge(err) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		} else {
			s.writeError(w, http.StatusBadRequest, "failed to parse form data")
		}
		return false
	}
	return true
}

func isTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large")
}

// uploadContentType returns the declared type of the part; parts without
// one count as application/octet-stream.
func uploadContentType(h *multipart.FileHeader) string {
	if ct := h.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

package server

import (
	"image"
	"io"
	"net/http"
	"strconv"

	"github.com/m2i-duo/mandoc-ocr-api/internal/pipeline"
	"github.com/m2i-duo/mandoc-ocr-api/internal/utils"
)

const imagesField = "images"

// BatchResponse is returned by the */batch routes. Results are in upload
// order; an upload that could not be decoded carries only an error.
type BatchResponse struct {
	Results []pipeline.ImageResult `json:"results"`
	Stats   pipeline.Stats         `json:"stats"`
}

// batchHandler recognizes several uploaded images in parallel.
func (s *Server) batchHandler(backend string) http.HandlerFunc {
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

		headers := r.MultipartForm.File[imagesField]
		if len(headers) == 0 {
			s.writeError(w, http.StatusBadRequest, "no image files provided")
			return
		}

		results := make([]pipeline.ImageResult, len(headers))
		imgs := make([]image.Image, 0, len(headers))
		slots := make([]int, 0, len(headers))
		for i, h := range headers {
			results[i].Index = i
			if ct := uploadContentType(h); !utils.IsSupportedContentType(ct) {
				s.writeError(w, http.StatusUnsupportedMediaType, "unsupported content type "+ct+" for file "+strconv.Itoa(i))
				return
			}
			uploadSizeBytes.Observe(float64(h.Size))

			f, err := h.Open()
			if err != nil {
				results[i].Error = err.Error()
				continue
			}
			data, err := io.ReadAll(f)
			_ = f.Close()
			if err != nil {
				results[i].Error = err.Error()
				continue
			}
			img, _, err := utils.DecodeGray(data)
			if err != nil {
				results[i].Error = err.Error()
				continue
			}
			imgs = append(imgs, img)
			slots = append(slots, i)
		}

		svc, ok := s.service(w, backend)
		if !ok {
			return
		}
		var stats pipeline.Stats
		if len(imgs) > 0 {
			recognized, st, err := s.recognizeImages(r.Context(), svc, backend, imgs, mode)
			if err != nil {
				s.writeRecognitionError(w, err)
				return
			}
			stats = st
			for j, res := range recognized {
				res.Index = slots[j]
				results[slots[j]] = res
			}
		}
		s.writeJSON(w, http.StatusOK, BatchResponse{Results: results, Stats: stats})
	}
}

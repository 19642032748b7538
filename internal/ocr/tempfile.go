package ocr

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/m2i-duo/mandoc-ocr-api/internal/utils"
)

// TempFileEngine hands each image to a FileEngine through a uniquely named
// PNG file that is removed before Recognize returns.
type TempFileEngine struct {
	// Dir is where files are written; empty means os.TempDir().
	Dir     string
	Backend FileEngine

	// save writes the image; nil means utils.SavePNG.
	save func(path string, img image.Image) error
}

// Name reports the backend name.
func (e *TempFileEngine) Name() string { return e.Backend.Name() }

// Recognize writes img to word_<hex>.png, runs the backend and removes the file.
func (e *TempFileEngine) Recognize(ctx context.Context, img image.Image, lang string) (string, error) {
	if err := checkImage(img); err != nil {
		return "", wrap(e.Name(), "recognize", err)
	}
	dir := e.Dir
	if dir == "" {
		dir = os.TempDir()
	}

	id := uuid.New()
	path := filepath.Join(dir, fmt.Sprintf("word_%x.png", id[:]))
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove temp word image", "path", path, "error", err)
		}
	}()
	save := e.save
	if save == nil {
		save = utils.SavePNG
	}
	if err := save(path, img); err != nil {
		return "", wrap(e.Name(), "write temp file", err)
	}

	text, err := e.Backend.RecognizeFile(ctx, path, lang)
	if err != nil {
		return "", wrap(e.Name(), "recognize", err)
	}
	return text, nil
}

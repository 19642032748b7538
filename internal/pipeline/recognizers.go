package pipeline

import (
	"context"
	"errors"
	"image"

	"github.com/m2i-duo/mandoc-ocr-api/internal/ocr"
	"github.com/m2i-duo/mandoc-ocr-api/internal/recognizer"
)

// WordRecognizer turns one word image into raw text. Implementations must be
// safe for concurrent use when the pipeline runs with more than one worker.
type WordRecognizer interface {
	RecognizeWord(ctx context.Context, img *image.Gray) (string, error)
}

// RecognizerFunc adapts a function to WordRecognizer.
type RecognizerFunc func(ctx context.Context, img *image.Gray) (string, error)

func (f RecognizerFunc) RecognizeWord(ctx context.Context, img *image.Gray) (string, error) {
	return f(ctx, img)
}

// ModelRecognizer recognizes words with the sequence model.
type ModelRecognizer struct {
	Model *recognizer.Model
}

func (r ModelRecognizer) RecognizeWord(ctx context.Context, img *image.Gray) (string, error) {
	if r.Model == nil {
		return "", recognizer.ErrModelNotLoaded
	}
	text, _, err := r.Model.RecognizeWord(ctx, img)
	return text, err
}

// EngineRecognizer recognizes words with an external OCR engine.
type EngineRecognizer struct {
	Engine   ocr.Engine
	Language string
}

func (r EngineRecognizer) RecognizeWord(ctx context.Context, img *image.Gray) (string, error) {
	if r.Engine == nil {
		return "", errors.New("no OCR engine configured")
	}
	lang := r.Language
	if lang == "" {
		lang = ocr.DefaultLanguage
	}
	return r.Engine.Recognize(ctx, img, lang)
}

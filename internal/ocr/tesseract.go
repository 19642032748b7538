package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// tesseractClient is the subset of *gosseract.Client the engine uses.
type tesseractClient interface {
	SetImage(path string) error
	SetLanguage(langs ...string) error
	SetPageSegMode(mode gosseract.PageSegMode) error
	Text() (string, error)
	Close() error
}

// TesseractEngine runs Tesseract on image files, treating each image as a
// single uniform block of text.
type TesseractEngine struct {
	clientFactory func() tesseractClient
	pageSegMode   gosseract.PageSegMode
}

// NewTesseractEngine constructs a Tesseract-backed engine.
func NewTesseractEngine() *TesseractEngine {
	return &TesseractEngine{
		clientFactory: func() tesseractClient { return gosseract.NewClient() },
		pageSegMode:   gosseract.PSM_SINGLE_BLOCK,
	}
}

func (e *TesseractEngine) Name() string { return EngineTesseract }

// RecognizeFile reads the image at path. A fresh client is used per call so
// the engine can be shared between goroutines.
func (e *TesseractEngine) RecognizeFile(ctx context.Context, path, lang string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if lang == "" {
		lang = DefaultLanguage
	}

	c := e.clientFactory()
	if c == nil {
		return "", wrap(e.Name(), "create client", ErrEngineUnavailable)
	}
	defer func() { _ = c.Close() }()

	if err := c.SetImage(path); err != nil {
		return "", wrap(e.Name(), "set image", err)
	}
	if err := c.SetLanguage(strings.Split(lang, "+")...); err != nil {
		return "", wrap(e.Name(), "set language", err)
	}
	if err := c.SetPageSegMode(e.pageSegMode); err != nil {
		return "", wrap(e.Name(), "set page segmentation mode", err)
	}
	text, err := c.Text()
	if err != nil {
		return "", wrap(e.Name(), "recognize text", fmt.Errorf("%w: %w", ErrEngineUnavailable, err))
	}
	return strings.TrimSpace(text), nil
}

// TesseractVersion reports the version of the linked Tesseract library.
func TesseractVersion() string { return gosseract.Version() }

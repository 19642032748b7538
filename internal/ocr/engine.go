// Package ocr adapts external OCR services to the per-word recognition
// contract: an image and a language code in, text out.
package ocr

import (
	"context"
	"fmt"
	"image"
	"strings"
)

const (
	EngineTesseract = "tesseract"
	EngineVision    = "vision"

	// DefaultLanguage is the Tesseract language code used when none is given.
	DefaultLanguage = "ara"
)

// Engine recognizes the text of an in-memory image.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, img image.Image, lang string) (string, error)
}

// FileEngine recognizes the text of an image stored on disk.
type FileEngine interface {
	Name() string
	RecognizeFile(ctx context.Context, path, lang string) (string, error)
}

// Config selects and configures an engine.
type Config struct {
	Engine   string `mapstructure:"engine" yaml:"engine" json:"engine"`
	Language string `mapstructure:"language" yaml:"language" json:"language"`
	// TempDir holds transient word files for path-based engines; empty means os.TempDir().
	TempDir string `mapstructure:"temp_dir" yaml:"temp_dir" json:"temp_dir"`
	// CredentialsFile and CredentialsJSON configure Cloud Vision; both empty
	// falls back to the environment and application default credentials.
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file" json:"credentials_file"`
	CredentialsJSON string `mapstructure:"-" yaml:"-" json:"-"`
}

// DefaultConfig uses Tesseract with Arabic.
func DefaultConfig() Config {
	return Config{Engine: EngineTesseract, Language: DefaultLanguage}
}

// NewEngine builds the engine named in cfg. Tesseract is wrapped in a
// TempFileEngine because it reads word images from disk.
func NewEngine(ctx context.Context, cfg Config) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Engine)) {
	case "", EngineTesseract:
		return &TempFileEngine{Dir: cfg.TempDir, Backend: NewTesseractEngine()}, nil
	case EngineVision:
		return NewVisionEngine(ctx, VisionOptions{
			CredentialsFile: cfg.CredentialsFile,
			CredentialsJSON: cfg.CredentialsJSON,
		})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, cfg.Engine)
	}
}

func checkImage(img image.Image) error {
	if img == nil || img.Bounds().Empty() {
		return ErrEmptyImage
	}
	return nil
}

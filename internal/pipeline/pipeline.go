// Package pipeline runs the recognition flow: decode, segment into words,
// recognize every word, clean the text and package the results.
package pipeline

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/m2i-duo/mandoc-ocr-api/internal/recognizer"
	"github.com/m2i-duo/mandoc-ocr-api/internal/segment"
)

// Config holds the pipeline settings.
type Config struct {
	Segmenter segment.Config
	Clean     recognizer.CleanOptions
	// Workers bounds RecognizeImages concurrency; 0 means runtime.NumCPU().
	Workers int
	Logger  *slog.Logger
}

// DefaultConfig returns the default segmentation and cleaning settings.
func DefaultConfig() Config {
	return Config{
		Segmenter: segment.DefaultConfig(),
		Clean:     recognizer.DefaultCleanOptions(),
	}
}

// Pipeline is safe for concurrent use as long as its WordRecognizer is.
type Pipeline struct {
	cfg        Config
	segmenter  *segment.Segmenter
	recognizer WordRecognizer
	progress   ProgressCallback
	logger     *slog.Logger
}

// Builder provides a fluent API for assembling a Pipeline.
type Builder struct {
	cfg        Config
	segmenter  *segment.Segmenter
	recognizer WordRecognizer
	progress   ProgressCallback
}

// NewBuilder starts from DefaultConfig.
func NewBuilder() *Builder {
	return &Builder{cfg: DefaultConfig()}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

// WithSegmenterConfig sets the segmentation settings used when no segmenter
// instance is given.
func (b *Builder) WithSegmenterConfig(cfg segment.Config) *Builder {
	b.cfg.Segmenter = cfg
	return b
}

// WithSegmenter uses an existing segmenter.
func (b *Builder) WithSegmenter(s *segment.Segmenter) *Builder {
	b.segmenter = s
	return b
}

// WithRecognizer sets the word recognizer backend.
func (b *Builder) WithRecognizer(r WordRecognizer) *Builder {
	b.recognizer = r
	return b
}

// WithCleanOptions sets text post-processing.
func (b *Builder) WithCleanOptions(opts recognizer.CleanOptions) *Builder {
	b.cfg.Clean = opts
	return b
}

// WithWorkers sets the RecognizeImages worker count.
func (b *Builder) WithWorkers(n int) *Builder {
	b.cfg.Workers = n
	return b
}

// WithProgress reports RecognizeImages progress to cb.
func (b *Builder) WithProgress(cb ProgressCallback) *Builder {
	b.progress = cb
	return b
}

// WithLogger sets the logger.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.cfg.Logger = l
	return b
}

// Build validates the configuration and creates the pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	return New(b.cfg, b.recognizer, b.segmenter, b.progress)
}

// New creates a pipeline. A nil segmenter is built from cfg.Segmenter; a nil
// progress callback reports nothing.
func New(cfg Config, rec WordRecognizer, seg *segment.Segmenter, progress ProgressCallback) (*Pipeline, error) {
	if rec == nil {
		return nil, ErrNoRecognizer
	}
	if cfg.Workers < 0 {
		return nil, fmt.Errorf("workers must be >= 0, got %d", cfg.Workers)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if seg == nil {
		segCfg := cfg.Segmenter
		if segCfg.Logger == nil {
			segCfg.Logger = logger
		}
		var err error
		seg, err = segment.New(segCfg)
		if err != nil {
			return nil, fmt.Errorf("invalid segmenter config: %w", err)
		}
	}
	cfg.Segmenter = seg.Config()
	if progress == nil {
		progress = NoOpProgressCallback{}
	}
	return &Pipeline{
		cfg:        cfg,
		segmenter:  seg,
		recognizer: rec,
		progress:   progress,
		logger:     logger,
	}, nil
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Segmenter returns the segmenter used in chunks mode.
func (p *Pipeline) Segmenter() *segment.Segmenter { return p.segmenter }

func (p *Pipeline) workers() int {
	if p.cfg.Workers > 0 {
		return p.cfg.Workers
	}
	return runtime.NumCPU()
}

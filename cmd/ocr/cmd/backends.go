package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/m2i-duo/mandoc-ocr-api/internal/config"
	"github.com/m2i-duo/mandoc-ocr-api/internal/ocr"
	"github.com/m2i-duo/mandoc-ocr-api/internal/pipeline"
	"github.com/m2i-duo/mandoc-ocr-api/internal/recognizer"
	"github.com/m2i-duo/mandoc-ocr-api/internal/server"
)

// backends holds the orchestrators built for one command run.
type backends struct {
	services map[string]server.RecognitionService
	model    *recognizer.Model
	engine   ocr.Engine
	closers  []io.Closer
}

// Close releases the model and OCR engine.
func (b *backends) Close() error {
	var errs []error
	for _, c := range b.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func parseBackend(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case server.BackendCRNN, "model":
		return server.BackendCRNN, nil
	case server.BackendTesseract, "ocr":
		return server.BackendTesseract, nil
	default:
		return "", fmt.Errorf("unknown backend %q (want %s or %s)", name, server.BackendCRNN, server.BackendTesseract)
	}
}

// buildBackends creates the requested backends. When lenient is set a backend
// that fails to start is logged and skipped, as long as one remains.
func buildBackends(ctx context.Context, cfg *config.Config, names []string, progress pipeline.ProgressCallback, lenient bool, logger *slog.Logger) (*backends, error) {
	b := &backends{services: make(map[string]server.RecognitionService)}
	for _, name := range names {
		var err error
		switch name {
		case server.BackendCRNN:
			err = b.addModel(cfg, progress, logger)
		case server.BackendTesseract:
			err = b.addEngine(ctx, cfg, progress, logger)
		default:
			err = fmt.Errorf("unknown backend %q", name)
		}
		if err == nil {
			continue
		}
		if !lenient {
			_ = b.Close()
			return nil, fmt.Errorf("failed to start %s backend: %w", name, err)
		}
		logger.Warn("Backend unavailable", "backend", name, "error", err)
	}
	if len(b.services) == 0 {
		return nil, errors.New("no recognition backend could be started")
	}
	return b, nil
}

func (b *backends) addModel(cfg *config.Config, progress pipeline.ProgressCallback, logger *slog.Logger) error {
	modelCfg, err := cfg.ToModelConfig(logger)
	if err != nil {
		return err
	}
	model, err := recognizer.NewModel(modelCfg)
	if err != nil {
		return err
	}
	pCfg, err := cfg.ToPipelineConfig(logger)
	if err != nil {
		_ = model.Close()
		return err
	}
	p, err := pipeline.NewBuilder().
		WithConfig(pCfg).
		WithRecognizer(pipeline.ModelRecognizer{Model: model}).
		WithProgress(progress).
		Build()
	if err != nil {
		_ = model.Close()
		return err
	}
	b.model = model
	b.closers = append(b.closers, model)
	b.services[server.BackendCRNN] = p
	return nil
}

func (b *backends) addEngine(ctx context.Context, cfg *config.Config, progress pipeline.ProgressCallback, logger *slog.Logger) error {
	engine, err := ocr.NewEngine(ctx, cfg.ToOCRConfig())
	if err != nil {
		return err
	}
	closeEngine := func() {
		if c, ok := engine.(io.Closer); ok {
			_ = c.Close()
		}
	}
	pCfg, err := cfg.ToOCRPipelineConfig(logger)
	if err != nil {
		closeEngine()
		return err
	}
	p, err := pipeline.NewBuilder().
		WithConfig(pCfg).
		WithRecognizer(pipeline.EngineRecognizer{Engine: engine, Language: cfg.OCR.Language}).
		WithProgress(progress).
		Build()
	if err != nil {
		closeEngine()
		return err
	}
	b.engine = engine
	if c, ok := engine.(io.Closer); ok {
		b.closers = append(b.closers, c)
	}
	b.services[server.BackendTesseract] = p
	return nil
}

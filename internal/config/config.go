package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/m2i-duo/mandoc-ocr-api/internal/dataset"
	"github.com/m2i-duo/mandoc-ocr-api/internal/models"
	"github.com/m2i-duo/mandoc-ocr-api/internal/normalize"
	"github.com/m2i-duo/mandoc-ocr-api/internal/ocr"
	"github.com/m2i-duo/mandoc-ocr-api/internal/onnx"
	"github.com/m2i-duo/mandoc-ocr-api/internal/pipeline"
	"github.com/m2i-duo/mandoc-ocr-api/internal/recognizer"
	"github.com/m2i-duo/mandoc-ocr-api/internal/segment"
	"github.com/m2i-duo/mandoc-ocr-api/internal/training"
)

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	norm := normalize.DefaultOptions()
	seg := segment.DefaultConfig()
	clean := recognizer.DefaultCleanOptions()
	model := recognizer.DefaultModelConfig()
	data := dataset.DefaultConfig()
	train := training.DefaultConfig()
	gpu := onnx.DefaultGPUConfig()

	return Config{
		ModelsDir: models.DefaultModelsDir,
		LogLevel:  "info",
		LogFormat: "json",
		Verbose:   false,
		Normalizer: NormalizerConfig{
			Width:     norm.Width,
			Height:    norm.Height,
			Binarize:  norm.Binarize.String(),
			Threshold: int(norm.Threshold),
		},
		Segmenter: SegmenterConfig{
			ThresholdMethod: seg.Method.String(),
			BlockSize:       seg.BlockSize,
			C:               seg.C,
			SauvolaK:        seg.SauvolaK,
			SauvolaWindow:   seg.SauvolaWindow,
			KernelWidth:     seg.Kernel.Width,
			KernelHeight:    seg.Kernel.Height,
			MinArea:         seg.MinArea,
			Padding:         seg.Padding,
			Direction:       "ltr",
			ReverseOutput:   seg.ReverseOutput,
		},
		Decoder: DecoderConfig{
			Type:            model.Decoder.String(),
			BeamWidth:       model.BeamWidth,
			Layout:          model.Layout.String(),
			MaxTextLength:   model.MaxTextLength,
			BatchSize:       model.BatchSize,
			MaxModelsToKeep: model.MaxModelsToKeep,
			NumThreads:      0,
			MustRestore:     true,
		},
		OCR: OCRConfig{
			Engine:    ocr.EngineTesseract,
			Language:  ocr.DefaultLanguage,
			Direction: "rtl",
		},
		Pipeline: PipelineConfig{
			Workers: 0,
			Clean: CleanConfig{
				NormalizeForm:   clean.NormalizeForm,
				RemoveZeroWidth: clean.RemoveZeroWidth,
				FilterSymbols:   clean.FilterSymbols,
				Allowed:         clean.Allowed,
			},
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     50,
			TimeoutSec:      30,
			ShutdownTimeout: 10,
		},
		Training: TrainingConfig{
			ExperimentName:           train.ExperimentName,
			MaxNonImprovedEpochs:     train.MaxNonImprovedEpochs,
			MaxEpochs:                train.MaxEpochs,
			TrainingSplit:            data.TrainingSplit,
			ValidationSplit:          data.ValidationSplit,
			SamplesPerEpoch:          data.SamplesPerEpoch,
			ValidationSamplesPerStep: data.ValidationSamplesPerStep,
			Seed:                     data.Seed,
		},
		GPU: GPUConfig{
			Enabled:             false,
			Device:              0,
			MemoryLimit:         "auto",
			ArenaExtendStrategy: gpu.ArenaExtendStrategy,
			CUDNNConvAlgoSearch: gpu.CUDNNConvAlgoSearch,
			CopyInDefaultStream: gpu.DoCopyInDefaultStream,
		},
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}
	validLogFormats := []string{"json", "text"}
	if c.LogFormat != "" && !contains(validLogFormats, c.LogFormat) {
		return fmt.Errorf("invalid log format: %s (must be one of: %s)", c.LogFormat, strings.Join(validLogFormats, ", "))
	}

	if _, err := c.ToNormalizeOptions(); err != nil {
		return fmt.Errorf("invalid normalizer config: %w", err)
	}
	if c.Normalizer.Width <= 0 || c.Normalizer.Height <= 0 {
		return fmt.Errorf("invalid normalizer size: %dx%d (must be positive)", c.Normalizer.Width, c.Normalizer.Height)
	}

	seg, err := c.ToSegmenterConfig()
	if err != nil {
		return fmt.Errorf("invalid segmenter config: %w", err)
	}
	if err := seg.Validate(); err != nil {
		return fmt.Errorf("invalid segmenter config: %w", err)
	}
	if _, err := segment.ParseDirection(c.OCR.Direction); c.OCR.Direction != "" && err != nil {
		return fmt.Errorf("invalid ocr direction: %w", err)
	}

	if _, err := recognizer.ParseDecoderType(c.Decoder.Type); err != nil {
		return fmt.Errorf("invalid decoder type: %w", err)
	}
	if _, err := recognizer.ParseOutputLayout(c.Decoder.Layout); err != nil {
		return fmt.Errorf("invalid decoder layout: %w", err)
	}
	if c.Decoder.BeamWidth <= 0 {
		return fmt.Errorf("invalid beam width: %d (must be positive)", c.Decoder.BeamWidth)
	}
	if c.Decoder.MaxTextLength <= 0 {
		return fmt.Errorf("invalid max text length: %d (must be positive)", c.Decoder.MaxTextLength)
	}

	validEngines := []string{ocr.EngineTesseract, ocr.EngineVision}
	if c.OCR.Engine != "" && !contains(validEngines, strings.ToLower(c.OCR.Engine)) {
		return fmt.Errorf("invalid ocr engine: %s (must be one of: %s)", c.OCR.Engine, strings.Join(validEngines, ", "))
	}

	if c.Pipeline.Workers < 0 {
		return fmt.Errorf("invalid pipeline workers: %d (must be >= 0)", c.Pipeline.Workers)
	}
	validForms := []string{"NFC", "NFKC", "NFD", "NFKD", "NONE", ""}
	if !contains(validForms, strings.ToUpper(c.Pipeline.Clean.NormalizeForm)) {
		return fmt.Errorf("invalid normalize form: %s", c.Pipeline.Clean.NormalizeForm)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	rl := c.Server.RateLimit
	if rl.RequestsPerMinute < 0 || rl.RequestsPerHour < 0 || rl.RequestsPerDay < 0 || rl.MaxDataPerDayMB < 0 {
		return fmt.Errorf("invalid rate limit: %+v (limits must be >= 0)", rl)
	}

	if err := validateSplit(c.Training.TrainingSplit, "training.training_split"); err != nil {
		return err
	}
	if c.Training.ValidationSplit < 0 || c.Training.ValidationSplit > 1 {
		return fmt.Errorf("invalid training.validation_split: %.2f (must be in [0.0, 1.0])", c.Training.ValidationSplit)
	}
	if c.Training.MaxNonImprovedEpochs < 0 || c.Training.MaxEpochs < 0 {
		return fmt.Errorf("invalid epoch limits: %d/%d (must be >= 0)", c.Training.MaxNonImprovedEpochs, c.Training.MaxEpochs)
	}

	if c.GPU.MemoryLimit != "auto" && c.GPU.MemoryLimit != "" {
		if err := validateMemoryLimit(c.GPU.MemoryLimit); err != nil {
			return fmt.Errorf("invalid GPU memory limit: %w", err)
		}
	}
	gpu, err := c.ToGPUConfig()
	if err != nil {
		return err
	}
	return onnx.ValidateGPUConfig(gpu)
}

// ToNormalizeOptions converts to normalize.Options.
func (c *Config) ToNormalizeOptions() (normalize.Options, error) {
	opts := normalize.DefaultOptions()
	method, err := normalize.ParseBinarizeMethod(c.Normalizer.Binarize)
	if err != nil {
		return opts, err
	}
	if c.Normalizer.Threshold < 0 || c.Normalizer.Threshold > 255 {
		return opts, fmt.Errorf("threshold must be in [0, 255], got %d", c.Normalizer.Threshold)
	}
	opts.Width = c.Normalizer.Width
	opts.Height = c.Normalizer.Height
	opts.Binarize = method
	opts.Threshold = uint8(c.Normalizer.Threshold) //nolint:gosec // G115: range checked above
	opts.Augment = c.Training.Augment
	return opts, nil
}

// ToSegmenterConfig converts to segment.Config for the sequence model backend.
func (c *Config) ToSegmenterConfig() (segment.Config, error) {
	cfg := segment.DefaultConfig()
	method, err := segment.ParseThresholdMethod(c.Segmenter.ThresholdMethod)
	if err != nil {
		return cfg, err
	}
	dir, err := segment.ParseDirection(c.Segmenter.Direction)
	if err != nil {
		return cfg, err
	}
	cfg.Method = method
	cfg.BlockSize = c.Segmenter.BlockSize
	cfg.C = c.Segmenter.C
	cfg.SauvolaK = c.Segmenter.SauvolaK
	cfg.SauvolaWindow = c.Segmenter.SauvolaWindow
	cfg.Kernel = segment.Kernel{Width: c.Segmenter.KernelWidth, Height: c.Segmenter.KernelHeight}
	cfg.MinArea = c.Segmenter.MinArea
	cfg.Padding = c.Segmenter.Padding
	cfg.Direction = dir
	cfg.ReverseOutput = c.Segmenter.ReverseOutput
	return cfg, nil
}

// ToOCRSegmenterConfig is ToSegmenterConfig with ocr.direction applied.
func (c *Config) ToOCRSegmenterConfig() (segment.Config, error) {
	cfg, err := c.ToSegmenterConfig()
	if err != nil || c.OCR.Direction == "" {
		return cfg, err
	}
	dir, err := segment.ParseDirection(c.OCR.Direction)
	if err != nil {
		return cfg, err
	}
	cfg.Direction = dir
	return cfg, nil
}

// ToCleanOptions converts to recognizer.CleanOptions.
func (c *Config) ToCleanOptions() recognizer.CleanOptions {
	opts := recognizer.DefaultCleanOptions()
	opts.NormalizeForm = c.Pipeline.Clean.NormalizeForm
	opts.RemoveZeroWidth = c.Pipeline.Clean.RemoveZeroWidth
	opts.FilterSymbols = c.Pipeline.Clean.FilterSymbols
	opts.Allowed = c.Pipeline.Clean.Allowed
	return opts
}

// ToPipelineConfig converts the config to the orchestrator configuration
// used by the sequence model backend.
func (c *Config) ToPipelineConfig(logger *slog.Logger) (pipeline.Config, error) {
	seg, err := c.ToSegmenterConfig()
	if err != nil {
		return pipeline.Config{}, err
	}
	seg.Logger = logger
	return pipeline.Config{
		Segmenter: seg,
		Clean:     c.ToCleanOptions(),
		Workers:   c.Pipeline.Workers,
		Logger:    logger,
	}, nil
}

// ToOCRPipelineConfig converts the config to the orchestrator configuration
// used by the OCR engine backend.
func (c *Config) ToOCRPipelineConfig(logger *slog.Logger) (pipeline.Config, error) {
	cfg, err := c.ToPipelineConfig(logger)
	if err != nil {
		return cfg, err
	}
	seg, err := c.ToOCRSegmenterConfig()
	if err != nil {
		return cfg, err
	}
	seg.Logger = logger
	cfg.Segmenter = seg
	return cfg, nil
}

// ToOCRConfig converts to ocr.Config.
func (c *Config) ToOCRConfig() ocr.Config {
	cfg := ocr.DefaultConfig()
	if c.OCR.Engine != "" {
		cfg.Engine = strings.ToLower(c.OCR.Engine)
	}
	if c.OCR.Language != "" {
		cfg.Language = c.OCR.Language
	}
	cfg.TempDir = c.OCR.TempDir
	cfg.CredentialsFile = c.OCR.CredentialsFile
	return cfg
}

// ToGPUConfig converts to onnx.GPUConfig.
func (c *Config) ToGPUConfig() (onnx.GPUConfig, error) {
	cfg := onnx.DefaultGPUConfig()
	limit, err := parseMemoryLimit(c.GPU.MemoryLimit)
	if err != nil {
		return cfg, fmt.Errorf("invalid GPU memory limit: %w", err)
	}
	cfg.UseGPU = c.GPU.Enabled
	cfg.DeviceID = c.GPU.Device
	cfg.GPUMemLimit = limit
	if c.GPU.ArenaExtendStrategy != "" {
		cfg.ArenaExtendStrategy = c.GPU.ArenaExtendStrategy
	}
	if c.GPU.CUDNNConvAlgoSearch != "" {
		cfg.CUDNNConvAlgoSearch = c.GPU.CUDNNConvAlgoSearch
	}
	cfg.DoCopyInDefaultStream = c.GPU.CopyInDefaultStream
	return cfg, nil
}

// ToNetworkLoader returns a loader that opens snapshot files with ONNX Runtime.
func (c *Config) ToNetworkLoader() (recognizer.NetworkLoader, error) {
	gpu, err := c.ToGPUConfig()
	if err != nil {
		return nil, err
	}
	threads := c.Decoder.NumThreads
	libPath := c.Decoder.LibraryPath
	return func(path string) (recognizer.Network, error) {
		net, err := onnx.NewNetwork(onnx.NetworkConfig{
			ModelPath:   path,
			NumThreads:  threads,
			GPU:         gpu,
			LibraryPath: libPath,
		})
		if err != nil {
			return nil, err
		}
		return net, nil
	}, nil
}

// ToModelConfig reads the vocabulary files from the models directory and
// builds recognizer.ModelConfig. The corpus and word character list are only
// read for word beam search.
func (c *Config) ToModelConfig(logger *slog.Logger) (recognizer.ModelConfig, error) {
	cfg := recognizer.DefaultModelConfig()
	decoder, err := recognizer.ParseDecoderType(c.Decoder.Type)
	if err != nil {
		return cfg, err
	}
	layout, err := recognizer.ParseOutputLayout(c.Decoder.Layout)
	if err != nil {
		return cfg, err
	}
	norm, err := c.ToNormalizeOptions()
	if err != nil {
		return cfg, err
	}
	loader, err := c.ToNetworkLoader()
	if err != nil {
		return cfg, err
	}

	charset, err := recognizer.LoadCharList(models.GetCharListPath(c.ModelsDir))
	if err != nil {
		return cfg, err
	}
	if decoder == recognizer.WordBeamSearch {
		lexicon, err := recognizer.LoadLexicon(charset,
			models.GetCorpusPath(c.ModelsDir), models.GetWordCharListPath(c.ModelsDir))
		if err != nil {
			return cfg, err
		}
		cfg.Lexicon = lexicon
	}

	cfg.Decoder = decoder
	cfg.BeamWidth = c.Decoder.BeamWidth
	cfg.Charset = charset
	cfg.CheckpointDir = models.GetCheckpointDir(c.ModelsDir)
	cfg.MustRestore = c.Decoder.MustRestore
	cfg.Loader = loader
	cfg.Layout = layout
	cfg.Normalize = norm
	cfg.MaxTextLength = c.Decoder.MaxTextLength
	cfg.BatchSize = c.Decoder.BatchSize
	cfg.MaxModelsToKeep = c.Decoder.MaxModelsToKeep
	cfg.Logger = logger
	return cfg, nil
}

// ToDatasetConfig converts to dataset.Config. Support files are written next
// to the character list the model reads.
func (c *Config) ToDatasetConfig(logger *slog.Logger) dataset.Config {
	cfg := dataset.DefaultConfig()
	cfg.LabelsFile = c.Training.LabelsFile
	cfg.DataDir = c.Training.DataDir
	cfg.ProcessedDir = c.Training.ProcessedDir
	cfg.SupportDir = filepath.Dir(models.GetCharListPath(c.ModelsDir))
	cfg.RegenerateSupportFiles = c.Training.RegenerateSupportFiles
	cfg.TrainingSplit = c.Training.TrainingSplit
	cfg.ValidationSplit = c.Training.ValidationSplit
	cfg.SamplesPerEpoch = c.Training.SamplesPerEpoch
	cfg.ValidationSamplesPerStep = c.Training.ValidationSamplesPerStep
	cfg.BatchSize = c.Decoder.BatchSize
	cfg.MaxTextLength = c.Decoder.MaxTextLength
	cfg.Seed = c.Training.Seed
	cfg.Logger = logger
	return cfg
}

// ToTrainingConfig converts to training.Config.
func (c *Config) ToTrainingConfig(logger *slog.Logger) training.Config {
	cfg := training.DefaultConfig()
	if c.Training.ExperimentName != "" {
		cfg.ExperimentName = c.Training.ExperimentName
	}
	cfg.MaxNonImprovedEpochs = c.Training.MaxNonImprovedEpochs
	cfg.MaxEpochs = c.Training.MaxEpochs
	cfg.AuditLogPath = c.Training.AuditLog
	if cfg.AuditLogPath == "" {
		cfg.AuditLogPath = filepath.Join(models.GetModelsDir(c.ModelsDir), models.AuditLogFile)
	}
	cfg.Logger = logger
	return cfg
}

// Helper functions

// contains checks if a slice contains a string.
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// validateSplit validates that a split fraction is in (0.0, 1.0].
func validateSplit(value float64, name string) error {
	if value <= 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %.2f (must be in (0.0, 1.0])", name, value)
	}
	return nil
}

var memoryUnits = []struct {
	suffix string
	scale  float64
}{
	// Longest suffix first so "MB" is not read as "B".
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"B", 1},
}

// validateMemoryLimit validates GPU memory limit format (e.g., "1GB", "512MB").
func validateMemoryLimit(limit string) error {
	_, err := parseMemoryLimit(limit)
	return err
}

// parseMemoryLimit returns the limit in bytes; "" and "auto" mean unlimited.
func parseMemoryLimit(limit string) (uint64, error) {
	if limit == "" || limit == "auto" {
		return 0, nil
	}
	upper := strings.ToUpper(strings.TrimSpace(limit))
	for _, u := range memoryUnits {
		if !strings.HasSuffix(upper, u.suffix) {
			continue
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(upper, u.suffix)), 64)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid number in memory limit: %s", limit)
		}
		return uint64(n * u.scale), nil
	}
	return 0, fmt.Errorf("memory limit must end with one of: B, KB, MB, GB")
}

package dataset

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/m2i-duo/mandoc-ocr-api/internal/recognizer"
	"github.com/m2i-duo/mandoc-ocr-api/internal/utils"
)

// Split names one of the three sample sets.
type Split int

const (
	Training Split = iota
	Validation
	Test
)

func (s Split) String() string {
	switch s {
	case Training:
		return "training"
	case Validation:
		return "validation"
	case Test:
		return "test"
	}
	return fmt.Sprintf("Split(%d)", int(s))
}

// Config configures Load.
type Config struct {
	// LabelsFile lists "<image path>\t<text>" per line.
	LabelsFile string `mapstructure:"labels_file" yaml:"labels_file" json:"labels_file"`
	// DataDir resolves relative image paths; empty means the labels file directory.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir" json:"data_dir"`
	// ProcessedDir receives TRAINING_DATA_<base>.txt and friends; empty disables them.
	ProcessedDir string `mapstructure:"processed_dir" yaml:"processed_dir" json:"processed_dir"`
	// SupportDir receives charList.txt, corpus.txt and wordCharList.txt.
	SupportDir string `mapstructure:"support_dir" yaml:"support_dir" json:"support_dir"`
	// RegenerateSupportFiles re-splits the samples and rewrites every derived file.
	RegenerateSupportFiles bool `mapstructure:"regenerate_support_files" yaml:"regenerate_support_files" json:"regenerate_support_files"`

	TrainingSplit            float64 `mapstructure:"training_split" yaml:"training_split" json:"training_split"`
	ValidationSplit          float64 `mapstructure:"validation_split" yaml:"validation_split" json:"validation_split"`
	SamplesPerEpoch          int     `mapstructure:"samples_per_epoch" yaml:"samples_per_epoch" json:"samples_per_epoch"`
	ValidationSamplesPerStep int     `mapstructure:"validation_samples_per_step" yaml:"validation_samples_per_step" json:"validation_samples_per_step"`
	BatchSize                int     `mapstructure:"batch_size" yaml:"batch_size" json:"batch_size"`
	MaxTextLength            int     `mapstructure:"max_text_length" yaml:"max_text_length" json:"max_text_length"`
	Seed                     int64   `mapstructure:"seed" yaml:"seed" json:"seed"`

	Logger *slog.Logger `mapstructure:"-" yaml:"-" json:"-"`
}

// DefaultConfig returns the split and batching used for the word model.
func DefaultConfig() Config {
	return Config{
		TrainingSplit:            0.9,
		ValidationSplit:          0.5,
		SamplesPerEpoch:          5000,
		ValidationSamplesPerStep: 1000,
		BatchSize:                recognizer.DefaultBatchSize,
		MaxTextLength:            recognizer.DefaultMaxTextLength,
		Seed:                     42,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.TrainingSplit <= 0 || c.TrainingSplit > 1 {
		return fmt.Errorf("training split must be in (0, 1], got %g", c.TrainingSplit)
	}
	if c.ValidationSplit < 0 || c.ValidationSplit > 1 {
		return fmt.Errorf("validation split must be in [0, 1], got %g", c.ValidationSplit)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.SamplesPerEpoch < 0 || c.ValidationSamplesPerStep < 0 {
		return errors.New("samples per epoch and per step must be >= 0")
	}
	if c.MaxTextLength <= 0 {
		return fmt.Errorf("max text length must be positive, got %d", c.MaxTextLength)
	}
	return nil
}

// Generator iterates one selected split in batches. It is not safe for
// concurrent use.
type Generator struct {
	cfg    Config
	logger *slog.Logger
	rng    *rand.Rand
	load   func(path string) (*image.Gray, error)

	train, validation, test []Sample

	split    Split
	selected []Sample
	index    int
}

// New splits samples: a shuffled TrainingSplit share for training, the
// remainder divided by ValidationSplit into validation and test.
func New(cfg Config, samples []Sample) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}
	g := newGenerator(cfg)

	shuffled := append([]Sample(nil), samples...)
	g.rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	nTrain := int(cfg.TrainingSplit * float64(len(shuffled)))
	rest := shuffled[nTrain:]
	nVal := int(cfg.ValidationSplit * float64(len(rest)))
	g.train = shuffled[:nTrain]
	g.validation = rest[:nVal]
	g.test = rest[nVal:]
	g.SelectTrainingSet()
	return g, nil
}

// FromSplits uses existing splits as is.
func FromSplits(cfg Config, train, validation, test []Sample) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(train)+len(validation)+len(test) == 0 {
		return nil, ErrNoSamples
	}
	g := newGenerator(cfg)
	g.train, g.validation, g.test = train, validation, test
	g.SelectTrainingSet()
	return g, nil
}

func newGenerator(cfg Config) *Generator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	g := &Generator{
		cfg:    cfg,
		logger: logger,
		rng:    rand.New(rand.NewSource(cfg.Seed)), //nolint:gosec // G404: shuffling, not security
	}
	g.load = g.loadImage
	return g
}

// Load reads the labels file and builds a generator. Unless
// RegenerateSupportFiles is set, existing split files in ProcessedDir are
// reused; otherwise the samples are split again and split files plus support
// files are written.
func Load(cfg Config) (*Generator, error) {
	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Dir(cfg.LabelsFile)
	}
	base := baseName(cfg.LabelsFile)

	if !cfg.RegenerateSupportFiles && cfg.ProcessedDir != "" {
		paths := splitPaths(cfg.ProcessedDir, base)
		if allExist(paths[:]) {
			var sets [3][]Sample
			for i, p := range paths {
				s, err := ReadLabels(p)
				if err != nil {
					return nil, err
				}
				sets[i] = s
			}
			g, err := FromSplits(cfg, sets[0], sets[1], sets[2])
			if err != nil {
				return nil, err
			}
			g.logger.Info("loaded dataset splits", "dir", cfg.ProcessedDir,
				"training", len(sets[0]), "validation", len(sets[1]), "test", len(sets[2]))
			return g, nil
		}
	}

	samples, err := ReadLabels(cfg.LabelsFile)
	if err != nil {
		return nil, err
	}
	g, err := New(cfg, samples)
	if err != nil {
		return nil, err
	}
	g.logger.Info("split dataset", "labels", cfg.LabelsFile,
		"training", len(g.train), "validation", len(g.validation), "test", len(g.test))

	if cfg.ProcessedDir != "" {
		if err := g.WriteSplitFiles(cfg.ProcessedDir, base); err != nil {
			return nil, err
		}
	}
	if cfg.RegenerateSupportFiles && cfg.SupportDir != "" {
		if _, err := WriteSupportFiles(cfg.SupportDir, samples); err != nil {
			return nil, err
		}
		g.logger.Info("wrote support files", "dir", cfg.SupportDir)
	}
	return g, nil
}

func baseName(labelsFile string) string {
	base := filepath.Base(labelsFile)
	return base[:len(base)-len(filepath.Ext(base))]
}

func splitPaths(dir, base string) [3]string {
	return [3]string{
		filepath.Join(dir, "TRAINING_DATA_"+base+".txt"),
		filepath.Join(dir, "VALIDATION_DATA_"+base+".txt"),
		filepath.Join(dir, "TESTING_DATA_"+base+".txt"),
	}
}

func allExist(paths []string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// WriteSplitFiles writes the three splits as labels files.
func (g *Generator) WriteSplitFiles(dir, base string) error {
	paths := splitPaths(dir, base)
	for i, set := range [][]Sample{g.train, g.validation, g.test} {
		if err := WriteLabels(paths[i], set); err != nil {
			return err
		}
	}
	return nil
}

// Samples returns the samples of a split.
func (g *Generator) Samples(s Split) []Sample {
	switch s {
	case Validation:
		return g.validation
	case Test:
		return g.test
	default:
		return g.train
	}
}

// SelectTrainingSet selects a fresh random subset of SamplesPerEpoch training
// samples. Only full batches are served.
func (g *Generator) SelectTrainingSet() {
	shuffled := append([]Sample(nil), g.train...)
	g.rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	if n := g.cfg.SamplesPerEpoch; n > 0 && n < len(shuffled) {
		shuffled = shuffled[:n]
	}
	g.selectSamples(Training, shuffled)
}

// SelectValidationSet selects the first ValidationSamplesPerStep validation samples.
func (g *Generator) SelectValidationSet() {
	set := g.validation
	if n := g.cfg.ValidationSamplesPerStep; n > 0 && n < len(set) {
		set = set[:n]
	}
	g.selectSamples(Validation, set)
}

// SelectTestSet selects every test sample.
func (g *Generator) SelectTestSet() {
	g.selectSamples(Test, g.test)
}

func (g *Generator) selectSamples(s Split, set []Sample) {
	g.split = s
	g.selected = set
	g.index = 0
}

// Selected returns the split currently iterated.
func (g *Generator) Selected() Split { return g.split }

// HasNext reports whether GetNext will return a batch. Training requires a
// full batch; validation and test allow a final partial one.
func (g *Generator) HasNext() bool {
	if g.split == Training {
		return g.index+g.cfg.BatchSize <= len(g.selected)
	}
	return g.index < len(g.selected)
}

// GetIteratorInfo returns the 1-based number of the next batch and the
// number of batches in the selected set.
func (g *Generator) GetIteratorInfo() (current, total int) {
	n := len(g.selected)
	if g.split == Training {
		total = n / g.cfg.BatchSize
	} else {
		total = (n + g.cfg.BatchSize - 1) / g.cfg.BatchSize
	}
	return g.index/g.cfg.BatchSize + 1, total
}

// GetNext loads the next batch. Ground-truth texts are truncated so their
// CTC path fits into MaxTextLength steps.
func (g *Generator) GetNext() (recognizer.Batch, error) {
	if !g.HasNext() {
		return recognizer.Batch{}, ErrNoMoreBatches
	}
	end := min(g.index+g.cfg.BatchSize, len(g.selected))
	items := g.selected[g.index:end]
	g.index = end

	batch := recognizer.Batch{
		Images:      make([]*image.Gray, len(items)),
		GroundTruth: make([]string, len(items)),
	}
	for i, s := range items {
		img, err := g.load(s.Path)
		if err != nil {
			return recognizer.Batch{}, fmt.Errorf("sample %q: %w", s.Path, err)
		}
		batch.Images[i] = img
		batch.GroundTruth[i] = recognizer.TruncateLabel(s.Text, g.cfg.MaxTextLength)
	}
	return batch, nil
}

func (g *Generator) loadImage(path string) (*image.Gray, error) {
	if !filepath.IsAbs(path) && g.cfg.DataDir != "" {
		path = filepath.Join(g.cfg.DataDir, filepath.FromSlash(path))
	}
	return utils.LoadGray(path)
}

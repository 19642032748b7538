package recognizer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/m2i-duo/mandoc-ocr-api/internal/models"
	"github.com/m2i-duo/mandoc-ocr-api/internal/normalize"
	"github.com/m2i-duo/mandoc-ocr-api/internal/onnx"
)

const (
	DefaultMaxTextLength   = 32
	DefaultBatchSize       = 100
	DefaultMaxModelsToKeep = 3
)

// Network maps a [B, W, H] batch to per-step class scores.
type Network interface {
	Run(ctx context.Context, input onnx.Tensor) (onnx.Tensor, error)
	Close() error
}

// Trainer is a Network that can take gradient steps and export its weights.
type Trainer interface {
	Network
	// TrainStep runs one optimization step and returns the batch loss.
	TrainStep(ctx context.Context, input onnx.Tensor, labels [][]int) (float64, error)
	Export(path string) error
}

// NetworkLoader opens a checkpoint file.
type NetworkLoader func(path string) (Network, error)

// Batch is a group of word images with optional ground truth.
type Batch struct {
	Images      []*image.Gray
	GroundTruth []string
}

// ModelConfig configures NewModel.
type ModelConfig struct {
	Decoder   DecoderType
	BeamWidth int
	Charset   *Charset
	Lexicon   *Lexicon

	CheckpointDir string
	MustRestore   bool
	Loader        NetworkLoader
	// Init creates untrained weights when no checkpoint exists and
	// MustRestore is false. Without it the model stays unloaded.
	Init func() (Network, error)

	Layout          OutputLayout
	Normalize       normalize.Options
	MaxTextLength   int
	BatchSize       int
	MaxModelsToKeep int

	Logger *slog.Logger
}

// DefaultModelConfig returns the configuration used for the word model.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		Decoder:         BestPath,
		BeamWidth:       DefaultBeamWidth,
		Layout:          LayoutTBC,
		Normalize:       normalize.DefaultOptions(),
		MaxTextLength:   DefaultMaxTextLength,
		BatchSize:       DefaultBatchSize,
		MaxModelsToKeep: DefaultMaxModelsToKeep,
	}
}

// ModelInfo describes the loaded model.
type ModelInfo struct {
	Checkpoint    string `json:"checkpoint,omitempty"`
	Epoch         int    `json:"epoch"`
	Loaded        bool   `json:"loaded"`
	Decoder       string `json:"decoder"`
	CharsetSize   int    `json:"charset_size"`
	LexiconWords  int    `json:"lexicon_words,omitempty"`
	MaxTextLength int    `json:"max_text_length"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
}

// Model couples a network with a CTC decoder.
type Model struct {
	cfg      ModelConfig
	decoder  Decoder
	logger   *slog.Logger
	mu       sync.RWMutex
	net      Network
	snapshot models.Snapshot
}

// NewModel builds the decoder and restores the newest checkpoint.
func NewModel(cfg ModelConfig) (*Model, error) {
	if cfg.Charset == nil {
		return nil, errors.New("model needs a charset")
	}
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = DefaultMaxTextLength
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxModelsToKeep <= 0 {
		cfg.MaxModelsToKeep = DefaultMaxModelsToKeep
	}
	if cfg.Normalize.Width <= 0 || cfg.Normalize.Height <= 0 {
		cfg.Normalize = normalize.DefaultOptions()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dec, err := NewDecoder(DecoderOptions{
		Type:      cfg.Decoder,
		Charset:   cfg.Charset,
		BeamWidth: cfg.BeamWidth,
		Lexicon:   cfg.Lexicon,
	})
	if err != nil {
		return nil, err
	}

	m := &Model{cfg: cfg, decoder: dec, logger: logger}
	if err := m.Restore(); err != nil {
		return nil, err
	}
	return m, nil
}

// Restore loads the newest snapshot from the checkpoint directory,
// replacing the current network.
func (m *Model) Restore() error {
	snap, ok, err := models.LatestSnapshot(m.cfg.CheckpointDir)
	if err != nil {
		return err
	}

	var net Network
	switch {
	case ok:
		if m.cfg.Loader == nil {
			return errors.New("no network loader configured")
		}
		net, err = m.cfg.Loader(snap.Path)
		if err != nil {
			return fmt.Errorf("failed to load checkpoint %s: %w", snap.Path, err)
		}
		m.logger.Info("restored model", "checkpoint", snap.Path, "epoch", snap.Epoch)
	case m.cfg.MustRestore:
		return &ModelNotFoundError{Dir: m.cfg.CheckpointDir}
	case m.cfg.Init != nil:
		net, err = m.cfg.Init()
		if err != nil {
			return fmt.Errorf("failed to initialize network: %w", err)
		}
		m.logger.Info("initialized new model", "dir", m.cfg.CheckpointDir)
	default:
		m.logger.Warn("no checkpoint found, model not loaded", "dir", m.cfg.CheckpointDir)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.net != nil {
		if err := m.net.Close(); err != nil {
			m.logger.Warn("failed to close previous network", "error", err)
		}
	}
	m.net = net
	m.snapshot = snap
	return nil
}

// Charset returns the model vocabulary.
func (m *Model) Charset() *Charset { return m.cfg.Charset }

// DecoderType returns the configured decoding policy.
func (m *Model) DecoderType() DecoderType { return m.decoder.Type() }

// Loaded reports whether a network is available.
func (m *Model) Loaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.net != nil
}

// Info returns a description of the model.
func (m *Model) Info() ModelInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info := ModelInfo{
		Checkpoint:    m.snapshot.Path,
		Epoch:         m.snapshot.Epoch,
		Loaded:        m.net != nil,
		Decoder:       m.decoder.Type().String(),
		CharsetSize:   m.cfg.Charset.Size(),
		MaxTextLength: m.cfg.MaxTextLength,
		Width:         m.cfg.Normalize.Width,
		Height:        m.cfg.Normalize.Height,
	}
	if m.cfg.Lexicon != nil {
		info.LexiconWords = m.cfg.Lexicon.Words()
	}
	return info
}

// input normalizes images into one [B, W, H] tensor.
func (m *Model) input(imgs []*image.Gray, augment bool) (onnx.Tensor, error) {
	opts := m.cfg.Normalize
	opts.Augment = augment
	tensors, err := normalize.Batch(imgs, opts)
	if err != nil {
		return onnx.Tensor{}, err
	}
	items := make([][]float32, len(tensors))
	for i, t := range tensors {
		items[i] = t.Data
	}
	return onnx.NewBatchTensor(items, opts.Width, opts.Height)
}

// InferBatch recognizes every image of batch. With calcProbability the
// returned probability is P(text | network output) over all alignments,
// otherwise the decoder's own score.
func (m *Model) InferBatch(ctx context.Context, batch Batch, calcProbability bool) ([]string, []float64, error) {
	n := len(batch.Images)
	if n == 0 {
		return nil, nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.net == nil {
		return nil, nil, ErrModelNotLoaded
	}

	texts := make([]string, 0, n)
	probs := make([]float64, 0, n)
	for start := 0; start < n; start += m.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		end := min(start+m.cfg.BatchSize, n)
		t, p, err := m.inferChunk(ctx, batch.Images[start:end], calcProbability)
		if err != nil {
			return nil, nil, err
		}
		texts = append(texts, t...)
		probs = append(probs, p...)
	}
	return texts, probs, nil
}

func (m *Model) inferChunk(ctx context.Context, imgs []*image.Gray, calcProbability bool) ([]string, []float64, error) {
	in, err := m.input(imgs, false)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to prepare input: %w", err)
	}
	out, err := m.net.Run(ctx, in)
	if err != nil {
		return nil, nil, fmt.Errorf("inference failed: %w", err)
	}
	mats, err := SplitOutput(out, m.cfg.Layout)
	if err != nil {
		return nil, nil, fmt.Errorf("unexpected network output: %w", err)
	}
	if len(mats) != len(imgs) {
		return nil, nil, fmt.Errorf("network returned %d items for %d images", len(mats), len(imgs))
	}

	blank := m.cfg.Charset.Blank()
	texts := make([]string, len(mats))
	probs := make([]float64, len(mats))
	for i, mat := range mats {
		if c := mat.Classes(); c != m.cfg.Charset.Classes() {
			return nil, nil, fmt.Errorf("network emits %d classes, charset needs %d", c, m.cfg.Charset.Classes())
		}
		mat = ToProbabilities(mat)
		dec := m.decoder.Decode(mat)
		texts[i] = dec.Text
		if calcProbability {
			probs[i] = LabelProbability(mat, dec.Labels, blank)
		} else {
			probs[i] = dec.Score
		}
	}
	return texts, probs, nil
}

// TrainBatch runs one training step on augmented inputs and returns the loss.
func (m *Model) TrainBatch(ctx context.Context, batch Batch) (float64, error) {
	if len(batch.Images) == 0 {
		return 0, errors.New("empty batch")
	}
	if len(batch.GroundTruth) != len(batch.Images) {
		return 0, fmt.Errorf("batch has %d images but %d texts", len(batch.Images), len(batch.GroundTruth))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.net == nil {
		return 0, ErrModelNotLoaded
	}
	tr, ok := m.net.(Trainer)
	if !ok {
		return 0, ErrTrainingUnsupported
	}

	in, err := m.input(batch.Images, true)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare input: %w", err)
	}
	labels := make([][]int, len(batch.GroundTruth))
	for i, gt := range batch.GroundTruth {
		labels[i] = m.cfg.Charset.Encode(TruncateLabel(gt, m.cfg.MaxTextLength))
	}
	return tr.TrainStep(ctx, in, labels)
}

// Save exports the weights as the snapshot for epoch and prunes old
// snapshots down to MaxModelsToKeep.
func (m *Model) Save(epoch int) (string, error) {
	if m.cfg.CheckpointDir == "" {
		return "", errors.New("no checkpoint directory configured")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.net == nil {
		return "", ErrModelNotLoaded
	}
	tr, ok := m.net.(Trainer)
	if !ok {
		return "", ErrTrainingUnsupported
	}

	path := models.SnapshotPath(m.cfg.CheckpointDir, epoch)
	if err := tr.Export(path); err != nil {
		return "", fmt.Errorf("failed to export snapshot: %w", err)
	}
	m.snapshot = models.Snapshot{Path: path, Epoch: epoch}

	removed, err := models.PruneSnapshots(m.cfg.CheckpointDir, m.cfg.MaxModelsToKeep)
	if err != nil {
		return path, err
	}
	m.logger.Info("saved model", "checkpoint", path, "pruned", len(removed))
	return path, nil
}

// RecognizeWord recognizes a single word image.
func (m *Model) RecognizeWord(ctx context.Context, img *image.Gray) (string, float64, error) {
	texts, probs, err := m.InferBatch(ctx, Batch{Images: []*image.Gray{img}}, true)
	if err != nil {
		return "", 0, err
	}
	return texts[0], probs[0], nil
}

// Close releases the network.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.net == nil {
		return nil
	}
	err := m.net.Close()
	m.net = nil
	return err
}

// TruncateLabel cuts text so that a CTC path for it fits into maxTextLength
// steps. A character equal to its predecessor costs two steps because a
// blank has to separate the pair.
func TruncateLabel(text string, maxTextLength int) string {
	runes := []rune(text)
	cost := 0
	for i, r := range runes {
		if i > 0 && r == runes[i-1] {
			cost += 2
		} else {
			cost++
		}
		if cost > maxTextLength {
			return string(runes[:i])
		}
	}
	return text
}

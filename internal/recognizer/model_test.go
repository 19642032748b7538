package recognizer

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/m2i-duo/mandoc-ocr-api/internal/models"
	"github.com/m2i-duo/mandoc-ocr-api/internal/onnx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNetwork spells token (b mod charset size) for batch item b, followed
// by blanks, in [T, B, C] layout.
type fakeNetwork struct {
	charset *Charset
	steps   int
	classes int
	inputs  []onnx.Tensor
	closed  bool
	err     error
}

func (f *fakeNetwork) Run(_ context.Context, in onnx.Tensor) (onnx.Tensor, error) {
	if f.err != nil {
		return onnx.Tensor{}, f.err
	}
	f.inputs = append(f.inputs, in)
	batch := int(in.Shape[0])
	classes := f.classes
	if classes == 0 {
		classes = f.charset.Classes()
	}
	data := make([]float32, f.steps*batch*classes)
	for ts := range f.steps {
		for b := range batch {
			off := (ts*batch + b) * classes
			hot := f.charset.Blank()
			if ts == 0 {
				hot = b % f.charset.Size()
			}
			for c := range classes {
				data[off+c] = 0.1 / float32(classes-1)
			}
			data[off+hot%classes] = 0.9
		}
	}
	return onnx.Tensor{Data: data, Shape: []int64{int64(f.steps), int64(batch), int64(classes)}}, nil
}

func (f *fakeNetwork) Close() error {
	f.closed = true
	return nil
}

type fakeTrainer struct {
	fakeNetwork
	labels [][]int
}

func (f *fakeTrainer) TrainStep(_ context.Context, in onnx.Tensor, labels [][]int) (float64, error) {
	f.inputs = append(f.inputs, in)
	f.labels = labels
	return 1.5, nil
}

func (f *fakeTrainer) Export(path string) error {
	return os.WriteFile(path, []byte("weights"), 0o600)
}

func whiteWord(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	for x := 2; x < w-2; x++ {
		img.Pix[(h/2)*img.Stride+x] = 0
	}
	return img
}

func newTestModel(t *testing.T, mutate func(*ModelConfig)) (*Model, *fakeNetwork) {
	t.Helper()
	cs := mustCharset(t, "xyz")
	net := &fakeNetwork{charset: cs, steps: 4}
	cfg := DefaultModelConfig()
	cfg.Charset = cs
	cfg.CheckpointDir = t.TempDir()
	cfg.Init = func() (Network, error) { return net, nil }
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := NewModel(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, net
}

func TestNewModel_MustRestoreWithoutCheckpoint(t *testing.T) {
	cfg := DefaultModelConfig()
	cfg.Charset = mustCharset(t, "xyz")
	cfg.CheckpointDir = t.TempDir()
	cfg.MustRestore = true

	_, err := NewModel(cfg)
	var notFound *ModelNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, cfg.CheckpointDir, notFound.Dir)
}

func TestNewModel_RestoresLatestSnapshot(t *testing.T) {
	dir := t.TempDir()
	for _, e := range []int{1, 12, 3} {
		require.NoError(t, os.WriteFile(models.SnapshotPath(dir, e), []byte("x"), 0o600))
	}
	cs := mustCharset(t, "xyz")

	var loaded string
	cfg := DefaultModelConfig()
	cfg.Charset = cs
	cfg.CheckpointDir = dir
	cfg.MustRestore = true
	cfg.Loader = func(path string) (Network, error) {
		loaded = path
		return &fakeNetwork{charset: cs, steps: 2}, nil
	}

	m, err := NewModel(cfg)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "snapshot-12.onnx"), loaded)
	info := m.Info()
	assert.Equal(t, 12, info.Epoch)
	assert.True(t, info.Loaded)
	assert.Equal(t, "bestpath", info.Decoder)
	assert.Equal(t, 3, info.CharsetSize)
}

func TestNewModel_LoaderErrorIsWrapped(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(models.SnapshotPath(dir, 1), []byte("x"), 0o600))
	boom := errors.New("corrupt")

	cfg := DefaultModelConfig()
	cfg.Charset = mustCharset(t, "xyz")
	cfg.CheckpointDir = dir
	cfg.Loader = func(string) (Network, error) { return nil, boom }
	_, err := NewModel(cfg)
	assert.ErrorIs(t, err, boom)
}

func TestModel_InferBatchOrderAndShape(t *testing.T) {
	m, net := newTestModel(t, func(c *ModelConfig) { c.BatchSize = 2 })

	imgs := []*image.Gray{whiteWord(40, 20), whiteWord(60, 30), whiteWord(10, 50)}
	texts, probs, err := m.InferBatch(context.Background(), Batch{Images: imgs}, false)
	require.NoError(t, err)

	// Chunks of two: items 0,1 then item 0 of the second chunk.
	assert.Equal(t, []string{"x", "y", "x"}, texts)
	require.Len(t, probs, 3)
	require.Len(t, net.inputs, 2)
	assert.Equal(t, []int64{2, 128, 32}, net.inputs[0].Shape)
	assert.Equal(t, []int64{1, 128, 32}, net.inputs[1].Shape)
	for _, p := range probs {
		assert.Greater(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
	}
}

func TestModel_CalcProbabilityUsesAllAlignments(t *testing.T) {
	m, _ := newTestModel(t, nil)
	img := []*image.Gray{whiteWord(40, 20)}

	_, score, err := m.InferBatch(context.Background(), Batch{Images: img}, false)
	require.NoError(t, err)
	_, full, err := m.InferBatch(context.Background(), Batch{Images: img}, true)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, full[0], score[0])
}

func TestModel_RecognizeWord(t *testing.T) {
	m, _ := newTestModel(t, nil)
	text, p, err := m.RecognizeWord(context.Background(), whiteWord(30, 30))
	require.NoError(t, err)
	assert.Equal(t, "x", text)
	assert.Greater(t, p, 0.5)
}

func TestModel_Errors(t *testing.T) {
	cfg := DefaultModelConfig()
	cfg.Charset = mustCharset(t, "xyz")
	cfg.CheckpointDir = t.TempDir()
	unloaded, err := NewModel(cfg)
	require.NoError(t, err)
	assert.False(t, unloaded.Loaded())

	ctx := context.Background()
	batch := Batch{Images: []*image.Gray{whiteWord(10, 10)}, GroundTruth: []string{"x"}}
	_, _, err = unloaded.InferBatch(ctx, batch, false)
	assert.ErrorIs(t, err, ErrModelNotLoaded)
	_, err = unloaded.TrainBatch(ctx, batch)
	assert.ErrorIs(t, err, ErrModelNotLoaded)

	m, net := newTestModel(t, nil)
	_, err = m.TrainBatch(ctx, batch)
	assert.ErrorIs(t, err, ErrTrainingUnsupported)
	_, err = m.Save(1)
	assert.ErrorIs(t, err, ErrTrainingUnsupported)

	net.classes = 7
	_, _, err = m.InferBatch(ctx, batch, false)
	assert.ErrorContains(t, err, "classes")

	net.classes = 0
	net.err = errors.New("device lost")
	_, _, err = m.InferBatch(ctx, batch, false)
	assert.ErrorContains(t, err, "device lost")

	texts, probs, err := m.InferBatch(ctx, Batch{}, false)
	require.NoError(t, err)
	assert.Nil(t, texts)
	assert.Nil(t, probs)
}

func TestModel_TrainAndSave(t *testing.T) {
	cs := mustCharset(t, "xyz")
	tr := &fakeTrainer{fakeNetwork: fakeNetwork{charset: cs, steps: 4}}
	dir := t.TempDir()

	cfg := DefaultModelConfig()
	cfg.Charset = cs
	cfg.CheckpointDir = dir
	cfg.MaxTextLength = 3
	cfg.Init = func() (Network, error) { return tr, nil }
	m, err := NewModel(cfg)
	require.NoError(t, err)

	loss, err := m.TrainBatch(context.Background(), Batch{
		Images:      []*image.Gray{whiteWord(20, 10), whiteWord(20, 10)},
		GroundTruth: []string{"xyz", "xxy?"},
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.5, loss, 1e-9)
	// "xxy" costs 4 steps, so it is cut to "xx".
	assert.Equal(t, [][]int{{0, 1, 2}, {0, 0}}, tr.labels)

	_, err = m.TrainBatch(context.Background(), Batch{Images: []*image.Gray{whiteWord(5, 5)}})
	assert.Error(t, err)

	for epoch := 1; epoch <= 5; epoch++ {
		path, err := m.Save(epoch)
		require.NoError(t, err)
		assert.FileExists(t, path)
	}
	snaps, err := models.ListSnapshots(dir)
	require.NoError(t, err)
	require.Len(t, snaps, DefaultMaxModelsToKeep)
	assert.Equal(t, 3, snaps[0].Epoch)
	assert.Equal(t, 5, m.Info().Epoch)
}

func TestModel_CloseClosesNetwork(t *testing.T) {
	m, net := newTestModel(t, nil)
	require.NoError(t, m.Close())
	assert.True(t, net.closed)
	assert.False(t, m.Loaded())
	require.NoError(t, m.Close())
}

func TestTruncateLabel(t *testing.T) {
	tests := []struct {
		text string
		max  int
		want string
	}{
		{"abc", 3, "abc"},
		{"abcd", 3, "abc"},
		{"aab", 3, "aa"},
		{"aab", 2, "a"},
		{"مرحبا", 32, "مرحبا"},
		{"", 5, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TruncateLabel(tt.text, tt.max), "%q/%d", tt.text, tt.max)
	}
}

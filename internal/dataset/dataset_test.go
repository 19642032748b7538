package dataset

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m2i-duo/mandoc-ocr-api/internal/models"
	"github.com/m2i-duo/mandoc-ocr-api/internal/testutil"
)

func TestParseLabels(t *testing.T) {
	in := "\uFEFF# comment\nwords/a.png\tكتاب جديد\r\n\n  words/b.png \tb\n"
	samples, err := ParseLabels(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []Sample{
		{Path: "words/a.png", Text: "كتاب جديد"},
		{Path: "words/b.png", Text: "b"},
	}, samples)

	_, err = ParseLabels(strings.NewReader("missing-tab\n"))
	require.Error(t, err)
}

func TestWriteLabels_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "labels.txt")
	want := []Sample{{Path: "a.png", Text: "x y"}, {Path: "b.png", Text: ""}}
	require.NoError(t, WriteLabels(path, want))
	got, err := ReadLabels(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSupportFiles(t *testing.T) {
	samples := []Sample{{Text: "ba ab"}, {Text: "c-1"}}
	assert.Equal(t, " -1abc", CharList(samples))
	assert.Equal(t, "abc", WordCharList(CharList(samples)))
	assert.Equal(t, "ba ab c-1", Corpus(samples))

	dir := t.TempDir()
	files, err := WriteSupportFiles(dir, samples)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, models.CharListFile), files.CharList)
	data, err := os.ReadFile(files.WordCharList) //nolint:gosec // test path
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))

	_, err = WriteSupportFiles(dir, nil)
	assert.ErrorIs(t, err, ErrNoSamples)
}

func samples(n int) []Sample {
	out := make([]Sample, n)
	for i := range out {
		out[i] = Sample{Path: fmt.Sprintf("w%d.png", i), Text: fmt.Sprintf("t%d", i)}
	}
	return out
}

func TestNew_Split(t *testing.T) {
	cfg := DefaultConfig()
	g, err := New(cfg, samples(100))
	require.NoError(t, err)
	assert.Len(t, g.Samples(Training), 90)
	assert.Len(t, g.Samples(Validation), 5)
	assert.Len(t, g.Samples(Test), 5)

	seen := make(map[string]bool)
	for _, s := range []Split{Training, Validation, Test} {
		for _, smp := range g.Samples(s) {
			assert.False(t, seen[smp.Path], "duplicate %s", smp.Path)
			seen[smp.Path] = true
		}
	}
	assert.Len(t, seen, 100)

	again, err := New(cfg, samples(100))
	require.NoError(t, err)
	assert.Equal(t, g.Samples(Test), again.Samples(Test), "same seed, same split")
}

func TestNew_Errors(t *testing.T) {
	_, err := New(DefaultConfig(), nil)
	require.ErrorIs(t, err, ErrNoSamples)

	cfg := DefaultConfig()
	cfg.BatchSize = 0
	_, err = New(cfg, samples(3))
	require.Error(t, err)
}

func newFake(t *testing.T, cfg Config, train, validation, test []Sample) *Generator {
	t.Helper()
	g, err := FromSplits(cfg, train, validation, test)
	require.NoError(t, err)
	g.load = func(string) (*image.Gray, error) { return testutil.Page(4, 4), nil }
	return g
}

func TestIteration_TrainingNeedsFullBatches(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchSize = 4
	cfg.SamplesPerEpoch = 10
	g := newFake(t, cfg, samples(20), samples(7), samples(3))

	g.SelectTrainingSet()
	cur, total := g.GetIteratorInfo()
	assert.Equal(t, 1, cur)
	assert.Equal(t, 2, total)

	var sizes []int
	for g.HasNext() {
		b, err := g.GetNext()
		require.NoError(t, err)
		sizes = append(sizes, len(b.Images))
		assert.Len(t, b.GroundTruth, len(b.Images))
	}
	assert.Equal(t, []int{4, 4}, sizes)
	_, err := g.GetNext()
	assert.ErrorIs(t, err, ErrNoMoreBatches)
}

func TestIteration_ValidationAllowsPartialBatch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchSize = 4
	cfg.ValidationSamplesPerStep = 6
	g := newFake(t, cfg, samples(8), samples(7), samples(3))

	g.SelectValidationSet()
	assert.Equal(t, Validation, g.Selected())
	_, total := g.GetIteratorInfo()
	assert.Equal(t, 2, total)

	var texts []string
	for g.HasNext() {
		b, err := g.GetNext()
		require.NoError(t, err)
		texts = append(texts, b.GroundTruth...)
	}
	assert.Equal(t, []string{"t0", "t1", "t2", "t3", "t4", "t5"}, texts)

	g.SelectTestSet()
	b, err := g.GetNext()
	require.NoError(t, err)
	assert.Len(t, b.Images, 3)
	assert.False(t, g.HasNext())
	_, total = g.GetIteratorInfo()
	assert.Equal(t, 1, total)
}

func TestGetNext_TruncatesGroundTruth(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchSize = 1
	cfg.MaxTextLength = 3
	g := newFake(t, cfg, nil, nil, []Sample{{Path: "x", Text: "aab"}})
	g.SelectTestSet()
	b, err := g.GetNext()
	require.NoError(t, err)
	assert.Equal(t, "aa", b.GroundTruth[0])
}

func TestLoad_FromLabelsFile(t *testing.T) {
	dir := t.TempDir()
	texts := make([]string, 20)
	for i := range texts {
		texts[i] = fmt.Sprintf("w%d", i)
	}
	labels := testutil.WriteDataset(t, filepath.Join(dir, "data"), texts)

	cfg := DefaultConfig()
	cfg.LabelsFile = labels
	cfg.ProcessedDir = filepath.Join(dir, "processed")
	cfg.SupportDir = filepath.Join(dir, "out")
	cfg.RegenerateSupportFiles = true
	cfg.BatchSize = 2

	g, err := Load(cfg)
	require.NoError(t, err)
	assert.Len(t, g.Samples(Training), 18)
	assert.True(t, testutil.FileExists(filepath.Join(cfg.ProcessedDir, "TRAINING_DATA_labels.txt")))
	assert.True(t, testutil.FileExists(filepath.Join(cfg.ProcessedDir, "TESTING_DATA_labels.txt")))
	assert.True(t, testutil.FileExists(filepath.Join(cfg.SupportDir, models.CorpusFile)))

	g.SelectTestSet()
	b, err := g.GetNext()
	require.NoError(t, err)
	require.Len(t, b.Images, 1)
	assert.Positive(t, b.Images[0].Bounds().Dx())

	// Existing split files are reused when not regenerating.
	cfg.RegenerateSupportFiles = false
	require.NoError(t, WriteLabels(filepath.Join(cfg.ProcessedDir, "TESTING_DATA_labels.txt"),
		[]Sample{{Path: "words/w0000.png", Text: "w0"}, {Path: "words/w0001.png", Text: "w1"}}))
	g, err = Load(cfg)
	require.NoError(t, err)
	assert.Len(t, g.Samples(Test), 2)
}

func TestSplitString(t *testing.T) {
	assert.Equal(t, "training", Training.String())
	assert.Equal(t, "test", Test.String())
	assert.Equal(t, "Split(7)", Split(7).String())
}

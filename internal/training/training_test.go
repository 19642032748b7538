package training

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m2i-duo/mandoc-ocr-api/internal/dataset"
	"github.com/m2i-duo/mandoc-ocr-api/internal/pipeline"
	"github.com/m2i-duo/mandoc-ocr-api/internal/recognizer"
)

// fakeData serves fixed batches per split.
type fakeData struct {
	sets     map[dataset.Split][]recognizer.Batch
	selected []recognizer.Batch
	index    int
}

func (d *fakeData) sel(s dataset.Split)  { d.selected, d.index = d.sets[s], 0 }
func (d *fakeData) SelectTrainingSet()   { d.sel(dataset.Training) }
func (d *fakeData) SelectValidationSet() { d.sel(dataset.Validation) }
func (d *fakeData) SelectTestSet()       { d.sel(dataset.Test) }
func (d *fakeData) HasNext() bool        { return d.index < len(d.selected) }
func (d *fakeData) GetIteratorInfo() (int, int) {
	return d.index + 1, len(d.selected)
}

func (d *fakeData) GetNext() (recognizer.Batch, error) {
	if !d.HasNext() {
		return recognizer.Batch{}, dataset.ErrNoMoreBatches
	}
	b := d.selected[d.index]
	d.index++
	return b, nil
}

func batch(texts ...string) recognizer.Batch {
	b := recognizer.Batch{GroundTruth: texts}
	for range texts {
		b.Images = append(b.Images, image.NewGray(image.Rect(0, 0, 4, 4)))
	}
	return b
}

func newData() *fakeData {
	return &fakeData{sets: map[dataset.Split][]recognizer.Batch{
		dataset.Training:   {batch("abcd", "abcd"), batch("abcd", "abcd")},
		dataset.Validation: {batch("abcd")},
		dataset.Test:       {batch("abcd", "xy")},
	}}
}

// fakeModel answers the n-th evaluation with answers[n] for every item.
type fakeModel struct {
	answers  []string
	inferred int
	trained  int
	saved    []int
	trainErr error
}

func (m *fakeModel) TrainBatch(context.Context, recognizer.Batch) (float64, error) {
	m.trained++
	return 2.5, m.trainErr
}

func (m *fakeModel) InferBatch(_ context.Context, b recognizer.Batch, _ bool) ([]string, []float64, error) {
	ans := m.answers[min(m.inferred, len(m.answers)-1)]
	m.inferred++
	out := make([]string, len(b.Images))
	for i := range out {
		out[i] = ans
	}
	return out, make([]float64, len(out)), nil
}

func (m *fakeModel) Save(epoch int) (string, error) {
	m.saved = append(m.saved, epoch)
	return filepath.Join("ckpt", fmt.Sprintf("snapshot-%d.onnx", epoch)), nil
}

func TestEvaluation(t *testing.T) {
	var e Evaluation
	e.Add("abcd", "abcd")
	e.Add("abcd", "abxd")
	e.Add("كتب", "كتاب")
	assert.Equal(t, 3, e.Words)
	assert.Equal(t, 1, e.WordsOK)
	assert.Equal(t, 11, e.Chars)
	assert.Equal(t, 2, e.CharErrors)
	assert.InDelta(t, 2.0/11, e.CharErrorRate(), 1e-9)
	assert.InDelta(t, 1-2.0/11, e.CharSuccessRate(), 1e-9)
	assert.InDelta(t, 1.0/3, e.WordAccuracy(), 1e-9)

	assert.Zero(t, Evaluation{}.CharErrorRate())
	assert.Zero(t, Evaluation{}.WordAccuracy())
}

func TestTrain_EarlyStopsAndSavesImprovements(t *testing.T) {
	model := &fakeModel{answers: []string{"abcx", "abcd", "abxx", "abcd"}}
	var log bytes.Buffer
	cfg := DefaultConfig()
	cfg.MaxNonImprovedEpochs = 2
	tr, err := New(model, newData(), cfg, NewAuditLog(&log))
	require.NoError(t, err)

	summary, err := tr.Train(context.Background(), Status{BaseName: "words", BatchSize: 2})
	require.NoError(t, err)

	require.Len(t, summary.Epochs, 4)
	assert.True(t, summary.EarlyStopped)
	assert.Equal(t, []int{1, 2}, model.saved)
	assert.Equal(t, 2, summary.BestEpoch)
	assert.Zero(t, summary.BestCharErrorRate)
	assert.Equal(t, 8, model.trained)
	assert.InDelta(t, 2.5, summary.Epochs[0].MeanLoss, 1e-9)
	assert.Equal(t, 2, summary.Epochs[0].Batches)
	assert.False(t, summary.Epochs[3].Improved, "equal error rate is not an improvement")
	assert.Equal(t, 4*3, summary.Processing.Calls)

	out := log.String()
	assert.Contains(t, out, "EXPERIMENT_NAME: word recognition")
	assert.Contains(t, out, "Base File Name: words")
	assert.Contains(t, out, "Epoch Number 1.\nCharacter error rate improved, saving model")
	assert.Contains(t, out, "Epoch Number 3.\nCharacter error rate not improved")
	assert.Contains(t, out, "No more improvement since 2 epochs.")
	assert.Equal(t, 4, strings.Count(out, "Accumulated Processing Time:"))
	assert.Contains(t, out, "Words Success Rate: 100.0000%")
}

func TestTrain_MaxEpochs(t *testing.T) {
	model := &fakeModel{answers: []string{"a", "ab", "abc"}}
	cfg := DefaultConfig()
	cfg.MaxEpochs = 3
	cfg.MaxNonImprovedEpochs = 0
	tr, err := New(model, newData(), cfg, nil)
	require.NoError(t, err)

	summary, err := tr.Train(context.Background(), Status{})
	require.NoError(t, err)
	assert.Len(t, summary.Epochs, 3)
	assert.False(t, summary.EarlyStopped)
	assert.Equal(t, []int{1, 2, 3}, model.saved)
}

func TestTrain_PropagatesErrors(t *testing.T) {
	model := &fakeModel{answers: []string{"a"}, trainErr: errors.New("nan loss")}
	tr, err := New(model, newData(), DefaultConfig(), nil)
	require.NoError(t, err)
	_, err = tr.Train(context.Background(), Status{})
	require.ErrorContains(t, err, "nan loss")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tr, err = New(&fakeModel{answers: []string{"a"}}, newData(), DefaultConfig(), nil)
	require.NoError(t, err)
	_, err = tr.Train(ctx, Status{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEvaluate(t *testing.T) {
	tr, err := New(&fakeModel{answers: []string{"xy"}}, newData(), DefaultConfig(), nil)
	require.NoError(t, err)

	eval, err := tr.Evaluate(context.Background(), dataset.Test)
	require.NoError(t, err)
	assert.Equal(t, 2, eval.Words)
	assert.Equal(t, 1, eval.WordsOK)
	assert.Equal(t, 4, eval.CharErrors)

	_, err = tr.Evaluate(context.Background(), dataset.Training)
	require.Error(t, err)
}

func TestRun_WritesAuditLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "result.txt")
	audit, err := OpenAuditLog(path)
	require.NoError(t, err)

	tr, err := New(&fakeModel{answers: []string{"abcd"}}, newData(), DefaultConfig(), audit)
	require.NoError(t, err)
	tr.now = func() time.Time { return time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC) }

	eval, err := tr.Run(context.Background(), dataset.Validation)
	require.NoError(t, err)
	assert.Equal(t, 1, eval.WordsOK)
	require.NoError(t, audit.Close())

	data, err := os.ReadFile(path) //nolint:gosec // test path
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "Validation/Testing Using Dataset: validation")
	assert.Contains(t, out, "Start Execution Time: 03/05/2024, 14:07:09")
	assert.Contains(t, out, "Characters Success Rate: 100.0000%")
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, newData(), DefaultConfig(), nil)
	require.Error(t, err)
	cfg := DefaultConfig()
	cfg.MaxEpochs = -1
	_, err = New(&fakeModel{}, newData(), cfg, nil)
	require.Error(t, err)
}

func TestAuditLog_ProcessingMinutes(t *testing.T) {
	var buf bytes.Buffer
	a := NewAuditLog(&buf)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var acc pipeline.Accumulator
	acc.AddDuration(90 * time.Second)
	require.NoError(t, a.Execution(start, start.Add(time.Hour), acc.Snapshot(), Evaluation{}))
	assert.Contains(t, buf.String(), "Accumulated Processing Time: 1.5000 minutes")
	assert.Contains(t, buf.String(), "End Execution Time: 01/01/2024, 01:00:00")
}

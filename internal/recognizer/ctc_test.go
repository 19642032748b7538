package recognizer

import (
	"testing"

	"github.com/m2i-duo/mandoc-ocr-api/internal/onnx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// peaked builds a matrix whose step t puts p on classes[t] and spreads the
// rest evenly over the other classes.
func peaked(numClasses int, p float32, classes ...int) Matrix {
	m := make(Matrix, len(classes))
	rest := (1 - p) / float32(numClasses-1)
	for t, c := range classes {
		row := make([]float32, numClasses)
		for i := range row {
			row[i] = rest
		}
		row[c] = p
		m[t] = row
	}
	return m
}

func mustCharset(t *testing.T, s string) *Charset {
	t.Helper()
	cs, err := CharsetFromString(s)
	require.NoError(t, err)
	return cs
}

func TestCTCCollapse(t *testing.T) {
	// blank = 0: 1,1,0,2,2,2,3,0,3 -> 1,2,3,3
	idx := []int{1, 1, 0, 2, 2, 2, 3, 0, 3}
	pr := []float64{.8, .7, .1, .9, .85, .8, .6, .1, .5}
	outIdx, outPr := CTCCollapse(idx, pr, 0)
	assert.Equal(t, []int{1, 2, 3, 3}, outIdx)
	assert.Equal(t, []float64{.8, .9, .6, .5}, outPr)
}

func TestBestPath_SpellsCAT(t *testing.T) {
	cs := mustCharset(t, "ACT") // A=0 C=1 T=2 blank=3
	dec, err := NewDecoder(DecoderOptions{Type: BestPath, Charset: cs})
	require.NoError(t, err)

	got := dec.Decode(peaked(cs.Classes(), 0.9, 1, 0, 2))
	assert.Equal(t, "CAT", got.Text)
	assert.Equal(t, []int{1, 0, 2}, got.Labels)
	assert.InDelta(t, 0.9*0.9*0.9, got.Score, 1e-6)
	assert.Len(t, got.CharProbs, 3)
}

func TestBestPath_CollapsesDuplicates(t *testing.T) {
	cs := mustCharset(t, "ACT")
	dec, err := NewDecoder(DecoderOptions{Type: BestPath, Charset: cs})
	require.NoError(t, err)

	assert.Equal(t, "A", dec.Decode(peaked(cs.Classes(), 0.8, 0, 0, cs.Blank())).Text)
	// A blank between repeats keeps both.
	assert.Equal(t, "AA", dec.Decode(peaked(cs.Classes(), 0.8, 0, cs.Blank(), 0)).Text)
	assert.Empty(t, dec.Decode(peaked(cs.Classes(), 0.8, cs.Blank(), cs.Blank())).Text)
	assert.Empty(t, dec.Decode(nil).Text)
}

func TestSplitOutput_Layouts(t *testing.T) {
	// Two items, two steps, three classes; value encodes (b, t, c).
	val := func(b, ts, c int) float32 { return float32(100*b + 10*ts + c) }

	tbc := onnx.Tensor{Shape: []int64{2, 2, 3}}
	btc := onnx.Tensor{Shape: []int64{2, 2, 3}}
	for ts := range 2 {
		for b := range 2 {
			for c := range 3 {
				tbc.Data = append(tbc.Data, val(b, ts, c))
			}
		}
	}
	for b := range 2 {
		for ts := range 2 {
			for c := range 3 {
				btc.Data = append(btc.Data, val(b, ts, c))
			}
		}
	}

	for _, tc := range []struct {
		layout OutputLayout
		tensor onnx.Tensor
	}{{LayoutTBC, tbc}, {LayoutBTC, btc}} {
		t.Run(tc.layout.String(), func(t *testing.T) {
			mats, err := SplitOutput(tc.tensor, tc.layout)
			require.NoError(t, err)
			require.Len(t, mats, 2)
			assert.Equal(t, 2, mats[1].Steps())
			assert.Equal(t, 3, mats[1].Classes())
			assert.Equal(t, []float32{110, 111, 112}, mats[1][1])
			assert.Equal(t, []float32{0, 1, 2}, mats[0][0])
		})
	}

	_, err := SplitOutput(onnx.Tensor{Data: []float32{1, 2}, Shape: []int64{2}}, LayoutTBC)
	assert.Error(t, err)
}

func TestParseOutputLayout(t *testing.T) {
	l, err := ParseOutputLayout("BTC")
	require.NoError(t, err)
	assert.Equal(t, LayoutBTC, l)
	l, err = ParseOutputLayout("")
	require.NoError(t, err)
	assert.Equal(t, LayoutTBC, l)
	_, err = ParseOutputLayout("ctb")
	assert.Error(t, err)
}

func TestToProbabilities(t *testing.T) {
	probs := Matrix{{0.2, 0.8}, {0.5, 0.5}}
	assert.Equal(t, probs, ToProbabilities(probs))

	logits := Matrix{{1, 3}, {-2, -2}}
	out := ToProbabilities(logits)
	assert.InDelta(t, 0.8808, out[0][1], 1e-3)
	assert.InDelta(t, 0.5, out[1][0], 1e-6)
	// Input is untouched.
	assert.Equal(t, float32(3), logits[0][1])
}

func TestSequenceConfidence(t *testing.T) {
	assert.Zero(t, SequenceConfidence(nil))
	assert.InDelta(t, 0.5, SequenceConfidence([]float64{0.25, 0.75}), 1e-9)
}

package recognizer

import (
	"fmt"
	"math"
	"strings"

	"github.com/m2i-duo/mandoc-ocr-api/internal/onnx"
)

// Matrix holds per-time-step class scores for one batch item, indexed [t][c].
type Matrix [][]float32

// Steps returns the number of time steps.
func (m Matrix) Steps() int { return len(m) }

// Classes returns the number of classes per step.
func (m Matrix) Classes() int {
	if len(m) == 0 {
		return 0
	}
	return len(m[0])
}

// OutputLayout names the axis order of the network output.
type OutputLayout int

const (
	// LayoutTBC is [time, batch, class].
	LayoutTBC OutputLayout = iota
	// LayoutBTC is [batch, time, class].
	LayoutBTC
)

func (l OutputLayout) String() string {
	switch l {
	case LayoutTBC:
		return "tbc"
	case LayoutBTC:
		return "btc"
	default:
		return fmt.Sprintf("OutputLayout(%d)", int(l))
	}
}

// ParseOutputLayout parses "tbc" or "btc".
func ParseOutputLayout(s string) (OutputLayout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "tbc":
		return LayoutTBC, nil
	case "btc":
		return LayoutBTC, nil
	default:
		return LayoutTBC, fmt.Errorf("unknown output layout: %q", s)
	}
}

// SplitOutput slices a rank-3 network output into one Matrix per batch item.
func SplitOutput(t onnx.Tensor, layout OutputLayout) ([]Matrix, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if len(t.Shape) != 3 {
		return nil, fmt.Errorf("expected rank-3 output, got shape %v", t.Shape)
	}
	var steps, batch int
	classes := int(t.Shape[2])
	switch layout {
	case LayoutTBC:
		steps, batch = int(t.Shape[0]), int(t.Shape[1])
	case LayoutBTC:
		batch, steps = int(t.Shape[0]), int(t.Shape[1])
	default:
		return nil, fmt.Errorf("unsupported output layout: %v", layout)
	}

	out := make([]Matrix, batch)
	for b := range batch {
		m := make(Matrix, steps)
		for ts := range steps {
			var off int
			if layout == LayoutTBC {
				off = (ts*batch + b) * classes
			} else {
				off = (b*steps + ts) * classes
			}
			m[ts] = t.Data[off : off+classes]
		}
		out[b] = m
	}
	return out, nil
}

// argmax returns index of max value and the value.
func argmax(v []float32) (int, float32) {
	if len(v) == 0 {
		return -1, 0
	}
	idx := 0
	maxVal := v[0]
	for i := 1; i < len(v); i++ {
		if v[i] > maxVal {
			maxVal = v[i]
			idx = i
		}
	}
	return idx, maxVal
}

// looksLikeProbabilities reports whether v sums to ~1 with values in [0,1].
func looksLikeProbabilities(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	var sum float64
	for _, x := range v {
		if x < 0 || x > 1 {
			return false
		}
		sum += float64(x)
	}
	return sum > 0.99 && sum < 1.01
}

// softmax writes the stable softmax of v into dst.
func softmax(dst, v []float32) {
	_, m := argmax(v)
	var denom float64
	for _, x := range v {
		denom += math.Exp(float64(x - m))
	}
	for i, x := range v {
		dst[i] = float32(math.Exp(float64(x-m)) / denom)
	}
}

// ToProbabilities returns m unchanged when every row already looks like a
// distribution, otherwise a softmaxed copy.
func ToProbabilities(m Matrix) Matrix {
	probs := true
	for _, row := range m {
		if !looksLikeProbabilities(row) {
			probs = false
			break
		}
	}
	if probs {
		return m
	}
	out := make(Matrix, len(m))
	for t, row := range m {
		out[t] = make([]float32, len(row))
		softmax(out[t], row)
	}
	return out
}

// CTCCollapse removes repeated consecutive indices and blanks, returning collapsed sequence and probs.
func CTCCollapse(indices []int, probs []float64, blank int) ([]int, []float64) {
	outIdx := make([]int, 0, len(indices))
	outProb := make([]float64, 0, len(probs))
	prev := -1
	for i, idx := range indices {
		if idx == blank {
			prev = idx
			continue
		}
		if idx == prev {
			continue
		}
		outIdx = append(outIdx, idx)
		if i < len(probs) {
			outProb = append(outProb, probs[i])
		} else {
			outProb = append(outProb, 0)
		}
		prev = idx
	}
	return outIdx, outProb
}

// SequenceConfidence returns the average of per-character probabilities; 0 if empty.
func SequenceConfidence(charProbs []float64) float64 {
	if len(charProbs) == 0 {
		return 0
	}
	var s float64
	for _, p := range charProbs {
		s += p
	}
	return s / float64(len(charProbs))
}

type bestPathDecoder struct {
	charset *Charset
}

func (d *bestPathDecoder) Type() DecoderType { return BestPath }

// Decode takes the argmax class per step, collapses repeats and drops blanks.
// Score is the probability of the chosen path.
func (d *bestPathDecoder) Decode(mat Matrix) Decoded {
	blank := d.charset.Blank()
	indices := make([]int, len(mat))
	probs := make([]float64, len(mat))
	score := 1.0
	for t, row := range mat {
		idx, p := argmax(row)
		indices[t] = idx
		probs[t] = float64(p)
		score *= float64(p)
	}
	labels, charProbs := CTCCollapse(indices, probs, blank)
	if len(mat) == 0 {
		score = 0
	}
	return Decoded{
		Labels:    labels,
		Text:      d.charset.Decode(labels),
		Score:     score,
		CharProbs: charProbs,
	}
}

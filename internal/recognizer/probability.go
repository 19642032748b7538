package recognizer

import "math"

func logAdd(a, b float64) float64 {
	if math.IsInf(a, -1) {
		return b
	}
	if math.IsInf(b, -1) {
		return a
	}
	if a < b {
		a, b = b, a
	}
	return a + math.Log1p(math.Exp(b-a))
}

func logProb(p float32) float64 {
	if p <= 0 {
		return math.Inf(-1)
	}
	return math.Log(float64(p))
}

// LabelProbability returns P(labels | mat) summed over every CTC alignment,
// computed with the forward algorithm in log space. mat must hold
// probabilities; blank is the blank class id.
func LabelProbability(mat Matrix, labels []int, blank int) float64 {
	if len(mat) == 0 {
		if len(labels) == 0 {
			return 1
		}
		return 0
	}
	classes := mat.Classes()
	for _, l := range labels {
		if l < 0 || l >= classes {
			return 0
		}
	}
	if blank < 0 || blank >= classes {
		return 0
	}

	// Extended sequence: blank, l1, blank, l2, ..., blank.
	ext := make([]int, 2*len(labels)+1)
	for i := range ext {
		ext[i] = blank
	}
	for i, l := range labels {
		ext[2*i+1] = l
	}
	s := len(ext)

	negInf := math.Inf(-1)
	alpha := make([]float64, s)
	prev := make([]float64, s)
	for i := range alpha {
		alpha[i] = negInf
	}
	alpha[0] = logProb(mat[0][ext[0]])
	if s > 1 {
		alpha[1] = logProb(mat[0][ext[1]])
	}

	for t := 1; t < len(mat); t++ {
		alpha, prev = prev, alpha
		for i := range s {
			a := prev[i]
			if i >= 1 {
				a = logAdd(a, prev[i-1])
			}
			if i >= 2 && ext[i] != blank && ext[i] != ext[i-2] {
				a = logAdd(a, prev[i-2])
			}
			alpha[i] = a + logProb(mat[t][ext[i]])
		}
	}

	total := alpha[s-1]
	if s > 1 {
		total = logAdd(total, alpha[s-2])
	}
	return math.Exp(total)
}

package training

import (
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Evaluation accumulates recognition accuracy over samples.
type Evaluation struct {
	Words      int `json:"words"`
	WordsOK    int `json:"words_ok"`
	Chars      int `json:"chars"`
	CharErrors int `json:"char_errors"`
}

// Add scores one recognized text against its ground truth.
func (e *Evaluation) Add(groundTruth, recognized string) {
	e.Words++
	if groundTruth == recognized {
		e.WordsOK++
	}
	e.Chars += utf8.RuneCountInString(groundTruth)
	e.CharErrors += levenshtein.ComputeDistance(recognized, groundTruth)
}

// CharErrorRate is the summed edit distance over the summed ground-truth length.
func (e Evaluation) CharErrorRate() float64 {
	if e.Chars == 0 {
		if e.CharErrors == 0 {
			return 0
		}
		return 1
	}
	return float64(e.CharErrors) / float64(e.Chars)
}

// CharSuccessRate is 1 - CharErrorRate.
func (e Evaluation) CharSuccessRate() float64 { return 1 - e.CharErrorRate() }

// WordAccuracy is the share of exactly recognized words.
func (e Evaluation) WordAccuracy() float64 {
	if e.Words == 0 {
		return 0
	}
	return float64(e.WordsOK) / float64(e.Words)
}

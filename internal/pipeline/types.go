package pipeline

import (
	"fmt"
	"strings"
)

// Mode selects how an input image is split into words.
type Mode string

const (
	// ModeChunks segments the image and recognizes every word separately.
	ModeChunks Mode = "chunks"
	// ModeMerged treats the whole image as a single word.
	ModeMerged Mode = "merged"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool { return m == ModeChunks || m == ModeMerged }

// ParseMode parses "chunks" or "merged" (case-insensitive).
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
	return m, nil
}

// Result is the outcome for one word image. A failed word keeps its image,
// has an empty label and carries the failure in Error.
type Result struct {
	Label string `json:"label"`
	Image string `json:"image"`
	Error string `json:"error,omitempty"`
}

// Failed reports whether recognition of this word failed.
func (r Result) Failed() bool { return r.Error != "" }

// ImageResult holds the word results of one image processed by RecognizeImages.
type ImageResult struct {
	Index   int      `json:"index"`
	Results []Result `json:"results"`
	Text    string   `json:"text"`
	Stats   Stats    `json:"stats"`
	Error   string   `json:"error,omitempty"`
}

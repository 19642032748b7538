// Package dataset loads labeled word images and serves them in batches for
// training, validation and testing.
package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrNoSamples     = errors.New("dataset has no samples")
	ErrNoMoreBatches = errors.New("no more batches in the selected set")
)

// Sample is one labeled word image. Path is relative to the data directory
// unless absolute.
type Sample struct {
	Path string
	Text string
}

// ParseLabels reads "<image path>\t<text>" lines. Blank lines and lines
// starting with '#' are skipped; the text may contain spaces.
func ParseLabels(r io.Reader) ([]Sample, error) {
	var out []Sample
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimRight(sc.Text(), "\r")
		if line == 1 {
			raw = strings.TrimPrefix(raw, "\uFEFF")
		}
		if strings.TrimSpace(raw) == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		path, text, ok := strings.Cut(raw, "\t")
		if !ok || strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("labels line %d: expected \"<path>\\t<text>\"", line)
		}
		out = append(out, Sample{Path: strings.TrimSpace(path), Text: text})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read labels: %w", err)
	}
	return out, nil
}

// ReadLabels parses a labels file.
func ReadLabels(path string) ([]Sample, error) {
	f, err := os.Open(path) //nolint:gosec // G304: user-provided labels file
	if err != nil {
		return nil, fmt.Errorf("failed to open labels file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ParseLabels(f)
}

// WriteLabels writes samples in the format read by ParseLabels.
func WriteLabels(path string, samples []Sample) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	var b strings.Builder
	for _, s := range samples {
		b.WriteString(s.Path)
		b.WriteByte('\t')
		b.WriteString(s.Text)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("failed to write labels file: %w", err)
	}
	return nil
}

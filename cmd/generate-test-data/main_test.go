package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/m2i-duo/mandoc-ocr-api/internal/dataset"
	"github.com/m2i-duo/mandoc-ocr-api/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitWords(t *testing.T) {
	assert.Equal(t, []string{"one", "two"}, splitWords(" one, ,two,"))
	assert.Empty(t, splitWords(" , "))
}

func TestWriteWords(t *testing.T) {
	dir := t.TempDir()
	samples, err := writeWords(dir, []string{"ab", "cd"}, 1)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, dataset.Sample{Path: "words/w0001.png", Text: "cd"}, samples[1])

	img, err := utils.LoadGray(filepath.Join(dir, "words", "w0000.png"))
	require.NoError(t, err)
	assert.Positive(t, img.Bounds().Dx())
}

func TestWriteLines(t *testing.T) {
	dir := t.TempDir()
	n, err := writeLines(dir, []string{"a", "b", "c", "d", "e"}, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	text, err := os.ReadFile(filepath.Join(dir, "line_001.txt")) //nolint:gosec // test path
	require.NoError(t, err)
	assert.Equal(t, "e\n", string(text))

	single := joinHorizontally([]string{"ab"}, 1, 10)
	double := joinHorizontally([]string{"ab", "ab"}, 1, 10)
	assert.Equal(t, 2*single.Bounds().Dx()+10, double.Bounds().Dx())
}

package testutil

import (
	"bytes"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetProjectRoot(t *testing.T) {
	root, err := GetProjectRoot()
	require.NoError(t, err)
	assert.True(t, FileExists(filepath.Join(root, "go.mod")))
	assert.True(t, DirExists(filepath.Join(root, "internal")))
}

func TestPage(t *testing.T) {
	img := Page(10, 5, image.Rect(2, 1, 4, 3))
	assert.Equal(t, uint8(255), img.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(0), img.GrayAt(2, 1).Y)
	assert.Equal(t, uint8(0), img.GrayAt(3, 2).Y)
	assert.Equal(t, uint8(255), img.GrayAt(4, 2).Y)
}

func TestTextImage(t *testing.T) {
	small := TextImage("abc", 1)
	big := TextImage("abc", 2)
	assert.Equal(t, 2*small.Bounds().Dx(), big.Bounds().Dx())
	assert.Equal(t, 2*small.Bounds().Dy(), big.Bounds().Dy())

	dark := 0
	for _, p := range small.Pix {
		if p < 128 {
			dark++
		}
	}
	assert.Positive(t, dark)
}

func TestEncodePNG(t *testing.T) {
	data := EncodePNG(t, Page(3, 3))
	img, format, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 3, img.Bounds().Dx())
}

func TestWriteDataset(t *testing.T) {
	dir := t.TempDir()
	labels := WriteDataset(t, dir, []string{"one", "two"})

	data, err := os.ReadFile(labels) //nolint:gosec // test path
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "words/w0001.png\ttwo", lines[2])
	assert.True(t, FileExists(filepath.Join(dir, "words", "w0000.png")))
}

func TestWriteModelDir(t *testing.T) {
	dir := WriteModelDir(t, filepath.Join(t.TempDir(), "models"), "abc", 1, 4)
	assert.True(t, FileExists(filepath.Join(dir, "charList.txt")))
	assert.True(t, FileExists(filepath.Join(dir, "checkpoints", "snapshot-4.onnx")))
}

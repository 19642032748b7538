package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// LabelsFile is the labels file name written by WriteDataset.
const LabelsFile = "labels.txt"

// WriteDataset renders every text into words/wNNNN.png under dir and writes
// a tab separated labels file next to it. It returns the labels file path.
func WriteDataset(t *testing.T, dir string, texts []string) string {
	t.Helper()

	var b strings.Builder
	b.WriteString("# image\ttext\n")
	for i, text := range texts {
		rel := filepath.Join("words", fmt.Sprintf("w%04d.png", i))
		SaveImage(t, TextImage(text, 1), filepath.Join(dir, rel))
		fmt.Fprintf(&b, "%s\t%s\n", filepath.ToSlash(rel), text)
	}

	path := filepath.Join(dir, LabelsFile)
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))
	return path
}

// WriteModelDir lays out a models directory: charList.txt at the top and an
// empty checkpoints/snapshot-N.onnx per given epoch.
func WriteModelDir(t *testing.T, dir, charList string, snapshots ...int) string {
	t.Helper()
	require.NoError(t, EnsureDir(dir))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "charList.txt"), []byte(charList), 0o600))
	checkpoints := filepath.Join(dir, "checkpoints")
	require.NoError(t, EnsureDir(checkpoints))
	for _, n := range snapshots {
		name := filepath.Join(checkpoints, fmt.Sprintf("snapshot-%d.onnx", n))
		require.NoError(t, os.WriteFile(name, nil, 0o600))
	}
	return dir
}

package onnx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLibraryName(t *testing.T) {
	tests := map[string]string{
		"linux":   "libonnxruntime.so",
		"darwin":  "libonnxruntime.dylib",
		"windows": "onnxruntime.dll",
	}
	for goos, want := range tests {
		got, err := libraryName(goos)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := libraryName("plan9")
	assert.Error(t, err)
}

func TestSystemLibraryPaths_GPUFirst(t *testing.T) {
	cpu := systemLibraryPaths(false)
	gpu := systemLibraryPaths(true)
	assert.Len(t, gpu, len(cpu)+1)
	assert.Contains(t, gpu[0], "gpu")
}

func TestResolveLibraryPath_Explicit(t *testing.T) {
	dir := t.TempDir()
	lib := filepath.Join(dir, "libonnxruntime.so")
	require.NoError(t, os.WriteFile(lib, []byte("x"), 0o600))

	got, err := ResolveLibraryPath(lib, false)
	require.NoError(t, err)
	assert.Equal(t, lib, got)

	_, err = ResolveLibraryPath(filepath.Join(dir, "missing.so"), false)
	assert.Error(t, err)

	// Directories are not libraries.
	_, err = ResolveLibraryPath(dir, false)
	assert.Error(t, err)
}

func TestResolveLibraryPath_Env(t *testing.T) {
	lib := filepath.Join(t.TempDir(), "custom.so")
	require.NoError(t, os.WriteFile(lib, []byte("x"), 0o600))
	t.Setenv(EnvLibraryPath, lib)

	got, err := ResolveLibraryPath("", true)
	require.NoError(t, err)
	assert.Equal(t, lib, got)
}

func TestNewNetwork_Errors(t *testing.T) {
	_, err := NewNetwork(NetworkConfig{})
	require.Error(t, err)

	_, err = NewNetwork(NetworkConfig{ModelPath: filepath.Join(t.TempDir(), "snapshot-1.onnx")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	model := filepath.Join(t.TempDir(), "snapshot-1.onnx")
	require.NoError(t, os.WriteFile(model, []byte("x"), 0o600))
	_, err = NewNetwork(NetworkConfig{ModelPath: model, GPU: GPUConfig{UseGPU: true, DeviceID: -1}})
	require.Error(t, err)
}

package onnx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// EnvLibraryPath overrides the ONNX Runtime shared library location.
const EnvLibraryPath = "ONNXRUNTIME_LIB_PATH"

// libraryName returns the shared library filename for goos.
func libraryName(goos string) (string, error) {
	switch goos {
	case "linux":
		return "libonnxruntime.so", nil
	case "darwin":
		return "libonnxruntime.dylib", nil
	case "windows":
		return "onnxruntime.dll", nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", goos)
	}
}

// systemLibraryPaths lists well-known install locations, GPU builds first when requested.
func systemLibraryPaths(useGPU bool) []string {
	paths := []string{
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/libonnxruntime.so",
		"/opt/onnxruntime/cpu/lib/libonnxruntime.so",
	}
	if useGPU {
		return append([]string{"/opt/onnxruntime/gpu/lib/libonnxruntime.so"}, paths...)
	}
	return paths
}

// findProjectRoot walks up from the working directory to the nearest go.mod.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("could not find project root")
		}
		dir = parent
	}
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

// ResolveLibraryPath finds the ONNX Runtime shared library. An explicit path
// must exist; otherwise the environment override, system locations and the
// project-local onnxruntime/ directory are tried in that order.
func ResolveLibraryPath(explicit string, useGPU bool) (string, error) {
	if explicit != "" {
		if !fileExists(explicit) {
			return "", fmt.Errorf("ONNX Runtime library not found at %s", explicit)
		}
		return explicit, nil
	}
	if env := os.Getenv(EnvLibraryPath); env != "" && fileExists(env) {
		return env, nil
	}
	for _, p := range systemLibraryPaths(useGPU) {
		if fileExists(p) {
			return p, nil
		}
	}

	root, err := findProjectRoot()
	if err != nil {
		return "", err
	}
	name, err := libraryName(runtime.GOOS)
	if err != nil {
		return "", err
	}
	candidates := []string{filepath.Join(root, "onnxruntime", "lib", name)}
	if useGPU {
		candidates = append([]string{filepath.Join(root, "onnxruntime", "gpu", "lib", name)}, candidates...)
	}
	for _, p := range candidates {
		if fileExists(p) {
			return p, nil
		}
	}
	return "", fmt.Errorf("ONNX Runtime library not found (tried %s)", candidates[len(candidates)-1])
}

// Package support holds the godog step definitions of the CLI and server
// feature tests.
package support

import (
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
)

// TestContext holds the state of one scenario.
type TestContext struct {
	TempDir string

	// Command execution state
	LastCommand string
	LastOutput  string
	LastError   error

	// HTTP state
	Server             *httptest.Server
	LastHTTPStatusCode int
	LastHTTPResponse   string
	LastHTTPHeaders    map[string]string
}

// NewTestContext creates a scenario context with its own temp directory.
func NewTestContext() (*TestContext, error) {
	tempDir, err := os.MkdirTemp("", "mandoc-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	return &TestContext{TempDir: tempDir}, nil
}

// Cleanup stops the server and removes the temp directory.
func (testCtx *TestContext) Cleanup() error {
	var errs []error
	if testCtx.Server != nil {
		testCtx.Server.Close()
		testCtx.Server = nil
	}
	if err := os.RemoveAll(testCtx.TempDir); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("failed to remove temp directory %s: %w", testCtx.TempDir, err))
	}
	return errors.Join(errs...)
}

// path resolves a scenario relative path inside the temp directory.
func (testCtx *TestContext) path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(testCtx.TempDir, name)
}

// expand replaces {tmp} with the scenario temp directory.
func (testCtx *TestContext) expand(s string) string {
	return strings.ReplaceAll(s, "{tmp}", testCtx.TempDir)
}

package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Support file names produced alongside a trained network.
const (
	CharListFile     = "charList.txt"
	CorpusFile       = "corpus.txt"
	WordCharListFile = "wordCharList.txt"
	AuditLogFile     = "result.txt"
)

// Snapshot naming: snapshot-<epoch>.onnx.
const (
	SnapshotPrefix    = "snapshot-"
	SnapshotExtension = ".onnx"
)

// Directory layout under the models directory.
const (
	TypeCheckpoints = "checkpoints"
	TypeVocabulary  = "vocabulary"
)

// Default models directory.
const DefaultModelsDir = "models"

// Environment variable for models directory override.
const EnvModelsDir = "MANDOC_MODELS_DIR"

// findProjectRoot finds the project root by looking for go.mod.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", errors.New("could not find project root (go.mod not found)")
}

// Snapshot describes one exported checkpoint on disk.
type Snapshot struct {
	Path  string
	Epoch int
}

// GetModelsDir returns the models directory path from various sources
// Priority: 1. Explicit modelsDir parameter, 2. Environment variable, 3. Project root + default.
func GetModelsDir(modelsDir string) string {
	if modelsDir != "" {
		return modelsDir
	}

	if envDir := os.Getenv(EnvModelsDir); envDir != "" {
		return envDir
	}

	if projectRoot, err := findProjectRoot(); err == nil {
		return filepath.Join(projectRoot, DefaultModelsDir)
	}

	return DefaultModelsDir
}

// ResolvePath resolves a file under the organized layout, falling back to a
// flat layout when the organized path does not exist.
func ResolvePath(modelsDir, kind, filename string) string {
	baseDir := GetModelsDir(modelsDir)

	if kind != "" {
		organized := filepath.Join(baseDir, kind, filename)
		if _, err := os.Stat(organized); err == nil {
			return organized
		}
	}

	return filepath.Join(baseDir, filename)
}

// GetCheckpointDir returns the directory holding snapshot files.
func GetCheckpointDir(modelsDir string) string {
	return filepath.Join(GetModelsDir(modelsDir), TypeCheckpoints)
}

// GetCharListPath returns the path of the character list.
func GetCharListPath(modelsDir string) string {
	return ResolvePath(modelsDir, TypeVocabulary, CharListFile)
}

// GetCorpusPath returns the path of the word corpus used by word beam search.
func GetCorpusPath(modelsDir string) string {
	return ResolvePath(modelsDir, TypeVocabulary, CorpusFile)
}

// GetWordCharListPath returns the path of the word character list.
func GetWordCharListPath(modelsDir string) string {
	return ResolvePath(modelsDir, TypeVocabulary, WordCharListFile)
}

// SnapshotPath returns the file name for a given epoch inside dir.
func SnapshotPath(dir string, epoch int) string {
	return filepath.Join(dir, SnapshotPrefix+strconv.Itoa(epoch)+SnapshotExtension)
}

// ListSnapshots returns the snapshots in dir sorted by epoch, newest last.
// A missing directory yields an empty list.
func ListSnapshots(dir string) ([]Snapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint directory: %w", err)
	}

	var out []Snapshot
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, SnapshotPrefix) || !strings.HasSuffix(name, SnapshotExtension) {
			continue
		}
		num := strings.TrimSuffix(strings.TrimPrefix(name, SnapshotPrefix), SnapshotExtension)
		epoch, err := strconv.Atoi(num)
		if err != nil || epoch < 0 {
			continue
		}
		out = append(out, Snapshot{Path: filepath.Join(dir, name), Epoch: epoch})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Epoch < out[j].Epoch })
	return out, nil
}

// LatestSnapshot returns the newest snapshot in dir. ok is false when none exists.
func LatestSnapshot(dir string) (Snapshot, bool, error) {
	snaps, err := ListSnapshots(dir)
	if err != nil || len(snaps) == 0 {
		return Snapshot{}, false, err
	}
	return snaps[len(snaps)-1], true, nil
}

// PruneSnapshots removes all but the newest keep snapshots and returns the removed paths.
func PruneSnapshots(dir string, keep int) ([]string, error) {
	if keep < 1 {
		keep = 1
	}
	snaps, err := ListSnapshots(dir)
	if err != nil {
		return nil, err
	}
	if len(snaps) <= keep {
		return nil, nil
	}
	var removed []string
	for _, s := range snaps[:len(snaps)-keep] {
		if err := os.Remove(s.Path); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("failed to remove snapshot %s: %w", s.Path, err)
		}
		removed = append(removed, s.Path)
	}
	return removed, nil
}

// ValidateModelExists checks if a model file exists at the given path.
func ValidateModelExists(modelPath string) error {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", modelPath)
	}
	return nil
}

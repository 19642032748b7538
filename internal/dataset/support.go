package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode"

	"github.com/m2i-duo/mandoc-ocr-api/internal/models"
)

// CharList returns the sorted unique characters of all texts.
func CharList(samples []Sample) string {
	seen := make(map[rune]bool)
	for _, s := range samples {
		for _, r := range s.Text {
			seen[r] = true
		}
	}
	chars := make([]rune, 0, len(seen))
	for r := range seen {
		chars = append(chars, r)
	}
	slices.Sort(chars)
	return string(chars)
}

// WordCharList keeps the letters and combining marks of charList: the
// characters word beam search constrains to lexicon words.
func WordCharList(charList string) string {
	var b strings.Builder
	for _, r := range charList {
		if unicode.IsLetter(r) || unicode.Is(unicode.Mn, r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Corpus joins every ground-truth word with a single space.
func Corpus(samples []Sample) string {
	words := make([]string, 0, len(samples))
	for _, s := range samples {
		words = append(words, strings.Fields(s.Text)...)
	}
	return strings.Join(words, " ")
}

// SupportFiles lists the paths written by WriteSupportFiles.
type SupportFiles struct {
	CharList     string
	Corpus       string
	WordCharList string
}

// WriteSupportFiles writes charList.txt, corpus.txt and wordCharList.txt
// into dir.
func WriteSupportFiles(dir string, samples []Sample) (SupportFiles, error) {
	if len(samples) == 0 {
		return SupportFiles{}, ErrNoSamples
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return SupportFiles{}, fmt.Errorf("failed to create directory: %w", err)
	}
	files := SupportFiles{
		CharList:     filepath.Join(dir, models.CharListFile),
		Corpus:       filepath.Join(dir, models.CorpusFile),
		WordCharList: filepath.Join(dir, models.WordCharListFile),
	}
	charList := CharList(samples)
	contents := map[string]string{
		files.CharList:     charList,
		files.Corpus:       Corpus(samples),
		files.WordCharList: WordCharList(charList),
	}
	for path, data := range contents {
		if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
			return SupportFiles{}, fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
		}
	}
	return files, nil
}

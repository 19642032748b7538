package main

import (
	"flag"
	"fmt"
	"image"
	"image/draw"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/m2i-duo/mandoc-ocr-api/internal/dataset"
	"github.com/m2i-duo/mandoc-ocr-api/internal/testutil"
	"github.com/m2i-duo/mandoc-ocr-api/internal/utils"
)

// defaultWords are rendered when -words is not given.
var defaultWords = []string{
	"alpha", "beta", "gamma", "delta", "epsilon", "zeta", "eta", "theta",
	"iota", "kappa", "lambda", "mu", "nu", "xi", "omicron", "pi",
	"rho", "sigma", "tau", "upsilon", "phi", "chi", "psi", "omega",
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	var (
		outDir    = flag.String("out", "testdata", "output directory, relative to the project root unless absolute")
		wordList  = flag.String("words", "", "comma separated words (default: Greek letter names)")
		scale     = flag.Int("scale", 2, "glyph magnification")
		lines     = flag.Bool("lines", true, "also write line images joining several words")
		modelsDir = flag.String("models-dir", "", "write charList.txt, corpus.txt and wordCharList.txt here")
		help      = flag.Bool("h", false, "Show help")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Generate a synthetic labelled word dataset.\n\n")
		fmt.Fprintf(os.Stderr, "OPTIONS:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEXAMPLES:\n")
		fmt.Fprintf(os.Stderr, "  %s                          # words and lines under testdata/\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -words one,two -scale 3  # custom vocabulary\n", os.Args[0])
	}
	flag.Parse()

	if *help {
		flag.Usage()
		return
	}

	dir := *outDir
	if !filepath.IsAbs(dir) {
		root, err := testutil.GetProjectRoot()
		if err != nil {
			slog.Error("Failed to find project root", "error", err)
			os.Exit(1)
		}
		dir = filepath.Join(root, dir)
	}

	words := defaultWords
	if *wordList != "" {
		words = splitWords(*wordList)
	}
	if len(words) == 0 {
		slog.Error("No words to render")
		os.Exit(1)
	}

	samples, err := writeWords(dir, words, *scale)
	if err != nil {
		slog.Error("Failed to write word images", "error", err)
		os.Exit(1)
	}
	labels := filepath.Join(dir, "words.txt")
	if err := dataset.WriteLabels(labels, samples); err != nil {
		slog.Error("Failed to write labels", "error", err)
		os.Exit(1)
	}
	slog.Info("Generated word dataset", "labels", labels, "samples", len(samples))

	if *lines {
		n, err := writeLines(filepath.Join(dir, "lines"), words, *scale)
		if err != nil {
			slog.Error("Failed to write line images", "error", err)
			os.Exit(1)
		}
		slog.Info("Generated line images", "count", n)
	}

	if *modelsDir != "" {
		if _, err := dataset.WriteSupportFiles(*modelsDir, samples); err != nil {
			slog.Error("Failed to write support files", "error", err)
			os.Exit(1)
		}
		slog.Info("Wrote support files", "dir", *modelsDir)
	}
}

func splitWords(s string) []string {
	var out []string
	for _, w := range strings.Split(s, ",") {
		if w = strings.TrimSpace(w); w != "" {
			out = append(out, w)
		}
	}
	return out
}

// writeWords renders every word to words/wNNNN.png with a path relative to dir.
func writeWords(dir string, words []string, scale int) ([]dataset.Sample, error) {
	samples := make([]dataset.Sample, 0, len(words))
	for i, w := range words {
		rel := filepath.ToSlash(filepath.Join("words", fmt.Sprintf("w%04d.png", i)))
		if err := utils.SavePNG(filepath.Join(dir, rel), testutil.TextImage(w, scale)); err != nil {
			return nil, fmt.Errorf("word %q: %w", w, err)
		}
		samples = append(samples, dataset.Sample{Path: rel, Text: w})
	}
	return samples, nil
}

// writeLines groups words four at a time and renders each group as one
// line with wide gaps, plus a text file holding the expected words.
func writeLines(dir string, words []string, scale int) (int, error) {
	const perLine = 4
	n := 0
	for start := 0; start < len(words); start += perLine {
		group := words[start:min(start+perLine, len(words))]
		line := joinHorizontally(group, scale, 12*max(scale, 1))
		base := filepath.Join(dir, fmt.Sprintf("line_%03d", n))
		if err := utils.SavePNG(base+".png", line); err != nil {
			return n, err
		}
		if err := os.WriteFile(base+".txt", []byte(strings.Join(group, " ")+"\n"), 0o600); err != nil {
			return n, fmt.Errorf("failed to write line text: %w", err)
		}
		n++
	}
	return n, nil
}

func joinHorizontally(words []string, scale, gap int) *image.Gray {
	imgs := make([]*image.Gray, len(words))
	w, h := 0, 0
	for i, word := range words {
		imgs[i] = testutil.TextImage(word, scale)
		w += imgs[i].Bounds().Dx()
		h = max(h, imgs[i].Bounds().Dy())
	}
	w += gap * (len(words) - 1)
	line := testutil.Page(w, h)
	x := 0
	for _, img := range imgs {
		r := image.Rect(x, 0, x+img.Bounds().Dx(), img.Bounds().Dy())
		draw.Draw(line, r, img, img.Bounds().Min, draw.Src)
		x += img.Bounds().Dx() + gap
	}
	return line
}

package cmd

import (
	"encoding/json"
	"fmt"
	"image"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/m2i-duo/mandoc-ocr-api/internal/pdf"
	"github.com/m2i-duo/mandoc-ocr-api/internal/pipeline"
	"github.com/m2i-duo/mandoc-ocr-api/internal/server"
	"github.com/m2i-duo/mandoc-ocr-api/internal/utils"
	"github.com/spf13/cobra"
)

const (
	formatJSON = "json"
	formatText = "text"
)

// recognizeCmd represents the recognize command.
var recognizeCmd = &cobra.Command{
	Use:   "recognize <file|dir>...",
	Short: "Recognize the words of images and PDFs",
	Long: `Recognize the words of image files, PDF scans or directories of images.

Every page image of a PDF is recognized separately. Directories are searched
recursively for supported images. With --mode merged the whole image is read
as a single word.

Examples:
  mandoc recognize line.png
  mandoc recognize scans/ --workers 4 --format text
  mandoc recognize letter.pdf --pages 1-2 --backend tesseract`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRecognize,
}

func init() {
	rootCmd.AddCommand(recognizeCmd)
	recognizeCmd.Flags().StringP("backend", "b", server.BackendCRNN, "recognition backend: crnn or tesseract")
	recognizeCmd.Flags().StringP("mode", "m", string(pipeline.ModeChunks), "chunks (segment into words) or merged (whole image)")
	recognizeCmd.Flags().StringP("format", "f", formatJSON, "output format: json or text")
	recognizeCmd.Flags().StringP("output", "o", "", "write results to this file instead of stdout")
	recognizeCmd.Flags().IntP("workers", "w", 0, "parallel images (0 uses pipeline.workers, then the CPU count)")
	recognizeCmd.Flags().String("pages", "", "PDF page range such as 1-3,5")
	recognizeCmd.Flags().Bool("progress", false, "draw a progress bar on stderr")
}

// inputImage is one image to recognize with the file it came from.
type inputImage struct {
	File  string
	Page  int
	Image image.Image
}

// FileResult is the output record of one image.
type FileResult struct {
	File    string            `json:"file"`
	Page    int               `json:"page,omitempty"`
	Results []pipeline.Result `json:"results"`
	Text    string            `json:"text"`
	Error   string            `json:"error,omitempty"`
}

func runRecognize(cmd *cobra.Command, args []string) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}
	flags := cmd.Flags()

	backendName, _ := flags.GetString("backend")
	backend, err := parseBackend(backendName)
	if err != nil {
		return err
	}
	modeName, _ := flags.GetString("mode")
	mode, err := pipeline.ParseMode(modeName)
	if err != nil {
		return err
	}
	format, _ := flags.GetString("format")
	if format != formatJSON && format != formatText {
		return fmt.Errorf("unsupported format %q (want json or text)", format)
	}
	if flags.Changed("workers") {
		cfg.Pipeline.Workers, _ = flags.GetInt("workers")
	}
	pages, _ := flags.GetString("pages")

	logger := slog.Default()
	inputs, err := collectInputs(args, pages, logger)
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return fmt.Errorf("no images found in %s", strings.Join(args, ", "))
	}

	var progress pipeline.ProgressCallback
	if show, _ := flags.GetBool("progress"); show {
		progress = pipeline.NewConsoleProgressCallback(cmd.ErrOrStderr(), "Recognizing ")
	}
	b, err := buildBackends(cmd.Context(), cfg, []string{backend}, progress, false, logger)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	imgs := make([]image.Image, len(inputs))
	for i, in := range inputs {
		imgs[i] = in.Image
	}
	results, stats, err := b.services[backend].RecognizeImages(cmd.Context(), imgs, mode)
	if err != nil {
		return fmt.Errorf("recognition failed: %w", err)
	}
	logger.Info("Recognition finished",
		"images", stats.Images, "words", stats.Words, "errors", stats.Errors, "elapsed", stats.Total)

	out := make([]FileResult, len(results))
	for i, r := range results {
		out[i] = FileResult{
			File:    inputs[i].File,
			Page:    inputs[i].Page,
			Results: r.Results,
			Text:    r.Text,
			Error:   r.Error,
		}
		if out[i].Results == nil {
			out[i].Results = []pipeline.Result{}
		}
	}

	w := cmd.OutOrStdout()
	if path, _ := flags.GetString("output"); path != "" {
		f, err := os.Create(path) //nolint:gosec // G304: user-provided output path
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer func() { _ = f.Close() }()
		w = f
	}
	return writeResults(w, format, out)
}

// collectInputs expands directories and PDFs into images, in argument order.
func collectInputs(args []string, pageRange string, logger *slog.Logger) ([]inputImage, error) {
	var inputs []inputImage
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}
		if info.IsDir() {
			files, err := findImages(arg)
			if err != nil {
				return nil, err
			}
			for _, f := range files {
				img, _, err := utils.LoadImage(f)
				if err != nil {
					logger.Warn("Skipping unreadable image", "file", f, "error", err)
					continue
				}
				inputs = append(inputs, inputImage{File: f, Image: img})
			}
			continue
		}
		if strings.EqualFold(filepath.Ext(arg), ".pdf") {
			pages, err := pdf.ExtractPages(arg, pdf.Options{PageRange: pageRange, Logger: logger})
			if err != nil {
				return nil, err
			}
			for _, p := range pages {
				for _, img := range p.Images {
					inputs = append(inputs, inputImage{File: arg, Page: p.Number, Image: img})
				}
			}
			continue
		}
		img, _, err := utils.LoadImage(arg)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, inputImage{File: arg, Image: img})
	}
	return inputs, nil
}

// findImages lists supported images under dir in lexical order.
func findImages(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && utils.IsSupportedImage(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	return files, nil
}

func writeResults(w io.Writer, format string, results []FileResult) error {
	if format == formatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	for _, r := range results {
		name := r.File
		if r.Page > 0 {
			name = fmt.Sprintf("%s:%d", r.File, r.Page)
		}
		line := r.Text
		if r.Error != "" {
			line = "error: " + r.Error
		}
		if _, err := fmt.Fprintf(w, "%s\t%s\n", name, line); err != nil {
			return err
		}
	}
	return nil
}

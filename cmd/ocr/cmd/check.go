package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/m2i-duo/mandoc-ocr-api/internal/config"
	"github.com/m2i-duo/mandoc-ocr-api/internal/models"
	"github.com/m2i-duo/mandoc-ocr-api/internal/ocr"
	"github.com/m2i-duo/mandoc-ocr-api/internal/onnx"
	"github.com/spf13/cobra"
)

// checkCmd represents the check command.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check ONNX Runtime and model files",
	Long: `Check that the recognition backends can start.

This command verifies:
- ONNX Runtime can be located and loaded
- The models directory holds a character list and a snapshot
- The Tesseract library is linked (for the tesseract engine)`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintln(out, "Checking recognition setup...")
	_, _ = fmt.Fprintln(out)

	failed := 0
	for _, c := range []func(io.Writer, *config.Config) bool{
		checkRuntime, checkModelFiles, checkOCREngine,
	} {
		if !c(out, cfg) {
			failed++
		}
	}

	_, _ = fmt.Fprintln(out)
	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	_, _ = fmt.Fprintln(out, "All checks passed.")
	return nil
}

func report(w io.Writer, ok bool, format string, args ...any) bool {
	mark := "ok  "
	if !ok {
		mark = "FAIL"
	}
	_, _ = fmt.Fprintf(w, "[%s] %s\n", mark, fmt.Sprintf(format, args...))
	return ok
}

func checkRuntime(w io.Writer, cfg *config.Config) bool {
	path, err := onnx.ResolveLibraryPath(cfg.Decoder.LibraryPath, cfg.GPU.Enabled)
	if err != nil {
		return report(w, false, "ONNX Runtime library: %v", err)
	}
	if err := onnx.Initialize(path, cfg.GPU.Enabled); err != nil {
		return report(w, false, "ONNX Runtime: %v", err)
	}
	return report(w, true, "ONNX Runtime: %s", path)
}

func checkModelFiles(w io.Writer, cfg *config.Config) bool {
	ok := true
	charList := models.GetCharListPath(cfg.ModelsDir)
	if _, err := os.Stat(charList); err != nil {
		ok = report(w, false, "character list: %s not found", charList)
	} else {
		report(w, true, "character list: %s", charList)
	}

	dir := models.GetCheckpointDir(cfg.ModelsDir)
	snap, found, err := models.LatestSnapshot(dir)
	switch {
	case err != nil:
		ok = report(w, false, "snapshots: %v", err)
	case !found:
		ok = report(w, false, "snapshots: none in %s", dir)
	default:
		report(w, true, "snapshot: %s (epoch %d)", snap.Path, snap.Epoch)
	}
	return ok
}

func checkOCREngine(w io.Writer, cfg *config.Config) bool {
	if cfg.OCR.Engine != ocr.EngineTesseract {
		return report(w, true, "OCR engine: %s", cfg.OCR.Engine)
	}
	v := ocr.TesseractVersion()
	if v == "" {
		return report(w, false, "Tesseract: version unavailable")
	}
	return report(w, true, "Tesseract: %s (language %s)", v, cfg.OCR.Language)
}

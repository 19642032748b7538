package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/m2i-duo/mandoc-ocr-api/internal/common"
	"github.com/m2i-duo/mandoc-ocr-api/internal/segment"
	"github.com/m2i-duo/mandoc-ocr-api/internal/utils"
	"github.com/spf13/cobra"
)

// segmentCmd represents the segment command.
var segmentCmd = &cobra.Command{
	Use:   "segment <image>",
	Short: "Split a scan into word images",
	Long: `Split a scanned line or page into word images without recognizing them.

Words are written as word_000.png, word_001.png, ... in reading order and
their boxes are printed as JSON.

Examples:
  mandoc segment line.png --out words/
  mandoc segment page.png --out words/ --direction rtl`,
	Args: cobra.ExactArgs(1),
	RunE: runSegment,
}

func init() {
	rootCmd.AddCommand(segmentCmd)
	segmentCmd.Flags().StringP("out", "o", "", "directory for the word images (required)")
	segmentCmd.Flags().String("direction", "", "reading order: ltr or rtl (default from segmenter.direction)")
	segmentCmd.Flags().Bool("reverse", false, "reverse the final word order")
	_ = segmentCmd.MarkFlagRequired("out")
}

// SegmentedWord describes one written word image.
type SegmentedWord struct {
	File string      `json:"file"`
	Row  int         `json:"row"`
	Box  segment.Box `json:"box"`
}

func runSegment(cmd *cobra.Command, args []string) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("direction") {
		cfg.Segmenter.Direction, _ = flags.GetString("direction")
	}
	if flags.Changed("reverse") {
		cfg.Segmenter.ReverseOutput, _ = flags.GetBool("reverse")
	}
	segCfg, err := cfg.ToSegmenterConfig()
	if err != nil {
		return err
	}
	segCfg.Logger = slog.Default()
	seg, err := segment.New(segCfg)
	if err != nil {
		return err
	}

	timer := common.NewNamedTimer("segment")
	img, err := utils.LoadGray(args[0])
	if err != nil {
		return err
	}
	timer.Lap("load")
	outDir, _ := flags.GetString("out")
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	words := seg.Segment(img)
	timer.Lap("split")

	written := make([]SegmentedWord, 0, len(words))
	for i, w := range words {
		path := filepath.Join(outDir, fmt.Sprintf("word_%03d.png", i))
		if err := utils.SavePNG(path, w.Image); err != nil {
			return err
		}
		written = append(written, SegmentedWord{File: path, Row: w.Row, Box: w.Box})
	}
	timer.Lap("write")
	slog.Info("Segmented image", "file", args[0], "words", len(words), "timing", timer)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(written)
}

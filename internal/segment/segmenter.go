// Package segment splits a scanned text image into ordered word crops.
package segment

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log/slog"
	"slices"

	"github.com/m2i-duo/mandoc-ocr-api/internal/utils"
)

// Config holds segmentation parameters.
type Config struct {
	Method        ThresholdMethod
	BlockSize     int
	C             float64
	SauvolaK      float64
	SauvolaWindow int

	Kernel  Kernel
	MinArea int
	Padding int

	Direction Direction
	// ReverseOutput reverses the final word sequence after row ordering.
	ReverseOutput bool

	Logger *slog.Logger
}

// DefaultConfig returns the parameters used for handwritten line scans.
func DefaultConfig() Config {
	return Config{
		Method:        MethodGaussian,
		BlockSize:     11,
		C:             2,
		SauvolaK:      utils.DefaultSauvolaK,
		SauvolaWindow: utils.DefaultSauvolaWindow,
		Kernel:        Kernel{Width: 7, Height: 3},
		MinArea:       50,
		Padding:       8,
		Direction:     LeftToRight,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Method == MethodGaussian && (c.BlockSize < 3 || c.BlockSize%2 == 0) {
		return fmt.Errorf("block size must be odd and >= 3, got %d", c.BlockSize)
	}
	if !c.Kernel.Valid() {
		return fmt.Errorf("invalid kernel %dx%d", c.Kernel.Width, c.Kernel.Height)
	}
	if c.MinArea < 0 {
		return fmt.Errorf("min area must be >= 0, got %d", c.MinArea)
	}
	if c.Padding < 0 {
		return fmt.Errorf("padding must be >= 0, got %d", c.Padding)
	}
	if c.Direction != LeftToRight && c.Direction != RightToLeft {
		return fmt.Errorf("invalid direction: %v", c.Direction)
	}
	return nil
}

// Word is one cropped, padded word image.
type Word struct {
	Image *image.Gray
	Box   Box
	Row   int
}

// Segmenter is safe for concurrent use; it holds only immutable configuration.
type Segmenter struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a segmenter.
func New(cfg Config) (*Segmenter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Segmenter{cfg: cfg, logger: logger}, nil
}

// Config returns the segmenter configuration.
func (s *Segmenter) Config() Config { return s.cfg }

// Segment returns the word crops of img in reading order. It never fails:
// internal errors are logged and produce an empty result.
func (s *Segmenter) Segment(img *image.Gray) (words []Word) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("segmentation failed", "panic", r)
			words = nil
		}
	}()

	out, err := s.segment(img)
	if err != nil {
		s.logger.Warn("segmentation failed", "error", err)
		return nil
	}
	s.logger.Debug("segmented image", "words", len(out), "direction", s.cfg.Direction.String(), "reverse", s.cfg.ReverseOutput)
	return out
}

// Boxes runs binarization, closing, labeling and ordering, returning the word
// boxes with their row index.
func (s *Segmenter) Boxes(img *image.Gray) ([]Box, []int, error) {
	if img == nil {
		return nil, nil, errors.New("input image is nil")
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, nil, nil
	}
	src := utils.ToGray(img)

	var bin *image.Gray
	switch s.cfg.Method {
	case MethodGaussian:
		var err error
		bin, err = AdaptiveThreshold(src, s.cfg.BlockSize, s.cfg.C)
		if err != nil {
			return nil, nil, fmt.Errorf("threshold: %w", err)
		}
	case MethodSauvola:
		bin = SauvolaThreshold(src, s.cfg.SauvolaK, s.cfg.SauvolaWindow)
	default:
		return nil, nil, fmt.Errorf("unsupported threshold method: %v", s.cfg.Method)
	}

	closed, err := Close(bin, s.cfg.Kernel)
	if err != nil {
		return nil, nil, fmt.Errorf("closing: %w", err)
	}

	boxes := FilterByArea(Components(closed), s.cfg.MinArea)
	ordered, rows := OrderBoxes(GroupRows(boxes), s.cfg.Direction)
	if s.cfg.ReverseOutput {
		slices.Reverse(ordered)
		slices.Reverse(rows)
	}
	return ordered, rows, nil
}

func (s *Segmenter) segment(img *image.Gray) ([]Word, error) {
	boxes, rows, err := s.Boxes(img)
	if err != nil {
		return nil, err
	}
	src := utils.ToGray(img)
	words := make([]Word, len(boxes))
	for i, box := range boxes {
		words[i] = Word{Image: CropPadded(src, box, s.cfg.Padding), Box: box, Row: rows[i]}
	}
	return words, nil
}

// CropPadded copies box out of img and surrounds it with pad white pixels.
func CropPadded(img *image.Gray, box Box, pad int) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, box.W+2*pad, box.H+2*pad))
	draw.Draw(out, out.Bounds(), &image.Uniform{C: color.Gray{Y: 255}}, image.Point{}, draw.Src)
	r := box.Rect().Add(img.Bounds().Min)
	draw.Draw(out, image.Rect(pad, pad, pad+box.W, pad+box.H), img, r.Min, draw.Src)
	return out
}

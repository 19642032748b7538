// Package normalize turns grayscale word images into the fixed-size,
// zero-mean tensors the sequence model consumes.
package normalize

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"math/rand/v2"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/m2i-duo/mandoc-ocr-api/internal/utils"
)

// Model input geometry.
const (
	DefaultWidth  = 128
	DefaultHeight = 32

	// DefaultBinaryThreshold matches the monochrome conversion cutoff.
	DefaultBinaryThreshold = 127

	background = 255
)

// BinarizeMethod selects an optional binarization before scaling.
type BinarizeMethod int

const (
	BinarizeNone BinarizeMethod = iota
	BinarizeThreshold
	BinarizeSauvola
)

// String returns the config name of the method.
func (m BinarizeMethod) String() string {
	switch m {
	case BinarizeNone:
		return "none"
	case BinarizeThreshold:
		return "threshold"
	case BinarizeSauvola:
		return "sauvola"
	default:
		return fmt.Sprintf("BinarizeMethod(%d)", int(m))
	}
}

// ParseBinarizeMethod parses "none", "threshold" or "sauvola".
func ParseBinarizeMethod(s string) (BinarizeMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return BinarizeNone, nil
	case "threshold", "monochrome":
		return BinarizeThreshold, nil
	case "sauvola":
		return BinarizeSauvola, nil
	default:
		return BinarizeNone, fmt.Errorf("unknown binarize method: %q", s)
	}
}

// Options controls Normalize.
type Options struct {
	Width  int
	Height int

	// Augment applies a random horizontal stretch in [-0.5, 0.5].
	Augment bool
	// Rand drives augmentation; a nil Rand uses the global source.
	Rand *rand.Rand

	Binarize  BinarizeMethod
	Threshold uint8
}

// DefaultOptions returns the 128x32 geometry without augmentation.
func DefaultOptions() Options {
	return Options{
		Width:     DefaultWidth,
		Height:    DefaultHeight,
		Threshold: DefaultBinaryThreshold,
	}
}

// Tensor is a normalized image stored transposed: Width rows of Height values,
// so the first axis is the time axis of the sequence model.
type Tensor struct {
	Data   []float32
	Width  int
	Height int
}

// At returns the value at image column x and row y.
func (t Tensor) At(x, y int) float32 {
	return t.Data[x*t.Height+y]
}

// Rows returns the tensor as Width slices of Height values sharing Data.
func (t Tensor) Rows() [][]float32 {
	out := make([][]float32, t.Width)
	for x := range t.Width {
		out[x] = t.Data[x*t.Height : (x+1)*t.Height]
	}
	return out
}

// Normalize scales img into a Width x Height white canvas anchored at the
// top-left, transposes it and standardizes it to zero mean and unit variance.
func Normalize(img *image.Gray, opts Options) (Tensor, error) {
	if img == nil {
		return Tensor{}, errors.New("input image is nil")
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		return Tensor{}, fmt.Errorf("invalid target size %dx%d", opts.Width, opts.Height)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return Tensor{}, fmt.Errorf("invalid image size %dx%d", b.Dx(), b.Dy())
	}

	src := utils.ToGray(img)
	switch opts.Binarize {
	case BinarizeThreshold:
		src = utils.Threshold(src, opts.Threshold)
	case BinarizeSauvola:
		src = utils.Sauvola(src, 0, 0)
	case BinarizeNone:
	default:
		return Tensor{}, fmt.Errorf("unsupported binarize method: %v", opts.Binarize)
	}

	if opts.Augment {
		src = stretch(src, opts.Rand)
	}

	canvas := fit(src, opts.Width, opts.Height)
	return standardize(canvas, opts.Width, opts.Height), nil
}

// Batch normalizes every image with the same options.
func Batch(imgs []*image.Gray, opts Options) ([]Tensor, error) {
	out := make([]Tensor, len(imgs))
	for i, img := range imgs {
		t, err := Normalize(img, opts)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		out[i] = t
	}
	return out, nil
}

func stretch(img *image.Gray, r *rand.Rand) *image.Gray {
	var u float64
	if r != nil {
		u = r.Float64()
	} else {
		u = rand.Float64() //nolint:gosec // augmentation, not security
	}
	s := u - 0.5
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	nw := max(int(float64(w)*(1+s)), 1)
	if nw == w {
		return img
	}
	return utils.ToGray(imaging.Resize(img, nw, h, imaging.Linear))
}

// fit resizes img so neither side exceeds the target and pastes it onto a white canvas.
func fit(img *image.Gray, width, height int) *image.Gray {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	f := math.Max(float64(w)/float64(width), float64(h)/float64(height))
	nw := max(min(width, int(float64(w)/f)), 1)
	nh := max(min(height, int(float64(h)/f)), 1)

	var resized image.Image = img
	if nw != w || nh != h {
		resized = imaging.Resize(img, nw, nh, imaging.Linear)
	}

	canvas := imaging.New(width, height, color.Gray{Y: background})
	canvas = imaging.Paste(canvas, resized, image.Pt(0, 0))
	return utils.ToGray(canvas)
}

// standardize transposes the canvas and applies (v - mean) / std, skipping
// the division when std is zero.
func standardize(canvas *image.Gray, width, height int) Tensor {
	n := width * height
	data := make([]float32, n)

	var sum float64
	for x := range width {
		for y := range height {
			v := float64(canvas.Pix[y*canvas.Stride+x])
			data[x*height+y] = float32(v)
			sum += v
		}
	}
	mean := sum / float64(n)

	var sq float64
	for _, v := range data {
		d := float64(v) - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(n))

	for i, v := range data {
		d := float64(v) - mean
		if std > 0 {
			d /= std
		}
		data[i] = float32(d)
	}
	return Tensor{Data: data, Width: width, Height: height}
}

package segment

import (
	"fmt"
	"image"
	"math"
	"strings"

	"github.com/m2i-duo/mandoc-ocr-api/internal/mempool"
	"github.com/m2i-duo/mandoc-ocr-api/internal/utils"
)

// Foreground and background values of a binary mask.
const (
	Foreground uint8 = 255
	Background uint8 = 0
)

// ThresholdMethod selects how the scan is binarized before component analysis.
type ThresholdMethod int

const (
	// MethodGaussian is an inverted adaptive threshold against a Gaussian-weighted local mean.
	MethodGaussian ThresholdMethod = iota
	// MethodSauvola uses Sauvola binarization, inverted so ink is foreground.
	MethodSauvola
)

func (m ThresholdMethod) String() string {
	switch m {
	case MethodGaussian:
		return "gaussian"
	case MethodSauvola:
		return "sauvola"
	default:
		return fmt.Sprintf("ThresholdMethod(%d)", int(m))
	}
}

// ParseThresholdMethod parses "gaussian" or "sauvola".
func ParseThresholdMethod(s string) (ThresholdMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "gaussian", "adaptive":
		return MethodGaussian, nil
	case "sauvola":
		return MethodSauvola, nil
	default:
		return MethodGaussian, fmt.Errorf("unknown threshold method: %q", s)
	}
}

// gaussianKernel returns a normalized 1-D kernel; sigma is derived from the
// size when not positive.
func gaussianKernel(size int, sigma float64) []float64 {
	if sigma <= 0 {
		sigma = 0.3*(float64(size-1)*0.5-1) + 0.8
	}
	k := make([]float64, size)
	half := float64(size-1) / 2
	var sum float64
	for i := range k {
		d := float64(i) - half
		k[i] = math.Exp(-(d * d) / (2 * sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// gaussianBlur smooths img with a separable kernel and replicated borders.
func gaussianBlur(img *image.Gray, size int) []uint8 {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	k := gaussianKernel(size, 0)
	r := size / 2

	tmp := mempool.GetFloat32(w * h)
	defer mempool.PutFloat32(tmp)

	for y := range h {
		row := img.Pix[y*img.Stride : y*img.Stride+w]
		for x := range w {
			var acc float64
			for i, kv := range k {
				acc += kv * float64(row[clamp(x+i-r, 0, w-1)])
			}
			tmp[y*w+x] = float32(acc)
		}
	}

	out := make([]uint8, w*h)
	for y := range h {
		for x := range w {
			var acc float64
			for i, kv := range k {
				acc += kv * float64(tmp[clamp(y+i-r, 0, h-1)*w+x])
			}
			out[y*w+x] = uint8(math.Min(255, math.Max(0, math.Round(acc))))
		}
	}
	return out
}

// AdaptiveThreshold marks a pixel as foreground when it is at least c darker
// than the Gaussian-weighted mean of its blockSize neighborhood. blockSize
// must be odd and greater than 1.
func AdaptiveThreshold(img *image.Gray, blockSize int, c float64) (*image.Gray, error) {
	if blockSize < 3 || blockSize%2 == 0 {
		return nil, fmt.Errorf("block size must be odd and >= 3, got %d", blockSize)
	}
	src := utils.ToGray(img)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	mean := gaussianBlur(src, blockSize)

	delta := int(math.Floor(c))
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			v := int(src.Pix[y*src.Stride+x])
			if v-int(mean[y*w+x]) <= -delta {
				out.Pix[y*out.Stride+x] = Foreground
			}
		}
	}
	return out, nil
}

// SauvolaThreshold binarizes with Sauvola and inverts the result so ink is foreground.
func SauvolaThreshold(img *image.Gray, k float64, window int) *image.Gray {
	bin := utils.Sauvola(img, k, window)
	w, h := bin.Bounds().Dx(), bin.Bounds().Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			if bin.GrayAt(bin.Rect.Min.X+x, bin.Rect.Min.Y+y).Y < 128 {
				out.Pix[y*out.Stride+x] = Foreground
			}
		}
	}
	return out
}

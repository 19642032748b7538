package segment

import (
	"fmt"
	"image"
)

// Kernel is a rectangular structuring element anchored at its center.
type Kernel struct {
	Width  int
	Height int
}

// Valid reports whether both sides are positive.
func (k Kernel) Valid() bool { return k.Width > 0 && k.Height > 0 }

// Dilate replaces each pixel by the maximum under the kernel. Pixels outside
// the image are ignored.
func Dilate(mask *image.Gray, k Kernel) *image.Gray {
	return rankFilter(mask, k, true)
}

// Erode replaces each pixel by the minimum under the kernel. Pixels outside
// the image are ignored.
func Erode(mask *image.Gray, k Kernel) *image.Gray {
	return rankFilter(mask, k, false)
}

// Close dilates then erodes, joining strokes closer than the kernel.
func Close(mask *image.Gray, k Kernel) (*image.Gray, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid kernel %dx%d", k.Width, k.Height)
	}
	return Erode(Dilate(mask, k), k), nil
}

// rankFilter runs a separable max or min filter: rows first, then columns.
func rankFilter(mask *image.Gray, k Kernel, takeMax bool) *image.Gray {
	w, h := mask.Bounds().Dx(), mask.Bounds().Dy()
	ax, ay := k.Width/2, k.Height/2

	pick := func(a, b uint8) uint8 {
		if takeMax == (b > a) {
			return b
		}
		return a
	}

	rows := image.NewGray(image.Rect(0, 0, w, h))
	for y := range h {
		src := mask.Pix[mask.PixOffset(mask.Rect.Min.X, mask.Rect.Min.Y+y):]
		for x := range w {
			lo, hi := max(x-ax, 0), min(x-ax+k.Width-1, w-1)
			v := src[lo]
			for i := lo + 1; i <= hi; i++ {
				v = pick(v, src[i])
			}
			rows.Pix[y*rows.Stride+x] = v
		}
	}

	out := image.NewGray(image.Rect(0, 0, w, h))
	for x := range w {
		for y := range h {
			lo, hi := max(y-ay, 0), min(y-ay+k.Height-1, h-1)
			v := rows.Pix[lo*rows.Stride+x]
			for i := lo + 1; i <= hi; i++ {
				v = pick(v, rows.Pix[i*rows.Stride+x])
			}
			out.Pix[y*out.Stride+x] = v
		}
	}
	return out
}

package utils

import (
	"image"

	"rescribe.xyz/preproc"
)

// Default Sauvola parameters for word-sized crops.
const (
	DefaultSauvolaK      = 0.3
	DefaultSauvolaWindow = 19
)

// Threshold maps pixels below t to 0 and all others to 255.
func Threshold(img *image.Gray, t uint8) *image.Gray {
	src := ToGray(img)
	b := src.Bounds()
	out := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if src.GrayAt(x, y).Y >= t {
				out.Pix[out.PixOffset(x, y)] = 255
			}
		}
	}
	return out
}

// Sauvola binarizes img with a locally adaptive threshold. Text becomes 0, background 255.
func Sauvola(img *image.Gray, k float64, window int) *image.Gray {
	if k <= 0 {
		k = DefaultSauvolaK
	}
	if window <= 0 {
		window = DefaultSauvolaWindow
	}
	if window%2 == 0 {
		window++
	}
	return preproc.IntegralSauvola(ToGray(img), k, window)
}

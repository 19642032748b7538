package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Page returns a white grayscale image with black filled rectangles.
func Page(w, h int, rects ...image.Rectangle) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	for _, r := range rects {
		draw.Draw(img, r, image.NewUniform(color.Black), image.Point{}, draw.Src)
	}
	return img
}

// TwoWords returns a 200x60 page holding two word-like blobs on one row,
// the left one first.
func TwoWords() (*image.Gray, [2]image.Rectangle) {
	left := image.Rect(20, 20, 60, 40)
	right := image.Rect(120, 22, 170, 40)
	return Page(200, 60, left, right), [2]image.Rectangle{left, right}
}

// TextImage renders text in black on white with the 7x13 bitmap font,
// enlarged by scale with nearest-neighbor sampling.
func TextImage(text string, scale int) *image.Gray {
	face := basicfont.Face7x13
	w := font.MeasureString(face, text).Ceil() + 8
	h := face.Metrics().Height.Ceil() + 8
	img := image.NewGray(image.Rect(0, 0, max(w, 1), h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.Black),
		Face: face,
		Dot:  fixed.P(4, 4+face.Metrics().Ascent.Ceil()),
	}
	d.DrawString(text)

	if scale <= 1 {
		return img
	}
	scaled := imaging.Resize(img, img.Bounds().Dx()*scale, 0, imaging.NearestNeighbor)
	gray := image.NewGray(scaled.Bounds())
	draw.Draw(gray, gray.Bounds(), scaled, scaled.Bounds().Min, draw.Src)
	return gray
}

// EncodePNG encodes img as PNG.
func EncodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// SaveImage writes img as PNG, creating parent directories.
func SaveImage(t *testing.T, img image.Image, path string) {
	t.Helper()
	require.NoError(t, EnsureDir(filepath.Dir(path)))
	require.NoError(t, os.WriteFile(path, EncodePNG(t, img), 0o600))
}

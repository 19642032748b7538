package utils

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSupportedImage(t *testing.T) {
	cases := []struct {
		path string
		ok   bool
	}{
		{"a.jpg", true},
		{"b.jpeg", true},
		{"c.PNG", true},
		{"d.bmp", true},
		{"e.tiff", true},
		{"f.gif", false},
		{"noext", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, IsSupportedImage(c.path), c.path)
	}
}

func TestIsSupportedContentType(t *testing.T) {
	assert.True(t, IsSupportedContentType("image/png"))
	assert.True(t, IsSupportedContentType("IMAGE/JPEG"))
	assert.True(t, IsSupportedContentType("image/png; charset=binary"))
	assert.False(t, IsSupportedContentType("application/pdf"))
	assert.False(t, IsSupportedContentType(""))
}

func writeTempPNG(t *testing.T, dir string, w, h int, col color.Color) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, col)
		}
	}
	path := filepath.Join(dir, "test.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, f.Close())
	}()
	require.NoError(t, png.Encode(f, img))
	return path
}

func TestLoadImageAndMetadata(t *testing.T) {
	dir := t.TempDir()
	p := writeTempPNG(t, dir, 10, 20, color.RGBA{R: 10, G: 20, B: 30, A: 255})

	img, meta, err := LoadImage(p)
	require.NoError(t, err)
	require.NotNil(t, img)
	assert.Equal(t, "png", meta.Format)
	assert.Equal(t, 10, meta.Width)
	assert.Equal(t, 20, meta.Height)
	assert.Positive(t, meta.SizeBytes)

	gray, err := LoadGray(p)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 10, 20), gray.Bounds())
}

func TestLoadImage_Errors(t *testing.T) {
	_, _, err := LoadImage("")
	var ipe *ImageProcessingError
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, "load", ipe.Operation)

	_, _, err = LoadImage("file.gif")
	require.Error(t, err)

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.png")
	require.NoError(t, os.WriteFile(bad, []byte("not an image"), 0o600))
	_, _, err = LoadImage(bad)
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, "decode", ipe.Operation)
}

func TestDecodeGray(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 3))
	for y := range 3 {
		for x := range 4 {
			src.Set(x, y, color.RGBA{R: 200, G: 200, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))

	g, format, err := DecodeGray(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 4, g.Bounds().Dx())
	assert.Equal(t, uint8(200), g.GrayAt(1, 1).Y)

	buf.Reset()
	require.NoError(t, jpeg.Encode(&buf, src, nil))
	_, format, err = DecodeGray(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
}

func TestDecodeGray_Malformed(t *testing.T) {
	for _, data := range [][]byte{nil, []byte("garbage bytes")} {
		_, _, err := DecodeGray(data)
		var de *DecodeError
		require.ErrorAs(t, err, &de)
		assert.Contains(t, err.Error(), "failed to decode image")
	}
}

func TestToGray_SubImageRebased(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 10, 10))
	g.SetGray(5, 5, color.Gray{Y: 42})
	sub := g.SubImage(image.Rect(4, 4, 8, 8)).(*image.Gray)

	out := ToGray(sub)
	assert.Equal(t, image.Rect(0, 0, 4, 4), out.Bounds())
	assert.Equal(t, uint8(42), out.GrayAt(1, 1).Y)

	clone := CloneGray(sub)
	assert.Equal(t, out.Pix, clone.Pix)
}

func TestBase64RoundTrip_PixelIdentical(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 17, 9))
	for i := range g.Pix {
		g.Pix[i] = uint8(i * 7 % 256)
	}

	s, err := EncodeBase64PNG(g)
	require.NoError(t, err)

	back, err := DecodeBase64Gray(s)
	require.NoError(t, err)
	assert.Equal(t, g.Bounds(), back.Bounds())
	assert.Equal(t, g.Pix, back.Pix)

	_, err = DecodeBase64Gray("%%%")
	var de *DecodeError
	assert.True(t, errors.As(err, &de))
}

func TestSavePNG(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "nested", "w.png")
	require.NoError(t, SavePNG(p, image.NewGray(image.Rect(0, 0, 3, 3))))
	_, err := os.Stat(p)
	assert.NoError(t, err)
}

func TestThreshold(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 3, 1))
	g.Pix = []uint8{10, 128, 250}

	out := Threshold(g, 128)
	assert.Equal(t, []uint8{0, 255, 255}, out.Pix)

	out = Threshold(g, 127)
	assert.Equal(t, []uint8{0, 255, 255}, out.Pix)

	out = Threshold(g, 129)
	assert.Equal(t, []uint8{0, 0, 255}, out.Pix)
}

func TestSauvola_WhitePageStaysWhite(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 40, 40))
	for i := range g.Pix {
		g.Pix[i] = 255
	}
	for y := 15; y < 25; y++ {
		for x := 10; x < 30; x++ {
			g.SetGray(x, y, color.Gray{Y: 0})
		}
	}
	out := Sauvola(g, 0, 0)
	require.Equal(t, g.Bounds(), out.Bounds())
	assert.Equal(t, uint8(255), out.GrayAt(1, 1).Y)
	assert.Equal(t, uint8(0), out.GrayAt(20, 20).Y)
}

package utils

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// SupportedImageExtensions lists supported file extensions for loading.
var SupportedImageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".tif", ".tiff"}

// SupportedContentTypes lists the upload content types accepted at ingress.
var SupportedContentTypes = []string{"image/png", "image/jpeg", "image/jpg", "image/bmp", "image/tiff"}

// IsSupportedImage reports whether the path has a supported image extension.
func IsSupportedImage(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range SupportedImageExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// IsSupportedContentType reports whether a MIME type (parameters ignored) is accepted.
func IsSupportedContentType(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	for _, s := range SupportedContentTypes {
		if ct == s {
			return true
		}
	}
	return false
}

// ImageMetadata captures lightweight file and pixel information.
type ImageMetadata struct {
	Path      string
	Format    string
	SizeBytes int64
	Width     int
	Height    int
}

// LoadImage opens and decodes an image file, returning the image and metadata.
func LoadImage(path string) (image.Image, ImageMetadata, error) {
	if path == "" {
		return nil, ImageMetadata{}, &ImageProcessingError{Operation: "load", Err: errors.New("empty path")}
	}
	if !IsSupportedImage(path) {
		err := &ImageProcessingError{Operation: "load", Err: fmt.Errorf("unsupported format: %s", filepath.Ext(path))}
		return nil, ImageMetadata{}, err
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: reading a user-provided image path is expected
	if err != nil {
		return nil, ImageMetadata{}, &ImageProcessingError{Operation: "load", Err: err}
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, ImageMetadata{}, &ImageProcessingError{Operation: "decode", Err: err}
	}

	b := img.Bounds()
	meta := ImageMetadata{
		Path:      path,
		Format:    format,
		SizeBytes: int64(len(data)),
		Width:     b.Dx(),
		Height:    b.Dy(),
	}
	return img, meta, nil
}

// LoadGray loads an image file as an 8-bit grayscale image.
func LoadGray(path string) (*image.Gray, error) {
	img, _, err := LoadImage(path)
	if err != nil {
		return nil, err
	}
	return ToGray(img), nil
}

// DecodeGray decodes encoded image bytes into a grayscale image.
// Malformed or empty input yields a *DecodeError.
func DecodeGray(data []byte) (*image.Gray, string, error) {
	if len(data) == 0 {
		return nil, "", &DecodeError{Err: errors.New("empty image data")}
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", &DecodeError{Err: err}
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, format, &DecodeError{Err: fmt.Errorf("invalid dimensions %dx%d", b.Dx(), b.Dy())}
	}
	return ToGray(img), format, nil
}

// ToGray converts any image to *image.Gray with origin (0,0).
// Images that already are grayscale with a zero origin are returned as is.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}

// CloneGray returns a deep copy of img rebased to the origin.
func CloneGray(img *image.Gray) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		copy(out.Pix[y*out.Stride:y*out.Stride+b.Dx()], img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):])
	}
	return out
}

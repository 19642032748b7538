package utils

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
)

// EncodePNG encodes img losslessly.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, &ImageProcessingError{Operation: "encode", Err: err}
	}
	return buf.Bytes(), nil
}

// EncodeBase64PNG returns the standard base64 encoding of img as PNG.
func EncodeBase64PNG(img image.Image) (string, error) {
	data, err := EncodePNG(img)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeBase64Gray reverses EncodeBase64PNG.
func DecodeBase64Gray(s string) (*image.Gray, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("invalid base64: %w", err)}
	}
	img, _, err := DecodeGray(data)
	return img, err
}

// SavePNG writes img to path as PNG, creating parent directories.
func SavePNG(path string, img image.Image) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return &ImageProcessingError{Operation: "save", Err: err}
		}
	}
	data, err := EncodePNG(img)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return &ImageProcessingError{Operation: "save", Err: err}
	}
	return nil
}

package utils

import "fmt"

// ImageProcessingError represents errors that can occur during image processing.
type ImageProcessingError struct {
	Operation string
	Err       error
}

func (e *ImageProcessingError) Error() string {
	return fmt.Sprintf("image processing error in %s: %v", e.Operation, e.Err)
}

func (e *ImageProcessingError) Unwrap() error { return e.Err }

// DecodeError reports input bytes that are not a valid image.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

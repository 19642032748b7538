package ocr

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyImage is returned for nil or zero-sized input.
	ErrEmptyImage = errors.New("image is empty")
	// ErrEngineUnavailable is returned when the backend cannot be reached or created.
	ErrEngineUnavailable = errors.New("OCR engine unavailable")
	// ErrMissingCredentials is returned when no cloud credentials can be found.
	ErrMissingCredentials = errors.New("missing Google Cloud credentials: set GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS")
	// ErrUnknownEngine is returned by NewEngine for an unsupported engine name.
	ErrUnknownEngine = errors.New("unknown OCR engine")
)

// EngineError wraps a backend failure with the operation and engine name.
type EngineError struct {
	Op     string
	Engine string
	Err    error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("ocr: %s %s failed: %v", e.Engine, e.Op, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

func wrap(engine, op string, err error) error {
	if err == nil {
		return nil
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return err
	}
	return &EngineError{Op: op, Engine: engine, Err: err}
}

package pipeline

import "errors"

var (
	ErrUnknownMode  = errors.New("unknown recognition mode")
	ErrNoRecognizer = errors.New("no word recognizer configured")
)

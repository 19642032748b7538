package recognizer

import (
	"errors"
	"fmt"
)

var (
	// ErrModelNotLoaded is returned when inference runs without a network.
	ErrModelNotLoaded = errors.New("recognition model is not loaded")
	// ErrTrainingUnsupported is returned when the network cannot be trained.
	ErrTrainingUnsupported = errors.New("network does not support training")
)

// ModelNotFoundError reports a missing checkpoint when one is required.
type ModelNotFoundError struct {
	Dir string
}

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("no model checkpoint found in %s", e.Dir)
}

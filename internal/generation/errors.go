package generation

import (
	"errors"
	"fmt"
)

var (
	ErrGenerationFailed = errors.New("generation failed")
	ErrRegistryClosed   = errors.New("generation registry closed")
	ErrInvalidStart     = errors.New("start-generation requires an id")
)

// GenerationError is the terminal failure of a single run. It reaches clients
// as a failed update carrying Reason and the progress reached.
type GenerationError struct {
	JobID    string
	Progress int
	Reason   string
	Code     string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation %s failed at %d%%: %s", e.JobID, e.Progress, e.Reason)
}

func (e *GenerationError) Unwrap() error { return ErrGenerationFailed }

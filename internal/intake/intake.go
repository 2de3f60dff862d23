// Package intake validates prompts and turns them into new generation records.
package intake

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/cadence/pkg/models"
)

// MaxPromptRunes bounds the accepted prompt length.
const MaxPromptRunes = 2000

var (
	ErrInvalidPrompt       = errors.New("invalid prompt")
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// ValidationError describes why a prompt was rejected.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return ErrInvalidPrompt }

// Validate trims raw and checks it is usable as a prompt.
func Validate(raw string) (string, error) {
	prompt := strings.TrimSpace(raw)
	if prompt == "" {
		return "", &ValidationError{Message: "Prompt is required and must be a non-empty string"}
	}
	if utf8.RuneCountInString(prompt) > MaxPromptRunes {
		return "", &ValidationError{
			Message: fmt.Sprintf("Prompt must be at most %d characters", MaxPromptRunes),
		}
	}
	return prompt, nil
}

// NewGeneration validates raw and builds a pending generation created at now.
// The caller registers it with a store and starts generation.
func NewGeneration(raw string, now time.Time) (*models.Generation, error) {
	prompt, err := Validate(raw)
	if err != nil {
		return nil, err
	}
	return &models.Generation{
		ID:        NewID(now),
		Prompt:    prompt,
		Status:    models.StatusPending,
		Progress:  0,
		CreatedAt: now.UTC(),
	}, nil
}

var (
	idMu       sync.Mutex
	lastMillis int64
)

// NewID returns gen_<millis>_<random>. The millisecond component is strictly
// increasing within the process so ids are never reused; the random suffix
// keeps ids from separate processes apart.
func NewID(now time.Time) string {
	idMu.Lock()
	ms := now.UnixMilli()
	if ms <= lastMillis {
		ms = lastMillis + 1
	}
	lastMillis = ms
	idMu.Unlock()

	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("gen_%d_%s", ms, suffix)
}

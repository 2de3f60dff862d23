package models

import (
	"encoding/json"
	"time"
)

// Realtime event names.
const (
	EventStartGeneration  = "start-generation"
	EventGenerationUpdate = "generation-update"
)

// Error codes carried alongside failures.
const (
	CodeGenerationFailed    = "generation_failed"
	CodeInsufficientCredits = "insufficient_credits"
)

// Envelope frames every realtime message.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// StartGeneration is sent by the client to begin streaming progress for a job.
type StartGeneration struct {
	ID     string `json:"id"`
	Prompt string `json:"prompt"`
}

// GenerationUpdate is an incremental or terminal state change for one job.
// Optional fields are only set once known and must be merged, not overwritten.
type GenerationUpdate struct {
	ID           string     `json:"id"`
	Status       Status     `json:"status"`
	Progress     int        `json:"progress"`
	Title        string     `json:"title,omitempty"`
	AudioURL     string     `json:"audioUrl,omitempty"`
	ThumbnailURL string     `json:"thumbnailUrl,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	Error        string     `json:"error,omitempty"`
	Code         string     `json:"code,omitempty"`
}

// NewEnvelope encodes payload under the given event name.
func NewEnvelope(event string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: data}, nil
}

// Package models contains shared data models used across the Cadence codebase.
package models

import "time"

// Status is the lifecycle state of a generation.
type Status string

const (
	StatusPending    Status = "pending"
	StatusGenerating Status = "generating"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusGenerating, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

var validTransitions = map[Status][]Status{
	StatusPending:    {StatusGenerating, StatusCompleted, StatusFailed},
	StatusGenerating: {StatusGenerating, StatusCompleted, StatusFailed},
}

// CanTransition reports whether a generation in status from may move to status to.
// Terminal statuses never transition.
func CanTransition(from, to Status) bool {
	if from == to && !from.Terminal() {
		return true
	}
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Generation is the unit of work and display. The API returns one on
// POST /api/generate; progress then arrives as GenerationUpdate events on the
// realtime channel until the status is completed or failed.
type Generation struct {
	ID           string     `json:"id"`
	Prompt       string     `json:"prompt"`
	Title        string     `json:"title,omitempty"`
	Status       Status     `json:"status"`
	Progress     int        `json:"progress"`
	AudioURL     string     `json:"audioUrl,omitempty"`
	ThumbnailURL string     `json:"thumbnailUrl,omitempty"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

// Playable reports whether the generation can be handed to an audio player.
func (g Generation) Playable() bool {
	return g.Status == StatusCompleted && g.AudioURL != ""
}

// Package player gates audio playback on generation state.
package player

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kiranshivaraju/cadence/pkg/models"
)

var ErrNotPlayable = errors.New("generation is not playable")

// Player is an audio backend.
type Player interface {
	Load(ctx context.Context, url string) error
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
}

// Controller hands completed generations to a Player and refuses the rest.
type Controller struct {
	player Player

	mu      sync.Mutex
	current string
	playing bool
}

func NewController(p Player) *Controller {
	return &Controller{player: p}
}

// Play loads and starts g. A generation that is not completed with an audio
// URL returns ErrNotPlayable and leaves the Player untouched. Playing the
// generation that is already loaded resumes it without reloading.
func (c *Controller) Play(ctx context.Context, g models.Generation) error {
	if !g.Playable() {
		return fmt.Errorf("%w: %s is %s", ErrNotPlayable, g.ID, g.Status)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != g.ID {
		if err := c.player.Load(ctx, g.AudioURL); err != nil {
			return fmt.Errorf("loading %s: %w", g.AudioURL, err)
		}
		c.current = g.ID
		c.playing = false
	}
	if err := c.player.Play(ctx); err != nil {
		return fmt.Errorf("playing %s: %w", g.ID, err)
	}
	c.playing = true
	return nil
}

// Pause pauses playback if anything is playing.
func (c *Controller) Pause(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.playing {
		return nil
	}
	if err := c.player.Pause(ctx); err != nil {
		return err
	}
	c.playing = false
	return nil
}

// Current returns the id of the loaded generation and whether it is playing.
func (c *Controller) Current() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.playing
}

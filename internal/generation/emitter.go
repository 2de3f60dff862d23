package generation

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kiranshivaraju/cadence/pkg/models"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const maxTitleRunes = 48

// Sink receives the updates of a run, in order. Send must return promptly
// once ctx is cancelled.
type Sink interface {
	Send(ctx context.Context, update models.GenerationUpdate) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, update models.GenerationUpdate) error

func (f SinkFunc) Send(ctx context.Context, update models.GenerationUpdate) error {
	return f(ctx, update)
}

// Timing controls the simulated generation cadence.
type Timing struct {
	TickInterval  time.Duration
	TotalDuration time.Duration
}

// DefaultTiming advances from 0 to 100 over 8s in 100ms ticks.
var DefaultTiming = Timing{TickInterval: 100 * time.Millisecond, TotalDuration: 8 * time.Second}

// Steps is the number of ticks needed to reach 100%.
func (t Timing) Steps() int {
	if t.TickInterval <= 0 {
		return 1
	}
	steps := int(t.TotalDuration / t.TickInterval)
	if steps < 1 {
		return 1
	}
	return steps
}

// emitter drives a single run of one job.
type emitter struct {
	id     string
	prompt string
	timing Timing
	fault  Fault
	sink   Sink
	now    func() time.Time
}

// run sends generating/0, then one update per tick until the job completes or
// the fault fires. claim is called before the terminal update; when it reports
// false the run was superseded and the terminal update is dropped.
// The returned update is the terminal one actually sent, if any.
func (e *emitter) run(ctx context.Context, claim func() bool) (*models.GenerationUpdate, error) {
	if e.fault.Kind == FaultCredits {
		u := e.failed(0, &GenerationError{
			JobID:  e.id,
			Reason: e.fault.Message,
			Code:   models.CodeInsufficientCredits,
		})
		return e.finish(ctx, claim, u)
	}

	if err := e.sink.Send(ctx, models.GenerationUpdate{
		ID:     e.id,
		Status: models.StatusGenerating,
	}); err != nil {
		return nil, err
	}

	steps := e.timing.Steps()
	ticker := time.NewTicker(e.timing.TickInterval)
	defer ticker.Stop()

	for step := 1; ; step++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		progress := step * 100 / steps
		if progress > 100 {
			progress = 100
		}

		if e.fault.Kind == FaultGeneration && progress >= e.fault.FailAt && progress < 100 {
			u := e.failed(progress, &GenerationError{
				JobID:    e.id,
				Progress: progress,
				Reason:   e.fault.Message,
				Code:     models.CodeGenerationFailed,
			})
			return e.finish(ctx, claim, u)
		}

		if step >= steps {
			return e.finish(ctx, claim, e.completed())
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err := e.sink.Send(ctx, models.GenerationUpdate{
			ID:       e.id,
			Status:   models.StatusGenerating,
			Progress: progress,
		}); err != nil {
			return nil, err
		}
	}
}

func (e *emitter) finish(ctx context.Context, claim func() bool, u models.GenerationUpdate) (*models.GenerationUpdate, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if !claim() {
		return nil, context.Canceled
	}
	if err := e.sink.Send(ctx, u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (e *emitter) completed() models.GenerationUpdate {
	at := e.now().UTC()
	return models.GenerationUpdate{
		ID:           e.id,
		Status:       models.StatusCompleted,
		Progress:     100,
		Title:        Title(e.prompt),
		AudioURL:     fmt.Sprintf("/audio/generated-%s.mp3", e.id),
		ThumbnailURL: fmt.Sprintf("/images/thumbnail-%s.jpg", e.id),
		CompletedAt:  &at,
	}
}

func (e *emitter) failed(progress int, gerr *GenerationError) models.GenerationUpdate {
	at := e.now().UTC()
	return models.GenerationUpdate{
		ID:          e.id,
		Status:      models.StatusFailed,
		Progress:    progress,
		CompletedAt: &at,
		Error:       gerr.Reason,
		Code:        gerr.Code,
	}
}

// Title derives a display name from a prompt: title-cased and cut at a word
// boundary to at most 48 runes.
func Title(prompt string) string {
	words := strings.Fields(prompt)
	if len(words) == 0 {
		return "Untitled"
	}

	var b strings.Builder
	for _, w := range words {
		next := utf8.RuneCountInString(w)
		if b.Len() > 0 {
			next++
		}
		if utf8.RuneCountInString(b.String())+next > maxTitleRunes {
			break
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(w)
	}
	if b.Len() == 0 {
		runes := []rune(words[0])
		b.WriteString(string(runes[:maxTitleRunes]))
	}
	// Casers carry state and must not be shared between goroutines.
	return cases.Title(language.English).String(b.String())
}

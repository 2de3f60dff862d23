// Package generation runs simulated music generations: one emitter per job id,
// owned by a Registry that guarantees at most one active run per id.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/cadence/pkg/models"
)

// TerminalHook observes every completed or failed update after it is sent.
type TerminalHook func(ctx context.Context, update models.GenerationUpdate)

type run struct {
	token  uint64
	owner  string
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry maps job ids to their active run.
type Registry struct {
	timing    Timing
	faults    FaultInjector
	snapshots *Snapshots
	onDone    TerminalHook
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	runs   map[string]*run
	seq    uint64
	closed bool
}

// Option configures a Registry.
type Option func(*Registry)

func WithFaults(f FaultInjector) Option {
	return func(r *Registry) { r.faults = f }
}

func WithSnapshots(s *Snapshots) Option {
	return func(r *Registry) { r.snapshots = s }
}

func WithTerminalHook(h TerminalHook) Option {
	return func(r *Registry) { r.onDone = h }
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates a Registry whose runs follow timing.
func NewRegistry(timing Timing, opts ...Option) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		timing: timing,
		faults: NoFaults{},
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
		runs:   make(map[string]*run),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins streaming updates for id to sink. An active run for the same
// id is cancelled, and has exited, before the new run emits anything.
// owner identifies the connection the run belongs to (see CancelOwner).
func (r *Registry) Start(owner, id, prompt string, sink Sink) error {
	if id == "" {
		return ErrInvalidStart
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	previous := r.runs[id]
	r.seq++
	ctx, cancel := context.WithCancel(r.ctx)
	rn := &run{token: r.seq, owner: owner, cancel: cancel, done: make(chan struct{})}
	r.runs[id] = rn
	r.wg.Add(1)
	r.mu.Unlock()

	if previous != nil {
		slog.Info("restarting generation", "job_id", id, "owner", owner)
		previous.cancel()
		<-previous.done
	} else {
		slog.Info("generation started", "job_id", id, "owner", owner)
	}

	go r.execute(ctx, rn, id, prompt, sink)
	return nil
}

// execute owns one run. It recovers from panics and always removes the
// registry entry it created.
func (r *Registry) execute(ctx context.Context, rn *run, id, prompt string, sink Sink) {
	defer r.wg.Done()
	defer close(rn.done)
	defer r.release(id, rn)
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("panic in generation run", "error", rec, "job_id", id)
			if !r.claim(id, rn) {
				return
			}
			at := r.now().UTC()
			u := models.GenerationUpdate{
				ID:          id,
				Status:      models.StatusFailed,
				CompletedAt: &at,
				Error:       "internal generation error",
				Code:        models.CodeGenerationFailed,
			}
			sendCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := sink.Send(sendCtx, u); err == nil {
				r.terminal(u)
			}
		}
	}()

	em := &emitter{
		id:     id,
		prompt: prompt,
		timing: r.timing,
		fault:  r.faults.Inspect(prompt),
		sink:   r.recording(sink),
		now:    r.now,
	}

	final, err := em.run(ctx, func() bool { return r.claim(id, rn) })
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Warn("generation run aborted", "job_id", id, "error", err)
		}
		return
	}

	if final.Status == models.StatusFailed {
		slog.Info("generation failed", "job_id", id, "progress", final.Progress, "reason", final.Error)
	} else {
		slog.Info("generation completed", "job_id", id)
	}
	r.terminal(*final)
}

func (r *Registry) terminal(u models.GenerationUpdate) {
	if r.snapshots != nil {
		if err := r.snapshots.Record(context.Background(), u); err != nil {
			slog.Warn("snapshot write failed", "job_id", u.ID, "status", u.Status, "error", err)
		}
	}
	if r.onDone != nil {
		r.onDone(context.Background(), u)
	}
}

// recording wraps sink so every non-terminal update also becomes the job's
// snapshot. Terminal snapshots are written by terminal().
func (r *Registry) recording(sink Sink) Sink {
	if r.snapshots == nil {
		return sink
	}
	return SinkFunc(func(ctx context.Context, u models.GenerationUpdate) error {
		if !u.Status.Terminal() {
			if err := r.snapshots.Record(ctx, u); err != nil {
				slog.Warn("snapshot write failed", "job_id", u.ID, "error", err)
			}
		}
		return sink.Send(ctx, u)
	})
}

// claim removes rn from the registry if it is still the active run for id.
// Only the run that claims its entry may send a terminal update.
func (r *Registry) claim(id string, rn *run) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runs[id] != rn {
		return false
	}
	delete(r.runs, id)
	return true
}

func (r *Registry) release(id string, rn *run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runs[id] == rn {
		delete(r.runs, id)
	}
	rn.cancel()
}

// Cancel stops the active run for id. It reports whether one existed.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	rn, ok := r.runs[id]
	if ok {
		delete(r.runs, id)
	}
	r.mu.Unlock()

	if ok {
		rn.cancel()
	}
	return ok
}

// CancelOwner stops every run started by owner and returns how many there were.
func (r *Registry) CancelOwner(owner string) int {
	r.mu.Lock()
	var stopped []*run
	for id, rn := range r.runs {
		if rn.owner == owner {
			stopped = append(stopped, rn)
			delete(r.runs, id)
		}
	}
	r.mu.Unlock()

	for _, rn := range stopped {
		rn.cancel()
	}
	return len(stopped)
}

// IsActive reports whether id has a running emitter.
func (r *Registry) IsActive(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.runs[id]
	return ok
}

// Active returns the number of running emitters.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

// Latest returns the last known update for id, if snapshots are enabled.
func (r *Registry) Latest(ctx context.Context, id string) (*models.GenerationUpdate, error) {
	if r.snapshots == nil {
		return nil, ErrSnapshotNotFound
	}
	return r.snapshots.Latest(ctx, id)
}

// Shutdown cancels all runs and waits for them to exit or for ctx to expire.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for generation runs: %w", ctx.Err())
	}
}

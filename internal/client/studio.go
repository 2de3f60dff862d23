// Package client is the Go client for a Cadence server: an HTTP API client
// plus Studio, the session object that keeps a local generation store in sync
// with the server over the realtime channel.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/cadence/internal/intake"
	"github.com/kiranshivaraju/cadence/internal/realtime"
	"github.com/kiranshivaraju/cadence/internal/store"
	"github.com/kiranshivaraju/cadence/pkg/models"
)

var ErrNotRetryable = errors.New("only failed generations can be retried")

// Realtime is the part of realtime.Client a Studio uses.
type Realtime interface {
	IsConnected() bool
	StartGeneration(id, prompt string) error
}

// Studio submits prompts and tracks their generations in a Store.
type Studio struct {
	api   API
	rt    Realtime
	store *store.Store

	// Set by Connect; nil when the Studio was built with NewStudio.
	conn *realtime.Client
}

// NewStudio assembles a Studio from its parts. The caller must route realtime
// updates to HandleUpdate and call Resync after each reconnect.
func NewStudio(api API, rt Realtime, st *store.Store) *Studio {
	return &Studio{api: api, rt: rt, store: st}
}

// Options for Connect.
type Options struct {
	Timeout    time.Duration // per HTTP request, default 10s
	BackoffMin time.Duration // default 500ms
	BackoffMax time.Duration // default 10s
}

// Connect builds a Studio for the server at serverURL with its own realtime
// client. Call Run to keep the connection open.
func Connect(serverURL string, st *store.Store, opts Options) (*Studio, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.BackoffMin <= 0 {
		opts.BackoffMin = 500 * time.Millisecond
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 10 * time.Second
	}

	wsURL, err := WebsocketURL(serverURL)
	if err != nil {
		return nil, err
	}

	s := &Studio{api: NewHTTPClient(serverURL, opts.Timeout), store: st}
	s.conn = realtime.NewClient(wsURL,
		realtime.WithUpdateHandler(s.HandleUpdate),
		realtime.WithOnConnect(func() {
			ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
			defer cancel()
			if err := s.Resync(ctx); err != nil {
				slog.Warn("resync after reconnect failed", "error", err)
			}
		}),
		realtime.WithBackoff(opts.BackoffMin, opts.BackoffMax),
	)
	s.rt = s.conn
	return s, nil
}

// Run keeps the realtime connection open until ctx is cancelled.
func (s *Studio) Run(ctx context.Context) error {
	if s.conn == nil {
		return errors.New("studio has no realtime client; use Connect")
	}
	return s.conn.Run(ctx)
}

// WaitConnected blocks until the realtime channel is open.
func (s *Studio) WaitConnected(ctx context.Context) error {
	if s.conn == nil {
		if s.rt.IsConnected() {
			return nil
		}
		return realtime.ErrDisconnected
	}
	return s.conn.WaitConnected(ctx)
}

func (s *Studio) Store() *store.Store { return s.store }

func (s *Studio) IsConnected() bool { return s.rt.IsConnected() }

// Submit validates prompt, creates the generation on the server, selects it
// for playback and starts streaming its progress.
func (s *Studio) Submit(ctx context.Context, prompt string) (models.Generation, error) {
	clean, err := intake.Validate(prompt)
	if err != nil {
		s.store.SetPromptError(err.Error())
		return models.Generation{}, err
	}
	s.store.SetPromptError("")

	if !s.rt.IsConnected() {
		return models.Generation{}, realtime.ErrDisconnected
	}

	g, err := s.api.Generate(ctx, clean)
	if err != nil {
		var verr *intake.ValidationError
		switch {
		case errors.As(err, &verr):
			s.store.SetPromptError(verr.Message)
		case errors.Is(err, intake.ErrInsufficientCredits):
			s.store.SetInsufficientCredits(true)
		}
		return models.Generation{}, err
	}
	s.store.SetInsufficientCredits(false)

	s.store.AddJob(*g)
	if err := s.store.SelectForPlayback(g.ID); err != nil {
		return *g, err
	}
	if err := s.rt.StartGeneration(g.ID, g.Prompt); err != nil {
		// The job stays pending; Resync restarts it after reconnecting.
		return *g, fmt.Errorf("starting generation %s: %w", g.ID, err)
	}
	return *g, nil
}

// Retry submits the prompt of a failed generation as a new generation.
func (s *Studio) Retry(ctx context.Context, id string) (models.Generation, error) {
	job, ok := s.store.Job(id)
	if !ok {
		return models.Generation{}, store.ErrNotFound
	}
	if job.Status != models.StatusFailed {
		return models.Generation{}, fmt.Errorf("%w: %s is %s", ErrNotRetryable, id, job.Status)
	}
	return s.Submit(ctx, job.Prompt)
}

// PromptFor returns the original prompt of a generation.
func (s *Studio) PromptFor(id string) (string, bool) {
	job, ok := s.store.Job(id)
	if !ok {
		return "", false
	}
	return job.Prompt, true
}

// HandleUpdate merges a realtime update into the store.
func (s *Studio) HandleUpdate(u models.GenerationUpdate) {
	if !s.store.UpdateJob(u.ID, store.FromUpdate(u)...) {
		slog.Debug("ignored generation update", "job_id", u.ID, "status", u.Status)
	}
}

// Resync polls the server for every generation that has not finished and
// merges what it reports. Generations the server no longer knows about, such
// as after a server restart, are started again.
func (s *Studio) Resync(ctx context.Context) error {
	var errs []error
	for _, id := range s.store.Pending() {
		u, err := s.api.Generation(ctx, id)
		if errors.Is(err, ErrNotFound) {
			job, ok := s.store.Job(id)
			if ok && !job.Status.Terminal() {
				if err := s.rt.StartGeneration(job.ID, job.Prompt); err != nil {
					errs = append(errs, err)
				}
			}
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("polling %s: %w", id, err))
			continue
		}
		s.HandleUpdate(*u)
		if !u.Status.Terminal() {
			// The server-side run was cut off with the old connection.
			job, _ := s.store.Job(id)
			if err := s.rt.StartGeneration(job.ID, job.Prompt); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/kiranshivaraju/cadence/internal/client"
	"github.com/kiranshivaraju/cadence/internal/player"
	"github.com/kiranshivaraju/cadence/internal/store"
	"github.com/kiranshivaraju/cadence/pkg/models"
	"github.com/spf13/cobra"
)

type generateOptions struct {
	server  string
	timeout time.Duration
	json    bool
	play    bool
	verbose bool
}

func newGenerateCommand(server *string) *cobra.Command {
	opts := generateOptions{}

	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Generate a song and follow its progress",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.server = *server
			setupLogging(cmd, opts.verbose)
			return runGenerate(cmd.Context(), cmd, opts, strings.Join(args, " "))
		},
	}

	cmd.Flags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "Give up if the generation has not finished by then")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print the finished generation as JSON")
	cmd.Flags().BoolVar(&opts.play, "play", false, "Play the track once it is ready")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log connection events to stderr")

	return cmd
}

func runGenerate(ctx context.Context, cmd *cobra.Command, opts generateOptions, prompt string) error {
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)

	st := store.New()
	studio, err := client.Connect(opts.server, st, client.Options{})
	if err != nil {
		cancel()
		return err
	}

	runErr := make(chan error, 1)
	go func() { runErr <- studio.Run(ctx) }()
	defer func() {
		cancel()
		<-runErr
	}()

	if err := studio.WaitConnected(ctx); err != nil {
		return fmt.Errorf("connecting to %s: %w", opts.server, err)
	}

	changes, unsubscribe := st.Subscribe(64)
	defer unsubscribe()

	g, err := studio.Submit(ctx, prompt)
	if err != nil {
		return fmt.Errorf("submitting prompt: %w", err)
	}

	out := cmd.OutOrStdout()
	var rep reporter = nopReporter{}
	if !opts.json {
		rep = newReporter(out)
	}

	final, err := follow(ctx, st, changes, g.ID, rep)
	rep.Finish()
	if err != nil {
		return err
	}

	if opts.json {
		if err := writeJSON(out, final); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(out, renderSummary(final))
	}

	if final.Status == models.StatusFailed {
		return fmt.Errorf("generation %s failed: %s", final.ID, final.Error)
	}
	if opts.play {
		// Keep stdout clean for --json.
		playOut := out
		if opts.json {
			playOut = cmd.ErrOrStderr()
		}
		return play(ctx, playOut, opts.server, final)
	}
	return nil
}

// play hands g to the playback gate, which refuses anything not ready to play.
func play(ctx context.Context, out io.Writer, server string, g models.Generation) error {
	p, err := newURLPlayer(out, server)
	if err != nil {
		return err
	}
	if err := player.NewController(p).Play(ctx, g); err != nil {
		return fmt.Errorf("playing generation: %w", err)
	}
	return nil
}

// follow reports progress for id until it reaches a terminal status. The
// store is re-read on every notification, so dropped notifications only
// delay the report.
func follow(ctx context.Context, st *store.Store, changes <-chan store.Change, id string, rep reporter) (models.Generation, error) {
	for {
		if g, ok := st.Job(id); ok {
			rep.Update(g)
			if g.Status.Terminal() {
				return g, nil
			}
		}

		select {
		case <-ctx.Done():
			return models.Generation{}, fmt.Errorf("waiting for generation %s: %w", id, ctx.Err())
		case _, ok := <-changes:
			if !ok {
				return models.Generation{}, errors.New("store subscription closed")
			}
		}
	}
}

func setupLogging(cmd *cobra.Command, verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
}

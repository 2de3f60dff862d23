package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
)

// urlPlayer is the CLI's audio backend: it has no sound device, so playing a
// track prints where to fetch it.
type urlPlayer struct {
	out    io.Writer
	base   *url.URL
	loaded string
}

func newURLPlayer(out io.Writer, server string) (*urlPlayer, error) {
	base, err := url.Parse(server)
	if err != nil {
		return nil, fmt.Errorf("parsing server url: %w", err)
	}
	return &urlPlayer{out: out, base: base}, nil
}

func (p *urlPlayer) Load(_ context.Context, audioURL string) error {
	ref, err := url.Parse(audioURL)
	if err != nil {
		return fmt.Errorf("parsing audio url: %w", err)
	}
	p.loaded = p.base.ResolveReference(ref).String()
	return nil
}

func (p *urlPlayer) Play(context.Context) error {
	_, err := fmt.Fprintf(p.out, "Playing %s\n", p.loaded)
	return err
}

func (p *urlPlayer) Pause(context.Context) error {
	_, err := fmt.Fprintln(p.out, "Paused")
	return err
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/kiranshivaraju/cadence/pkg/models"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range header {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range r {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

// renderSummary renders a finished generation as a two-column table.
func renderSummary(g models.Generation) string {
	rows := [][]string{
		{"ID", g.ID},
		{"Prompt", g.Prompt},
		{"Status", string(g.Status)},
		{"Progress", strconv.Itoa(g.Progress) + "%"},
	}
	if g.Title != "" {
		rows = append(rows, []string{"Title", g.Title})
	}
	if g.AudioURL != "" {
		rows = append(rows, []string{"Audio", g.AudioURL})
	}
	if g.ThumbnailURL != "" {
		rows = append(rows, []string{"Thumbnail", g.ThumbnailURL})
	}
	if g.Error != "" {
		rows = append(rows, []string{"Error", g.Error})
	}
	if g.CompletedAt != nil && !g.CreatedAt.IsZero() {
		rows = append(rows, []string{"Took", g.CompletedAt.Sub(g.CreatedAt).Round(100 * time.Millisecond).String()})
	}
	return renderTable([]string{"Field", "Value"}, rows, nil)
}

// stageText is the user-facing description of a progress value.
func stageText(progress int) string {
	switch {
	case progress < 30:
		return "Starting AI audio engine..."
	case progress < 60:
		return "Initializing sound models..."
	default:
		return "Processing your audio..."
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// reporter shows generation progress while it runs.
type reporter interface {
	Update(g models.Generation)
	Finish()
}

func newReporter(w io.Writer) reporter {
	if isTerminal(w) {
		return newBarReporter(w)
	}
	return &lineReporter{w: w, lastBucket: -1}
}

type nopReporter struct{}

func (nopReporter) Update(models.Generation) {}
func (nopReporter) Finish()                  {}

type barReporter struct {
	bar *progressbar.ProgressBar
}

func newBarReporter(w io.Writer) *barReporter {
	return &barReporter{bar: progressbar.NewOptions(100,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(stageText(0)),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionClearOnFinish(),
	)}
}

func (b *barReporter) Update(g models.Generation) {
	b.bar.Describe(stageText(g.Progress))
	b.bar.Set(g.Progress)
}

func (b *barReporter) Finish() {
	b.bar.Finish()
}

// lineReporter prints one line per 10% step and one per status change, for
// output that is piped or captured.
type lineReporter struct {
	w          io.Writer
	lastBucket int
	lastStatus models.Status
}

func (l *lineReporter) Update(g models.Generation) {
	bucket := g.Progress / 10
	if bucket == l.lastBucket && g.Status == l.lastStatus {
		return
	}
	l.lastBucket = bucket
	l.lastStatus = g.Status

	switch g.Status {
	case models.StatusCompleted:
		fmt.Fprintf(l.w, "%3d%%  done\n", g.Progress)
	case models.StatusFailed:
		fmt.Fprintf(l.w, "%3d%%  failed\n", g.Progress)
	default:
		fmt.Fprintf(l.w, "%3d%%  %s\n", g.Progress, stageText(g.Progress))
	}
}

func (l *lineReporter) Finish() {}

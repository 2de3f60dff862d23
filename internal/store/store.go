// Package store holds the client-side state of every known generation and the
// one currently selected for playback. It is the single source of truth that
// the list, player and notification views read from.
package store

import (
	"errors"
	"sync"
	"time"

	"github.com/kiranshivaraju/cadence/pkg/models"
)

var ErrNotFound = errors.New("generation not found")

// ChangeKind says what a Change notification is about.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeUpdated  ChangeKind = "updated"
	ChangeSelected ChangeKind = "selected"
	ChangeFlags    ChangeKind = "flags"
	ChangeEvicted  ChangeKind = "evicted"
)

// Change is sent to subscribers after every mutation. Job is a copy of the
// affected generation; it is zero for flag changes.
type Change struct {
	Kind  ChangeKind
	Job   models.Generation
	Flags Flags
}

// Flags are transient UI states driven through the same update path as jobs.
type Flags struct {
	ProfileMenuOpen     bool
	PromptError         string
	InsufficientCredits bool
}

// Store is safe for concurrent use. Reads return copies; the selection is
// held by id so Selected always reflects the latest state of that job.
type Store struct {
	mu       sync.RWMutex
	jobs     []*models.Generation // newest first
	byID     map[string]*models.Generation
	selected string
	flags    Flags
	maxJobs  int

	subMu  sync.Mutex
	subs   map[int]chan Change
	nextID int
}

// Option configures a Store.
type Option func(*Store)

// WithMaxJobs caps the number of retained generations. When the cap is hit the
// oldest terminal generations are evicted first. Zero means unlimited.
func WithMaxJobs(n int) Option {
	return func(s *Store) { s.maxJobs = n }
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		byID: make(map[string]*models.Generation),
		subs: make(map[int]chan Change),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddJob prepends g. Adding an id that is already known is a no-op and
// reports false.
func (s *Store) AddJob(g models.Generation) bool {
	s.mu.Lock()
	if _, exists := s.byID[g.ID]; exists {
		s.mu.Unlock()
		return false
	}
	job := g
	s.jobs = append([]*models.Generation{&job}, s.jobs...)
	s.byID[g.ID] = &job
	evicted := s.evictLocked()
	added := job
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeAdded, Job: added})
	for _, e := range evicted {
		s.publish(Change{Kind: ChangeEvicted, Job: e})
	}
	return true
}

// evictLocked drops generations beyond maxJobs, oldest terminal ones first,
// then oldest overall. The selected generation is never evicted.
func (s *Store) evictLocked() []models.Generation {
	if s.maxJobs <= 0 || len(s.jobs) <= s.maxJobs {
		return nil
	}
	var evicted []models.Generation
	for _, terminalOnly := range []bool{true, false} {
		for i := len(s.jobs) - 1; i >= 0 && len(s.jobs) > s.maxJobs; i-- {
			j := s.jobs[i]
			if j.ID == s.selected || (terminalOnly && !j.Status.Terminal()) {
				continue
			}
			evicted = append(evicted, *j)
			delete(s.byID, j.ID)
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
		}
	}
	return evicted
}

type patch struct {
	status       *models.Status
	progress     *int
	title        *string
	audioURL     *string
	thumbnailURL *string
	errMsg       *string
	completedAt  *time.Time
}

// UpdateOption sets one field of a generation in UpdateJob.
type UpdateOption func(*patch)

func WithStatus(st models.Status) UpdateOption {
	return func(p *patch) { p.status = &st }
}

func WithProgress(n int) UpdateOption {
	return func(p *patch) { p.progress = &n }
}

func WithTitle(title string) UpdateOption {
	return func(p *patch) { p.title = &title }
}

func WithAudioURL(url string) UpdateOption {
	return func(p *patch) { p.audioURL = &url }
}

func WithThumbnailURL(url string) UpdateOption {
	return func(p *patch) { p.thumbnailURL = &url }
}

func WithError(msg string) UpdateOption {
	return func(p *patch) { p.errMsg = &msg }
}

func WithCompletedAt(at time.Time) UpdateOption {
	return func(p *patch) { p.completedAt = &at }
}

// FromUpdate converts a realtime update into options, skipping optional
// fields the update does not carry.
func FromUpdate(u models.GenerationUpdate) []UpdateOption {
	opts := []UpdateOption{WithStatus(u.Status), WithProgress(u.Progress)}
	if u.Title != "" {
		opts = append(opts, WithTitle(u.Title))
	}
	if u.AudioURL != "" {
		opts = append(opts, WithAudioURL(u.AudioURL))
	}
	if u.ThumbnailURL != "" {
		opts = append(opts, WithThumbnailURL(u.ThumbnailURL))
	}
	if u.Error != "" {
		opts = append(opts, WithError(u.Error))
	}
	if u.CompletedAt != nil {
		opts = append(opts, WithCompletedAt(*u.CompletedAt))
	}
	return opts
}

// UpdateJob merges the given fields into the generation with id. It reports
// false when id is unknown or the update was rejected: a generation in a
// terminal state never changes, and progress of a generating job never
// decreases.
func (s *Store) UpdateJob(id string, opts ...UpdateOption) bool {
	p := &patch{}
	for _, opt := range opts {
		opt(p)
	}

	s.mu.Lock()
	job, ok := s.byID[id]
	if !ok || job.Status.Terminal() {
		s.mu.Unlock()
		return false
	}
	if p.status != nil {
		if !p.status.Valid() || !models.CanTransition(job.Status, *p.status) {
			s.mu.Unlock()
			return false
		}
		job.Status = *p.status
	}
	if p.progress != nil {
		n := clampProgress(*p.progress)
		if job.Status == models.StatusGenerating && n < job.Progress {
			n = job.Progress
		}
		job.Progress = n
	}
	if p.title != nil {
		job.Title = *p.title
	}
	if p.audioURL != nil {
		job.AudioURL = *p.audioURL
	}
	if p.thumbnailURL != nil {
		job.ThumbnailURL = *p.thumbnailURL
	}
	if p.errMsg != nil {
		job.Error = *p.errMsg
	}
	if p.completedAt != nil {
		at := *p.completedAt
		job.CompletedAt = &at
	}
	if job.Status == models.StatusCompleted {
		job.Progress = 100
	}
	updated := *job
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeUpdated, Job: updated})
	return true
}

func clampProgress(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

// SelectForPlayback marks id as the playback selection. Playability is not
// checked here; players must refuse generations that are not Playable.
func (s *Store) SelectForPlayback(id string) error {
	s.mu.Lock()
	job, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	s.selected = id
	selected := *job
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeSelected, Job: selected})
	return nil
}

// ClearSelection drops the playback selection.
func (s *Store) ClearSelection() {
	s.mu.Lock()
	s.selected = ""
	s.mu.Unlock()
	s.publish(Change{Kind: ChangeSelected})
}

// Selected returns the current state of the selected generation.
func (s *Store) Selected() (models.Generation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.byID[s.selected]
	if !ok {
		return models.Generation{}, false
	}
	return *job, true
}

// Job returns a copy of the generation with id.
func (s *Store) Job(id string) (models.Generation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.byID[id]
	if !ok {
		return models.Generation{}, false
	}
	return *job, true
}

// Jobs returns all generations, newest first.
func (s *Store) Jobs() []models.Generation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Generation, len(s.jobs))
	for i, j := range s.jobs {
		out[i] = *j
	}
	return out
}

// Pending returns the ids of generations that have not reached a terminal state.
func (s *Store) Pending() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for _, j := range s.jobs {
		if !j.Status.Terminal() {
			ids = append(ids, j.ID)
		}
	}
	return ids
}

// Counts returns the number of generations in each status.
func (s *Store) Counts() map[models.Status]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[models.Status]int)
	for _, j := range s.jobs {
		counts[j.Status]++
	}
	return counts
}

func (s *Store) Flags() Flags {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flags
}

func (s *Store) SetProfileMenuOpen(open bool) {
	s.setFlags(func(f *Flags) { f.ProfileMenuOpen = open })
}

// SetPromptError records the last invalid-prompt message; "" clears it.
func (s *Store) SetPromptError(msg string) {
	s.setFlags(func(f *Flags) { f.PromptError = msg })
}

func (s *Store) SetInsufficientCredits(v bool) {
	s.setFlags(func(f *Flags) { f.InsufficientCredits = v })
}

func (s *Store) setFlags(fn func(*Flags)) {
	s.mu.Lock()
	before := s.flags
	fn(&s.flags)
	after := s.flags
	s.mu.Unlock()

	if before != after {
		s.publish(Change{Kind: ChangeFlags, Flags: after})
	}
}

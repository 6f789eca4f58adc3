package progress

import (
	"math"
	"math/rand/v2"
	"sync"

	"skyport/internal/domain"
)

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithRand sets the source used to pick flavor messages.
func WithRand(r *rand.Rand) AggregatorOption {
	return func(a *Aggregator) { a.rand = r }
}

// WithMaxWarnings caps the warning list. Warnings past the cap are counted in
// DroppedWarnings. 0 keeps the list unbounded.
func WithMaxWarnings(n int) AggregatorOption {
	return func(a *Aggregator) {
		if n > 0 {
			a.maxWarnings = n
		}
	}
}

// Aggregator folds signals into the AggregateState of one run. Apply is meant
// to be called by a single writer; Snapshot may be called from any goroutine.
//
// The folding is deliberately literal: the absolute "imported N posts" summary
// and the per-post counter are tracked independently and never reconciled, a
// repeated chunk is counted twice, and a late signal may move the phase away
// from a terminal value.
type Aggregator struct {
	mu          sync.RWMutex
	state       domain.AggregateState
	rand        *rand.Rand
	maxWarnings int
}

// NewAggregator creates an aggregator in the starting phase.
func NewAggregator(opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{}
	for _, opt := range opts {
		opt(a)
	}
	if a.rand == nil {
		a.rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	a.state = initialState()
	return a
}

func initialState() domain.AggregateState {
	return domain.AggregateState{
		Phase:    domain.PhaseStarting,
		Message:  msgStarting,
		Warnings: []domain.MigrationWarning{},
	}
}

// Reset returns the aggregator to its initial state.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = initialState()
}

// Snapshot returns a deep copy of the current state.
func (a *Aggregator) Snapshot() domain.AggregateState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state.Clone()
}

// Apply folds one signal into the state and returns the resulting progress event.
func (a *Aggregator) Apply(sig domain.Signal) domain.ProgressEvent {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := &a.state
	switch sig.Kind {
	case domain.SignalImportStarted:
		s.Phase = domain.PhaseMigrating
		s.Message = pickFlavor(a.rand)

	case domain.SignalImported:
		total := sig.Posts
		s.TotalPosts = &total
		s.MediaCount = sig.Media
		a.project()

	case domain.SignalPostCreated:
		s.PostsCreated++
		if sig.URL != "" {
			s.LastPostURL = sig.URL
		}
		if s.PostsCreated%3 == 0 {
			s.Message = pickFlavor(a.rand)
		} else {
			s.Message = uploadingMessage(s.PostsCreated)
		}
		a.project()

	case domain.SignalImportFinished:
		s.Phase = domain.PhaseComplete
		s.Message = summaryMessage(s.PostsCreated, s.MediaCount)

	case domain.SignalFailure:
		s.Phase = domain.PhaseError
		s.Message = msgFailure

	case domain.SignalWarning:
		a.addWarning(sig.Warning)

	case domain.SignalSkippedPost:
		a.addWarning(sig.Warning)
		s.Message = msgSkippingPost

	case domain.SignalPercentage:
		p := domain.ClampPercentage(float64(sig.Percentage))
		s.Percentage = &p

	case domain.SignalDuration:
		d := sig.Duration
		s.Duration = &d

	case domain.SignalExit:
		code := sig.ExitCode
		s.ExitCode = &code
		if code == 0 {
			if s.Phase != domain.PhaseComplete {
				s.Message = summaryMessage(s.PostsCreated, s.MediaCount)
			}
			s.Phase = domain.PhaseComplete
		} else {
			s.Phase = domain.PhaseError
			s.Message = exitFailureMessage(code)
		}
	}

	return a.event()
}

// ApplyAll folds signals in order and returns one progress event per signal.
func (a *Aggregator) ApplyAll(sigs []domain.Signal) []domain.ProgressEvent {
	out := make([]domain.ProgressEvent, 0, len(sigs))
	for _, sig := range sigs {
		out = append(out, a.Apply(sig))
	}
	return out
}

// project recomputes the percentage from the post counters. Without a known
// total, progress stays indeterminate (or keeps a percentage reported directly).
func (a *Aggregator) project() {
	s := &a.state
	if s.TotalPosts == nil || *s.TotalPosts <= 0 {
		return
	}
	ratio := math.Min(float64(s.PostsCreated)/float64(*s.TotalPosts), 1)
	p := domain.ClampPercentage(ratio * 100)
	s.Percentage = &p
}

func (a *Aggregator) addWarning(w *domain.MigrationWarning) {
	if w == nil {
		return
	}
	s := &a.state
	if a.maxWarnings > 0 && len(s.Warnings) >= a.maxWarnings {
		s.DroppedWarnings++
		return
	}
	s.Warnings = append(s.Warnings, *w)
}

func (a *Aggregator) event() domain.ProgressEvent {
	s := a.state
	posts := s.PostsCreated
	ev := domain.ProgressEvent{
		Kind:           domain.ProgressKindFor(s.Phase),
		Message:        s.Message,
		FilesProcessed: &posts,
	}
	if s.Percentage != nil {
		p := *s.Percentage
		ev.Percentage = &p
	}
	if s.TotalPosts != nil {
		t := *s.TotalPosts
		ev.TotalFiles = &t
	}
	if s.Duration != nil {
		d := *s.Duration
		ev.Duration = &d
	}
	return ev
}

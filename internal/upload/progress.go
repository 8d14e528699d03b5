package upload

import "sync"

type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseCompressing Phase = "compressing"
	PhaseUploading   Phase = "uploading"
	PhaseDeleting    Phase = "deleting"
)

type Progress struct {
	Phase   Phase
	Percent int
}

// Tracker holds the phase of a single-shot operation such as an avatar
// upload. It returns to idle/0 when an operation starts, ends or fails.
type Tracker struct {
	mu       sync.Mutex
	current  Progress
	listener func(Progress)
}

func NewTracker(listener func(Progress)) *Tracker {
	return &Tracker{current: Progress{Phase: PhaseIdle}, listener: listener}
}

func (t *Tracker) Current() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

func (t *Tracker) Begin(phase Phase) {
	t.set(Progress{Phase: phase})
}

// Update sets the percent of the current phase, clamped to 0..100.
func (t *Tracker) Update(percent int) {
	t.mu.Lock()
	p := Progress{Phase: t.current.Phase, Percent: min(100, max(0, percent))}
	t.mu.Unlock()
	t.set(p)
}

func (t *Tracker) Reset() {
	t.set(Progress{Phase: PhaseIdle})
}

// Track runs fn in phase and resets the tracker afterwards, whatever fn
// returns.
func (t *Tracker) Track(phase Phase, fn func(report func(percent int)) error) error {
	t.Reset()
	t.Begin(phase)
	defer t.Reset()
	return fn(t.Update)
}

func (t *Tracker) set(p Progress) {
	t.mu.Lock()
	t.current = p
	listener := t.listener
	t.mu.Unlock()

	if listener != nil {
		listener(p)
	}
}

package cache

import (
	"sync"
	"time"
)

// Watermark tracks one resource: when it was last fetched successfully and whether a
// fetch is running. The zero lastUpdatedAt means never fetched.
type Watermark struct {
	mu            sync.Mutex
	lastUpdatedAt time.Time
	window        time.Duration
	inFlight      bool
	inFlightSince time.Time
	generation    uint64
	ceiling       time.Duration
}

func newWatermark(window, ceiling time.Duration) *Watermark {
	return &Watermark{window: window, ceiling: ceiling}
}

// begin decides whether a fetch may start at now. On success it returns the
// generation the caller must hand back to finish.
func (w *Watermark) begin(now time.Time) (uint64, Outcome) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.lastUpdatedAt.IsZero() && now.Sub(w.lastUpdatedAt) < w.window {
		return 0, SkippedFresh
	}
	if w.inFlight && (w.ceiling <= 0 || now.Sub(w.inFlightSince) < w.ceiling) {
		return 0, SkippedInFlight
	}
	w.inFlight = true
	w.inFlightSince = now
	w.generation++
	return w.generation, Fetched
}

// finish ends the fetch started with gen. commit, when non-nil, runs under the lock
// before the watermark advances to started. It reports false when a newer attempt has
// superseded gen, in which case nothing runs and nothing changes.
func (w *Watermark) finish(gen uint64, started time.Time, commit func()) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if gen != w.generation {
		return false
	}
	w.inFlight = false
	w.inFlightSince = time.Time{}
	if commit != nil {
		commit()
		w.lastUpdatedAt = started
	}
	return true
}

// invalidate forgets the last success. A running fetch is superseded so its result,
// which may belong to state that no longer applies, is dropped.
func (w *Watermark) invalidate() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastUpdatedAt = time.Time{}
	if w.inFlight {
		w.generation++
		w.inFlight = false
		w.inFlightSince = time.Time{}
	}
}

func (w *Watermark) restore(t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastUpdatedAt = t
}

func (w *Watermark) setWindow(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.window = d
}

func (w *Watermark) last() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastUpdatedAt
}

func (w *Watermark) fetching() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inFlight
}

// remaining is the time left before the window lapses at now.
func (w *Watermark) remaining(now time.Time) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lastUpdatedAt.IsZero() {
		return 0
	}
	left := w.window - now.Sub(w.lastUpdatedAt)
	if left < 0 {
		return 0
	}
	return left
}

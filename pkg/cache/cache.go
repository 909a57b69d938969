package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"coinsafe/pkg/metrics"

	"github.com/rs/zerolog"
)

// Resource names one independently polled data set. It doubles as the store key.
type Resource string

const (
	ResourcePrices       Resource = "prices"
	ResourceBalances     Resource = "balances"
	ResourceChainSummary Resource = "chain-summary"
)

// Resources lists the polled resources in refresh order.
var Resources = []Resource{ResourcePrices, ResourceBalances, ResourceChainSummary}

const (
	DefaultWindow          = 60 * time.Second
	DefaultChainWindow     = 180 * time.Second
	DefaultInFlightCeiling = 30 * time.Second
)

func defaultWindow(r Resource) time.Duration {
	if r == ResourceChainSummary {
		return DefaultChainWindow
	}
	return DefaultWindow
}

// Outcome is what an Attempt did.
type Outcome int

const (
	Fetched Outcome = iota
	SkippedFresh
	SkippedInFlight
	Failed
	// Superseded means the fetch finished after a newer attempt took over; its result was dropped.
	Superseded
)

func (o Outcome) String() string {
	switch o {
	case Fetched:
		return "fetched"
	case SkippedFresh:
		return "skipped_fresh"
	case SkippedInFlight:
		return "skipped_in_flight"
	case Failed:
		return "failed"
	case Superseded:
		return "superseded"
	}
	return "unknown"
}

// Fetcher performs the network call for a resource.
type Fetcher func(ctx context.Context) (any, error)

// Sink receives successful payloads keyed by resource name.
type Sink interface {
	Set(key string, value any)
}

// FetchError wraps a failed fetch with the resource it belongs to.
type FetchError struct {
	Resource Resource
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Resource, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Cache decides, per resource, whether a fetch is due and keeps the watermarks.
type Cache struct {
	mu      sync.Mutex
	marks   map[Resource]*Watermark
	windows map[Resource]time.Duration

	sink    Sink
	now     func() time.Time
	ceiling time.Duration
	log     zerolog.Logger
	metrics *metrics.Metrics
}

type Option func(*Cache)

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithInFlightCeiling sets how long an in-flight fetch may hold the guard before a new
// attempt is allowed to take over. Zero disables the ceiling.
func WithInFlightCeiling(d time.Duration) Option {
	return func(c *Cache) { c.ceiling = d }
}

func WithWindow(r Resource, d time.Duration) Option {
	return func(c *Cache) { c.windows[r] = d }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Cache) { c.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

func New(sink Sink, opts ...Option) *Cache {
	c := &Cache{
		marks:   make(map[Resource]*Watermark),
		windows: make(map[Resource]time.Duration),
		sink:    sink,
		now:     time.Now,
		ceiling: DefaultInFlightCeiling,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) mark(r Resource) *Watermark {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.marks[r]
	if !ok {
		window, set := c.windows[r]
		if !set {
			window = defaultWindow(r)
		}
		w = newWatermark(window, c.ceiling)
		c.marks[r] = w
	}
	return w
}

// Attempt runs fetch for r unless the last success is still inside the window or
// another fetch for r is running. A successful payload is written to the sink and the
// watermark moves to the time the attempt started. A failure leaves the watermark alone.
func (c *Cache) Attempt(ctx context.Context, r Resource, fetch Fetcher) (Outcome, error) {
	w := c.mark(r)
	start := c.now()
	log := c.log.With().Str("resource", string(r)).Logger()

	gen, outcome := w.begin(start)
	switch outcome {
	case SkippedFresh:
		log.Debug().Msgf("next update for %s in %s", r, FormatCountdown(w.remaining(start)))
		c.metrics.ObserveFetch(string(r), outcome.String(), 0)
		return outcome, nil
	case SkippedInFlight:
		log.Debug().Msg("already fetching")
		c.metrics.ObserveFetch(string(r), outcome.String(), 0)
		return outcome, nil
	}

	payload, err := fetch(ctx)
	elapsed := c.now().Sub(start).Seconds()
	if err != nil {
		w.finish(gen, start, nil)
		log.Warn().Err(err).Msg("fetch failed")
		c.metrics.ObserveFetch(string(r), Failed.String(), elapsed)
		return Failed, &FetchError{Resource: r, Err: err}
	}

	if !w.finish(gen, start, func() { c.sink.Set(string(r), payload) }) {
		log.Warn().Msg("fetch finished after being superseded, result dropped")
		c.metrics.ObserveFetch(string(r), Superseded.String(), elapsed)
		return Superseded, nil
	}
	log.Debug().Msg("fetched")
	c.metrics.ObserveFetch(string(r), Fetched.String(), elapsed)
	return Fetched, nil
}

// Invalidate forgets the last success of r so the next Attempt fetches regardless of the
// window. The result of a fetch already running for r is dropped.
func (c *Cache) Invalidate(r Resource) {
	c.mark(r).invalidate()
	c.log.Debug().Str("resource", string(r)).Msg("invalidated")
}

func (c *Cache) InvalidateAll() {
	for _, r := range Resources {
		c.Invalidate(r)
	}
}

// LastUpdated returns the start time of the last successful fetch, zero if none.
func (c *Cache) LastUpdated(r Resource) time.Time {
	return c.mark(r).last()
}

// Restore seeds the watermark of r, typically from persisted state.
func (c *Cache) Restore(r Resource, t time.Time) {
	c.mark(r).restore(t)
}

// SetWindow changes the window of r.
func (c *Cache) SetWindow(r Resource, d time.Duration) {
	c.mark(r).setWindow(d)
}

// InFlight reports whether a fetch for r is running.
func (c *Cache) InFlight(r Resource) bool {
	return c.mark(r).fetching()
}

// NextUpdate is the time left before r is due again. Zero means due now.
func (c *Cache) NextUpdate(r Resource) time.Duration {
	return c.mark(r).remaining(c.now())
}

// Watermarks returns the last success of every known resource.
func (c *Cache) Watermarks() map[Resource]time.Time {
	out := make(map[Resource]time.Time, len(Resources))
	for _, r := range Resources {
		out[r] = c.LastUpdated(r)
	}
	return out
}

// FormatCountdown renders d as "0h 1m 5s".
func FormatCountdown(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

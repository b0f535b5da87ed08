// Package director implements the coordinator that owns a set of
// backends, a bounded probe table, and a background probe loop,
// selecting a backend for each request via hot/cold-lexicographic
// sampling with a uniform-random fallback.
package director

import (
	"errors"
	"math/rand"
	"sync"
	"time"
	"weak"

	"golang.org/x/time/rate"

	"github.com/go-prequal/director/backend"
	"github.com/go-prequal/director/internal/stats"
	"github.com/go-prequal/director/probetable"
)

// Errors returned by Director operations: an invalid backend rejected
// at admission, an empty backend set at selection time, and a
// lock-poisoning error kept only for API parity — Go's sync.Mutex
// cannot be poisoned, so ErrBackendLock is never returned by this
// package.
var (
	ErrInvalidBackend = errors.New("director: invalid backend")
	ErrNoBackends     = errors.New("director: no backends registered")
	ErrBackendLock    = errors.New("director: backend lock error")
)

const (
	// ProbeInterval bounds how long the probe loop waits for a trigger
	// before checking whether the table needs refilling (a refill round
	// runs only when the table is not above half full).
	ProbeInterval = 5 * time.Second
	// DefaultProbeCount is how many backends a triggered probe round
	// samples.
	DefaultProbeCount = 3
	// triggerBuffer is the depth of the non-blocking trigger channel.
	triggerBuffer = 1
)

// Validator optionally checks a backend handle before admission.
type Validator[H comparable] func(H) error

// Director coordinates backend membership, the probe table, and the
// probe loop for one logical pool of backends.
type Director[H comparable] struct {
	mu       sync.RWMutex
	backends []backend.Backend[H]

	table   *probetable.Table[H]
	trigger chan struct{}

	probePath string
	pathMu    sync.RWMutex

	validator Validator[H]
	prober    Prober[H]
	limiter   *rate.Limiter
	stats     *stats.Sink

	stop chan struct{}
	once sync.Once
}

// Option configures a Director at construction time.
type Option[H comparable] func(*Director[H])

// WithValidator installs a handle validator run by AddBackend.
func WithValidator[H comparable](v Validator[H]) Option[H] {
	return func(d *Director[H]) { d.validator = v }
}

// WithProber overrides the transport used to probe backends; tests
// supply a fake, production wires the default HTTP prober.
func WithProber[H comparable](p Prober[H]) Option[H] {
	return func(d *Director[H]) { d.prober = p }
}

// WithStats attaches a statistics sink. If omitted, the Director creates
// its own sink, reachable through Stats.
func WithStats[H comparable](s *stats.Sink) Option[H] {
	return func(d *Director[H]) { d.stats = s }
}

// WithProbeRateLimit bounds outbound probe dispatch rate as
// defense-in-depth atop the trigger/timeout schedule.
func WithProbeRateLimit[H comparable](r rate.Limit, burst int) Option[H] {
	return func(d *Director[H]) { d.limiter = rate.NewLimiter(r, burst) }
}

// New constructs a Director and starts its background probe loop. The
// returned stop function terminates the loop; it is also terminated
// automatically, without anyone calling stop, once the Director itself
// becomes unreachable and is collected — the loop holds only a weak
// reference to the Director via a downgraded pointer, so it never keeps
// its own owner alive.
func New[H comparable](probePath string, opts ...Option[H]) (*Director[H], func()) {
	d := &Director[H]{
		table:     probetable.New[H](),
		trigger:   make(chan struct{}, triggerBuffer),
		probePath: probePath,
		stop:      make(chan struct{}),
		stats:     stats.New(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.prober == nil {
		d.prober = NewHTTPProber[H]()
	}
	if d.limiter == nil {
		d.limiter = rate.NewLimiter(rate.Limit(probetable.Size), probetable.Size)
	}

	weakSelf := weak.Make(d)
	go runProbeLoop(weakSelf)

	stopOnce := func() {
		d.once.Do(func() { close(d.stop) })
	}
	return d, stopOnce
}

// SetProbePath updates the path probed on each backend. Effective on
// the next scheduled probe round.
func (d *Director[H]) SetProbePath(path string) {
	d.pathMu.Lock()
	defer d.pathMu.Unlock()
	d.probePath = path
}

func (d *Director[H]) probePathSnapshot() string {
	d.pathMu.RLock()
	defer d.pathMu.RUnlock()
	return d.probePath
}

// AddBackend admits a backend to the pool. If a Validator was
// configured, it runs first and a failure returns ErrInvalidBackend
// without modifying the pool. Adding a backend whose handle is already
// present replaces the prior entry in place, matching the idempotent
// semantics the Director promises. Admission wakes the probe loop.
func (d *Director[H]) AddBackend(b backend.Backend[H]) error {
	if d.validator != nil {
		if err := d.validator(b.Handle); err != nil {
			return ErrInvalidBackend
		}
	}

	d.mu.Lock()
	replaced := false
	for i, existing := range d.backends {
		if existing.Equal(b) {
			d.backends[i] = b
			replaced = true
			break
		}
	}
	if !replaced {
		d.backends = append(d.backends, b)
	}
	count := len(d.backends)
	d.mu.Unlock()

	d.stats.SetBackendCount(count)
	d.TriggerProbe()
	return nil
}

// RemoveBackend drops a backend from the pool and synchronously purges
// any probe-table samples referring to it, so a stale sample can never
// be selected after removal returns.
func (d *Director[H]) RemoveBackend(h H) {
	d.mu.Lock()
	filtered := d.backends[:0]
	for _, b := range d.backends {
		if b.Handle != h {
			filtered = append(filtered, b)
		}
	}
	d.backends = filtered
	count := len(d.backends)
	d.mu.Unlock()

	d.stats.SetBackendCount(count)
	d.table.PurgeBackend(h)
	d.stats.SetProbeSamples(d.table.Values())
}

// Backends returns a snapshot copy of the current backend set.
func (d *Director[H]) Backends() []backend.Backend[H] {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]backend.Backend[H], len(d.backends))
	copy(out, d.backends)
	return out
}

// isMember reports whether b is still part of the backend set.
func (d *Director[H]) isMember(b backend.Backend[H]) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, existing := range d.backends {
		if existing.Equal(b) {
			return true
		}
	}
	return false
}

// Select chooses a backend for one request: it tries the probe table
// first, re-verifying the chosen sample's backend is still a pool
// member (a sample can outlive a concurrent RemoveBackend race window),
// and falls back to uniform-random selection over the current pool
// when the table is empty, exhausted, or names a backend that has
// since left the pool. The second return value reports whether the
// backend came from the probe table. Every call also wakes the probe
// loop.
func (d *Director[H]) Select() (backend.Backend[H], bool, error) {
	d.stats.IncRequests()
	d.TriggerProbe()

	if b, ok := d.table.Select(); ok && d.isMember(b) {
		d.stats.IncSelectedFromTable()
		return b, true, nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if len(d.backends) == 0 {
		return *new(backend.Backend[H]), false, ErrNoBackends
	}
	d.stats.IncFallbackRandom()
	return d.backends[rand.Intn(len(d.backends))], false, nil
}

// TriggerProbe asks the probe loop to run a round soon. The send is
// non-blocking: if a trigger is already pending, this is a no-op.
func (d *Director[H]) TriggerProbe() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// IsHealthy reports whether the probe table currently holds any
// sample: a director with no successful probes yet is not healthy.
func (d *Director[H]) IsHealthy() bool {
	return d.table.HasAny()
}

// SnapshotProbeTable returns a diagnostic listing of the current probe
// table contents.
func (d *Director[H]) SnapshotProbeTable() string {
	return d.table.Snapshot()
}

// Stats returns the Director's statistics sink.
func (d *Director[H]) Stats() *stats.Sink {
	return d.stats
}

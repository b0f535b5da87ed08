// Package probetable implements the bounded, concurrent, time- and
// usage-aged collection of backend load samples described by the
// director's core: a hot/cold-lexicographic (HCL) admission, eviction,
// and selection policy over at most Size live samples.
package probetable

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-prequal/director/backend"
)

// Tunables, fixed per spec (published Prequal parameters).
const (
	// Size is the maximum number of samples the table retains at once.
	Size = 16
	// MaxAge is how long a sample stays live after it was taken.
	MaxAge = 5 * time.Second
	// MaxUses bounds how many times a single sample may be returned by
	// Select before it is treated as expired.
	MaxUses = 3
	// ColdHotSplit is the fraction of the table's current max RIF at or
	// below which (after flooring) a sample is considered cold.
	ColdHotSplit = 0.8
)

// Sample is one freshness-stamped load observation for a Backend.
// UsedCount is atomic and independent of the table's mutex: concurrent
// Select calls may both observe and increment the same sample, which is
// intentional — MaxUses bounds reuse regardless of the race.
type Sample[H comparable] struct {
	Backend    backend.Backend[H]
	TakenAt    time.Time
	RIF        uint64
	EstLatency uint64

	usedCount atomic.Uint64
}

// NewSample builds a Sample taken at the current time.
func NewSample[H comparable](b backend.Backend[H], rif, estLatency uint64) *Sample[H] {
	return &Sample[H]{Backend: b, TakenAt: time.Now(), RIF: rif, EstLatency: estLatency}
}

// UsedCount returns how many times this sample has been selected.
func (s *Sample[H]) UsedCount() uint64 { return s.usedCount.Load() }

func (s *Sample[H]) live(now time.Time) bool {
	age := now.Sub(s.TakenAt)
	if age < 0 {
		age = 0 // saturate against clock skew, per spec design notes
	}
	return age <= MaxAge && s.usedCount.Load() < MaxUses
}

// Table is the bounded probe table. All mutating operations are
// serialized by mu; pruning, dedup, append, eviction, and summary
// recomputation happen as one atomic step within a single call.
type Table[H comparable] struct {
	mu      sync.Mutex
	samples []*Sample[H]
	maxRIF  uint64
}

// New returns an empty probe table.
func New[H comparable]() *Table[H] {
	return &Table[H]{samples: make([]*Sample[H], 0, Size)}
}

// pruneLocked removes stale and over-used samples. Caller must hold mu.
func (t *Table[H]) pruneLocked(now time.Time) {
	live := t.samples[:0]
	for _, s := range t.samples {
		if s.live(now) {
			live = append(live, s)
		}
	}
	t.samples = live
}

func maxRIFOf[H comparable](samples []*Sample[H]) uint64 {
	var m uint64
	for _, s := range samples {
		if s.RIF > m {
			m = s.RIF
		}
	}
	return m
}

func threshold(maxRIF uint64) uint64 {
	return uint64(math.Floor(float64(maxRIF) * ColdHotSplit))
}

// partition splits samples into cold (rif <= threshold) and hot
// (rif > threshold) index lists, preserving relative order.
func partition[H comparable](samples []*Sample[H], t uint64) (cold, hot []int) {
	for i, s := range samples {
		if s.RIF <= t {
			cold = append(cold, i)
		} else {
			hot = append(hot, i)
		}
	}
	return cold, hot
}

// Insert atomically prunes, de-duplicates by Backend identity, appends,
// evicts down to Size via the inverse-HCL rule, and refreshes the
// cached max RIF. It never fails.
func (t *Table[H]) Insert(s *Sample[H]) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	t.pruneLocked(now)

	filtered := t.samples[:0]
	for _, existing := range t.samples {
		if !existing.Backend.Equal(s.Backend) {
			filtered = append(filtered, existing)
		}
	}
	t.samples = append(filtered, s)

	for len(t.samples) > Size {
		t.evictOneLocked()
	}

	t.maxRIF = maxRIFOf(t.samples)
}

// evictOneLocked removes a single sample via the inverse-HCL rule:
// prefer evicting the hot sample with the highest est_latency; if no
// hot sample exists, evict the cold sample with the highest
// est_latency. The hot/cold partition is recomputed against the
// current contents (including whatever was just inserted) before each
// eviction decision. Caller must hold mu and len(t.samples) > 0.
func (t *Table[H]) evictOneLocked() {
	m := maxRIFOf(t.samples)
	th := threshold(m)
	cold, hot := partition(t.samples, th)

	candidates := hot
	if len(candidates) == 0 {
		candidates = cold
	}

	victim := candidates[0]
	worst := t.samples[victim].EstLatency
	for _, i := range candidates[1:] {
		if t.samples[i].EstLatency > worst {
			worst = t.samples[i].EstLatency
			victim = i
		}
	}

	t.samples = append(t.samples[:victim], t.samples[victim+1:]...)
}

// Select applies the HCL selection rule over live samples: among cold
// samples (rif <= floor(0.8*maxRIF)), pick the lowest est_latency;
// otherwise pick the hot sample with the lowest rif. max_rif is
// recomputed after pruning, since a stale high-RIF sample dropped by
// this call's own prune must not inflate the threshold used below.
// Ties break toward the earliest-inserted candidate. The chosen
// sample's used count is incremented as part of the decision.
func (t *Table[H]) Select() (backend.Backend[H], bool) {
	t.mu.Lock()
	now := time.Now()
	t.pruneLocked(now)
	if len(t.samples) == 0 {
		t.mu.Unlock()
		var zero backend.Backend[H]
		return zero, false
	}
	t.maxRIF = maxRIFOf(t.samples)

	th := threshold(t.maxRIF)
	cold, hot := partition(t.samples, th)

	var chosen *Sample[H]
	if len(cold) > 0 {
		best := cold[0]
		for _, i := range cold[1:] {
			if t.samples[i].EstLatency < t.samples[best].EstLatency {
				best = i
			}
		}
		chosen = t.samples[best]
	} else {
		best := hot[0]
		for _, i := range hot[1:] {
			if t.samples[i].RIF < t.samples[best].RIF {
				best = i
			}
		}
		chosen = t.samples[best]
	}
	t.mu.Unlock()

	chosen.usedCount.Add(1)
	return chosen.Backend, true
}

// PurgeBackend removes any sample referring to the given backend handle.
func (t *Table[H]) PurgeBackend(h H) {
	t.mu.Lock()
	defer t.mu.Unlock()
	filtered := t.samples[:0]
	for _, s := range t.samples {
		if s.Backend.Handle != h {
			filtered = append(filtered, s)
		}
	}
	t.samples = filtered
	t.maxRIF = maxRIFOf(t.samples)
}

// Size returns the current number of samples.
func (t *Table[H]) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.samples)
}

// IsAboveHalfFull reports whether the table holds more than Size/2 live
// samples, pruning stale entries first.
func (t *Table[H]) IsAboveHalfFull() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked(time.Now())
	return len(t.samples) > Size/2
}

// HasAny reports whether the table currently holds any sample.
func (t *Table[H]) HasAny() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.samples) > 0
}

// Values returns copies of the current RIF and latency readings, for
// statistics gauges. Order is unspecified.
func (t *Table[H]) Values() (rifs, latencies []float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rifs = make([]float64, len(t.samples))
	latencies = make([]float64, len(t.samples))
	for i, s := range t.samples {
		rifs[i] = float64(s.RIF)
		latencies[i] = float64(s.EstLatency)
	}
	return rifs, latencies
}

// Snapshot returns a human-readable listing of current samples, for
// diagnostics.
func (t *Table[H]) Snapshot() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var b strings.Builder
	for i, s := range t.samples {
		fmt.Fprintf(&b, "probe[%d]: backend=%s (%s) rif=%d latency=%d used=%d\n",
			i, s.Backend.Name, s.Backend.Address, s.RIF, s.EstLatency, s.usedCount.Load())
	}
	return b.String()
}

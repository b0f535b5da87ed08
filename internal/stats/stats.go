// Package stats holds the director's statistics sink: a set of plain
// atomic counters and gauges that are the single source of truth,
// mirrored read-only into a Prometheus registry so nothing is
// double-bookkept between the two.
package stats

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"gonum.org/v1/gonum/stat"
)

// Sink accumulates the counters and gauges named in the director's
// statistics contract. All fields are safe for concurrent use.
type Sink struct {
	requests           atomic.Uint64
	selectedFromTable  atomic.Uint64
	fallbackRandom     atomic.Uint64
	probesSent         atomic.Uint64
	probesSuccess      atomic.Uint64
	probesFail         atomic.Uint64
	probesMissingHdrs  atomic.Uint64
	backendCount       atomic.Int64
	probeTableSize     atomic.Int64

	mu        sync.Mutex
	rifs      []float64
	latencies []float64

	registry *prometheus.Registry
}

// New returns a Sink with its own Prometheus registry wired to the
// atomics above via CounterFunc/GaugeFunc closures, so the registry
// never holds its own copy of the numbers.
func New() *Sink {
	s := &Sink{registry: prometheus.NewRegistry()}
	s.registerCollectors()
	return s
}

func (s *Sink) registerCollectors() {
	counter := func(name, help string, read func() uint64) {
		s.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: name,
			Help: help,
		}, func() float64 { return float64(read()) }))
	}
	gauge := func(name, help string, read func() float64) {
		s.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: name,
			Help: help,
		}, read))
	}

	counter("director_requests_total", "Total Select calls.", s.requests.Load)
	counter("director_selected_from_table_total", "Selections served from the probe table.", s.selectedFromTable.Load)
	counter("director_fallback_random_total", "Selections served by uniform random fallback.", s.fallbackRandom.Load)
	counter("director_probes_sent_total", "Probe requests dispatched.", s.probesSent.Load)
	counter("director_probes_success_total", "Probe requests that returned usable data.", s.probesSuccess.Load)
	counter("director_probes_fail_total", "Probe requests that errored or timed out.", s.probesFail.Load)
	counter("director_probes_missing_headers_total", "Probe responses missing required load headers.", s.probesMissingHdrs.Load)

	gauge("director_backends", "Current number of registered backends.", func() float64 { return float64(s.backendCount.Load()) })
	gauge("director_probe_table_size", "Current number of live probe samples.", func() float64 { return float64(s.probeTableSize.Load()) })
	gauge("director_rif_p50", "Median requests-in-flight across live probes.", func() float64 { return s.quantile(0.5, true) })
	gauge("director_rif_p80", "80th percentile requests-in-flight across live probes.", func() float64 { return s.quantile(0.8, true) })
	gauge("director_rif_min", "Minimum requests-in-flight across live probes.", func() float64 { return s.extreme(true, false) })
	gauge("director_rif_max", "Maximum requests-in-flight across live probes.", func() float64 { return s.extreme(true, true) })
	gauge("director_latency_p50", "Median estimated latency across live probes.", func() float64 { return s.quantile(0.5, false) })
	gauge("director_latency_p80", "80th percentile estimated latency across live probes.", func() float64 { return s.quantile(0.8, false) })
	gauge("director_latency_min", "Minimum estimated latency across live probes.", func() float64 { return s.extreme(false, false) })
	gauge("director_latency_max", "Maximum estimated latency across live probes.", func() float64 { return s.extreme(false, true) })
}

// Registry returns the Prometheus registry backing this sink, for
// mounting behind promhttp.HandlerFor.
func (s *Sink) Registry() *prometheus.Registry { return s.registry }

func (s *Sink) IncRequests()            { s.requests.Add(1) }
func (s *Sink) IncSelectedFromTable()    { s.selectedFromTable.Add(1) }
func (s *Sink) IncFallbackRandom()       { s.fallbackRandom.Add(1) }
func (s *Sink) IncProbesSent()           { s.probesSent.Add(1) }
func (s *Sink) IncProbesSuccess()        { s.probesSuccess.Add(1) }
func (s *Sink) IncProbesFail()           { s.probesFail.Add(1) }
func (s *Sink) IncProbesMissingHeaders() { s.probesMissingHdrs.Add(1) }

// SetBackendCount records the current backend set size.
func (s *Sink) SetBackendCount(n int) { s.backendCount.Store(int64(n)) }

// SetProbeSamples records the current probe table readings, replacing
// the previous snapshot used for percentile/extreme gauges.
func (s *Sink) SetProbeSamples(rifs, latencies []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rifs = append(s.rifs[:0], rifs...)
	s.latencies = append(s.latencies[:0], latencies...)
	s.probeTableSize.Store(int64(len(rifs)))
}

// quantile computes the given quantile over the most recent RIF or
// latency snapshot using gonum's empirical CDF.
func (s *Sink) quantile(q float64, rif bool) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	values := s.latencies
	if rif {
		values = s.rifs
	}
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return stat.Quantile(q, stat.Empirical, sorted, nil)
}

func (s *Sink) extreme(rif, max bool) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	values := s.latencies
	if rif {
		values = s.rifs
	}
	if len(values) == 0 {
		return 0
	}
	best := values[0]
	for _, v := range values[1:] {
		if (max && v > best) || (!max && v < best) {
			best = v
		}
	}
	return best
}

// Snapshot is a point-in-time view of every statistic, for diagnostic
// JSON endpoints.
type Snapshot struct {
	Requests          uint64  `json:"requests"`
	SelectedFromTable uint64  `json:"selected_from_table"`
	FallbackRandom    uint64  `json:"fallback_random"`
	ProbesSent        uint64  `json:"probes_sent"`
	ProbesSuccess     uint64  `json:"probes_success"`
	ProbesFail        uint64  `json:"probes_fail"`
	ProbesMissingHdrs uint64  `json:"probes_missing_headers"`
	Backends          int64   `json:"backends"`
	ProbeTableSize    int64   `json:"probe_table_size"`
	RIFP50            float64 `json:"rif_p50"`
	RIFP80            float64 `json:"rif_p80"`
	RIFMin            float64 `json:"rif_min"`
	RIFMax            float64 `json:"rif_max"`
	LatencyP50        float64 `json:"latency_p50"`
	LatencyP80        float64 `json:"latency_p80"`
	LatencyMin        float64 `json:"latency_min"`
	LatencyMax        float64 `json:"latency_max"`
	// LatencyMean is a supplemental field not in the core statistics
	// contract.
	LatencyMean float64 `json:"latency_mean"`
}

// Snapshot returns the current value of every statistic.
func (s *Sink) Snapshot() Snapshot {
	return Snapshot{
		Requests:          s.requests.Load(),
		SelectedFromTable: s.selectedFromTable.Load(),
		FallbackRandom:    s.fallbackRandom.Load(),
		ProbesSent:        s.probesSent.Load(),
		ProbesSuccess:     s.probesSuccess.Load(),
		ProbesFail:        s.probesFail.Load(),
		ProbesMissingHdrs: s.probesMissingHdrs.Load(),
		Backends:          s.backendCount.Load(),
		ProbeTableSize:    s.probeTableSize.Load(),
		RIFP50:            s.quantile(0.5, true),
		RIFP80:            s.quantile(0.8, true),
		RIFMin:            s.extreme(true, false),
		RIFMax:            s.extreme(true, true),
		LatencyP50:        s.quantile(0.5, false),
		LatencyP80:        s.quantile(0.8, false),
		LatencyMin:        s.extreme(false, false),
		LatencyMax:        s.extreme(false, true),
		LatencyMean:       s.mean(),
	}
}

func (s *Sink) mean() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.latencies) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s.latencies {
		sum += v
	}
	return sum / float64(len(s.latencies))
}

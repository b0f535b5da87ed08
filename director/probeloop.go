package director

import (
	"context"
	"math/rand"
	"time"
	"weak"

	"github.com/go-prequal/director/backend"
	"github.com/go-prequal/director/probetable"
)

// runProbeLoop is the Director's background sampler. It holds only a
// weak reference to the Director: once the Director becomes otherwise
// unreachable and is collected, Value returns nil and the loop exits
// on its own, so the loop never keeps its owner alive.
func runProbeLoop[H comparable](weakSelf weak.Pointer[Director[H]]) {
	for {
		d := weakSelf.Value()
		if d == nil {
			return
		}
		stop, trigger := d.stop, d.trigger
		d = nil // don't hold the strong reference while waiting

		select {
		case <-stop:
			return
		case <-trigger:
			if d = weakSelf.Value(); d != nil {
				probeRound(d, DefaultProbeCount)
			}
		case <-time.After(ProbeInterval):
			if d = weakSelf.Value(); d != nil && !d.table.IsAboveHalfFull() {
				probeRound(d, probetable.Size/2)
			}
		}
		d = nil // don't hold the strong reference across loop iterations
	}
}

// probeRound samples up to n distinct backends at random and feeds
// successful results into the probe table.
func probeRound[H comparable](d *Director[H], n int) {
	backends := d.Backends()
	if len(backends) == 0 {
		return
	}

	path := d.probePathSnapshot()
	ctx := context.Background()

	chosen := sampleN(backends, n)
	for _, b := range chosen {
		if err := d.limiter.Wait(ctx); err != nil {
			d.stats.IncProbesFail()
			continue
		}

		d.stats.IncProbesSent()
		result, err := d.prober.Probe(ctx, b, path)
		if err != nil {
			if err == errMissingHeaders {
				d.stats.IncProbesMissingHeaders()
			} else {
				d.stats.IncProbesFail()
			}
			continue
		}
		d.stats.IncProbesSuccess()
		d.table.Insert(probetable.NewSample(b, result.RIF, result.EstLatency))
		d.stats.SetProbeSamples(d.table.Values())
	}
}

// sampleN returns up to n distinct elements of backends in random
// order, without modifying the input slice.
func sampleN[H comparable](backends []backend.Backend[H], n int) []backend.Backend[H] {
	if n > len(backends) {
		n = len(backends)
	}
	pool := make([]backend.Backend[H], len(backends))
	copy(pool, backends)
	rand.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	return pool[:n]
}

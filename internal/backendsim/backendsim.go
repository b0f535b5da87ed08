// Package backendsim provides a lightweight simulated backend server
// for exercising the director's probe HTTP protocol end to end,
// reporting load via the X-In-Flight/X-Estimated-Latency response
// headers the probe protocol actually reads.
package backendsim

import (
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"time"
)

// Backend is a simulated backend exposing the probe endpoint the
// director's prober hits, with latency jittered around a configurable
// base and requests-in-flight tracked for real.
type Backend struct {
	Server *httptest.Server

	inFlight    atomic.Int64
	baseLatency time.Duration
	jitter      time.Duration
}

// New starts a simulated backend on an ephemeral port. baseLatency and
// jitter control the Gaussian-distributed simulated processing time.
func New(baseLatency, jitter time.Duration) *Backend {
	b := &Backend{baseLatency: baseLatency, jitter: jitter}
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", b.handleProbe)
	mux.HandleFunc("/", b.handleRequest)
	b.Server = httptest.NewServer(mux)
	return b
}

// Close shuts down the simulated backend.
func (b *Backend) Close() { b.Server.Close() }

// Addr returns the host:port the backend listens on, usable directly
// as a Backend.Address in the director's backend set.
func (b *Backend) Addr() string {
	return b.Server.Listener.Addr().String()
}

func (b *Backend) simulatedLatency() time.Duration {
	jitterMs := rand.NormFloat64() * float64(b.jitter.Milliseconds())
	totalMs := math.Max(0, float64(b.baseLatency.Milliseconds())+jitterMs)
	return time.Duration(totalMs) * time.Millisecond
}

func (b *Backend) handleRequest(w http.ResponseWriter, _ *http.Request) {
	b.inFlight.Add(1)
	defer b.inFlight.Add(-1)

	latency := b.simulatedLatency()
	time.Sleep(latency)

	fmt.Fprintf(w, "ok in %s\n", latency)
}

// handleProbe is what the director's HTTP prober calls: it reports the
// current in-flight count and an estimated latency via response
// headers, matching the wire contract in director.Prober.
func (b *Backend) handleProbe(w http.ResponseWriter, _ *http.Request) {
	rif := b.inFlight.Load()
	estimated := b.baseLatency + time.Duration(rif)*time.Millisecond

	w.Header().Set("X-In-Flight", strconv.FormatInt(rif, 10))
	w.Header().Set("X-Estimated-Latency", strconv.FormatInt(estimated.Milliseconds(), 10))
	w.WriteHeader(http.StatusOK)
}

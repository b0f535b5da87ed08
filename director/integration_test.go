package director

import (
	"testing"
	"time"

	"github.com/go-prequal/director/backend"
	"github.com/go-prequal/director/internal/backendsim"
)

// TestSelectAgainstSimulatedBackends exercises the real HTTP prober
// against backendsim fixtures: a clearly slower backend should lose to
// a clearly faster one once the probe table has been populated.
func TestSelectAgainstSimulatedBackends(t *testing.T) {
	fast := backendsim.New(5*time.Millisecond, time.Millisecond)
	defer fast.Close()
	slow := backendsim.New(80*time.Millisecond, time.Millisecond)
	defer slow.Close()

	d, stop := New[string]("/metrics")
	defer stop()

	if err := d.AddBackend(backend.New("fast", fast.Addr(), "fast")); err != nil {
		t.Fatalf("AddBackend fast: %v", err)
	}
	if err := d.AddBackend(backend.New("slow", slow.Addr(), "slow")); err != nil {
		t.Fatalf("AddBackend slow: %v", err)
	}

	// Drive several probe rounds directly rather than waiting on the
	// background loop's own schedule, to keep the test deterministic.
	for i := 0; i < 5; i++ {
		probeRound(d, 2)
	}

	counts := map[string]int{}
	for i := 0; i < 20; i++ {
		b, _, err := d.Select()
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		counts[b.Handle]++
	}

	if counts["fast"] <= counts["slow"] {
		t.Fatalf("expected fast backend to be selected more often, got %+v", counts)
	}
}

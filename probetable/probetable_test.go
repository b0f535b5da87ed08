package probetable

import (
	"testing"
	"time"

	"github.com/go-prequal/director/backend"
)

func testBackend(name string) backend.Backend[string] {
	return backend.New(name, name+".internal:80", name)
}

func insertSample(t *Table[string], name string, rif, latency uint64) {
	t.Insert(NewSample(testBackend(name), rif, latency))
}

func TestSelectPrefersColdLowestLatency(t *testing.T) {
	tbl := New[string]()
	insertSample(tbl, "a", 10, 50)
	insertSample(tbl, "b", 10, 20)
	insertSample(tbl, "c", 20, 80)

	got, ok := tbl.Select()
	if !ok {
		t.Fatal("expected a selection")
	}
	if got.Name != "b" {
		t.Fatalf("expected b (lowest latency among cold), got %s", got.Name)
	}
}

func TestSelectFallsBackToHotLowestRIF(t *testing.T) {
	tbl := New[string]()
	// force a hot-only scenario: max_rif is 100, so the threshold is
	// floor(100*0.8) = 80 and every sample's rif (100, 100, 90) is above
	// it, leaving no cold sample.
	insertSample(tbl, "a", 100, 5)
	insertSample(tbl, "b", 100, 1)
	insertSample(tbl, "c", 90, 9)

	got, ok := tbl.Select()
	if !ok {
		t.Fatal("expected a selection")
	}
	if got.Name != "c" {
		t.Fatalf("expected c (lowest rif among hot), got %s", got.Name)
	}
}

func TestInsertDeduplicatesByBackend(t *testing.T) {
	tbl := New[string]()
	insertSample(tbl, "a", 10, 50)
	insertSample(tbl, "a", 20, 5)

	if tbl.Size() != 1 {
		t.Fatalf("expected deduplication to leave 1 sample, got %d", tbl.Size())
	}
	got, ok := tbl.Select()
	if !ok || got.Name != "a" {
		t.Fatalf("expected remaining sample to be a's latest, got %+v ok=%v", got, ok)
	}
}

func TestEvictionCapsAtSize(t *testing.T) {
	tbl := New[string]()
	for i := 0; i < Size+5; i++ {
		insertSample(tbl, string(rune('a'+i)), uint64(i), uint64(i*10))
	}
	if tbl.Size() != Size {
		t.Fatalf("expected table capped at %d, got %d", Size, tbl.Size())
	}
}

func TestEvictionPrefersHotHighestLatency(t *testing.T) {
	tbl := New[string]()
	// Fill to capacity with uniform cold samples.
	for i := 0; i < Size; i++ {
		insertSample(tbl, string(rune('a'+i)), 10, uint64(10+i))
	}
	// Insert one hot sample with very high latency; it should be the
	// one evicted back out immediately since it is the sole hot
	// candidate and has the highest latency among hot samples.
	insertSample(tbl, "z", 1000, 99999)

	if tbl.Size() != Size {
		t.Fatalf("expected table still capped at %d, got %d", Size, tbl.Size())
	}
	// The hot newcomer should have been evicted since it is both the
	// only hot sample and trivially the highest-latency hot sample.
	snap := tbl.Snapshot()
	if contains(snap, "backend=z ") {
		t.Fatalf("expected newcomer z to be evicted, snapshot:\n%s", snap)
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}

func TestPurgeBackendRemovesSample(t *testing.T) {
	tbl := New[string]()
	insertSample(tbl, "a", 10, 50)
	insertSample(tbl, "b", 10, 20)

	tbl.PurgeBackend("a")
	if tbl.Size() != 1 {
		t.Fatalf("expected 1 sample after purge, got %d", tbl.Size())
	}
	got, ok := tbl.Select()
	if !ok || got.Name != "b" {
		t.Fatalf("expected b to remain, got %+v ok=%v", got, ok)
	}
}

func TestSampleExpiresAfterMaxUses(t *testing.T) {
	tbl := New[string]()
	insertSample(tbl, "a", 10, 50)

	for i := 0; i < MaxUses; i++ {
		if _, ok := tbl.Select(); !ok {
			t.Fatalf("expected selection on use %d", i)
		}
	}
	if _, ok := tbl.Select(); ok {
		t.Fatal("expected sample to be expired after MaxUses selections")
	}
}

func TestSampleExpiresAfterMaxAge(t *testing.T) {
	tbl := New[string]()
	s := NewSample(testBackend("a"), uint64(10), uint64(50))
	s.TakenAt = time.Now().Add(-MaxAge - time.Second)
	tbl.Insert(s)

	if _, ok := tbl.Select(); ok {
		t.Fatal("expected stale sample to be pruned")
	}
	if tbl.HasAny() {
		t.Fatal("expected table to be empty after pruning stale sample")
	}
}

// TestSelectRecomputesMaxRIFAfterPruning guards against a stale cached
// max_rif: a high-RIF sample ages out after the last insert, so the live max
// at selection time is lower than the cached value computed when that
// sample was still live. The threshold must be derived from the live
// max, not the stale one.
func TestSelectRecomputesMaxRIFAfterPruning(t *testing.T) {
	tbl := New[string]()
	stale := NewSample(testBackend("a"), uint64(100), uint64(1))
	tbl.Insert(stale)
	insertSample(tbl, "x", 50, 5)
	insertSample(tbl, "y", 10, 100)

	stale.TakenAt = time.Now().Add(-MaxAge - time.Second)

	got, ok := tbl.Select()
	if !ok {
		t.Fatal("expected a selection")
	}
	if got.Name != "y" {
		t.Fatalf("expected y (cold under the live max of 50), got %s", got.Name)
	}
}

func TestIsAboveHalfFull(t *testing.T) {
	tbl := New[string]()
	for i := 0; i < Size/2; i++ {
		insertSample(tbl, string(rune('a'+i)), uint64(i), uint64(i))
	}
	if tbl.IsAboveHalfFull() {
		t.Fatal("expected exactly half full to not count as above half")
	}
	insertSample(tbl, "extra", 1, 1)
	if !tbl.IsAboveHalfFull() {
		t.Fatal("expected table to be above half full")
	}
}

func TestSelectOnEmptyTable(t *testing.T) {
	tbl := New[string]()
	if _, ok := tbl.Select(); ok {
		t.Fatal("expected no selection from an empty table")
	}
}

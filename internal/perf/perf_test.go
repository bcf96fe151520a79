package perf

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestTimings(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := New(clock)

	stop := r.Start("handler.join")
	clock.Advance(15 * time.Millisecond)
	if ms := stop(); ms != 15 {
		t.Errorf("stop() = %v, want 15", ms)
	}

	stop = r.Start("handler.join")
	clock.Advance(5 * time.Millisecond)
	stop()

	snap := r.TakeSnapshot()
	stats, ok := snap.Timings["handler.join"]
	if !ok {
		t.Fatal("no stats for handler.join")
	}
	if stats.Count != 2 {
		t.Errorf("Count = %d, want 2", stats.Count)
	}
	if stats.Avg != 10 {
		t.Errorf("Avg = %v, want 10", stats.Avg)
	}
	if stats.Min != 5 || stats.Max != 15 {
		t.Errorf("Min/Max = %v/%v, want 5/15", stats.Min, stats.Max)
	}
	if stats.P50 != 10 {
		t.Errorf("P50 = %v, want 10 (interpolated)", stats.P50)
	}
}

func TestCounters(t *testing.T) {
	r := New(clockwork.NewFakeClock())

	r.Inc("connections", 1)
	r.Inc("connections", 2)
	r.Gauge("rooms", 7)

	snap := r.TakeSnapshot()
	if snap.Counters["connections"] != 3 {
		t.Errorf("connections = %d, want 3", snap.Counters["connections"])
	}
	if snap.Counters["rooms"] != 7 {
		t.Errorf("rooms = %d, want 7", snap.Counters["rooms"])
	}
}

func TestSampleCap(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := New(clock)

	for i := 0; i < maxSamples+50; i++ {
		stop := r.Start("busy")
		clock.Advance(time.Millisecond)
		stop()
	}

	snap := r.TakeSnapshot()
	if got := snap.Timings["busy"].Count; got != maxSamples {
		t.Errorf("retained samples = %d, want %d", got, maxSamples)
	}
}

func TestQuantile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4}
	if got := quantile(sorted, 0.5); got != 2.5 {
		t.Errorf("median = %v, want 2.5", got)
	}
	if got := quantile(sorted, 1); got != 4 {
		t.Errorf("max quantile = %v, want 4", got)
	}
	if got := quantile(nil, 0.5); got != 0 {
		t.Errorf("empty quantile = %v, want 0", got)
	}
}

// Package perf records in-process counters and handler latencies so the
// /metrics endpoint can expose a snapshot without an external collector.
package perf

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// maxSamples caps the retained timing samples per name.
const maxSamples = 1000

// TimingStats summarizes the retained samples for one timing name.
type TimingStats struct {
	Count int     `json:"count"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// Snapshot is a point-in-time view of all counters and timings.
type Snapshot struct {
	Counters map[string]int64       `json:"counters"`
	Timings  map[string]TimingStats `json:"timings"`
}

// Recorder accumulates counters and millisecond timings.
type Recorder struct {
	mu       sync.Mutex
	counters map[string]int64
	timings  map[string][]float64
	clock    clockwork.Clock
}

// New creates an empty Recorder.
func New(clock clockwork.Clock) *Recorder {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Recorder{
		counters: make(map[string]int64),
		timings:  make(map[string][]float64),
		clock:    clock,
	}
}

// Start begins a timing and returns a stop function that records the
// elapsed milliseconds and returns them.
func (r *Recorder) Start(name string) func() float64 {
	start := r.clock.Now()
	return func() float64 {
		ms := float64(r.clock.Since(start)) / float64(time.Millisecond)
		r.record(name, ms)
		return ms
	}
}

// Inc adjusts a counter by delta.
func (r *Recorder) Inc(name string, delta int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name] += delta
}

// Gauge sets a counter to an absolute value.
func (r *Recorder) Gauge(name string, value int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name] = value
}

func (r *Recorder) record(name string, ms float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	samples := append(r.timings[name], ms)
	if len(samples) > maxSamples {
		samples = samples[len(samples)-maxSamples:]
	}
	r.timings[name] = samples
}

// TakeSnapshot summarizes everything recorded so far.
func (r *Recorder) TakeSnapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		Counters: make(map[string]int64, len(r.counters)),
		Timings:  make(map[string]TimingStats, len(r.timings)),
	}
	for k, v := range r.counters {
		snap.Counters[k] = v
	}
	for name, samples := range r.timings {
		if len(samples) == 0 {
			continue
		}
		sorted := append([]float64(nil), samples...)
		sort.Float64s(sorted)
		sum := 0.0
		for _, s := range sorted {
			sum += s
		}
		snap.Timings[name] = TimingStats{
			Count: len(sorted),
			Avg:   sum / float64(len(sorted)),
			P50:   quantile(sorted, 0.5),
			P95:   quantile(sorted, 0.95),
			Min:   sorted[0],
			Max:   sorted[len(sorted)-1],
		}
	}
	return snap
}

// quantile interpolates linearly between the two nearest sorted samples.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := float64(len(sorted)-1) * q
	base := int(pos)
	rest := pos - float64(base)
	if base+1 < len(sorted) {
		return sorted[base] + rest*(sorted[base+1]-sorted[base])
	}
	return sorted[base]
}

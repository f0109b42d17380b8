// internal/stats/tracker.go
package stats

import (
	"log/slog"
	"sync"
	"time"
)

// Summary aggregates the retained samples of one stage.
type Summary struct {
	Count int           `json:"count"`
	Avg   time.Duration `json:"avg"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
}

// Tracker records per-stage latency samples in bounded ring buffers. Both
// the sample count per stage and the number of distinct stages are capped,
// so memory never grows with traffic. Recording is purely additive; a
// sample for a stage past the cap is dropped with a warning.
type Tracker struct {
	mu        sync.RWMutex
	stages    map[string]*ring
	sampleCap int
	maxStages int
}

// ring is a fixed-capacity sample buffer; the oldest sample is overwritten
// once full.
type ring struct {
	samples []time.Duration
	next    int
	full    bool
}

// NewTracker creates a Tracker keeping at most sampleCap samples for each
// of at most maxStages stages.
func NewTracker(sampleCap, maxStages int) *Tracker {
	if sampleCap < 1 {
		sampleCap = 1
	}
	if maxStages < 1 {
		maxStages = 1
	}
	return &Tracker{
		stages:    make(map[string]*ring),
		sampleCap: sampleCap,
		maxStages: maxStages,
	}
}

// Record appends one timing observation for the named stage.
func (t *Tracker) Record(stage string, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.stages[stage]
	if !ok {
		if len(t.stages) >= t.maxStages {
			slog.Warn("stage cap reached, sample dropped", "stage", stage, "max_stages", t.maxStages)
			return
		}
		r = &ring{samples: make([]time.Duration, t.sampleCap)}
		t.stages[stage] = r
	}

	r.samples[r.next] = d
	r.next++
	if r.next == len(r.samples) {
		r.next = 0
		r.full = true
	}
}

// Stats summarizes the retained samples for a stage. A stage that was never
// recorded returns a zero Summary.
func (t *Tracker) Stats(stage string) Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	r, ok := t.stages[stage]
	if !ok {
		return Summary{}
	}
	return r.summarize()
}

// StatsAll summarizes every tracked stage.
func (t *Tracker) StatsAll() map[string]Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]Summary, len(t.stages))
	for name, r := range t.stages {
		out[name] = r.summarize()
	}
	return out
}

// Clear drops the samples of one stage.
func (t *Tracker) Clear(stage string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.stages, stage)
}

// ClearAll drops every stage.
func (t *Tracker) ClearAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stages = make(map[string]*ring)
}

func (r *ring) summarize() Summary {
	n := r.next
	if r.full {
		n = len(r.samples)
	}
	if n == 0 {
		return Summary{}
	}

	s := Summary{Count: n, Min: r.samples[0], Max: r.samples[0]}
	var total time.Duration
	for i := 0; i < n; i++ {
		d := r.samples[i]
		total += d
		if d < s.Min {
			s.Min = d
		}
		if d > s.Max {
			s.Max = d
		}
	}
	s.Avg = total / time.Duration(n)
	return s
}

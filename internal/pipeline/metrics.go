package pipeline

import (
	"runtime"
	"sync"
	"time"
)

// Stats describes the work done by one or more recognition calls.
type Stats struct {
	Images    int           `json:"images"`
	Words     int           `json:"words"`
	Errors    int           `json:"errors"`
	Segment   time.Duration `json:"segment_ns"`
	Recognize time.Duration `json:"recognize_ns"`
	Total     time.Duration `json:"total_ns"`
}

// Add returns the sum of s and o.
func (s Stats) Add(o Stats) Stats {
	return Stats{
		Images:    s.Images + o.Images,
		Words:     s.Words + o.Words,
		Errors:    s.Errors + o.Errors,
		Segment:   s.Segment + o.Segment,
		Recognize: s.Recognize + o.Recognize,
		Total:     s.Total + o.Total,
	}
}

// Accumulator sums Stats across calls. The zero value is ready to use and it
// is safe for concurrent use.
type Accumulator struct {
	mu    sync.Mutex
	stats Stats
	calls int
}

// Add records one call.
func (a *Accumulator) Add(s Stats) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats = a.stats.Add(s)
	a.calls++
}

// AddDuration records processing time that did not go through the pipeline,
// such as a training step.
func (a *Accumulator) AddDuration(d time.Duration) {
	a.Add(Stats{Total: d})
}

// Snapshot returns the totals so far.
func (a *Accumulator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{Stats: a.stats, Calls: a.calls}
}

// Reset clears the totals.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats = Stats{}
	a.calls = 0
}

// Snapshot is a point-in-time copy of an Accumulator.
type Snapshot struct {
	Stats
	Calls int `json:"calls"`
}

// Minutes returns the accumulated total processing time in minutes.
func (s Snapshot) Minutes() float64 { return s.Total.Minutes() }

// MemStats summarizes process memory usage.
type MemStats struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	SysBytes        uint64 `json:"sys_bytes"`
	NumGC           uint32 `json:"num_gc"`
	Goroutines      int    `json:"goroutines"`
}

// GetMemStats captures current memory statistics.
func GetMemStats() MemStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemStats{
		AllocBytes:      m.Alloc,
		TotalAllocBytes: m.TotalAlloc,
		SysBytes:        m.Sys,
		NumGC:           m.NumGC,
		Goroutines:      runtime.NumGoroutine(),
	}
}

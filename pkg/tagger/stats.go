package tagger

import (
	"sync"
	"time"
)

// BatchStats accumulates run counters as results arrive from the workers.
// All mutation happens on the aggregator goroutine, but reads may come from
// elsewhere (watch mode), so access stays under the lock.
type BatchStats struct {
	mu sync.Mutex

	Start     time.Time
	Total     int
	Processed int
	Succeeded int
	Failed    int
	Durations []time.Duration
}

// NewBatchStats starts the wall clock for a run of total jobs.
func NewBatchStats(total int) *BatchStats {
	return &BatchStats{Start: time.Now(), Total: total}
}

// Record folds one completed result into the counters.
func (s *BatchStats) Record(r *Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Processed++
	if r.Failed() {
		s.Failed++
	} else {
		s.Succeeded++
	}
	s.Durations = append(s.Durations, time.Duration(r.ProcessingTime*float64(time.Second)))
}

// StatsSnapshot is a consistent copy of the counters for rendering.
type StatsSnapshot struct {
	Start     time.Time
	Total     int
	Processed int
	Succeeded int
	Failed    int
}

// Snapshot returns a consistent copy for rendering.
func (s *BatchStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatsSnapshot{
		Start:     s.Start,
		Total:     s.Total,
		Processed: s.Processed,
		Succeeded: s.Succeeded,
		Failed:    s.Failed,
	}
}

// AverageSeconds is the mean per-item processing time of recorded results.
func (s *BatchStats) AverageSeconds() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Durations) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range s.Durations {
		sum += d
	}
	return sum.Seconds() / float64(len(s.Durations))
}

// CallLog counts remote API calls across all workers.
type CallLog struct {
	mu   sync.Mutex
	apis map[string]*CallStats
}

// CallStats are the accumulated outcomes for one remote API.
type CallStats struct {
	Calls    int
	Failures int
	Total    time.Duration
}

// NewCallLog returns an empty call log.
func NewCallLog() *CallLog {
	return &CallLog{apis: map[string]*CallStats{}}
}

// Record notes one call outcome. A nil CallLog is a valid no-op sink.
func (c *CallLog) Record(api string, d time.Duration, err error) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.apis[api]
	if st == nil {
		st = &CallStats{}
		c.apis[api] = st
	}
	st.Calls++
	st.Total += d
	if err != nil {
		st.Failures++
	}
}

// Stats returns a copy of the per-API counters.
func (c *CallLog) Stats() map[string]CallStats {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]CallStats, len(c.apis))
	for k, v := range c.apis {
		out[k] = *v
	}
	return out
}

// Package stats holds the counters of one search.
//
// The counters are owned by the search driver and shared by its workers, which update them atomically.
package stats

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

type Stats struct {
	// Transitions executed while exploring, excluding replayed ones
	Transitions atomic.Int64
	// Transitions executed to reconstruct a state (reclaim and frontier replay)
	Replayed atomic.Int64
	// Distinct states inserted into the state table
	States atomic.Int64
	// States pruned because they had already been visited with bounds at least as good
	Revisits atomic.Int64
	// Times a scheduler was asked to delay
	Delays atomic.Int64
	// Frontiers produced for the next iteration
	Frontiers atomic.Int64
	// Terminal states reached
	Terminals atomic.Int64
	// Reportable errors found
	Errors atomic.Int64
	// Schedules aborted because the stack grew past the maximum depth
	StackOverflows atomic.Int64
	// State table entries moved out of memory
	Evicted atomic.Int64
	// Completed iterations
	Iterations atomic.Int64

	started time.Time
}

func New() *Stats {
	return &Stats{started: time.Now()}
}

func (s *Stats) Elapsed() time.Duration {
	return time.Since(s.started)
}

// A point in time copy of the counters
type Snapshot struct {
	Transitions    int64
	Replayed       int64
	States         int64
	Revisits       int64
	Delays         int64
	Frontiers      int64
	Terminals      int64
	Errors         int64
	StackOverflows int64
	Evicted        int64
	Iterations     int64
	Elapsed        time.Duration
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Transitions:    s.Transitions.Load(),
		Replayed:       s.Replayed.Load(),
		States:         s.States.Load(),
		Revisits:       s.Revisits.Load(),
		Delays:         s.Delays.Load(),
		Frontiers:      s.Frontiers.Load(),
		Terminals:      s.Terminals.Load(),
		Errors:         s.Errors.Load(),
		StackOverflows: s.StackOverflows.Load(),
		Evicted:        s.Evicted.Load(),
		Iterations:     s.Iterations.Load(),
		Elapsed:        s.Elapsed(),
	}
}

// Transitions per second
func (s Snapshot) Rate() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Transitions+s.Replayed) / s.Elapsed.Seconds()
}

func (s Snapshot) String() string {
	out := strings.Builder{}
	out.WriteString(fmt.Sprintf("Iterations: %v\n", s.Iterations))
	out.WriteString(fmt.Sprintf("Transitions: %v (replayed %v)\n", s.Transitions, s.Replayed))
	out.WriteString(fmt.Sprintf("States: %v (revisits %v, evicted %v)\n", s.States, s.Revisits, s.Evicted))
	out.WriteString(fmt.Sprintf("Delays: %v\n", s.Delays))
	out.WriteString(fmt.Sprintf("Frontiers: %v\n", s.Frontiers))
	out.WriteString(fmt.Sprintf("Terminals: %v (errors %v, stack overflows %v)\n", s.Terminals, s.Errors, s.StackOverflows))
	out.WriteString(fmt.Sprintf("Elapsed: %v (%.0f transitions/s)\n", s.Elapsed.Round(time.Millisecond), s.Rate()))
	return out.String()
}

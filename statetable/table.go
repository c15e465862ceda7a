// Package statetable records the states visited by a search and the bounds they were reached with.
//
// A revisit of a state is pruned unless it was reached with strictly better bounds than the recorded visit,
// in which case the entry is replaced and the state explored again.
package statetable

import (
	"fmt"

	"zexplore/fingerprint"
)

// The bounds a state was visited with
type Entry struct {
	Depth     int
	Delay     int
	Iteration int
}

// Reports whether the entry is strictly better than the other: a smaller delay, or the same delay at a smaller depth.
// The iteration is not compared.
func (e Entry) Better(other Entry) bool {
	if e.Delay != other.Delay {
		return e.Delay < other.Delay
	}
	return e.Depth < other.Depth
}

func (e Entry) String() string {
	return fmt.Sprintf("depth %d delay %d iteration %d", e.Depth, e.Delay, e.Iteration)
}

// The decision made for a visit
type Verdict uint8

const (
	// The state had not been visited
	New Verdict = iota
	// The state had been visited with worse bounds. The entry was replaced.
	Improved
	// The state had been visited with bounds at least as good
	Pruned
)

func (v Verdict) String() string {
	switch v {
	case New:
		return "New"
	case Improved:
		return "Improved"
	case Pruned:
		return "Pruned"
	}
	return "Unknown"
}

// Reports whether the state has to be explored
func (v Verdict) Explore() bool {
	return v != Pruned
}

// A concurrent map from fingerprints to entries.
//
// All implementations are safe to use from every worker at once.
type Table interface {
	// Record the visit of the state. Inserts the entry if the state is absent
	// and replaces it if the entry is better than the recorded one.
	Visit(fp fingerprint.Fingerprint, e Entry) (Verdict, error)
	Get(fp fingerprint.Fingerprint) (Entry, bool, error)
	// Number of entries
	Len() int
	Close() error
}

// Decide a visit against the recorded entry
func decide(old Entry, found bool, e Entry) Verdict {
	switch {
	case !found:
		return New
	case e.Better(old):
		return Improved
	}
	return Pruned
}

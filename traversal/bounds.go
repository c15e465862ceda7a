package traversal

import "fmt"

// The resources spent on the path from the root to a node.
//
// Depth grows by exactly one per transition. Delay and ChoiceCost never decrease along a path.
type Bounds struct {
	Depth      int
	Delay      int
	ChoiceCost int
}

func (b Bounds) String() string {
	return fmt.Sprintf("(depth %d, delay %d, choice cost %d)", b.Depth, b.Delay, b.ChoiceCost)
}

// Reports whether b is strictly better than other, i.e. a state reached with b may reach states
// that were cut off when it was reached with other.
func (b Bounds) Better(other Bounds) bool {
	if b.Delay != other.Delay {
		return b.Delay < other.Delay
	}
	return b.Depth < other.Depth
}

// Decides where the current iteration stops deepening.
//
// Without a delaying scheduler the cutoff bounds the depth of the search, with one it bounds the number of delays.
// A negative Cutoff disables the iteration bound.
type BoundTracker struct {
	Cutoff int
	// The cutoff bounds delays instead of depth
	Delaying bool
	// The maximum choice cost of a path. 0 disables the bound.
	ChoiceCutoff int
}

// Disables the iteration bound
const NoCutoff = -1

// Returns a tracker without iteration bound
func Unbounded(choiceCutoff int) BoundTracker {
	return BoundTracker{Cutoff: NoCutoff, ChoiceCutoff: choiceCutoff}
}

// The depth bound is reached at a node with the bounds
func (bt BoundTracker) DepthReached(b Bounds) bool {
	return !bt.Delaying && bt.Cutoff >= 0 && b.Depth >= bt.Cutoff
}

// A node with the number of delays lies beyond the current iteration
func (bt BoundTracker) DelayExceeded(delay int) bool {
	return bt.Delaying && bt.Cutoff >= 0 && delay > bt.Cutoff
}

// A path may spend the choice cost
func (bt BoundTracker) ChoiceAllowed(cost int) bool {
	return bt.ChoiceCutoff <= 0 || cost <= bt.ChoiceCutoff
}

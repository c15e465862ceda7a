// Package traversal implements the nodes of the search tree.
//
// A Node is an immutable view of one point in the search, built on top of the single mutable snapshot of a worker.
// It is one of three kinds: an execution node where processes can run, a choice node with a pending
// nondeterministic choice, or a terminal node. Nodes enumerate their successors one at a time with GetNextSuccessor.
package traversal

import (
	"sort"

	"golang.org/x/exp/slices"

	"zexplore/fingerprint"
	"zexplore/scheduler"
	"zexplore/state"
)

// The result of asking a node for its next successor
type Outcome uint8

const (
	// A successor was produced
	Continue Outcome = iota
	// The node has no more successors
	Exhausted
	// The iteration bound is reached at the node. The node is a frontier of the next iteration.
	IterationCutoff
)

func (o Outcome) String() string {
	switch o {
	case Continue:
		return "Continue"
	case Exhausted:
		return "Exhausted"
	case IterationCutoff:
		return "IterationCutoff"
	}
	return "Unknown"
}

type Node struct {
	sess *Session
	gen  int
	kind state.Kind

	pred *Node
	// The most recently created successor
	succ *Node
	// The steps leading from pred to the node. Nil if the node was reached by a single step.
	// For a node without predecessor it holds the trace from the initial state.
	segment state.Trace
	via     state.Step

	bounds  Bounds
	receipt state.Receipt

	fp            fingerprint.Fingerprint
	hasFP         bool
	fingerprinted bool

	sched *scheduler.Handle
	// Times the scheduler state of the node has been delayed
	delays int

	width     int
	runnable  []int
	accepting bool
	outcome   state.Outcome
	err       error

	enum enumeration

	// Marks nodes of the inner search of a nested depth first search
	MagicBit bool
}

// Progress of the enumeration of successors
type enumeration struct {
	started bool
	// The node returned IterationCutoff
	cutoff     bool
	candidates []int
	next       int
	random     bool
}

// Returns the next successor of the node.
//
// Choice nodes enumerate their options, execution nodes their runnable processes, in ascending order
// or in random order when the session uses random order. Execution nodes with a scheduler follow the scheduler:
// the first successor runs the process the scheduler returns, every further successor delays the scheduler first.
// The node is exhausted when the scheduler has been delayed MaxDelay times or is sealed.
//
// IterationCutoff is returned (with the node itself) at most once, when the node lies at the bound of the iteration.
// Terminal nodes are always exhausted.
func (n *Node) GetNextSuccessor(bt BoundTracker) (*Node, Outcome) {
	switch n.kind {
	case state.KindExecution:
		if n.sched != nil {
			return n.nextScheduled(bt)
		}
		return n.nextEnumerated(bt)
	case state.KindChoice:
		return n.nextEnumerated(bt)
	}
	return nil, Exhausted
}

func (n *Node) nextEnumerated(bt BoundTracker) (*Node, Outcome) {
	if !n.enum.started {
		n.enum.started = true
		if bt.DepthReached(n.bounds) {
			n.enum.cutoff = true
			return n, IterationCutoff
		}
		n.enum.random = n.sess.opts.RandomOrder
		if n.kind == state.KindExecution {
			n.enum.candidates = slices.Clone(n.runnable)
		} else {
			for option := 0; option < n.width; option++ {
				if bt.ChoiceAllowed(n.bounds.ChoiceCost + option) {
					n.enum.candidates = append(n.enum.candidates, option)
				}
			}
		}
	}
	if n.enum.cutoff {
		return nil, Exhausted
	}
	i, ok := n.pick()
	if !ok {
		return nil, Exhausted
	}
	if n.kind == state.KindChoice {
		return n.advance(state.Choose(i), i), Continue
	}
	return n.advance(state.Execute(i), 0), Continue
}

// Take the next candidate, either in order or uniformly from the candidates not taken yet
func (n *Node) pick() (int, bool) {
	if !n.enum.random {
		if n.enum.next >= len(n.enum.candidates) {
			return 0, false
		}
		n.enum.next++
		return n.enum.candidates[n.enum.next-1], true
	}
	remaining := n.enum.candidates
	if len(remaining) == 0 {
		return 0, false
	}
	i := n.sess.rand.IntN(len(remaining))
	c := remaining[i]
	remaining[i] = remaining[len(remaining)-1]
	n.enum.candidates = remaining[:len(remaining)-1]
	return c, true
}

func (n *Node) nextScheduled(bt BoundTracker) (*Node, Outcome) {
	if n.enum.cutoff {
		return nil, Exhausted
	}
	delayed := false
	if n.enum.started {
		if !n.delay() {
			return nil, Exhausted
		}
		delayed = true
	}
	n.enum.started = true

	// The scheduler can believe a process is enabled while the model disagrees
	pid, ok := n.sched.Next()
	for ok && !n.isRunnable(pid) {
		if !n.delay() {
			return nil, Exhausted
		}
		delayed = true
		pid, ok = n.sched.Next()
	}
	if !ok {
		return nil, Exhausted
	}
	if delayed && bt.DelayExceeded(n.bounds.Delay) {
		n.enum.cutoff = true
		return n, IterationCutoff
	}
	return n.advance(state.Execute(pid), 0), Continue
}

// Delay the scheduler state of the node. Returns false if every interleaving from the node has been produced.
func (n *Node) delay() bool {
	if n.delays >= n.sched.MaxDelay() || n.sched.IsSealed() {
		return false
	}
	n.sched.Delay()
	n.delays++
	n.bounds.Delay++
	n.sess.stats.Delays.Add(1)
	return true
}

func (n *Node) isRunnable(pid int) bool {
	i := sort.SearchInts(n.runnable, pid)
	return i < len(n.runnable) && n.runnable[i] == pid
}

// Execute the step from the node and create the successor
func (n *Node) advance(step state.Step, cost int) *Node {
	s := n.sess
	s.reclaim(n)
	var sched *scheduler.Handle
	var hooks state.SchedulerHooks
	if n.sched != nil {
		sched = n.sched.Clone()
		hooks = sched
	}
	err := s.apply(step, hooks)
	s.stats.Transitions.Add(1)

	bounds := Bounds{
		Depth:      n.bounds.Depth + 1,
		Delay:      n.bounds.Delay,
		ChoiceCost: n.bounds.ChoiceCost + cost,
	}
	child := s.wrap(n, nil, bounds, sched, err)
	child.via = step
	if child.kind == state.KindTerminal {
		s.stats.Terminals.Add(1)
	}
	child.decideFingerprint(n.width <= 1)
	n.succ = child
	return child
}

// Replay the steps from the node and return the node reached.
//
// The returned node gets the bounds, scheduler state and delay count given instead of the ones the steps would produce.
func (n *Node) Extend(steps state.Trace, bounds Bounds, sched *scheduler.Handle, delays int) (*Node, error) {
	s := n.sess
	s.reclaim(n)
	single, err := s.replay(steps)
	if err != nil {
		s.live = nil
		return nil, err
	}
	if sched != nil {
		sched = sched.Clone()
	}
	child := s.wrap(n, steps.Clone(), bounds, sched, nil)
	if len(steps) > 0 {
		child.via = steps[len(steps)-1]
	}
	child.delays = delays
	n.succ = child
	if child.kind == state.KindTerminal {
		return nil, ErrReplay
	}
	child.decideFingerprint(single)
	return child, nil
}

// Restart the enumeration of successors
func (n *Node) Reset() error {
	if n.sched != nil {
		return ErrResetScheduled
	}
	n.enum = enumeration{}
	return nil
}

// The number of successors of the node, ignoring bounds
func (n *Node) NumSuccessors() int {
	if n.kind == state.KindTerminal {
		return 0
	}
	return n.width
}

// Returns the fingerprint of the node.
//
// Fails with ErrFingerprintAdvanced once a successor has been created, since the live snapshot no longer
// represents the node. A node that was not fingerprinted when it was created is fingerprinted now.
func (n *Node) Fingerprint() (fingerprint.Fingerprint, error) {
	if n.succ != nil {
		return fingerprint.Fingerprint{}, ErrFingerprintAdvanced
	}
	return n.StateFingerprint(), nil
}

// Returns the fingerprint of the state of the node whether or not it has successors.
// The state is reconstructed if it has to be hashed.
func (n *Node) StateFingerprint() fingerprint.Fingerprint {
	if !n.hasFP {
		n.sess.reclaim(n)
		n.fp = n.sess.snap.Fingerprint()
		n.hasFP = true
	}
	return n.fp
}

// Reports whether the node was fingerprinted when it was created. Nodes with a single successor may be elided.
func (n *Node) IsFingerprinted() bool {
	return n.fingerprinted
}

// Create an independent copy of the node for another worker.
//
// The copy is the root of a new session with a clone of the live snapshot. Its trace still starts at the initial state.
func (n *Node) Branch(worker int) *Node {
	s := n.sess
	s.reclaim(n)
	b := NewSession(worker, s.initial, s.policy, s.opts, s.stats)
	b.snap = s.snap.Clone(worker)
	b.gen = 1
	var sched *scheduler.Handle
	if n.sched != nil {
		sched = n.sched.Clone()
	}
	root := b.wrap(nil, n.Trace(), n.bounds, sched, nil)
	root.via = n.via
	root.delays = n.delays
	root.outcome, root.err = n.outcome, n.err
	root.kind = n.kind
	root.fp, root.hasFP, root.fingerprinted = n.fp, n.hasFP, n.fingerprinted
	root.MagicBit = n.MagicBit
	return root
}

// Returns the steps from the initial state to the node
func (n *Node) Trace() state.Trace {
	path := []*Node{}
	size := 0
	for m := n; m != nil; m = m.pred {
		path = append(path, m)
		size += len(m.steps())
	}
	trace := make(state.Trace, 0, size)
	for i := len(path) - 1; i >= 0; i-- {
		if path[i].pred == nil {
			trace = append(trace, path[i].segment...)
			continue
		}
		trace = append(trace, path[i].steps()...)
	}
	return trace
}

// The steps that have to be replayed from the predecessor to reach the node
func (n *Node) steps() state.Trace {
	if n.segment != nil || n.pred == nil {
		return n.segment
	}
	return state.Trace{n.via}
}

func (n *Node) Kind() state.Kind {
	return n.kind
}

func (n *Node) Predecessor() *Node {
	return n.pred
}

func (n *Node) Successor() *Node {
	return n.succ
}

// The last step leading to the node
func (n *Node) Via() state.Step {
	return n.via
}

func (n *Node) Bounds() Bounds {
	return n.bounds
}

func (n *Node) Depth() int {
	return n.bounds.Depth
}

// The scheduler state of the node. Nil if no scheduler is used.
func (n *Node) Scheduler() *scheduler.Handle {
	return n.sched
}

func (n *Node) Delays() int {
	return n.delays
}

// The classification of a terminal node
func (n *Node) Outcome() state.Outcome {
	return n.outcome
}

// The error that made the node erroneous
func (n *Node) Err() error {
	return n.err
}

func (n *Node) IsAccepting() bool {
	return n.accepting
}

func (n *Node) Session() *Session {
	return n.sess
}

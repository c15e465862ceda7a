package traversal

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"zexplore/fingerprint"
	"zexplore/scheduler"
	"zexplore/state"
	"zexplore/stats"
)

type Options struct {
	// Enumerate processes and choices through a shrinking random set instead of in ascending order
	RandomOrder bool
	// Fingerprint states with a single successor. If false they are only fingerprinted when sampled.
	FingerprintSingleTransitionStates bool
	// Probability that a single successor state is fingerprinted anyway
	SingleTransitionSampleProbability float64
	Seed                              uint64
	// Let panics raised by the model propagate instead of turning them into error terminals
	IgnorePanics bool
}

// The traversal of one worker.
//
// A session owns the single live snapshot of the worker. All the nodes created by a session share the snapshot,
// which is rolled back and replayed as the worker moves between them.
// A session is not safe for concurrent use.
type Session struct {
	worker  int
	initial state.Snapshot
	snap    state.Snapshot
	// Incremented every time the session starts over from a fresh clone of the initial snapshot
	gen  int
	live *Node

	policy scheduler.Policy
	opts   Options
	rand   *rand.Rand
	stats  *stats.Stats
}

// Create a session for the worker. Policy is nil when no delay bounding scheduler is used.
//
// The initial snapshot is only cloned, never mutated, so it can be shared between the sessions of all workers.
func NewSession(worker int, initial state.Snapshot, policy scheduler.Policy, opts Options, st *stats.Stats) *Session {
	if st == nil {
		st = stats.New()
	}
	return &Session{
		worker:  worker,
		initial: initial,
		policy:  policy,
		opts:    opts,
		rand:    rand.New(rand.NewPCG(opts.Seed, uint64(worker))),
		stats:   st,
	}
}

func (s *Session) Worker() int {
	return s.worker
}

func (s *Session) Policy() scheduler.Policy {
	return s.policy
}

func (s *Session) Stats() *stats.Stats {
	return s.stats
}

// The live snapshot. It represents the state of the most recently reclaimed or created node.
func (s *Session) Snapshot() state.Snapshot {
	return s.snap
}

// Discard the live snapshot and start over from a fresh clone of the initial snapshot.
// Nodes created before are no longer usable.
func (s *Session) fresh() {
	s.snap = s.initial.Clone(s.worker)
	s.gen++
	s.live = nil
}

// Returns the root of a search: an execution node for the initial state without predecessor.
//
// If a policy is used the root gets a fresh scheduler state where every process is started,
// and the processes that can not run yet are reported as blocked.
func (s *Session) Root() *Node {
	s.fresh()
	var sched *scheduler.Handle
	if s.policy != nil {
		sched = scheduler.NewHandle(s.policy)
		for pid := 0; pid < s.snap.NumProcesses(); pid++ {
			sched.Start(pid)
			if !s.snap.Runnable(pid) {
				sched.OnBlocked(pid)
			}
		}
	}
	n := s.wrap(nil, nil, Bounds{}, sched, nil)
	n.fingerprint()
	return n
}

// Reconstruct the node reached by the trace from the initial state.
//
// The trace is replayed against a fresh clone of the initial snapshot. The bounds, scheduler state and delay count
// are those recorded when the node was reached, and replace the values the replay would produce.
func (s *Session) Resume(trace state.Trace, bounds Bounds, sched *scheduler.Handle, delays int) (*Node, error) {
	s.fresh()
	single, err := s.replay(trace)
	if err != nil {
		return nil, err
	}
	if sched != nil {
		sched = sched.Clone()
	}
	n := s.wrap(nil, trace.Clone(), bounds, sched, nil)
	if len(trace) > 0 {
		n.via = trace[len(trace)-1]
	}
	n.delays = delays
	if n.kind == state.KindTerminal {
		return nil, fmt.Errorf("%w: %v reaches a terminal state", ErrReplay, trace)
	}
	n.decideFingerprint(single)
	return n, nil
}

// Apply the steps to the live snapshot without informing any scheduler.
// Reports whether the state before the last step had a single successor.
func (s *Session) replay(steps state.Trace) (bool, error) {
	single := false
	for i, step := range steps {
		if i == len(steps)-1 {
			single = s.width() <= 1
		}
		if err := s.apply(step, nil); err != nil {
			return false, fmt.Errorf("%w: step %d (%v): %v", ErrReplay, i, step, err)
		}
		s.stats.Replayed.Add(1)
	}
	return single, nil
}

// Number of successors of the live snapshot
func (s *Session) width() int {
	switch s.snap.Kind() {
	case state.KindExecution:
		return len(s.snap.RunnableProcesses())
	case state.KindChoice:
		return s.snap.NumPendingChoices()
	}
	return 0
}

// Run one step on the live snapshot.
//
// Panics raised by the model become errors wrapping ErrModelPanic unless panics are ignored.
// Scheduler contract violations are never recovered.
func (s *Session) apply(step state.Step, hooks state.SchedulerHooks) (err error) {
	if !s.opts.IgnorePanics {
		defer func() {
			if r := recover(); r != nil {
				var ce *scheduler.ContractError
				if e, ok := r.(error); ok && errors.As(e, &ce) {
					panic(r)
				}
				err = fmt.Errorf("%w: %v", ErrModelPanic, r)
			}
		}()
	}
	return step.Apply(s.snap, hooks)
}

// Bring the live snapshot to the state of the node.
//
// A node whose predecessor still records it as successor is in favor and its receipt can be trusted.
// Otherwise the node is rebuilt by replaying the steps from the closest ancestor that is in favor.
func (s *Session) reclaim(n *Node) {
	if n.sess != s || n.gen != s.gen {
		panic(fmt.Errorf("%w: worker %d", ErrStaleNode, s.worker))
	}
	if s.live == n {
		return
	}
	orphans := []*Node{}
	m := n
	for s.live != m && m.pred != nil && m.pred.succ != m {
		orphans = append(orphans, m)
		m = m.pred
	}
	if s.live != m {
		s.snap.Rollback(m.receipt)
		s.live = m
	}
	for i := len(orphans) - 1; i >= 0; i-- {
		o := orphans[i]
		for _, step := range o.steps() {
			err := s.apply(step, nil)
			s.stats.Replayed.Add(1)
			if err != nil && o.kind != state.KindTerminal {
				panic(fmt.Errorf("%w: %v: %v", ErrReplay, step, err))
			}
		}
		o.receipt = s.snap.Checkpoint()
		o.pred.succ = o
		s.live = o
	}
}

// Create a node for the live snapshot
func (s *Session) wrap(pred *Node, segment state.Trace, bounds Bounds, sched *scheduler.Handle, err error) *Node {
	n := &Node{
		sess:    s,
		gen:     s.gen,
		pred:    pred,
		segment: segment,
		bounds:  bounds,
		sched:   sched,
		kind:    s.snap.Kind(),
		outcome: s.snap.Outcome(),
		err:     s.snap.Err(),
	}
	if pred != nil {
		n.MagicBit = pred.MagicBit
	}
	if err != nil {
		n.kind = state.KindTerminal
		n.err = err
		if errors.Is(err, state.ErrAssumeFailed) {
			n.outcome = state.OutcomeFailedAssumption
		} else {
			n.outcome = state.OutcomeError
		}
	}
	switch n.kind {
	case state.KindExecution:
		n.runnable = s.snap.RunnableProcesses()
		n.width = len(n.runnable)
	case state.KindChoice:
		n.width = s.snap.NumPendingChoices()
	}
	if acc, ok := s.snap.(state.Acceptor); ok && n.kind != state.KindTerminal {
		n.accepting = acc.IsAccepting()
	}
	n.receipt = s.snap.Checkpoint()
	s.live = n
	return n
}

// Decide whether the node is fingerprinted.
//
// States with several successors always are. A state with a single successor (or a terminal reached from one)
// is elided unless fingerprinting of single transition states is enabled or the state is sampled.
// Sampling is a function of the seed and the position of the node so that a replay makes the same decision.
func (n *Node) decideFingerprint(predSingle bool) {
	opts := n.sess.opts
	single := n.width <= 1
	if n.kind == state.KindTerminal {
		single = predSingle
	}
	if !single || opts.FingerprintSingleTransitionStates ||
		fingerprint.Sample(opts.Seed, uint64(n.bounds.Depth), uint64(n.Via())) < opts.SingleTransitionSampleProbability {
		n.fingerprint()
	}
}

// Compute the fingerprint from the live snapshot, which must represent the node
func (n *Node) fingerprint() {
	n.fp = n.sess.snap.Fingerprint()
	n.hasFP = true
	n.fingerprinted = true
}

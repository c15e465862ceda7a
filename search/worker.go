package search

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"zexplore/config"
	"zexplore/frontier"
	"zexplore/state"
	"zexplore/statetable"
	"zexplore/traversal"
)

// Explores the frontiers handed to it with its own session. A worker is used by one goroutine at a time.
type worker struct {
	s    *Searcher
	id   int
	sess *traversal.Session
	// Nil unless frontiers are kept in a tree
	cursor *frontier.Cursor
	rand   *rand.Rand
	log    *slog.Logger
}

func newWorker(s *Searcher, id int, sess *traversal.Session) *worker {
	w := &worker{
		s:    s,
		id:   id,
		sess: sess,
		rand: rand.New(rand.NewPCG(s.opts.Seed, uint64(id)<<32|1)),
		log:  s.log.With("worker", id),
	}
	if s.tree != nil {
		w.cursor = s.tree.NewCursor(sess)
	}
	return w
}

// Explore the batches of work until there is no more or the search is cancelled.
//
// Panics are returned as runtime errors unless panics are ignored.
func (w *worker) run(ctx context.Context, it *iteration, work <-chan []item) (err error) {
	if !w.s.opts.IgnorePanics {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: worker %d: %v", ErrRuntime, w.id, r)
				w.log.Error("Worker failed", "err", err)
			}
		}()
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-work:
			if !ok {
				return nil
			}
			for _, item := range batch {
				if err := w.explore(ctx, it, item); err != nil {
					return err
				}
			}
		}
	}
}

func (w *worker) materialize(item item) (*traversal.Node, error) {
	var n *traversal.Node
	var err error
	switch {
	case item.node != nil:
		n, err = w.cursor.Materialize(item.node)
	case item.trace != nil:
		n, err = item.trace.Materialize(w.sess)
	default:
		n = w.sess.Root()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuntime, err)
	}
	return n, nil
}

func (w *worker) explore(ctx context.Context, it *iteration, item item) error {
	root, err := w.materialize(item)
	if err != nil {
		return err
	}
	switch w.s.opts.Mode {
	case config.ModeRandom:
		w.walk(ctx, it, root)
		return nil
	case config.ModeNDFS:
		return w.nested(ctx, it, root)
	}
	if item.root {
		if explore, err := w.visit(it, root); err != nil || !explore {
			return err
		}
	}
	return w.dfs(ctx, it, root)
}

// Depth first search from the root. States at the bound of the iteration become frontiers.
func (w *worker) dfs(ctx context.Context, it *iteration, root *traversal.Node) error {
	stack := []*traversal.Node{root}
	for len(stack) > 0 {
		if ctx.Err() != nil {
			return nil
		}
		top := stack[len(stack)-1]
		child, outcome := top.GetNextSuccessor(it.bt)
		switch outcome {
		case traversal.Exhausted:
			stack = stack[:len(stack)-1]
		case traversal.IterationCutoff:
			if err := w.frontier(it, child); err != nil {
				return err
			}
		case traversal.Continue:
			push, err := w.step(it, child)
			if err != nil {
				return err
			}
			if push {
				stack = append(stack, child)
			}
		}
	}
	return nil
}

// Handle a new successor. Returns true if it has to be explored.
func (w *worker) step(it *iteration, n *traversal.Node) (bool, error) {
	if n.Kind() == state.KindTerminal {
		w.terminal(n)
		return false, nil
	}
	if n.Depth() > w.s.opts.MaxStackDepth {
		w.s.stats.StackOverflows.Add(1)
		w.report(ResultStackOverflow, n, ErrStackOverflow)
		return false, nil
	}
	return w.visit(it, n)
}

func (w *worker) terminal(n *traversal.Node) {
	if !n.Outcome().IsError() {
		return
	}
	w.s.stats.Errors.Add(1)
	err := n.Err()
	if err == nil {
		err = fmt.Errorf("search: %v", n.Outcome())
	}
	w.report(ResultErrorFound, n, err)
}

func (w *worker) report(result Result, n *traversal.Node, err error) {
	w.s.report(Report{
		Result: result,
		Trace:  n.Trace(),
		Err:    err,
		Worker: w.id,
		Bounds: n.Bounds(),
	})
}

// Record the state in the state table. Returns false if it was visited before with bounds at least as good.
// States whose fingerprint was elided are always explored.
func (w *worker) visit(it *iteration, n *traversal.Node) (bool, error) {
	table := w.s.table
	if table == nil || !n.IsFingerprinted() {
		return true, nil
	}
	v, err := table.Visit(n.StateFingerprint(), statetable.Entry{Depth: n.Depth(), Delay: n.Bounds().Delay, Iteration: it.index})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRuntime, err)
	}
	switch v {
	case statetable.New:
		w.s.stats.States.Add(1)
	case statetable.Pruned:
		w.s.stats.Revisits.Add(1)
	}
	return v.Explore(), nil
}

// Record the node at the bound of the iteration for the next one
func (w *worker) frontier(it *iteration, n *traversal.Node) error {
	it.produced.Add(1)
	if it.last {
		return nil
	}
	if w.cursor != nil {
		if _, added := w.cursor.Insert(n); !added {
			it.produced.Add(-1)
			return nil
		}
	} else if err := it.next.Put(frontier.NewTraceFrontier(n)); err != nil {
		return fmt.Errorf("%w: %v", ErrRuntime, err)
	}
	w.s.stats.Frontiers.Add(1)
	return nil
}

// Follow random successors until a terminal state, a bound or the maximum stack depth is reached
func (w *worker) walk(ctx context.Context, it *iteration, n *traversal.Node) {
	for n.Depth() < w.s.opts.MaxStackDepth {
		if ctx.Err() != nil {
			return
		}
		child := w.randomSuccessor(it, n)
		if child == nil {
			return
		}
		if child.Kind() == state.KindTerminal {
			w.terminal(child)
			return
		}
		n = child
	}
}

// A successor picked at random. Nodes with a scheduler are delayed a random number of times.
func (w *worker) randomSuccessor(it *iteration, n *traversal.Node) *traversal.Node {
	child, outcome := n.GetNextSuccessor(it.bt)
	if outcome != traversal.Continue {
		return nil
	}
	if n.Scheduler() == nil {
		return child
	}
	for delays := w.rand.IntN(n.NumSuccessors()); delays > 0; delays-- {
		next, outcome := n.GetNextSuccessor(it.bt)
		if outcome != traversal.Continue {
			break
		}
		child = next
	}
	return child
}

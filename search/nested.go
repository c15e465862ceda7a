package search

import (
	"context"

	"zexplore/state"
	"zexplore/statetable"
	"zexplore/traversal"
)

// Nested depth first search.
//
// The outer search visits every state once. When it leaves an accepting state, an inner search marked by
// the MagicBit looks for a path back to it. States visited by any inner search are not visited by the next ones.
func (w *worker) nested(ctx context.Context, it *iteration, root *traversal.Node) error {
	if _, err := w.mark(w.s.table, root); err != nil {
		return err
	}
	stack := []*traversal.Node{root}
	for len(stack) > 0 {
		if ctx.Err() != nil {
			return nil
		}
		top := stack[len(stack)-1]
		child, outcome := top.GetNextSuccessor(it.bt)
		if outcome != traversal.Continue {
			stack = stack[:len(stack)-1]
			if top.IsAccepting() {
				if err := w.inner(ctx, it, top); err != nil {
					return err
				}
			}
			continue
		}
		if child.Kind() == state.KindTerminal {
			w.terminal(child)
			continue
		}
		if child.Depth() > w.s.opts.MaxStackDepth {
			w.s.stats.StackOverflows.Add(1)
			w.report(ResultStackOverflow, child, ErrStackOverflow)
			continue
		}
		explore, err := w.mark(w.s.table, child)
		if err != nil {
			return err
		}
		if explore {
			stack = append(stack, child)
		}
	}
	return nil
}

// Search for a path from the seed back to the seed
func (w *worker) inner(ctx context.Context, it *iteration, seed *traversal.Node) error {
	target := seed.StateFingerprint()
	if err := seed.Reset(); err != nil {
		return err
	}
	seed.MagicBit = true
	defer func() { seed.MagicBit = false }()

	stack := []*traversal.Node{seed}
	for len(stack) > 0 {
		if ctx.Err() != nil {
			return nil
		}
		top := stack[len(stack)-1]
		child, outcome := top.GetNextSuccessor(it.bt)
		if outcome != traversal.Continue {
			stack = stack[:len(stack)-1]
			continue
		}
		if child.Kind() == state.KindTerminal || child.Depth() > w.s.opts.MaxStackDepth {
			continue
		}
		if child.StateFingerprint() == target {
			w.report(ResultAcceptingCycle, child, ErrAcceptingCycle)
			return nil
		}
		explore, err := w.mark(w.s.red, child)
		if err != nil {
			return err
		}
		if explore {
			stack = append(stack, child)
		}
	}
	return nil
}

// Mark the state as visited in the table. Returns true the first time the state is marked.
func (w *worker) mark(table statetable.Table, n *traversal.Node) (bool, error) {
	v, err := table.Visit(n.StateFingerprint(), statetable.Entry{})
	if err != nil {
		return false, err
	}
	if table == w.s.table {
		switch v {
		case statetable.New:
			w.s.stats.States.Add(1)
		case statetable.Pruned:
			w.s.stats.Revisits.Add(1)
		}
	}
	return v == statetable.New, nil
}

package model

import (
	"sync/atomic"

	"zexplore/state"
)

// Wraps a snapshot and counts the transitions executed on it and on all its clones
type Counting struct {
	state.Snapshot
	Runs *atomic.Int64
}

func NewCounting(s state.Snapshot) *Counting {
	return &Counting{Snapshot: s, Runs: &atomic.Int64{}}
}

func (c *Counting) RunProcess(pid int, hooks state.SchedulerHooks) error {
	c.Runs.Add(1)
	return c.Snapshot.RunProcess(pid, hooks)
}

func (c *Counting) RunChoice(option int, hooks state.SchedulerHooks) error {
	c.Runs.Add(1)
	return c.Snapshot.RunChoice(option, hooks)
}

func (c *Counting) Clone(worker int) state.Snapshot {
	return &Counting{Snapshot: c.Snapshot.Clone(worker), Runs: c.Runs}
}

func (c *Counting) IsAccepting() bool {
	acc, ok := c.Snapshot.(state.Acceptor)
	return ok && acc.IsAccepting()
}

// Package search drives the exploration of a model.
//
// A search runs in iterations. Every iteration explores from the frontiers of the previous one up to a bound,
// the depth of the path or the number of delays when a scheduler is used, and records the states at the bound as
// the frontiers of the next iteration. The workers of an iteration run concurrently and share the state table,
// the frontiers and the counters. The iteration ends when all of them are done.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"zexplore/config"
	"zexplore/frontier"
	"zexplore/scheduler"
	"zexplore/state"
	"zexplore/statetable"
	"zexplore/stats"
	"zexplore/storage"
	"zexplore/traversal"
)

// Reports kept in a summary. Further reports are only counted.
const maxReports = 100

type Searcher struct {
	opts    *config.Options
	initial state.Snapshot
	policy  scheduler.Policy
	stats   *stats.Stats
	run     string
	log     *slog.Logger

	// Nil when states are not recorded
	table statetable.Table
	// The states visited by the inner search of a nested depth first search
	red  *statetable.Memory
	tree *frontier.Tree

	spillDB    *badger.DB
	frontierDB *badger.DB

	sync.Mutex
	reports   []Report
	truncated int
	stopped   bool
	cancel    context.CancelFunc
}

// Prepare a search of the initial snapshot. The options must be validated.
func New(initial state.Snapshot, opts *config.Options) (*Searcher, error) {
	s := &Searcher{
		opts:    opts,
		initial: initial,
		stats:   stats.New(),
		run:     uuid.NewString(),
	}
	s.log = opts.Log().With("run", s.run)
	if opts.Scheduler != "" {
		policy, err := scheduler.Lookup(opts.Scheduler, scheduler.Config{Seed: opts.Seed})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
		}
		s.policy = policy
	}
	return s, nil
}

func (s *Searcher) Stats() *stats.Stats {
	return s.stats
}

// The identifier of the search
func (s *Searcher) RunID() string {
	return s.run
}

// One round of exploration up to a bound
type iteration struct {
	index  int
	cutoff int
	// Frontiers of the last iteration are dropped
	last bool
	bt   traversal.BoundTracker
	// Receives the trace frontiers of the iteration
	next     frontier.Store
	produced atomic.Int64
}

// A frontier to explore
type item struct {
	// The initial state
	root  bool
	trace *frontier.TraceFrontier
	node  *frontier.Node
}

// Explore the model. The error is non nil if the search could not complete,
// in which case the summary holds what was found until then.
func (s *Searcher) Explore(ctx context.Context) (*Summary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.Lock()
	s.cancel = cancel
	s.Unlock()

	sum := &Summary{Run: s.run}
	err := s.open()
	if err == nil {
		s.log.Info("Starting search", "mode", s.opts.Mode, "workers", s.opts.DegreeOfParallelism, "scheduler", s.opts.Scheduler)
		workers := s.newWorkers()
		switch s.opts.Mode {
		case config.ModeRandom:
			err = s.exploreRandom(ctx, workers, sum)
		case config.ModeNDFS:
			err = s.exploreNested(ctx, workers, sum)
		default:
			err = s.exploreIterations(ctx, workers, sum)
		}
	}
	if closeErr := s.close(); err == nil {
		err = closeErr
	}
	return s.summarize(sum, err), err
}

func (s *Searcher) open() error {
	switch s.opts.Mode {
	case config.ModeDFS:
		var spill *statetable.Badger
		if s.opts.SpillDir != "" {
			db, err := storage.Open(storage.Config{Path: s.opts.SpillDir, Logger: s.log})
			if err != nil {
				return fmt.Errorf("%w: %v", ErrRuntime, err)
			}
			s.spillDB = db
			spill = statetable.NewBadger(db, "states/"+s.run+"/")
		}
		s.table = statetable.NewTiered(statetable.TieredOptions{
			MaxMemory: s.opts.MaxMemory,
			Spill:     spill,
			Stats:     s.stats,
			Logger:    s.log,
		})
	case config.ModeNDFS:
		s.table = statetable.NewMemory()
		s.red = statetable.NewMemory()
	}
	if s.opts.FrontierDir != "" && !s.opts.HierarchicalFrontiers {
		db, err := storage.Open(storage.Config{Path: s.opts.FrontierDir, Logger: s.log})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRuntime, err)
		}
		s.frontierDB = db
	}
	if s.opts.HierarchicalFrontiers {
		s.tree = frontier.NewTree()
	}
	return nil
}

func (s *Searcher) close() error {
	var err error
	if s.table != nil {
		err = s.table.Close()
	}
	for _, db := range []*badger.DB{s.spillDB, s.frontierDB} {
		if db == nil {
			continue
		}
		if closeErr := db.Close(); err == nil && closeErr != nil {
			err = fmt.Errorf("%w: %v", ErrRuntime, closeErr)
		}
	}
	return err
}

func (s *Searcher) newStore(iteration int) frontier.Store {
	if s.frontierDB != nil {
		return frontier.NewBadgerStore(s.frontierDB, fmt.Sprintf("frontier/%s/%d/", s.run, iteration), s.policy)
	}
	return frontier.NewMemoryStore()
}

func (s *Searcher) newWorkers() []*worker {
	opts := traversal.Options{
		RandomOrder:                       s.opts.Mode == config.ModeRandom,
		FingerprintSingleTransitionStates: s.opts.FingerprintSingleTransitionStates || s.opts.Mode == config.ModeNDFS,
		SingleTransitionSampleProbability: s.opts.SingleTransitionSampleProbability,
		Seed:                              s.opts.Seed,
		IgnorePanics:                      s.opts.IgnorePanics,
	}
	n := s.opts.DegreeOfParallelism
	if s.opts.Mode == config.ModeNDFS {
		n = 1
	}
	workers := make([]*worker, 0, n)
	for id := 0; id < n; id++ {
		workers = append(workers, newWorker(s, id, traversal.NewSession(id, s.initial, s.policy, opts, s.stats)))
	}
	return workers
}

// Record the report. Reports found after the search was stopped are discarded.
func (s *Searcher) report(r Report) {
	s.Lock()
	defer s.Unlock()
	if s.stopped {
		return
	}
	if len(s.reports) < maxReports {
		s.reports = append(s.reports, r)
	} else {
		s.truncated++
	}
	s.log.Warn("Found "+r.Result.String(), "worker", r.Worker, "depth", r.Bounds.Depth, "delay", r.Bounds.Delay, "err", r.Err)
	if s.opts.StopOnFirstError && r.Result != ResultStackOverflow {
		s.stopped = true
		s.cancel()
	}
}

func (s *Searcher) isStopped() bool {
	s.Lock()
	defer s.Unlock()
	return s.stopped
}

// Run the workers until the work sent by feed is done
func (s *Searcher) iterate(ctx context.Context, workers []*worker, it *iteration, feed func(context.Context, chan<- []item) error) error {
	g, gctx := errgroup.WithContext(ctx)
	work := make(chan []item)
	g.Go(func() error {
		defer close(work)
		return feed(gctx, work)
	})
	for _, w := range workers {
		g.Go(func() error {
			return w.run(gctx, it, work)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if !s.isStopped() {
		return context.Cause(ctx)
	}
	return nil
}

func send(ctx context.Context, out chan<- []item, batch []item) bool {
	select {
	case out <- batch:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Searcher) exploreIterations(ctx context.Context, workers []*worker, sum *Summary) error {
	start, increment := s.opts.Cutoffs()
	var input frontier.Store
	var batches [][]*frontier.Node
	if s.tree != nil {
		batches = [][]*frontier.Node{{s.tree.Root()}}
	}
	defer func() {
		if input != nil {
			input.Close()
		}
	}()

	for i := 0; ; i++ {
		it := &iteration{
			index:  i,
			cutoff: start + i*increment,
		}
		if s.opts.FinalCutoff >= 0 && it.cutoff >= s.opts.FinalCutoff {
			it.cutoff = s.opts.FinalCutoff
			it.last = true
		}
		it.bt = traversal.BoundTracker{Cutoff: it.cutoff, Delaying: s.opts.Delaying(), ChoiceCutoff: s.opts.ChoiceCutoff}
		if s.tree == nil {
			it.next = s.newStore(i)
		}
		log := s.log.With("iteration", i, "cutoff", it.cutoff)
		log.Debug("Starting iteration")

		var feed func(context.Context, chan<- []item) error
		switch {
		case s.tree != nil:
			current := batches
			feed = func(ctx context.Context, out chan<- []item) error {
				for _, siblings := range current {
					batch := make([]item, 0, len(siblings))
					for _, n := range siblings {
						batch = append(batch, item{node: n, root: n == s.tree.Root()})
					}
					if !send(ctx, out, batch) {
						return nil
					}
				}
				return nil
			}
		case input == nil:
			feed = func(ctx context.Context, out chan<- []item) error {
				send(ctx, out, []item{{root: true}})
				return nil
			}
		default:
			current := input
			feed = func(ctx context.Context, out chan<- []item) error {
				err := current.Drain(func(f *frontier.TraceFrontier) error {
					if !send(ctx, out, []item{{trace: f}}) {
						return ctx.Err()
					}
					return nil
				})
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}

		err := s.iterate(ctx, workers, it, feed)
		if input != nil {
			input.Close()
			input = nil
		}
		produced := it.produced.Load()
		if err != nil || s.isStopped() {
			if it.next != nil {
				it.next.Close()
			}
			return err
		}
		s.stats.Iterations.Add(1)
		sum.Iterations, sum.Cutoff = i+1, it.cutoff
		log.Info("Iteration completed",
			"frontiers", produced,
			"states", s.stats.States.Load(),
			"transitions", s.stats.Transitions.Load(),
			"elapsed", s.stats.Elapsed())

		if s.tree != nil {
			if log.Enabled(ctx, slog.LevelDebug) {
				log.Debug("Frontier tree", "newick", s.tree.Newick())
			}
			batches = nextBatches(s.tree, batches)
		} else {
			input = it.next
		}
		if it.last {
			sum.Unexplored = produced
			return nil
		}
		if produced == 0 {
			return nil
		}
	}
}

// The children of the consumed frontiers grouped by parent. The consumed frontiers are disposed.
func nextBatches(t *frontier.Tree, consumed [][]*frontier.Node) [][]*frontier.Node {
	next := [][]*frontier.Node{}
	for _, siblings := range consumed {
		for _, n := range siblings {
			if children := n.Children(); len(children) > 0 {
				next = append(next, children)
			}
			t.Dispose(n)
		}
	}
	return next
}

// Random walks from the initial state, bounded by the final cutoff and the maximum stack depth
func (s *Searcher) exploreRandom(ctx context.Context, workers []*worker, sum *Summary) error {
	it := &iteration{
		cutoff: s.opts.FinalCutoff,
		last:   true,
		bt:     traversal.BoundTracker{Cutoff: s.opts.FinalCutoff, Delaying: s.opts.Delaying(), ChoiceCutoff: s.opts.ChoiceCutoff},
	}
	err := s.iterate(ctx, workers, it, func(ctx context.Context, out chan<- []item) error {
		for i := 0; i < s.opts.RandomWalks; i++ {
			if !send(ctx, out, []item{{root: true}}) {
				return nil
			}
		}
		return nil
	})
	if err == nil {
		s.stats.Iterations.Add(1)
		sum.Iterations, sum.Cutoff = 1, it.cutoff
	}
	return err
}

// A single unbounded nested depth first search from the initial state
func (s *Searcher) exploreNested(ctx context.Context, workers []*worker, sum *Summary) error {
	it := &iteration{
		cutoff: traversal.NoCutoff,
		last:   true,
		bt:     traversal.Unbounded(s.opts.ChoiceCutoff),
	}
	err := s.iterate(ctx, workers, it, func(ctx context.Context, out chan<- []item) error {
		send(ctx, out, []item{{root: true}})
		return nil
	})
	if err == nil {
		s.stats.Iterations.Add(1)
		sum.Iterations, sum.Cutoff = 1, it.cutoff
	}
	return err
}

func (s *Searcher) summarize(sum *Summary, err error) *Summary {
	s.Lock()
	defer s.Unlock()
	sum.Reports = s.reports
	sum.Truncated = s.truncated
	sum.Stats = s.stats.Snapshot()
	for _, r := range s.reports {
		sum.Result = Worst(sum.Result, r.Result)
	}
	if err != nil {
		sum.Result = ResultRuntimeError
	}
	s.log.Info("Search completed", "result", sum.Result, "iterations", sum.Iterations, "reports", len(sum.Reports)+sum.Truncated)
	return sum
}

package search

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zexplore/config"
	"zexplore/model"
	"zexplore/scheduler"
	"zexplore/state"
	"zexplore/traversal"
)

func newMachine(t *testing.T, name string, processes int) state.Snapshot {
	t.Helper()
	m, err := model.Lookup(name, model.Params{Processes: processes})
	require.NoError(t, err)
	return m
}

func search(t *testing.T, initial state.Snapshot, opts ...config.Option) *Summary {
	t.Helper()
	o, err := config.New(opts...)
	require.NoError(t, err)
	s, err := New(initial, o)
	require.NoError(t, err)
	sum, err := s.Explore(context.Background())
	require.NoError(t, err)
	return sum
}

// Replay the trace of the report on a fresh machine and return its outcome
func replay(t *testing.T, name string, processes int, r Report) state.Outcome {
	t.Helper()
	m := newMachine(t, name, processes)
	for i, step := range r.Trace {
		require.NotEqual(t, state.KindTerminal, m.Kind(), "step %d of %v", i, r.Trace)
		_ = step.Apply(m, nil)
	}
	return m.Outcome()
}

var resultTests = []struct {
	name      string
	model     string
	processes int
	opts      []config.Option
	expected  Result
}{
	{"counter", "counter", 2, nil, ResultSuccess},
	{"counter parallel", "counter", 3, []config.Option{config.Parallelism(4), config.Cutoffs(2, 2, -1)}, ResultSuccess},
	{"race", "race", 2, nil, ResultErrorFound},
	{"race stateless", "race", 2, []config.Option{config.WithMode(config.ModeStateless)}, ResultErrorFound},
	{"race hierarchical", "race", 2, []config.Option{config.HierarchicalFrontiers(), config.Cutoffs(1, 1, -1)}, ResultErrorFound},
	{"deadlock", "deadlock", 2, nil, ResultErrorFound},
	{"mutex", "mutex", 3, nil, ResultErrorFound},
	{"choice", "choice", 2, nil, ResultErrorFound},
	{"choice within budget", "choice", 2, []config.Option{config.ChoiceCutoff(1)}, ResultSuccess},
	{"race without delays", "race", 2, []config.Option{config.WithScheduler("roundrobin"), config.Cutoffs(0, 1, 0)}, ResultSuccess},
	{"race with delays", "race", 2, []config.Option{config.WithScheduler("roundrobin")}, ResultErrorFound},
	{"race with delays hierarchical", "race", 2, []config.Option{config.WithScheduler("roundrobin"), config.HierarchicalFrontiers()}, ResultErrorFound},
	{"race random", "race", 2, []config.Option{config.WithMode(config.ModeRandom), config.RandomWalks(200), config.Seed(1), config.Parallelism(2)}, ResultErrorFound},
	{"counter random", "counter", 2, []config.Option{config.WithMode(config.ModeRandom), config.RandomWalks(20)}, ResultSuccess},
	{"spin cycle", "spin", 1, []config.Option{config.WithMode(config.ModeNDFS)}, ResultAcceptingCycle},
	{"counter ndfs", "counter", 2, []config.Option{config.WithMode(config.ModeNDFS)}, ResultSuccess},
	{"spin overflow", "spin", 1, []config.Option{config.MaxStackDepth(5), config.Cutoffs(100, 100, 100)}, ResultStackOverflow},
}

func TestResults(t *testing.T) {
	for _, test := range resultTests {
		t.Run(test.name, func(t *testing.T) {
			sum := search(t, newMachine(t, test.model, test.processes), test.opts...)
			assert.Equal(t, test.expected, sum.Result, "reports: %v", sum.Reports)
			if test.expected == ResultSuccess {
				assert.Empty(t, sum.Reports)
				assert.NoError(t, sum.Err())
				return
			}
			require.NotEmpty(t, sum.Reports)
			var searchErr *Error
			assert.ErrorAs(t, sum.Err(), &searchErr)
			for _, r := range sum.Reports {
				assert.NotEmpty(t, r.Trace)
				assert.Equal(t, len(r.Trace), r.Bounds.Depth)
			}
		})
	}
}

// The state table ignores the scheduler state, so pruning by model state alone must not hide these errors
func TestEverySchedulerFindsErrorsStateful(t *testing.T) {
	for _, name := range scheduler.Names() {
		for _, m := range []string{"race", "mutex"} {
			t.Run(name+"/"+m, func(t *testing.T) {
				sum := search(t, newMachine(t, m, 2), config.WithMode(config.ModeDFS), config.WithScheduler(name), config.Parallelism(2))
				assert.Equal(t, ResultErrorFound, sum.Result, "reports: %v", sum.Reports)
				for _, r := range sum.Reports {
					assert.True(t, replay(t, m, 2, r).IsError(), "trace %v", r.Trace)
				}
			})
		}
	}
}

func TestFrontierTreeIsLogged(t *testing.T) {
	out := &bytes.Buffer{}
	log := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sum := search(t, newMachine(t, "counter", 2), config.HierarchicalFrontiers(), config.Cutoffs(1, 1, 3), config.WithLogger(log))
	require.Equal(t, ResultSuccess, sum.Result)
	assert.Contains(t, out.String(), "msg=\"Frontier tree\"")
	assert.Contains(t, out.String(), "newick=")
}

func TestErrorTracesReplay(t *testing.T) {
	for _, name := range []string{"race", "deadlock", "choice"} {
		t.Run(name, func(t *testing.T) {
			sum := search(t, newMachine(t, name, 2), config.Parallelism(2))
			require.NotEmpty(t, sum.Reports)
			for _, r := range sum.Reports {
				assert.True(t, replay(t, name, 2, r).IsError(), "trace %v", r.Trace)
			}
		})
	}
}

func TestDeadlockReport(t *testing.T) {
	sum := search(t, newMachine(t, "deadlock", 2))
	require.NotEmpty(t, sum.Reports)
	assert.ErrorIs(t, sum.Reports[0].Err, model.ErrDeadlock)
	assert.ErrorIs(t, sum.Err(), model.ErrDeadlock)
}

func TestAcceptingCycleTrace(t *testing.T) {
	sum := search(t, newMachine(t, "spin", 1), config.WithMode(config.ModeNDFS))
	require.Len(t, sum.Reports, 1)
	r := sum.Reports[0]
	assert.ErrorIs(t, r.Err, ErrAcceptingCycle)

	// The trace ends in the accepting state it started the cycle from
	m := newMachine(t, "spin", 1).(*model.Machine)
	for _, step := range r.Trace {
		require.NoError(t, step.Apply(m, nil))
	}
	assert.True(t, m.IsAccepting())
}

func TestStopOnFirstError(t *testing.T) {
	sum := search(t, newMachine(t, "race", 3),
		config.StopOnFirstError(),
		config.Parallelism(4),
		config.WithMode(config.ModeStateless),
		config.Cutoffs(2, 2, -1),
	)
	assert.Equal(t, ResultErrorFound, sum.Result)
	assert.Len(t, sum.Reports, 1)

	all := search(t, newMachine(t, "race", 3), config.Parallelism(4), config.WithMode(config.ModeStateless), config.Cutoffs(2, 2, -1))
	assert.Greater(t, len(all.Reports)+all.Truncated, 1)
}

// Every reachable state is recorded once whatever the frontiers and the number of workers
func TestStatesIndependentOfFrontiers(t *testing.T) {
	base := []config.Option{config.Fingerprinting(true, 0)}
	variants := map[string][]config.Option{
		"single iteration":    {config.Cutoffs(1000, 1000, -1)},
		"trace frontiers":     {config.Cutoffs(1, 1, -1)},
		"tree frontiers":      {config.Cutoffs(1, 1, -1), config.HierarchicalFrontiers()},
		"parallel trace":      {config.Cutoffs(2, 1, -1), config.Parallelism(4)},
		"parallel tree":       {config.Cutoffs(2, 1, -1), config.Parallelism(4), config.HierarchicalFrontiers()},
		"badger frontiers":    {config.Cutoffs(2, 3, -1), config.Storage("", t.TempDir())},
		"spilled state table": {config.Cutoffs(2, 3, -1), config.Storage(t.TempDir(), "")},
	}
	expected := int64(-1)
	for name, opts := range variants {
		sum := search(t, newMachine(t, "counter", 2), append(base, opts...)...)
		require.Equal(t, ResultSuccess, sum.Result, name)
		if expected < 0 {
			expected = sum.Stats.States
		}
		assert.Equal(t, expected, sum.Stats.States, name)
		assert.Greater(t, sum.Stats.States, int64(1), name)
	}
}

func TestIterations(t *testing.T) {
	sum := search(t, newMachine(t, "counter", 2), config.Cutoffs(2, 2, -1))
	assert.Equal(t, ResultSuccess, sum.Result)
	assert.Greater(t, sum.Iterations, 1)
	assert.Equal(t, int64(sum.Iterations), sum.Stats.Iterations)
	assert.Zero(t, sum.Unexplored)

	bounded := search(t, newMachine(t, "counter", 2), config.Cutoffs(2, 2, 3))
	assert.Equal(t, 2, bounded.Iterations)
	assert.Equal(t, 3, bounded.Cutoff)
	assert.Greater(t, bounded.Unexplored, int64(0), "the counter model is deeper than 3")
}

func contractViolation() *model.Program {
	return &model.Program{
		Name:      "contract",
		Processes: [][]model.Instr{{model.Invoke("bogus")}},
	}
}

func TestContractViolationIsRuntimeError(t *testing.T) {
	o, err := config.New(config.WithScheduler("roundrobin"))
	require.NoError(t, err)
	s, err := New(model.New(contractViolation()), o)
	require.NoError(t, err)
	sum, err := s.Explore(context.Background())
	assert.ErrorIs(t, err, ErrRuntime)
	assert.Equal(t, ResultRuntimeError, sum.Result)
}

func TestModelPanicIsReported(t *testing.T) {
	prog := &model.Program{
		Name: "panic",
		Processes: [][]model.Instr{{model.Do("panic", func(*model.Machine, int) {
			panic("boom")
		})}},
	}
	sum := search(t, model.New(prog))
	require.Len(t, sum.Reports, 1)
	assert.ErrorIs(t, sum.Reports[0].Err, traversal.ErrModelPanic)
}

func TestCancelled(t *testing.T) {
	o, err := config.New()
	require.NoError(t, err)
	s, err := New(newMachine(t, "counter", 2), o)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum, err := s.Explore(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, ResultRuntimeError, sum.Result)
}

func TestWorst(t *testing.T) {
	assert.Equal(t, ResultErrorFound, Worst(ResultStackOverflow, ResultErrorFound))
	assert.Equal(t, ResultErrorFound, Worst(ResultErrorFound, ResultAcceptingCycle))
	assert.Equal(t, ResultRuntimeError, Worst(ResultRuntimeError, ResultErrorFound))
	assert.Equal(t, ResultStackOverflow, Worst(ResultSuccess, ResultStackOverflow))
}

func TestReportFormat(t *testing.T) {
	r := Report{
		Result: ResultErrorFound,
		Trace:  state.Trace{state.Execute(0), state.Execute(0), state.Choose(2)},
		Err:    model.ErrAssertion,
		Worker: 1,
		Bounds: traversal.Bounds{Depth: 3},
	}
	compact := r.Format(true)
	assert.Contains(t, compact, "ErrorFound found by worker 1")
	assert.Contains(t, compact, "execute(0) x2")
	assert.Contains(t, compact, "choose(2)")
	assert.Contains(t, r.String(), "execute(0)\n  execute(0)")
}

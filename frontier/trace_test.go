package frontier

import (
	"encoding/binary"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func lookupPolicy(t *testing.T, name string) scheduler.Policy {
	t.Helper()
	p, err := scheduler.Lookup(name, scheduler.Config{Seed: 1})
	require.NoError(t, err)
	return p
}

// Walks the path of first successors from the root until the bound stops it. Returns the cutoff nodes.
func cutoffs(root *traversal.Node, bt traversal.BoundTracker) []*traversal.Node {
	out := []*traversal.Node{}
	stack := []*traversal.Node{root}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		child, outcome := top.GetNextSuccessor(bt)
		switch outcome {
		case traversal.Continue:
			stack = append(stack, child)
		case traversal.IterationCutoff:
			out = append(out, child)
		case traversal.Exhausted:
			stack = stack[:len(stack)-1]
		}
	}
	return out
}

func TestTraceFrontierRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		model  string
		policy string
		bt     traversal.BoundTracker
	}{
		{"depth", "race", "", traversal.BoundTracker{Cutoff: 3}},
		{"choice", "choice", "", traversal.BoundTracker{Cutoff: 2}},
		{"roundrobin", "race", "roundrobin", traversal.BoundTracker{Cutoff: 1, Delaying: true}},
		{"pct", "race", "pct", traversal.BoundTracker{Cutoff: 1, Delaying: true}},
		{"sealing", "counter", "sealing", traversal.BoundTracker{Cutoff: 0, Delaying: true}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			initial := newMachine(t, test.model, 2)
			var policy scheduler.Policy
			if test.policy != "" {
				policy = lookupPolicy(t, test.policy)
			}
			sess := traversal.NewSession(0, initial, policy, traversal.Options{}, nil)
			nodes := cutoffs(sess.Root(), test.bt)
			require.NotEmpty(t, nodes)

			other := traversal.NewSession(1, initial, policy, traversal.Options{}, nil)
			for _, n := range nodes {
				b, err := NewTraceFrontier(n).MarshalBinary()
				require.NoError(t, err)
				f, err := UnmarshalTraceFrontier(b, policy)
				require.NoError(t, err)
				assert.Equal(t, n.Trace(), f.Trace)
				assert.Equal(t, n.Bounds(), f.Bounds)
				assert.Equal(t, n.Delays(), f.Delays)

				m, err := f.Materialize(other)
				require.NoError(t, err)
				assert.Equal(t, n.StateFingerprint(), m.StateFingerprint(), "trace %v", n.Trace())
				assert.Equal(t, n.Bounds(), m.Bounds())
				if policy != nil {
					expected, _ := n.Scheduler().CloneForFrontier().Next()
					got, _ := m.Scheduler().Next()
					assert.Equal(t, expected, got)
				}
			}
		})
	}
}

func TestTraceFrontierLayout(t *testing.T) {
	f := &TraceFrontier{
		Trace:  state.Trace{state.Execute(0), state.Choose(1)},
		Bounds: traversal.Bounds{Depth: 3, Delay: 2},
		Delays: 1,
	}
	b, err := f.MarshalBinary()
	require.NoError(t, err)
	expected := []byte{
		1, 0,
		2, 0, 0, 0,
		3, 0, 0, 0,
		2, 0, 0, 0,
		0, 0, 0, 0,
		1, 0, 0, 0x80,
	}
	assert.Equal(t, expected, b)

	decoded, err := UnmarshalTraceFrontier(b, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, decoded.Bounds.ChoiceCost, "the choice cost is recovered from the trace")
}

func TestTraceFrontierMalformed(t *testing.T) {
	f := &TraceFrontier{Trace: state.Trace{state.Execute(0)}, Bounds: traversal.Bounds{Depth: 1}}
	b, err := f.MarshalBinary()
	require.NoError(t, err)
	for i := 0; i < len(b); i++ {
		_, err := UnmarshalTraceFrontier(b[:i], nil)
		assert.ErrorIs(t, err, ErrMalformed, "truncated to %d bytes", i)
	}
}

func TestTraceFrontierHugeCounts(t *testing.T) {
	header := func(counts ...int32) []byte {
		b := binary.LittleEndian.AppendUint16(nil, 0)
		b = binary.LittleEndian.AppendUint32(b, 0)
		b = binary.LittleEndian.AppendUint32(b, 1)
		for _, c := range counts {
			b = binary.LittleEndian.AppendUint32(b, uint32(c))
		}
		return b
	}
	tests := map[string]struct {
		policy scheduler.Policy
		input  []byte
	}{
		"steps":           {nil, header(1 << 28)},
		"steps with data": {nil, append(header(1<<28), 1, 0, 0, 0)},
		"scheduler state": {lookupPolicy(t, "roundrobin"), header(1 << 30)},
		"negative steps":  {nil, header(-1)},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			var before, after runtime.MemStats
			runtime.ReadMemStats(&before)
			_, err := UnmarshalTraceFrontier(test.input, test.policy)
			runtime.ReadMemStats(&after)
			assert.ErrorIs(t, err, ErrMalformed)
			assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(1<<20), "allocation follows the input, not the counts")
		})
	}
}

func TestTraceFrontierSchedulerMismatch(t *testing.T) {
	rr := lookupPolicy(t, "roundrobin")
	f := &TraceFrontier{Sched: scheduler.NewHandle(rr)}
	b, err := f.MarshalBinary()
	require.NoError(t, err)
	_, err = UnmarshalTraceFrontier(b, lookupPolicy(t, "priority"))
	assert.ErrorIs(t, err, ErrSchedulerMismatch)
	_, err = UnmarshalTraceFrontier(b, rr)
	assert.NoError(t, err)
}

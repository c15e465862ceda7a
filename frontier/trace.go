// Package frontier records the states where an iteration stopped deepening so that the next iteration can resume from them.
//
// A TraceFrontier is self contained: it holds the complete trace from the initial state and is rebuilt by replaying it.
// A Tree shares the common prefixes of the frontiers and rebuilds them with a per worker cursor that replays
// only the part of the tree between consecutive requests.
package frontier

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"

	"zexplore/scheduler"
	"zexplore/state"
	"zexplore/traversal"
)

var (
	ErrMalformed = errors.New("frontier: malformed frontier")
	// The decoded scheduler state belongs to another policy
	ErrSchedulerMismatch = errors.New("frontier: scheduler state does not match the policy")
)

// A frontier stored as the complete trace from the initial state.
// A TraceFrontier is immutable once created.
type TraceFrontier struct {
	Trace  state.Trace
	Bounds traversal.Bounds
	// The scheduler state of the node. Nil if no scheduler is used.
	Sched *scheduler.Handle
	// Times the scheduler state has been delayed
	Delays int
}

// Record the node as a frontier
func NewTraceFrontier(n *traversal.Node) *TraceFrontier {
	f := &TraceFrontier{
		Trace:  n.Trace(),
		Bounds: n.Bounds(),
		Delays: n.Delays(),
	}
	if n.Scheduler() != nil {
		f.Sched = n.Scheduler().CloneForFrontier()
	}
	return f
}

// Rebuild the node in the session by replaying the trace from a fresh clone of the initial snapshot
func (f *TraceFrontier) Materialize(sess *traversal.Session) (*traversal.Node, error) {
	return sess.Resume(f.Trace, f.Bounds, f.Sched, f.Delays)
}

func (f *TraceFrontier) String() string {
	return fmt.Sprintf("%v %v", f.Bounds, f.Trace)
}

// Encode the frontier.
//
// The layout is: int16 delay count, int32 delay bound, int32 depth, the scheduler state if a scheduler is used
// (int32 length followed by the state blob), int32 step count and one uint32 per step. Integers are little endian.
func (f *TraceFrontier) MarshalBinary() ([]byte, error) {
	buf := bytes.Buffer{}
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (f *TraceFrontier) WriteTo(w io.Writer) (int64, error) {
	if f.Delays > math.MaxInt16 || f.Bounds.Delay > math.MaxInt32 || f.Bounds.Depth > math.MaxInt32 || len(f.Trace) > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %v does not fit the encoding", ErrMalformed, f.Bounds)
	}
	size := 2 + 4 + 4 + 4 + 4*len(f.Trace)
	out := make([]byte, 0, size)
	out = binary.LittleEndian.AppendUint16(out, uint16(int16(f.Delays)))
	out = binary.LittleEndian.AppendUint32(out, uint32(int32(f.Bounds.Delay)))
	out = binary.LittleEndian.AppendUint32(out, uint32(int32(f.Bounds.Depth)))
	if f.Sched != nil {
		blob, err := scheduler.EncodeState(f.Sched.State)
		if err != nil {
			return 0, err
		}
		out = binary.LittleEndian.AppendUint32(out, uint32(int32(len(blob))))
		out = append(out, blob...)
	}
	out = binary.LittleEndian.AppendUint32(out, uint32(int32(len(f.Trace))))
	for _, step := range f.Trace {
		out = binary.LittleEndian.AppendUint32(out, uint32(step))
	}
	n, err := w.Write(out)
	return int64(n), err
}

// Decode a frontier written by MarshalBinary. The policy must be the one used when the frontier was written, or nil.
func UnmarshalTraceFrontier(b []byte, policy scheduler.Policy) (*TraceFrontier, error) {
	return ReadTraceFrontier(bytes.NewReader(b), policy)
}

// Number of steps decoded at a time
const stepChunk = 1024

func ReadTraceFrontier(r io.Reader, policy scheduler.Policy) (*TraceFrontier, error) {
	var header struct {
		Delays int16
		Delay  int32
		Depth  int32
	}
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrMalformed, err)
	}
	f := &TraceFrontier{
		Bounds: traversal.Bounds{Depth: int(header.Depth), Delay: int(header.Delay)},
		Delays: int(header.Delays),
	}
	if policy != nil {
		var size int32
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return nil, fmt.Errorf("%w: scheduler state size: %v", ErrMalformed, err)
		}
		if size < 0 {
			return nil, fmt.Errorf("%w: scheduler state size %d", ErrMalformed, size)
		}
		blob, err := io.ReadAll(io.LimitReader(r, int64(size)))
		if err != nil {
			return nil, fmt.Errorf("%w: scheduler state: %v", ErrMalformed, err)
		}
		if len(blob) != int(size) {
			return nil, fmt.Errorf("%w: scheduler state: %d of %d bytes", ErrMalformed, len(blob), size)
		}
		s, err := scheduler.DecodeState(blob)
		if err != nil {
			return nil, err
		}
		if reflect.TypeOf(s) != reflect.TypeOf(policy.NewState()) {
			return nil, fmt.Errorf("%w: %T for policy %v", ErrSchedulerMismatch, s, policy.Name())
		}
		f.Sched = &scheduler.Handle{Policy: policy, State: s}
	}
	var n int32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("%w: step count: %v", ErrMalformed, err)
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: step count %d", ErrMalformed, n)
	}
	// The trace grows with the steps actually read, never with the count alone
	raw := make([]uint32, min(int(n), stepChunk))
	f.Trace = state.Trace{}
	cost := 0
	for left := int(n); left > 0; left -= len(raw) {
		raw = raw[:min(left, len(raw))]
		if err := binary.Read(r, binary.LittleEndian, raw); err != nil {
			return nil, fmt.Errorf("%w: steps: %d of %d read: %v", ErrMalformed, len(f.Trace), n, err)
		}
		for _, v := range raw {
			step := state.Step(v)
			if step.IsChoice() {
				cost += step.Index()
			}
			f.Trace = append(f.Trace, step)
		}
	}
	// The choice cost is not stored, it is the sum of the options taken
	f.Bounds.ChoiceCost = cost
	return f, nil
}

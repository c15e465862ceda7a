package scheduler

import (
	"container/heap"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	PriorityName = "priority"

	// Added on top of the largest enabled priority when a process is delayed
	PriorityPenalty = 1 << 10
)

func init() {
	Register(PriorityName, func(Config) Policy { return Priority{} })
	RegisterState("priorityState", 1, func() State { return newPriorityState() })
}

// Runs the enabled process with the smallest priority value.
//
// Processes get increasing priorities in creation order and models can change them with
// Invoke("setpriority", pid, priority). Delay penalizes the chosen process so that a different process sorts first.
type Priority struct{}

type prioEntry struct {
	pid  int
	prio int
}

// min-heap of the enabled processes
type prioHeap []prioEntry

func (h prioHeap) Len() int { return len(h) }
func (h prioHeap) Less(i, j int) bool {
	if h[i].prio != h[j].prio {
		return h[i].prio < h[j].prio
	}
	return h[i].pid < h[j].pid
}
func (h prioHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *prioHeap) Push(x any) { *h = append(*h, x.(prioEntry)) }
func (h *prioHeap) Pop() any {
	old := *h
	e := old[len(old)-1]
	*h = old[:len(old)-1]
	return e
}

func (h prioHeap) index(pid int) int {
	for i, e := range h {
		if e.pid == pid {
			return i
		}
	}
	return -1
}

type priorityState struct {
	prio    map[int]int
	enabled prioHeap
	// priority given to the next created process
	nextPrio int
	delays   int
}

func newPriorityState() *priorityState {
	return &priorityState{prio: map[int]int{}}
}

func (s *priorityState) Clone() State {
	c := &priorityState{
		prio:     make(map[int]int, len(s.prio)),
		enabled:  append(prioHeap(nil), s.enabled...),
		nextPrio: s.nextPrio,
		delays:   s.delays,
	}
	for pid, p := range s.prio {
		c.prio[pid] = p
	}
	return c
}

func (s *priorityState) CloneForFrontier() State {
	return s.Clone()
}

func (s *priorityState) MarshalBinary() ([]byte, error) {
	e := encoder{}
	pids := procSet{}
	for pid := range s.prio {
		pids = pids.add(pid)
	}
	prios := make([]int, len(pids))
	for i, pid := range pids {
		prios[i] = s.prio[pid]
	}
	enabled := procSet{}
	for _, en := range s.enabled {
		enabled = enabled.add(en.pid)
	}
	e.ints(1, pids)
	e.ints(2, prios)
	e.ints(3, enabled)
	e.int(4, s.nextPrio)
	e.int(5, s.delays)
	return e.b, nil
}

func (s *priorityState) UnmarshalBinary(b []byte) error {
	*s = *newPriorityState()
	var pids, prios, enabled []int
	err := decodeFields(b, func(num protowire.Number, v uint64, bs []byte) (err error) {
		switch num {
		case 1:
			pids, err = decodeInts(bs)
		case 2:
			prios, err = decodeInts(bs)
		case 3:
			enabled, err = decodeInts(bs)
		case 4:
			s.nextPrio = decodeInt(v)
		case 5:
			s.delays = decodeInt(v)
		}
		return err
	})
	if err != nil {
		return err
	}
	if len(pids) != len(prios) {
		return ErrMalformedState
	}
	for i, pid := range pids {
		s.prio[pid] = prios[i]
	}
	for _, pid := range enabled {
		heap.Push(&s.enabled, prioEntry{pid: pid, prio: s.prio[pid]})
	}
	return nil
}

func ps(s State) *priorityState {
	return s.(*priorityState)
}

func (Priority) Name() string { return PriorityName }
func (Priority) NewState() State { return newPriorityState() }

func (Priority) Start(s State, pid int) {
	st := ps(s)
	st.prio[pid] = st.nextPrio
	st.nextPrio++
	if st.enabled.index(pid) < 0 {
		heap.Push(&st.enabled, prioEntry{pid: pid, prio: st.prio[pid]})
	}
}

func (Priority) Finish(s State, pid int) {
	st := ps(s)
	if _, ok := st.prio[pid]; !ok {
		violation(PriorityName, "Finish", "process %d was never started or has already finished", pid)
	}
	delete(st.prio, pid)
	if i := st.enabled.index(pid); i >= 0 {
		heap.Remove(&st.enabled, i)
	}
}

func (Priority) Next(s State) (int, bool) {
	st := ps(s)
	if len(st.enabled) == 0 {
		return 0, false
	}
	return st.enabled[0].pid, true
}

func (Priority) Delay(s State) {
	st := ps(s)
	if len(st.enabled) == 0 {
		return
	}
	highest := st.enabled[0].prio
	for _, e := range st.enabled {
		highest = maxOf(highest, e.prio)
	}
	pid := st.enabled[0].pid
	st.prio[pid] = highest + PriorityPenalty
	st.enabled[0].prio = st.prio[pid]
	heap.Fix(&st.enabled, 0)
	st.delays++
}

func (Priority) MaxDelay(s State) int {
	return maxOf(len(ps(s).enabled)-1, 0)
}

func (Priority) OnBlocked(s State, pid int) {
	st := ps(s)
	if i := st.enabled.index(pid); i >= 0 {
		heap.Remove(&st.enabled, i)
	}
}

func (Priority) OnEnabled(s State, pid int) {
	st := ps(s)
	p, ok := st.prio[pid]
	if !ok {
		violation(PriorityName, "OnEnabled", "process %d was never started", pid)
	}
	if st.enabled.index(pid) < 0 {
		heap.Push(&st.enabled, prioEntry{pid: pid, prio: p})
	}
}

func (Priority) IsSealed(State) bool { return false }

func (Priority) Invoke(s State, params ...any) {
	tag, args := invokeTag(PriorityName, params)
	switch tag {
	case "setpriority":
		st := ps(s)
		pid := intArg(PriorityName, tag, args, 0)
		p := intArg(PriorityName, tag, args, 1)
		if _, ok := st.prio[pid]; !ok {
			violation(PriorityName, "Invoke", "setpriority: unknown process %d", pid)
		}
		st.prio[pid] = p
		if i := st.enabled.index(pid); i >= 0 {
			st.enabled[i].prio = p
			heap.Fix(&st.enabled, i)
		}
	default:
		violation(PriorityName, "Invoke", "unrecognized operation %q", tag)
	}
}

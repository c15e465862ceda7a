package scheduler

import (
	"math/rand/v2"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	PCTName = "pct"

	// Priorities assigned at creation are drawn from [0, pctLowRange).
	// Delayed processes are moved to pctHighBase and above, after every process that has not been delayed.
	pctLowRange = 1 << 16
	pctHighBase = 1 << 20
)

func init() {
	Register(PCTName, func(cfg Config) Policy { return PCT{Seed: cfg.Seed} })
	RegisterState("pctState", 1, func() State { return &pctState{prio: map[int]int{}} })
}

// Randomized priority scheduling in the style of probabilistic concurrency testing.
//
// Every process gets a random low priority when it is created and the enabled process with the smallest value runs.
// A delay emulates a priority change point: the running process is moved into the high range,
// behind every process that has not been delayed yet.
type PCT struct {
	Seed uint64
}

type pctState struct {
	prio    map[int]int
	enabled procSet
	rng     rand.PCG
	// next value handed out in the high range
	nextHigh int
	delays   int
}

func (s *pctState) Clone() State {
	c := &pctState{
		prio:     make(map[int]int, len(s.prio)),
		enabled:  s.enabled.clone(),
		rng:      s.rng,
		nextHigh: s.nextHigh,
		delays:   s.delays,
	}
	for pid, p := range s.prio {
		c.prio[pid] = p
	}
	return c
}

func (s *pctState) CloneForFrontier() State {
	return s.Clone()
}

func (s *pctState) MarshalBinary() ([]byte, error) {
	rng, err := s.rng.MarshalBinary()
	if err != nil {
		return nil, err
	}
	pids := procSet{}
	for pid := range s.prio {
		pids = pids.add(pid)
	}
	prios := make([]int, len(pids))
	for i, pid := range pids {
		prios[i] = s.prio[pid]
	}
	e := encoder{}
	e.ints(1, pids)
	e.ints(2, prios)
	e.ints(3, s.enabled)
	e.bytes(4, rng)
	e.int(5, s.nextHigh)
	e.int(6, s.delays)
	return e.b, nil
}

func (s *pctState) UnmarshalBinary(b []byte) error {
	*s = pctState{prio: map[int]int{}}
	var pids, prios []int
	err := decodeFields(b, func(num protowire.Number, v uint64, bs []byte) (err error) {
		switch num {
		case 1:
			pids, err = decodeInts(bs)
		case 2:
			prios, err = decodeInts(bs)
		case 3:
			s.enabled, err = decodeInts(bs)
		case 4:
			err = s.rng.UnmarshalBinary(bs)
		case 5:
			s.nextHigh = decodeInt(v)
		case 6:
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
	return nil
}

func pct(s State) *pctState {
	return s.(*pctState)
}

func (PCT) Name() string { return PCTName }

func (p PCT) NewState() State {
	return &pctState{
		prio: map[int]int{},
		rng:  *rand.NewPCG(p.Seed, p.Seed^0xda3e39cb94b95bdb),
	}
}

func (PCT) Start(s State, pid int) {
	st := pct(s)
	st.prio[pid] = rand.New(&st.rng).IntN(pctLowRange)
	st.enabled = st.enabled.add(pid)
}

func (PCT) Finish(s State, pid int) {
	st := pct(s)
	if _, ok := st.prio[pid]; !ok {
		violation(PCTName, "Finish", "process %d was never started or has already finished", pid)
	}
	delete(st.prio, pid)
	st.enabled = st.enabled.remove(pid)
}

func (PCT) Next(s State) (int, bool) {
	st := pct(s)
	best, found := 0, false
	for _, pid := range st.enabled {
		if !found || st.prio[pid] < st.prio[best] {
			best, found = pid, true
		}
	}
	return best, found
}

func (p PCT) Delay(s State) {
	st := pct(s)
	pid, ok := p.Next(s)
	if !ok {
		return
	}
	st.prio[pid] = pctHighBase + st.nextHigh
	st.nextHigh++
	st.delays++
}

func (PCT) MaxDelay(s State) int {
	return maxOf(len(pct(s).enabled)-1, 0)
}

func (PCT) OnBlocked(s State, pid int) {
	st := pct(s)
	st.enabled = st.enabled.remove(pid)
}

func (PCT) OnEnabled(s State, pid int) {
	st := pct(s)
	if _, ok := st.prio[pid]; !ok {
		violation(PCTName, "OnEnabled", "process %d was never started", pid)
	}
	st.enabled = st.enabled.add(pid)
}

func (PCT) IsSealed(State) bool { return false }

func (PCT) Invoke(s State, params ...any) {
	tag, _ := invokeTag(PCTName, params)
	violation(PCTName, "Invoke", "unrecognized operation %q", tag)
}

package scheduler

import "google.golang.org/protobuf/encoding/protowire"

const RoundRobinName = "roundrobin"

func init() {
	Register(RoundRobinName, func(Config) Policy { return RoundRobin{} })
	RegisterState("rrState", 1, func() State { return newRRState() })
}

// Rotates among the enabled processes.
//
// Next returns the current process if it is enabled, otherwise the smallest enabled process with a larger id,
// wrapping around to the smallest enabled process. Delay moves the current process one step forward in that order.
type RoundRobin struct{}

type rrState struct {
	// started and not finished
	procs   procSet
	enabled procSet
	// -1 when no process has been selected yet
	current int
	delays  int
}

func newRRState() *rrState {
	return &rrState{current: -1}
}

func (s *rrState) Clone() State {
	return &rrState{
		procs:   s.procs.clone(),
		enabled: s.enabled.clone(),
		current: s.current,
		delays:  s.delays,
	}
}

func (s *rrState) CloneForFrontier() State {
	return s.Clone()
}

func (s *rrState) MarshalBinary() ([]byte, error) {
	e := encoder{}
	e.ints(1, s.procs)
	e.ints(2, s.enabled)
	e.int(3, s.current)
	e.int(4, s.delays)
	return e.b, nil
}

func (s *rrState) UnmarshalBinary(b []byte) error {
	*s = rrState{current: -1}
	return decodeFields(b, func(num protowire.Number, v uint64, bs []byte) (err error) {
		switch num {
		case 1:
			s.procs, err = decodeInts(bs)
		case 2:
			s.enabled, err = decodeInts(bs)
		case 3:
			s.current = decodeInt(v)
		case 4:
			s.delays = decodeInt(v)
		}
		return err
	})
}

func (s *rrState) start(pid int) {
	s.procs = s.procs.add(pid)
	s.enabled = s.enabled.add(pid)
}

func (s *rrState) finish(policy string, pid int) {
	if !s.procs.contains(pid) {
		violation(policy, "Finish", "process %d was never started or has already finished", pid)
	}
	s.procs = s.procs.remove(pid)
	s.enabled = s.enabled.remove(pid)
	if s.current == pid {
		if next, ok := s.enabled.after(pid); ok {
			s.current = next
		} else {
			s.current = -1
		}
	}
}

func (s *rrState) onEnabled(policy string, pid int) {
	if !s.procs.contains(pid) {
		violation(policy, "OnEnabled", "process %d was never started", pid)
	}
	s.enabled = s.enabled.add(pid)
}

func (s *rrState) onBlocked(pid int) {
	s.enabled = s.enabled.remove(pid)
}

func (s *rrState) next() (int, bool) {
	if s.enabled.contains(s.current) {
		return s.current, true
	}
	return s.enabled.after(s.current)
}

func (s *rrState) delay() {
	n, ok := s.next()
	if !ok {
		return
	}
	s.current, _ = s.enabled.after(n)
	s.delays++
}

func (s *rrState) maxDelay() int {
	return maxOf(len(s.enabled)-1, 0)
}

func rr(s State) *rrState {
	return s.(*rrState)
}

func (RoundRobin) Name() string { return RoundRobinName }
func (RoundRobin) NewState() State { return newRRState() }
func (RoundRobin) Start(s State, pid int) { rr(s).start(pid) }
func (RoundRobin) Finish(s State, pid int) { rr(s).finish(RoundRobinName, pid) }
func (RoundRobin) Next(s State) (int, bool) { return rr(s).next() }
func (RoundRobin) Delay(s State) { rr(s).delay() }
func (RoundRobin) MaxDelay(s State) int { return rr(s).maxDelay() }
func (RoundRobin) OnBlocked(s State, pid int) { rr(s).onBlocked(pid) }
func (RoundRobin) OnEnabled(s State, pid int) { rr(s).onEnabled(RoundRobinName, pid) }
func (RoundRobin) IsSealed(State) bool { return false }
func (RoundRobin) Invoke(s State, params ...any) {
	tag, _ := invokeTag(RoundRobinName, params)
	violation(RoundRobinName, "Invoke", "unrecognized operation %q", tag)
}

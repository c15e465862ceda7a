package scheduler

import "google.golang.org/protobuf/encoding/protowire"

const RunToCompletionName = "rtc"

func init() {
	Register(RunToCompletionName, func(Config) Policy { return RunToCompletion{} })
	RegisterState("rtcState", 1, func() State { return &rtcState{} })
}

// Runs the most recently created or enabled process until it blocks or completes.
//
// The runnable processes are kept in a LIFO stack. Delay moves the top of the stack to the bottom.
type RunToCompletion struct{}

type rtcState struct {
	procs procSet
	// top of the stack is the last element
	stack  []int
	delays int
}

func (s *rtcState) Clone() State {
	return &rtcState{
		procs:  s.procs.clone(),
		stack:  append([]int(nil), s.stack...),
		delays: s.delays,
	}
}

func (s *rtcState) CloneForFrontier() State {
	return s.Clone()
}

func (s *rtcState) MarshalBinary() ([]byte, error) {
	e := encoder{}
	e.ints(1, s.procs)
	e.ints(2, s.stack)
	e.int(3, s.delays)
	return e.b, nil
}

func (s *rtcState) UnmarshalBinary(b []byte) error {
	*s = rtcState{}
	return decodeFields(b, func(num protowire.Number, v uint64, bs []byte) (err error) {
		switch num {
		case 1:
			s.procs, err = decodeInts(bs)
		case 2:
			s.stack, err = decodeInts(bs)
		case 3:
			s.delays = decodeInt(v)
		}
		return err
	})
}

func (s *rtcState) push(pid int) {
	s.stack, _ = removeOrdered(s.stack, pid)
	s.stack = append(s.stack, pid)
}

func (s *rtcState) start(pid int) {
	s.procs = s.procs.add(pid)
	s.push(pid)
}

func (s *rtcState) finish(policy string, pid int) {
	if !s.procs.contains(pid) {
		violation(policy, "Finish", "process %d was never started or has already finished", pid)
	}
	s.procs = s.procs.remove(pid)
	s.stack, _ = removeOrdered(s.stack, pid)
}

func (s *rtcState) onEnabled(policy string, pid int) {
	if !s.procs.contains(pid) {
		violation(policy, "OnEnabled", "process %d was never started", pid)
	}
	for _, p := range s.stack {
		if p == pid {
			return
		}
	}
	s.stack = append(s.stack, pid)
}

func (s *rtcState) onBlocked(pid int) {
	s.stack, _ = removeOrdered(s.stack, pid)
}

func (s *rtcState) next() (int, bool) {
	if len(s.stack) == 0 {
		return 0, false
	}
	return s.stack[len(s.stack)-1], true
}

func (s *rtcState) delay() {
	if len(s.stack) < 2 {
		return
	}
	top := s.stack[len(s.stack)-1]
	copy(s.stack[1:], s.stack[:len(s.stack)-1])
	s.stack[0] = top
	s.delays++
}

func (s *rtcState) maxDelay() int {
	return maxOf(len(s.stack)-1, 0)
}

func rtc(s State) *rtcState {
	return s.(*rtcState)
}

func (RunToCompletion) Name() string { return RunToCompletionName }
func (RunToCompletion) NewState() State { return &rtcState{} }
func (RunToCompletion) Start(s State, pid int) { rtc(s).start(pid) }
func (RunToCompletion) Finish(s State, pid int) { rtc(s).finish(RunToCompletionName, pid) }
func (RunToCompletion) Next(s State) (int, bool) { return rtc(s).next() }
func (RunToCompletion) Delay(s State) { rtc(s).delay() }
func (RunToCompletion) MaxDelay(s State) int { return rtc(s).maxDelay() }
func (RunToCompletion) OnBlocked(s State, pid int) { rtc(s).onBlocked(pid) }
func (RunToCompletion) OnEnabled(s State, pid int) { rtc(s).onEnabled(RunToCompletionName, pid) }
func (RunToCompletion) IsSealed(State) bool { return false }
func (RunToCompletion) Invoke(s State, params ...any) {
	tag, _ := invokeTag(RunToCompletionName, params)
	violation(RunToCompletionName, "Invoke", "unrecognized operation %q", tag)
}

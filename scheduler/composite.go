package scheduler

import "google.golang.org/protobuf/encoding/protowire"

const CompositeName = "rrrtc"

func init() {
	Register(CompositeName, func(Config) Policy { return Composite{} })
	RegisterState("compositeState", 1, func() State {
		return &compositeState{rr: newRRState(), rtc: &rtcState{}}
	})
}

type mode int

const (
	modeRoundRobin mode = iota
	modeRunToCompletion
)

func parseMode(policy, tag, name string) mode {
	switch name {
	case RoundRobinName, "rr":
		return modeRoundRobin
	case RunToCompletionName:
		return modeRunToCompletion
	}
	violation(policy, "Invoke", "%v: unknown mode %q", tag, name)
	return 0
}

// Round-robin scheduling with nestable run-to-completion regions.
//
// Both orders are tracked at all times. Invoke("push", "rtc") enters a region scheduled run-to-completion,
// Invoke("push", "roundrobin") a nested round-robin region, and Invoke("pop") leaves the innermost region.
type Composite struct{}

type compositeState struct {
	rr    *rrState
	rtc   *rtcState
	modes []mode
}

func (s *compositeState) Clone() State {
	return &compositeState{
		rr:    s.rr.Clone().(*rrState),
		rtc:   s.rtc.Clone().(*rtcState),
		modes: append([]mode(nil), s.modes...),
	}
}

func (s *compositeState) CloneForFrontier() State {
	return s.Clone()
}

func (s *compositeState) MarshalBinary() ([]byte, error) {
	rrb, _ := s.rr.MarshalBinary()
	rtcb, _ := s.rtc.MarshalBinary()
	modes := make([]int, len(s.modes))
	for i, m := range s.modes {
		modes[i] = int(m)
	}
	e := encoder{}
	e.bytes(1, rrb)
	e.bytes(2, rtcb)
	e.ints(3, modes)
	return e.b, nil
}

func (s *compositeState) UnmarshalBinary(b []byte) error {
	*s = compositeState{rr: newRRState(), rtc: &rtcState{}}
	return decodeFields(b, func(num protowire.Number, _ uint64, bs []byte) error {
		switch num {
		case 1:
			return s.rr.UnmarshalBinary(bs)
		case 2:
			return s.rtc.UnmarshalBinary(bs)
		case 3:
			modes, err := decodeInts(bs)
			if err != nil {
				return err
			}
			for _, m := range modes {
				s.modes = append(s.modes, mode(m))
			}
		}
		return nil
	})
}

func (s *compositeState) mode() mode {
	if len(s.modes) == 0 {
		return modeRoundRobin
	}
	return s.modes[len(s.modes)-1]
}

func cs(s State) *compositeState {
	return s.(*compositeState)
}

func (Composite) Name() string { return CompositeName }

func (Composite) NewState() State {
	return &compositeState{rr: newRRState(), rtc: &rtcState{}}
}

func (Composite) Start(s State, pid int) {
	st := cs(s)
	st.rr.start(pid)
	st.rtc.start(pid)
}

func (Composite) Finish(s State, pid int) {
	st := cs(s)
	st.rr.finish(CompositeName, pid)
	st.rtc.finish(CompositeName, pid)
}

func (Composite) Next(s State) (int, bool) {
	st := cs(s)
	if st.mode() == modeRunToCompletion {
		return st.rtc.next()
	}
	return st.rr.next()
}

func (Composite) Delay(s State) {
	st := cs(s)
	if st.mode() == modeRunToCompletion {
		st.rtc.delay()
		return
	}
	st.rr.delay()
}

func (Composite) MaxDelay(s State) int {
	st := cs(s)
	if st.mode() == modeRunToCompletion {
		return st.rtc.maxDelay()
	}
	return st.rr.maxDelay()
}

func (Composite) OnBlocked(s State, pid int) {
	st := cs(s)
	st.rr.onBlocked(pid)
	st.rtc.onBlocked(pid)
}

func (Composite) OnEnabled(s State, pid int) {
	st := cs(s)
	st.rr.onEnabled(CompositeName, pid)
	st.rtc.onEnabled(CompositeName, pid)
}

func (Composite) IsSealed(State) bool { return false }

func (Composite) Invoke(s State, params ...any) {
	st := cs(s)
	tag, args := invokeTag(CompositeName, params)
	switch tag {
	case "push":
		st.modes = append(st.modes, parseMode(CompositeName, tag, stringArg(CompositeName, tag, args, 0)))
	case "pop":
		if len(st.modes) == 0 {
			violation(CompositeName, "Invoke", "pop without a matching push")
		}
		st.modes = st.modes[:len(st.modes)-1]
	default:
		violation(CompositeName, "Invoke", "unrecognized operation %q", tag)
	}
}

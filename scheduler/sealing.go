package scheduler

import (
	"math/rand/v2"

	"google.golang.org/protobuf/encoding/protowire"
)

const SealingName = "sealing"

func init() {
	Register(SealingName, func(cfg Config) Policy { return Sealing{Seed: cfg.Seed} })
	RegisterState("sealingState", 1, func() State { return &sealingState{rr: newRRState(), rtc: &rtcState{}} })
}

// A uniformly random policy that models can temporarily restrict.
//
// Outside a seal, Delay picks a random process among those not yet tried from the current state.
// Invoke("seal", "rtc") or Invoke("seal", "roundrobin") restricts scheduling to run-to-completion or
// round-robin order until the matching Invoke("unseal"). Seals of the same kind nest.
// While sealed there is no exploration budget: MaxDelay is 0 and Delay is a contract violation.
type Sealing struct {
	Seed uint64
}

type sealingState struct {
	enabled procSet
	// -1 when no process has been selected
	current int
	// processes not yet tried from the current state. Only valid while a state is being delayed.
	remaining []int
	rng       rand.PCG

	rr  *rrState
	rtc *rtcState

	sealed mode
	depth  int
	delays int
}

// The working set of remaining candidates belongs to the delay round of one node and is never cloned
func (s *sealingState) clone() *sealingState {
	return &sealingState{
		enabled: s.enabled.clone(),
		current: s.current,
		rng:     s.rng,
		rr:      s.rr.Clone().(*rrState),
		rtc:     s.rtc.Clone().(*rtcState),
		sealed:  s.sealed,
		depth:   s.depth,
		delays:  s.delays,
	}
}

func (s *sealingState) Clone() State {
	return s.clone()
}

func (s *sealingState) CloneForFrontier() State {
	return s.clone()
}

func (s *sealingState) MarshalBinary() ([]byte, error) {
	rng, err := s.rng.MarshalBinary()
	if err != nil {
		return nil, err
	}
	rrb, _ := s.rr.MarshalBinary()
	rtcb, _ := s.rtc.MarshalBinary()
	e := encoder{}
	e.ints(1, s.enabled)
	e.int(2, s.current)
	e.bytes(3, rng)
	e.bytes(4, rrb)
	e.bytes(5, rtcb)
	e.int(6, int(s.sealed))
	e.int(7, s.depth)
	e.int(8, s.delays)
	return e.b, nil
}

func (s *sealingState) UnmarshalBinary(b []byte) error {
	*s = sealingState{current: -1, rr: newRRState(), rtc: &rtcState{}}
	return decodeFields(b, func(num protowire.Number, v uint64, bs []byte) (err error) {
		switch num {
		case 1:
			s.enabled, err = decodeInts(bs)
		case 2:
			s.current = decodeInt(v)
		case 3:
			err = s.rng.UnmarshalBinary(bs)
		case 4:
			err = s.rr.UnmarshalBinary(bs)
		case 5:
			err = s.rtc.UnmarshalBinary(bs)
		case 6:
			s.sealed = mode(decodeInt(v))
		case 7:
			s.depth = decodeInt(v)
		case 8:
			s.delays = decodeInt(v)
		}
		return err
	})
}

func (s *sealingState) next() (int, bool) {
	if s.enabled.contains(s.current) {
		return s.current, true
	}
	if len(s.enabled) == 0 {
		return 0, false
	}
	return s.enabled[0], true
}

func ss(s State) *sealingState {
	return s.(*sealingState)
}

func (Sealing) Name() string { return SealingName }

func (p Sealing) NewState() State {
	return &sealingState{
		current: -1,
		rng:     *rand.NewPCG(p.Seed, p.Seed^0x5851f42d4c957f2d),
		rr:      newRRState(),
		rtc:     &rtcState{},
	}
}

func (Sealing) Start(s State, pid int) {
	st := ss(s)
	st.enabled = st.enabled.add(pid)
	st.rr.start(pid)
	st.rtc.start(pid)
	st.remaining = nil
}

func (Sealing) Finish(s State, pid int) {
	st := ss(s)
	st.rr.finish(SealingName, pid)
	st.rtc.finish(SealingName, pid)
	st.enabled = st.enabled.remove(pid)
	if st.current == pid {
		if next, ok := st.enabled.after(pid); ok {
			st.current = next
		} else {
			st.current = -1
		}
	}
	st.remaining = nil
}

func (Sealing) Next(s State) (int, bool) {
	st := ss(s)
	if st.depth > 0 {
		if st.sealed == modeRunToCompletion {
			return st.rtc.next()
		}
		return st.rr.next()
	}
	return st.next()
}

func (Sealing) Delay(s State) {
	st := ss(s)
	if st.depth > 0 {
		violation(SealingName, "Delay", "delay while sealed")
	}
	n, ok := st.next()
	if !ok {
		return
	}
	if st.remaining == nil {
		st.remaining = []int{}
		for _, pid := range st.enabled {
			if pid != n {
				st.remaining = append(st.remaining, pid)
			}
		}
	}
	st.remaining, _ = removeOrdered(st.remaining, n)
	if len(st.remaining) == 0 {
		for _, pid := range st.enabled {
			if pid != n {
				st.remaining = append(st.remaining, pid)
			}
		}
		if len(st.remaining) == 0 {
			return
		}
	}
	i := rand.New(&st.rng).IntN(len(st.remaining))
	st.current = st.remaining[i]
	st.remaining = append(st.remaining[:i], st.remaining[i+1:]...)
	st.delays++
}

func (Sealing) MaxDelay(s State) int {
	st := ss(s)
	if st.depth > 0 {
		return 0
	}
	return maxOf(len(st.enabled)-1, 0)
}

func (Sealing) OnBlocked(s State, pid int) {
	st := ss(s)
	st.enabled = st.enabled.remove(pid)
	st.rr.onBlocked(pid)
	st.rtc.onBlocked(pid)
	st.remaining = nil
}

func (Sealing) OnEnabled(s State, pid int) {
	st := ss(s)
	st.rr.onEnabled(SealingName, pid)
	st.rtc.onEnabled(SealingName, pid)
	st.enabled = st.enabled.add(pid)
	st.remaining = nil
}

func (Sealing) IsSealed(s State) bool {
	return ss(s).depth > 0
}

func (Sealing) Invoke(s State, params ...any) {
	st := ss(s)
	tag, args := invokeTag(SealingName, params)
	switch tag {
	case "seal":
		m := parseMode(SealingName, tag, stringArg(SealingName, tag, args, 0))
		if st.depth > 0 && st.sealed != m {
			violation(SealingName, "Invoke", "seal: already sealed in a different mode")
		}
		st.sealed = m
		st.depth++
		// the sealed region starts from the process that was running when the seal was taken
		if n, ok := st.next(); ok && st.depth == 1 {
			if m == modeRoundRobin {
				st.rr.current = n
			} else {
				st.rtc.push(n)
			}
		}
	case "unseal":
		if st.depth == 0 {
			violation(SealingName, "Invoke", "unseal without a matching seal")
		}
		st.depth--
	default:
		violation(SealingName, "Invoke", "unrecognized operation %q", tag)
	}
}

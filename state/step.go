package state

import (
	"fmt"
	"strings"
)

const choiceBit = 1 << 31

// An edge label describing how a state was reached from its predecessor.
//
// The kind of the step and its index are packed into one word: the high bit is set for choice steps,
// the remaining bits hold the process id or the choice option.
type Step uint32

func Execute(pid int) Step {
	return Step(uint32(pid) &^ choiceBit)
}

func Choose(option int) Step {
	return Step(uint32(option) | choiceBit)
}

func (s Step) IsChoice() bool {
	return s&choiceBit != 0
}

func (s Step) Index() int {
	return int(s &^ choiceBit)
}

func (s Step) String() string {
	if s.IsChoice() {
		return fmt.Sprintf("choose(%d)", s.Index())
	}
	return fmt.Sprintf("execute(%d)", s.Index())
}

// Apply the step to the snapshot
func (s Step) Apply(snap Snapshot, hooks SchedulerHooks) error {
	if s.IsChoice() {
		return snap.RunChoice(s.Index(), hooks)
	}
	return snap.RunProcess(s.Index(), hooks)
}

// A sequence of steps from the initial state
type Trace []Step

func (t Trace) String() string {
	out := strings.Builder{}
	for i, s := range t {
		if i > 0 {
			out.WriteString(" ")
		}
		out.WriteString(s.String())
	}
	return out.String()
}

// Returns a copy of the trace
func (t Trace) Clone() Trace {
	out := make(Trace, len(t))
	copy(out, t)
	return out
}

// One line per step. Repeated consecutive steps are folded into a single line when compact is true.
func (t Trace) Lines(compact bool) []string {
	lines := []string{}
	for i := 0; i < len(t); {
		j := i + 1
		if compact {
			for j < len(t) && t[j] == t[i] {
				j++
			}
		}
		if n := j - i; n > 1 {
			lines = append(lines, fmt.Sprintf("%v x%d", t[i], n))
		} else {
			lines = append(lines, t[i].String())
		}
		i = j
	}
	return lines
}

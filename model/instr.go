package model

import (
	"errors"
	"fmt"

	"zexplore/state"
)

var (
	ErrAssertion = errors.New("model: assertion failed")
	ErrDeadlock  = errors.New("model: processes blocked forever")
)

func next(m *Machine, pid int) int {
	return m.PC(pid) + 1
}

// Run the function and continue with the next instruction
func Do(name string, f func(m *Machine, pid int)) Instr {
	return Instr{
		Name: name,
		Exec: func(m *Machine, pid int, _ state.SchedulerHooks) (int, error) {
			f(m, pid)
			return next(m, pid), nil
		},
	}
}

func Inc(global int) Instr {
	return Do(fmt.Sprintf("inc g%d", global), func(m *Machine, _ int) {
		m.SetGlobal(global, m.Global(global)+1)
	})
}

func Set(global int, v int) Instr {
	return Do(fmt.Sprintf("g%d = %d", global, v), func(m *Machine, _ int) {
		m.SetGlobal(global, v)
	})
}

// Copy a global into a local of the process
func Load(local int, global int) Instr {
	return Do(fmt.Sprintf("l%d = g%d", local, global), func(m *Machine, pid int) {
		m.SetLocal(pid, local, m.Global(global))
	})
}

// Store a local plus delta into a global
func Store(global int, local int, delta int) Instr {
	return Do(fmt.Sprintf("g%d = l%d + %d", global, local, delta), func(m *Machine, pid int) {
		m.SetGlobal(global, m.Local(pid, local)+delta)
	})
}

// Block until the global is 0, then take it. The global holds the owner's pid plus one.
func Lock(global int) Instr {
	return Instr{
		Name: fmt.Sprintf("lock g%d", global),
		Guard: func(m *Machine, _ int) bool {
			return m.Global(global) == 0
		},
		Exec: func(m *Machine, pid int, _ state.SchedulerHooks) (int, error) {
			m.SetGlobal(global, pid+1)
			return next(m, pid), nil
		},
	}
}

func Unlock(global int) Instr {
	return Set(global, 0)
}

// Block until the condition holds
func Await(cond func(m *Machine) bool) Instr {
	return Instr{
		Name: "await",
		Guard: func(m *Machine, _ int) bool {
			return cond(m)
		},
		Exec: func(m *Machine, pid int, _ state.SchedulerHooks) (int, error) {
			return next(m, pid), nil
		},
	}
}

// Make a nondeterministic choice among the options. The chosen option is stored in the global.
func Choose(options int, global int) Instr {
	return Instr{
		Name: fmt.Sprintf("g%d = choose(%d)", global, options),
		Exec: func(m *Machine, pid int, _ state.SchedulerHooks) (int, error) {
			m.d.choice = pendingChoice{options: options, global: global}
			return next(m, pid), nil
		},
	}
}

func Assert(cond func(m *Machine) bool, msg string) Instr {
	return Instr{
		Name: "assert " + msg,
		Exec: func(m *Machine, pid int, _ state.SchedulerHooks) (int, error) {
			if !cond(m) {
				return next(m, pid), fmt.Errorf("%w: %v", ErrAssertion, msg)
			}
			return next(m, pid), nil
		},
	}
}

func Assume(cond func(m *Machine) bool) Instr {
	return Instr{
		Name: "assume",
		Exec: func(m *Machine, pid int, _ state.SchedulerHooks) (int, error) {
			if !cond(m) {
				return next(m, pid), state.ErrAssumeFailed
			}
			return next(m, pid), nil
		},
	}
}

func Goto(pc int) Instr {
	return Instr{
		Name: fmt.Sprintf("goto %d", pc),
		Exec: func(_ *Machine, _ int, _ state.SchedulerHooks) (int, error) {
			return pc, nil
		},
	}
}

// Pass the parameters to the scheduler, if one is in use
func Invoke(params ...any) Instr {
	return Instr{
		Name: fmt.Sprintf("invoke %v", params),
		Exec: func(m *Machine, pid int, hooks state.SchedulerHooks) (int, error) {
			if hooks != nil {
				hooks.Invoke(params...)
			}
			return next(m, pid), nil
		},
	}
}

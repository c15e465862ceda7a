package model

import (
	"errors"
	"fmt"
	"sort"
)

var ErrUnknownModel = errors.New("model: unknown model")

type Params struct {
	// Number of worker processes of the model. Models that need a fixed number ignore it.
	Processes int
}

var models = map[string]func(Params) *Program{
	"counter":  Counter,
	"race":     Race,
	"deadlock": Deadlock,
	"choice":   ChoiceAssert,
	"spin":     Spin,
	"mutex":    Mutex,
}

// Create a machine for the reference model with the name
func Lookup(name string, p Params) (*Machine, error) {
	f, ok := models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	if p.Processes < 1 {
		p.Processes = 2
	}
	return New(f(p)), nil
}

// The sorted names of the reference models
func Names() []string {
	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Each process increments a shared counter atomically. A monitor process waits for all of them
// and asserts the final value, which always holds.
func Counter(p Params) *Program {
	const counter, finished = 0, 1
	n := p.Processes
	prog := &Program{Name: "counter", Globals: 2}
	for i := 0; i < n; i++ {
		prog.Processes = append(prog.Processes, []Instr{Inc(counter), Inc(finished)})
	}
	prog.Processes = append(prog.Processes, []Instr{
		Await(func(m *Machine) bool { return m.Global(finished) == n }),
		Assert(func(m *Machine) bool { return m.Global(counter) == n }, "counter equals the number of processes"),
	})
	return prog
}

// Each process increments a shared counter with a separate load and store.
// The final assertion fails when two loads interleave.
func Race(p Params) *Program {
	const counter, finished = 0, 1
	const tmp = 0
	n := p.Processes
	prog := &Program{Name: "race", Globals: 2, Locals: 1}
	for i := 0; i < n; i++ {
		prog.Processes = append(prog.Processes, []Instr{Load(tmp, counter), Store(counter, tmp, 1), Inc(finished)})
	}
	prog.Processes = append(prog.Processes, []Instr{
		Await(func(m *Machine) bool { return m.Global(finished) == n }),
		Assert(func(m *Machine) bool { return m.Global(counter) == n }, "no lost update"),
	})
	return prog
}

// Two processes take two locks in opposite order
func Deadlock(_ Params) *Program {
	const a, b = 0, 1
	return &Program{
		Name:    "deadlock",
		Globals: 2,
		Processes: [][]Instr{
			{Lock(a), Lock(b), Unlock(b), Unlock(a)},
			{Lock(b), Lock(a), Unlock(a), Unlock(b)},
		},
	}
}

// One process chooses among three options and fails on the last.
// A second process assumes the chosen option is not 0, which also fails if it runs before the choice is made.
func ChoiceAssert(_ Params) *Program {
	const x = 0
	return &Program{
		Name:    "choice",
		Globals: 1,
		Processes: [][]Instr{
			{
				Choose(3, x),
				Assert(func(m *Machine) bool { return m.Global(x) != 2 }, "x is not 2"),
			},
			{
				Assume(func(m *Machine) bool { return m.Global(x) != 0 }),
			},
		},
	}
}

// A process that toggles a flag forever. States where the flag is set are accepting,
// so every run contains an accepting cycle.
func Spin(_ Params) *Program {
	const flag = 0
	return &Program{
		Name:    "spin",
		Globals: 1,
		Processes: [][]Instr{
			{
				Set(flag, 1),
				Set(flag, 0),
				Goto(0),
			},
		},
		Accepting: func(m *Machine) bool { return m.Global(flag) == 1 },
	}
}

// Processes guard a critical section with a flag that is tested and set in two steps,
// so two of them can enter together. Local 0 is 1 while the process is inside.
func Mutex(p Params) *Program {
	const flag, inside = 0, 1
	const in = 0
	prog := &Program{Name: "mutex", Globals: 2, Locals: 1}
	for i := 0; i < p.Processes; i++ {
		prog.Processes = append(prog.Processes, []Instr{
			Await(func(m *Machine) bool { return m.Global(flag) == 0 }),
			Set(flag, 1),
			Do("enter", func(m *Machine, pid int) {
				m.SetLocal(pid, in, 1)
				m.SetGlobal(inside, m.Global(inside)+1)
			}),
			Do("leave", func(m *Machine, pid int) {
				m.SetLocal(pid, in, 0)
				m.SetGlobal(inside, m.Global(inside)-1)
			}),
			Set(flag, 0),
		})
	}
	prog.Properties = []Property{
		{
			Name:  "at most one process in the critical section",
			Holds: func(v View) bool { return v.Global(inside) <= 1 },
		},
		{
			Name: "processes inside hold the flag",
			Holds: func(v View) bool {
				return ForAllProcesses(func(m *Machine, pid int) bool {
					return m.Local(pid, in) == 0 || m.Global(flag) == 1
				}, v, true)
			},
		},
		{
			Name:  "the critical section is empty at the end",
			Holds: Eventually(func(v View) bool { return v.Global(inside) == 0 }),
		},
	}
	return prog
}

// Package model provides small executable programs that implement state.Snapshot.
//
// A Program is a fixed set of processes, each a list of instructions over shared global variables and
// per process locals. A Machine is the mutable state of a program. The reference programs in this package
// are used by the command line tool and by the tests of the exploration engine.
package model

import (
	"errors"
	"fmt"

	"golang.org/x/exp/slices"

	"zexplore/fingerprint"
	"zexplore/state"
)

type Program struct {
	Name      string
	Processes [][]Instr
	Globals   int
	Locals    int
	// Accepting states of the liveness property. Nil if the program has none.
	Accepting func(m *Machine) bool
	// Checked after every step. A broken property ends the run with an error.
	Properties []Property
}

// An instruction of a process
type Instr struct {
	Name string
	// Reports whether the instruction can run. Nil means it always can.
	Guard func(m *Machine, pid int) bool
	// Runs the instruction and returns the pc of the next instruction
	Exec func(m *Machine, pid int, hooks state.SchedulerHooks) (int, error)
}

type pendingChoice struct {
	options int
	global  int
}

// The mutable part of a machine. Receipts are copies of it.
type data struct {
	globals []int
	locals  [][]int
	pc      []int
	choice  pendingChoice
	err     error
}

func (d data) clone() data {
	out := data{
		globals: slices.Clone(d.globals),
		locals:  make([][]int, len(d.locals)),
		pc:      slices.Clone(d.pc),
		choice:  d.choice,
		err:     d.err,
	}
	for i, l := range d.locals {
		out.locals[i] = slices.Clone(l)
	}
	return out
}

// The state of a running Program
type Machine struct {
	prog   *Program
	worker int
	d      data
}

// Create a machine at the start of the program
func New(prog *Program) *Machine {
	m := &Machine{
		prog: prog,
		d: data{
			globals: make([]int, prog.Globals),
			locals:  make([][]int, len(prog.Processes)),
			pc:      make([]int, len(prog.Processes)),
		},
	}
	for i := range m.d.locals {
		m.d.locals[i] = make([]int, prog.Locals)
	}
	return m
}

func (m *Machine) Program() *Program {
	return m.prog
}

func (m *Machine) Worker() int {
	return m.worker
}

func (m *Machine) Global(i int) int {
	return m.d.globals[i]
}

func (m *Machine) SetGlobal(i int, v int) {
	m.d.globals[i] = v
}

func (m *Machine) Local(pid int, i int) int {
	return m.d.locals[pid][i]
}

func (m *Machine) SetLocal(pid int, i int, v int) {
	m.d.locals[pid][i] = v
}

func (m *Machine) PC(pid int) int {
	return m.d.pc[pid]
}

func (m *Machine) Fingerprint() fingerprint.Fingerprint {
	h := fingerprint.New()
	h.WriteString(m.prog.Name)
	for _, g := range m.d.globals {
		h.WriteInt(g)
	}
	for pid := range m.d.pc {
		h.WriteInt(m.d.pc[pid])
		for _, l := range m.d.locals[pid] {
			h.WriteInt(l)
		}
	}
	h.WriteInt(m.d.choice.options)
	h.WriteInt(m.d.choice.global)
	h.WriteBool(m.d.err != nil)
	return h.Sum()
}

func (m *Machine) Checkpoint() state.Receipt {
	return m.d.clone()
}

func (m *Machine) Rollback(r state.Receipt) {
	m.d = r.(data).clone()
}

func (m *Machine) Clone(worker int) state.Snapshot {
	return &Machine{
		prog:   m.prog,
		worker: worker,
		d:      m.d.clone(),
	}
}

func (m *Machine) Kind() state.Kind {
	if m.d.err != nil {
		return state.KindTerminal
	}
	if m.d.choice.options > 0 {
		return state.KindChoice
	}
	for pid := range m.d.pc {
		if m.ready(pid) {
			return state.KindExecution
		}
	}
	return state.KindTerminal
}

func (m *Machine) NumProcesses() int {
	return len(m.d.pc)
}

// Reports whether the process ran past its last instruction
func (m *Machine) Finished(pid int) bool {
	return m.done(pid)
}

func (m *Machine) done(pid int) bool {
	return m.d.pc[pid] >= len(m.prog.Processes[pid])
}

// The process could run if no choice was pending
func (m *Machine) ready(pid int) bool {
	if m.done(pid) {
		return false
	}
	instr := m.prog.Processes[pid][m.d.pc[pid]]
	return instr.Guard == nil || instr.Guard(m, pid)
}

func (m *Machine) Runnable(pid int) bool {
	if pid < 0 || pid >= len(m.d.pc) || m.d.err != nil || m.d.choice.options > 0 {
		return false
	}
	return m.ready(pid)
}

func (m *Machine) RunnableProcesses() []int {
	out := []int{}
	for pid := range m.d.pc {
		if m.Runnable(pid) {
			out = append(out, pid)
		}
	}
	return out
}

func (m *Machine) NumPendingChoices() int {
	return m.d.choice.options
}

// Run the next instruction of the process and inform the scheduler about the processes that completed,
// blocked or were enabled by it.
func (m *Machine) RunProcess(pid int, hooks state.SchedulerHooks) error {
	if !m.Runnable(pid) {
		return fmt.Errorf("%w: process %d", state.ErrNotRunnable, pid)
	}
	before := make([]bool, len(m.d.pc))
	for i := range before {
		before[i] = m.ready(i)
	}
	instr := m.prog.Processes[pid][m.d.pc[pid]]
	next, err := instr.Exec(m, pid, hooks)
	m.d.pc[pid] = next
	if err == nil {
		err = m.checkProperties()
	}
	if err != nil {
		m.d.err = err
		return err
	}
	if hooks == nil {
		return nil
	}
	for i := range before {
		after := m.ready(i)
		switch {
		case i == pid && m.done(i):
			hooks.Finish(i)
		case before[i] && !after && !m.done(i):
			hooks.OnBlocked(i)
		case !before[i] && after:
			hooks.OnEnabled(i)
		}
	}
	return nil
}

func (m *Machine) RunChoice(option int, hooks state.SchedulerHooks) error {
	if m.d.err != nil || option < 0 || option >= m.d.choice.options {
		return fmt.Errorf("%w: choice %d", state.ErrNotRunnable, option)
	}
	m.d.globals[m.d.choice.global] = option
	m.d.choice = pendingChoice{}
	if err := m.checkProperties(); err != nil {
		m.d.err = err
		return err
	}
	return nil
}

func (m *Machine) Outcome() state.Outcome {
	switch m.Kind() {
	case state.KindExecution, state.KindChoice:
		return state.OutcomeNone
	}
	if m.d.err != nil {
		if errors.Is(m.d.err, state.ErrAssumeFailed) {
			return state.OutcomeFailedAssumption
		}
		return state.OutcomeError
	}
	for pid := range m.d.pc {
		if !m.done(pid) {
			return state.OutcomeInvalidEnd
		}
	}
	return state.OutcomeValidEnd
}

func (m *Machine) Err() error {
	if m.d.err == nil && m.Outcome() == state.OutcomeInvalidEnd {
		return ErrDeadlock
	}
	return m.d.err
}

func (m *Machine) IsAccepting() bool {
	return m.prog.Accepting != nil && m.prog.Accepting(m)
}

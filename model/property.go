package model

import (
	"errors"
	"fmt"

	"zexplore/state"
)

var ErrPropertyViolated = errors.New("model: property violated")

// The state a predicate is evaluated on
type View struct {
	*Machine
	// No process can run any more
	IsTerminal bool
}

// A function evaluated on the states of a program.
// It returns true if the predicate holds for the state and false otherwise.
type Predicate func(v View) bool

// A named predicate that must hold in every state reached by a step
type Property struct {
	Name  string
	Holds Predicate
}

// Return a predicate that evaluates pred on terminal states only. It holds in every other state.
func Eventually(pred Predicate) Predicate {
	return func(v View) bool {
		if !v.IsTerminal {
			return true
		}
		return pred(v)
	}
}

// Check that the condition holds for every process of the machine.
// If activeOnly is true, finished processes are skipped.
func ForAllProcesses(cond func(m *Machine, pid int) bool, v View, activeOnly bool) bool {
	for pid := 0; pid < v.NumProcesses(); pid++ {
		if activeOnly && v.Finished(pid) {
			continue
		}
		if !cond(v.Machine, pid) {
			return false
		}
	}
	return true
}

// Returns an error for the first property of the program that is broken in the current state
func (m *Machine) checkProperties() error {
	if len(m.prog.Properties) == 0 {
		return nil
	}
	v := View{Machine: m, IsTerminal: m.Kind() == state.KindTerminal}
	for _, p := range m.prog.Properties {
		if !p.Holds(v) {
			return fmt.Errorf("%w: %v", ErrPropertyViolated, p.Name)
		}
	}
	return nil
}

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zexplore/state"
)

// A machine with a process of one instruction per value. Local 0 of each process holds its value.
func locals(values ...int) *Machine {
	prog := &Program{Name: "locals", Globals: 1, Locals: 1}
	for range values {
		prog.Processes = append(prog.Processes, []Instr{Inc(0)})
	}
	m := New(prog)
	for pid, v := range values {
		m.SetLocal(pid, 0, v)
	}
	return m
}

func TestEventually(t *testing.T) {
	allSet := func(v View) bool {
		return ForAllProcesses(func(m *Machine, pid int) bool { return m.Local(pid, 0) == 1 }, v, false)
	}
	tests := []struct {
		terminal bool
		values   []int
		expected bool
	}{
		{false, []int{}, true},
		{true, []int{1, 1}, true},
		{true, []int{1, 0}, false},
		{false, []int{1, 0}, true},
	}
	for i, test := range tests {
		out := Eventually(allSet)(View{Machine: locals(test.values...), IsTerminal: test.terminal})
		assert.Equal(t, test.expected, out, "test %d", i)
	}
}

func TestForAllProcesses(t *testing.T) {
	set := func(m *Machine, pid int) bool { return m.Local(pid, 0) == 1 }

	m := locals(1, 1, 1)
	assert.True(t, ForAllProcesses(set, View{Machine: m}, false))

	m = locals(0, 1, 1)
	assert.False(t, ForAllProcesses(set, View{Machine: m}, false))
	assert.False(t, ForAllProcesses(set, View{Machine: m}, true))

	require.NoError(t, m.RunProcess(0, nil))
	require.True(t, m.Finished(0))
	assert.False(t, ForAllProcesses(set, View{Machine: m}, false))
	assert.True(t, ForAllProcesses(set, View{Machine: m}, true), "finished processes are skipped")
}

func TestMutexBroken(t *testing.T) {
	m, err := Lookup("mutex", Params{Processes: 2})
	require.NoError(t, err)
	// Both processes pass the test before either sets the flag
	run(t, m, nil, state.Execute(0), state.Execute(1), state.Execute(0), state.Execute(1), state.Execute(0))
	err = m.RunProcess(1, nil)
	assert.ErrorIs(t, err, ErrPropertyViolated)
	assert.ErrorContains(t, err, "at most one process")
	assert.Equal(t, state.KindTerminal, m.Kind())
	assert.Equal(t, state.OutcomeError, m.Outcome())
}

func TestMutexSequentialIsValid(t *testing.T) {
	m, err := Lookup("mutex", Params{Processes: 2})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, m.RunProcess(0, nil))
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, m.RunProcess(1, nil))
	}
	assert.Equal(t, state.OutcomeValidEnd, m.Outcome())
}

func TestEventuallyIsCheckedAtTheEnd(t *testing.T) {
	prog := &Program{
		Name:       "leak",
		Globals:    1,
		Processes:  [][]Instr{{Inc(0), Inc(0)}},
		Properties: []Property{{Name: "g0 is 0 at the end", Holds: Eventually(func(v View) bool { return v.Global(0) == 0 })}},
	}
	m := New(prog)
	require.NoError(t, m.RunProcess(0, nil), "the property holds before the end")
	err := m.RunProcess(0, nil)
	assert.ErrorIs(t, err, ErrPropertyViolated)
	assert.ErrorIs(t, m.Err(), ErrPropertyViolated)
}

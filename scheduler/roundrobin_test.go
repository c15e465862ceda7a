package scheduler

import "testing"

func TestRoundRobinScenario(t *testing.T) {
	p := RoundRobin{}
	s := p.NewState()
	for _, pid := range []int{1, 2, 3} {
		p.Start(s, pid)
		p.OnEnabled(s, pid)
	}

	steps := []struct {
		action   func()
		expected int
	}{
		{func() {}, 1},
		{func() { p.OnBlocked(s, 1) }, 2},
		{func() { p.Delay(s) }, 3},
		{func() { p.Delay(s) }, 2},
	}
	for i, step := range steps {
		step.action()
		pid, ok := p.Next(s)
		if !ok || pid != step.expected {
			t.Errorf("Step %v: Expected process %v. Got %v (%v)", i, step.expected, pid, ok)
		}
	}
}

func TestRoundRobinFinishMovesCurrent(t *testing.T) {
	p := RoundRobin{}
	s := p.NewState()
	for _, pid := range []int{1, 2, 3} {
		p.Start(s, pid)
	}
	p.Delay(s)
	p.Delay(s)
	if pid, _ := p.Next(s); pid != 3 {
		t.Fatalf("Expected process 3. Got %v", pid)
	}
	p.Finish(s, 3)
	if pid, _ := p.Next(s); pid != 1 {
		t.Errorf("Expected the current process to wrap to 1. Got %v", pid)
	}
}

func TestRunToCompletionOrder(t *testing.T) {
	p := RunToCompletion{}
	s := p.NewState()
	p.Start(s, 0)
	p.Start(s, 1)
	p.Start(s, 2)
	if pid, _ := p.Next(s); pid != 2 {
		t.Fatalf("Expected the last created process 2. Got %v", pid)
	}
	p.Delay(s)
	if pid, _ := p.Next(s); pid != 1 {
		t.Errorf("Expected process 1 after moving 2 to the bottom. Got %v", pid)
	}
	p.Finish(s, 0)
	st := s.(*rtcState)
	expected := []int{2, 1}
	for i, pid := range expected {
		if st.stack[i] != pid {
			t.Fatalf("Expected finish to preserve the relative order. Got %v. Expected %v", st.stack, expected)
		}
	}
}

func TestPrioritySetPriority(t *testing.T) {
	p := Priority{}
	s := p.NewState()
	p.Start(s, 0)
	p.Start(s, 1)
	p.Invoke(s, "setpriority", 1, -5)
	if pid, _ := p.Next(s); pid != 1 {
		t.Errorf("Expected process 1 after raising its priority. Got %v", pid)
	}
	if ce := catchContract(func() { p.Invoke(s, "setpriority", 9, 0) }); ce == nil {
		t.Errorf("Expected a contract violation for an unknown process")
	}
}

func TestCompositeModes(t *testing.T) {
	p := Composite{}
	s := p.NewState()
	p.Start(s, 0)
	p.Start(s, 1)
	if pid, _ := p.Next(s); pid != 0 {
		t.Fatalf("Expected round-robin to pick 0. Got %v", pid)
	}
	p.Invoke(s, "push", "rtc")
	if pid, _ := p.Next(s); pid != 1 {
		t.Errorf("Expected run-to-completion to pick the last created process 1. Got %v", pid)
	}
	p.Invoke(s, "push", "roundrobin")
	if pid, _ := p.Next(s); pid != 0 {
		t.Errorf("Expected the nested round-robin region to pick 0. Got %v", pid)
	}
	p.Invoke(s, "pop")
	p.Invoke(s, "pop")
	if ce := catchContract(func() { p.Invoke(s, "pop") }); ce == nil {
		t.Errorf("Expected a contract violation for pop without push")
	}
}

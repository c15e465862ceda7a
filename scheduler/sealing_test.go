package scheduler

import "testing"

func newSealed(t *testing.T) (Sealing, State) {
	t.Helper()
	p := Sealing{Seed: 3}
	s := p.NewState()
	p.Start(s, 0)
	p.Start(s, 1)
	p.Start(s, 2)
	return p, s
}

func TestSealNesting(t *testing.T) {
	p, s := newSealed(t)
	p.Invoke(s, "seal", "rtc")
	p.Invoke(s, "seal", "rtc")
	if !p.IsSealed(s) {
		t.Fatalf("Expected the scheduler to be sealed")
	}
	if ce := catchContract(func() { p.Invoke(s, "seal", "roundrobin") }); ce == nil {
		t.Errorf("Expected sealing with round-robin under a run-to-completion seal to be rejected")
	}
	p.Invoke(s, "unseal")
	if !p.IsSealed(s) {
		t.Errorf("Expected the scheduler to stay sealed until the outer unseal")
	}
	p.Invoke(s, "unseal")
	if p.IsSealed(s) {
		t.Errorf("Expected the scheduler to be unsealed")
	}
	if ce := catchContract(func() { p.Invoke(s, "unseal") }); ce == nil {
		t.Errorf("Expected a double unseal to be rejected")
	}
}

func TestSealRejectsRTCUnderRR(t *testing.T) {
	p, s := newSealed(t)
	p.Invoke(s, "seal", "roundrobin")
	if ce := catchContract(func() { p.Invoke(s, "seal", "rtc") }); ce == nil {
		t.Errorf("Expected sealing with run-to-completion under a round-robin seal to be rejected")
	}
}

func TestDelayWhileSealed(t *testing.T) {
	p, s := newSealed(t)
	p.Invoke(s, "seal", "rtc")
	if p.MaxDelay(s) != 0 {
		t.Errorf("Expected no exploration budget while sealed. Got %v", p.MaxDelay(s))
	}
	if ce := catchContract(func() { p.Delay(s) }); ce == nil {
		t.Errorf("Expected delay while sealed to be rejected")
	}
}

func TestSealedRunToCompletionKeepsRunningProcess(t *testing.T) {
	p, s := newSealed(t)
	p.Delay(s)
	running, _ := p.Next(s)
	p.Invoke(s, "seal", "rtc")
	if pid, _ := p.Next(s); pid != running {
		t.Errorf("Expected the sealed region to keep running %v. Got %v", running, pid)
	}
	p.Start(s, 3)
	if pid, _ := p.Next(s); pid != 3 {
		t.Errorf("Expected the newly created process to run to completion first. Got %v", pid)
	}
}

func TestClonesDropRemaining(t *testing.T) {
	p, s := newSealed(t)
	p.Delay(s)
	if ss(s).remaining == nil {
		t.Fatalf("Expected a working set of remaining candidates after a delay")
	}
	if ss(s.Clone()).remaining != nil {
		t.Errorf("Expected Clone to drop the remaining candidates")
	}
	if ss(s.CloneForFrontier()).remaining != nil {
		t.Errorf("Expected CloneForFrontier to drop the remaining candidates")
	}
}

package fingerprint

import "testing"

func TestHasherDeterministic(t *testing.T) {
	sum := func() Fingerprint {
		h := New()
		h.WriteInt(3)
		h.WriteString("proc")
		h.WriteBool(true)
		return h.Sum()
	}
	a, b := sum(), sum()
	if a != b {
		t.Fatalf("Expected equal fingerprints for equal input. Got %v and %v", a, b)
	}
	if a.IsZero() {
		t.Errorf("Did not expect a zero fingerprint")
	}
}

func TestHasherStringBoundaries(t *testing.T) {
	h1 := New()
	h1.WriteString("ab")
	h1.WriteString("c")
	h2 := New()
	h2.WriteString("a")
	h2.WriteString("bc")
	if h1.Sum() == h2.Sum() {
		t.Errorf("Shifting characters between strings should change the fingerprint")
	}
}

func TestHasherReset(t *testing.T) {
	h := New()
	h.WriteInt(1)
	first := h.Sum()
	h.Reset()
	h.WriteInt(1)
	if h.Sum() != first {
		t.Errorf("Expected the same fingerprint after reset")
	}
}

func TestBytesRoundTrip(t *testing.T) {
	f := Fingerprint{Hi: 0x0102030405060708, Lo: 0xa0b0c0d0e0f00010}
	got, err := FromBytes(f.Bytes())
	if err != nil {
		t.Fatalf("Did not expect an error. Got %v", err)
	}
	if got != f {
		t.Errorf("Expected %v. Got %v", f, got)
	}
	if _, err := FromBytes([]byte{1, 2}); err == nil {
		t.Errorf("Expected an error for a short input")
	}
}

func TestSample(t *testing.T) {
	for i := uint64(0); i < 100; i++ {
		v := Sample(7, i, 2*i)
		if v < 0 || v >= 1 {
			t.Fatalf("Sample out of range: %v", v)
		}
		if v != Sample(7, i, 2*i) {
			t.Fatalf("Sample is not deterministic")
		}
	}
}

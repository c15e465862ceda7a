package state

import (
	"reflect"
	"testing"
)

func TestStepEncoding(t *testing.T) {
	tests := []struct {
		step     Step
		isChoice bool
		index    int
		repr     string
	}{
		{Execute(0), false, 0, "execute(0)"},
		{Execute(12), false, 12, "execute(12)"},
		{Choose(0), true, 0, "choose(0)"},
		{Choose(3), true, 3, "choose(3)"},
	}
	for i, test := range tests {
		if test.step.IsChoice() != test.isChoice {
			t.Errorf("Test %v: Unexpected IsChoice. Got %v. Expected %v", i, test.step.IsChoice(), test.isChoice)
		}
		if test.step.Index() != test.index {
			t.Errorf("Test %v: Unexpected index. Got %v. Expected %v", i, test.step.Index(), test.index)
		}
		if test.step.String() != test.repr {
			t.Errorf("Test %v: Unexpected string. Got %q. Expected %q", i, test.step.String(), test.repr)
		}
	}
}

func TestTraceLines(t *testing.T) {
	trace := Trace{Execute(0), Execute(0), Execute(0), Choose(1), Execute(0)}
	got := trace.Lines(true)
	expected := []string{"execute(0) x3", "choose(1)", "execute(0)"}
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("Unexpected compact lines. Got %v. Expected %v", got, expected)
	}
	if len(trace.Lines(false)) != len(trace) {
		t.Errorf("Expected one line per step when not compacting")
	}
}

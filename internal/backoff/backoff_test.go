package backoff

import (
	"testing"
	"time"
)

func TestDelay_CappedExponential(t *testing.T) {
	p := Policy{
		Initial:    5000 * time.Millisecond,
		Multiplier: 2.0,
		Max:        60000 * time.Millisecond,
	}

	want := []time.Duration{
		5000 * time.Millisecond,
		10000 * time.Millisecond,
		20000 * time.Millisecond,
		40000 * time.Millisecond,
		60000 * time.Millisecond,
		60000 * time.Millisecond,
		60000 * time.Millisecond,
	}

	for failures, expected := range want {
		got := p.Delay(failures)
		if got != expected {
			t.Errorf("Delay(%d) = %v, want %v", failures, got, expected)
		}
	}
}

func TestDelay_NegativeFailures(t *testing.T) {
	p := Default()
	if got := p.Delay(-3); got != p.Initial {
		t.Errorf("Delay(-3) = %v, want %v", got, p.Initial)
	}
}

func TestDefault(t *testing.T) {
	p := Default()
	if p.Initial != 5*time.Second || p.Multiplier != 2.0 || p.Max != 60*time.Second {
		t.Errorf("unexpected defaults: %+v", p)
	}
}

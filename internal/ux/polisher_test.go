package ux

import (
	"testing"
	"time"
)

type testClock struct {
	t time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time { return c.t }

func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestInterruptionThresholdBySensitivity(t *testing.T) {
	p := NewPolisher(PolisherConfig{}, nil)

	cases := []struct {
		level string
		want  int
	}{
		{SensitivityLow, 5},
		{SensitivityMedium, 3},
		{SensitivityHigh, 2},
	}
	for _, tc := range cases {
		p.SetSensitivity(tc.level)
		if got := p.InterruptionThreshold(); got != tc.want {
			t.Fatalf("InterruptionThreshold(%s) = %d, want %d", tc.level, got, tc.want)
		}
	}

	p.SetSensitivity("bogus")
	if got := p.InterruptionThreshold(); got != 2 {
		t.Fatalf("threshold after bogus level = %d, want unchanged 2", got)
	}
}

func TestAdaptiveCooldownBounds(t *testing.T) {
	p := NewPolisher(PolisherConfig{BaseCooldown: 2 * time.Second, MaxCooldown: 4 * time.Second}, nil)

	got := p.AdaptiveCooldown(CooldownContext{InterruptionCount: 6, TimeSpan: 2000 * time.Millisecond})
	if got <= 2*time.Second {
		t.Fatalf("AdaptiveCooldown(6/2s) = %s, want strictly greater than base 2s", got)
	}
	if got > 4*time.Second {
		t.Fatalf("AdaptiveCooldown(6/2s) = %s, want <= max 4s", got)
	}
}

func TestAdaptiveCooldownMonotonic(t *testing.T) {
	p := NewPolisher(PolisherConfig{}, nil)
	span := 2 * time.Second
	prev := time.Duration(0)
	for count := 1; count <= 20; count++ {
		got := p.AdaptiveCooldown(CooldownContext{InterruptionCount: count, TimeSpan: span})
		if got < prev {
			t.Fatalf("cooldown decreased: count=%d got=%s prev=%s", count, got, prev)
		}
		prev = got
	}
}

func TestAdaptiveCooldownLowRateStaysAtBase(t *testing.T) {
	p := NewPolisher(PolisherConfig{BaseCooldown: 2 * time.Second}, nil)
	got := p.AdaptiveCooldown(CooldownContext{InterruptionCount: 2, TimeSpan: 30 * time.Second})
	if got != 2*time.Second {
		t.Fatalf("AdaptiveCooldown(low rate) = %s, want base 2s", got)
	}
}

func TestRapidInterruptionsWindow(t *testing.T) {
	clock := newTestClock()
	p := NewPolisher(PolisherConfig{RapidWindow: 10 * time.Second}, clock.Now)
	p.SetSensitivity(SensitivityHigh) // threshold 2

	p.RecordInterruption()
	if p.RapidInterruptions() {
		t.Fatalf("RapidInterruptions() = true after one event, want false")
	}
	clock.Advance(time.Second)
	p.RecordInterruption()
	if !p.RapidInterruptions() {
		t.Fatalf("RapidInterruptions() = false after two close events at high sensitivity, want true")
	}

	clock.Advance(time.Minute)
	if p.RapidInterruptions() {
		t.Fatalf("RapidInterruptions() = true after window expiry, want false")
	}
}

func TestDetectFrustrationRequiresTwoSignals(t *testing.T) {
	if DetectFrustration(FrustrationSignals{RapidInterruptions: true}) {
		t.Fatalf("DetectFrustration(one signal) = true, want false")
	}
	if !DetectFrustration(FrustrationSignals{RapidInterruptions: true, NegativeLanguage: true}) {
		t.Fatalf("DetectFrustration(two signals) = false, want true")
	}
}

func TestDetermineHelpTypePriority(t *testing.T) {
	s := FrustrationSignals{RapidInterruptions: true, NegativeLanguage: true}
	if got := DetermineHelpType(s); got != "pacing" {
		t.Fatalf("DetermineHelpType() = %q, want pacing to take priority", got)
	}
	if got := DetermineHelpType(FrustrationSignals{}); got != "general" {
		t.Fatalf("DetermineHelpType(none) = %q, want general", got)
	}
}

func TestContainsNegativeLanguage(t *testing.T) {
	if !ContainsNegativeLanguage("this is wrong and confusing!") {
		t.Fatalf("expected negative language to be detected")
	}
	if ContainsNegativeLanguage("that was a great explanation") {
		t.Fatalf("false positive on positive text")
	}
	if !ContainsNegativeLanguage("хватит уже") {
		t.Fatalf("expected Russian negative keyword to be detected")
	}
}

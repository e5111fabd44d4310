package avatar

import "testing"

func TestInitialState(t *testing.T) {
	m := NewManager(nil)
	cur := m.Current()
	if cur.State != StateIdle || cur.Emotion != EmotionNeutral {
		t.Fatalf("initial state = %+v, want idle/neutral", cur)
	}
	if cur.Speaking {
		t.Fatalf("Speaking = true initially, want false")
	}
}

func TestValidTransition(t *testing.T) {
	m := NewManager(nil)
	got, ok := m.TransitionTo(StateSpeaking, EmotionHappy)
	if !ok {
		t.Fatalf("TransitionTo() ok = false, want true")
	}
	if got.State != StateSpeaking || got.Emotion != EmotionHappy || !got.Speaking {
		t.Fatalf("state after transition = %+v", got)
	}
}

func TestInvalidStateRejectedIdempotently(t *testing.T) {
	m := NewManager(nil)
	m.TransitionTo(StateListening, EmotionCurious)
	before := m.Current()

	if v := m.ValidateState(State("invalid_state"), EmotionNeutral); v != nil {
		t.Fatalf("ValidateState(invalid) = %+v, want nil", v)
	}

	got, ok := m.TransitionTo(State("invalid_state"), EmotionNeutral)
	if ok {
		t.Fatalf("TransitionTo(invalid) ok = true, want false")
	}
	if got != before || m.Current() != before {
		t.Fatalf("state changed by invalid transition: %+v -> %+v", before, m.Current())
	}
}

func TestInvalidEmotionRejected(t *testing.T) {
	m := NewManager(nil)
	if v := m.ValidateState(StateSpeaking, Emotion("ecstatic_rainbow")); v != nil {
		t.Fatalf("ValidateState(unknown emotion) = %+v, want nil", v)
	}
	if _, ok := m.TransitionTo(StateSpeaking, Emotion("ecstatic_rainbow")); ok {
		t.Fatalf("TransitionTo(unknown emotion) ok = true, want false")
	}
}

func TestEmptyEmotionKeepsCurrent(t *testing.T) {
	m := NewManager(nil)
	m.TransitionTo(StateThinking, EmotionCurious)
	got, ok := m.TransitionTo(StateSpeaking, "")
	if !ok {
		t.Fatalf("TransitionTo() ok = false, want true")
	}
	if got.Emotion != EmotionCurious {
		t.Fatalf("Emotion = %q, want carried-over %q", got.Emotion, EmotionCurious)
	}
}

func TestTransitionDurationScalesWithMagnitude(t *testing.T) {
	m := NewManager(nil)

	idleToSpeaking := m.CalculateTransitionDuration(StateSpeaking, EmotionNeutral)

	m.TransitionTo(StateSpeaking, EmotionNeutral)
	speakingNewEmotion := m.CalculateTransitionDuration(StateSpeaking, EmotionHappy)

	if idleToSpeaking <= speakingNewEmotion {
		t.Fatalf("idle->speaking (%s) should exceed speaking emotion change (%s)", idleToSpeaking, speakingNewEmotion)
	}
	if m.CalculateTransitionDuration(State("nope"), EmotionNeutral) != 0 {
		t.Fatalf("duration for invalid target should be 0")
	}
}

func TestHistoryBounded(t *testing.T) {
	m := NewManager(nil)
	states := []State{StateListening, StateThinking, StateSpeaking, StateIdle}
	for i := 0; i < 40; i++ {
		m.TransitionTo(states[i%len(states)], EmotionNeutral)
	}
	h := m.History()
	if len(h) > defaultHistoryLimit {
		t.Fatalf("history length = %d, want <= %d", len(h), defaultHistoryLimit)
	}
	if h[len(h)-1] != m.Current() {
		t.Fatalf("history tail %+v != current %+v", h[len(h)-1], m.Current())
	}
}

func TestStateChangedCallback(t *testing.T) {
	m := NewManager(nil)
	var got []AvatarState
	m.OnStateChanged(func(s AvatarState) { got = append(got, s) })

	m.TransitionTo(StateListening, EmotionNeutral)
	m.TransitionTo(State("bogus"), EmotionNeutral)

	if len(got) != 1 {
		t.Fatalf("callback fired %d times, want 1 (no event for rejected transition)", len(got))
	}
	if got[0].State != StateListening {
		t.Fatalf("callback state = %q, want listening", got[0].State)
	}
}

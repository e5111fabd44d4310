package flow

import (
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"
)

func newTestManager() *Manager {
	m := NewManager(ManagerConfig{
		TextCadence:  time.Hour, // tests drive delivery by hand
		VoiceCadence: time.Hour,
	}, rand.New(rand.NewSource(1)), nil)
	m.SetAckFunc(func(lang string) string { return "ack:" + lang })
	m.SetChoiceTextFunc(func(key, lang string) string { return key + ":" + lang })
	return m
}

// fire simulates the delivery timer going off.
func fire(m *Manager) {
	m.mu.Lock()
	gen := m.gen
	m.mu.Unlock()
	m.deliverNext(gen)
}

func TestStartResponseEmptyText(t *testing.T) {
	m := newTestManager()
	if _, err := m.StartResponse("   ", StartOptions{}); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("StartResponse(blank) error = %v, want ErrEmptyResponse", err)
	}
	if m.InProgress() {
		t.Fatalf("InProgress() = true after rejected start, want false")
	}
}

func TestDeliveryInOrder(t *testing.T) {
	m := newTestManager()

	var mu sync.Mutex
	var got []string
	m.OnSegmentDelivered(func(e SegmentEvent) {
		mu.Lock()
		got = append(got, e.Segment.Text)
		mu.Unlock()
	})

	id, err := m.StartResponse("First sentence. Second sentence! Third sentence?", StartOptions{Language: "en"})
	if err != nil {
		t.Fatalf("StartResponse() error = %v", err)
	}
	if id == "" {
		t.Fatalf("StartResponse() returned empty id")
	}

	fire(m)
	fire(m)
	fire(m)

	mu.Lock()
	defer mu.Unlock()
	want := []string{"First sentence.", "Second sentence!", "Third sentence?"}
	if len(got) != len(want) {
		t.Fatalf("delivered %d segments, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delivery[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if m.InProgress() {
		t.Fatalf("InProgress() = true after final segment, want false")
	}
}

func TestHandleInterruptionPreservesRemaining(t *testing.T) {
	m := newTestManager()
	m.OnSegmentDelivered(func(SegmentEvent) {})

	if _, err := m.StartResponse("First sentence. Second sentence! Third sentence?", StartOptions{Language: "en"}); err != nil {
		t.Fatalf("StartResponse() error = %v", err)
	}
	fire(m) // one of three delivered

	res := m.HandleInterruption("en")
	if !res.Handled {
		t.Fatalf("Handled = false, want true")
	}
	if res.InterruptionResponse != "ack:en" {
		t.Fatalf("InterruptionResponse = %q, want %q", res.InterruptionResponse, "ack:en")
	}
	ps := res.PreservedState
	if ps == nil {
		t.Fatalf("PreservedState = nil")
	}
	if len(ps.Segments) != 2 {
		t.Fatalf("preserved %d segments, want exactly 2", len(ps.Segments))
	}
	if !ps.CanContinue {
		t.Fatalf("CanContinue = false, want true")
	}
	if ps.Segments[0].Text != "Second sentence!" || ps.Segments[1].Text != "Third sentence?" {
		t.Fatalf("preserved segments = %q, %q", ps.Segments[0].Text, ps.Segments[1].Text)
	}
}

func TestInterruptionCancelsPendingDelivery(t *testing.T) {
	m := newTestManager()

	var mu sync.Mutex
	delivered := 0
	m.OnSegmentDelivered(func(SegmentEvent) {
		mu.Lock()
		delivered++
		mu.Unlock()
	})

	if _, err := m.StartResponse("One. Two. Three.", StartOptions{}); err != nil {
		t.Fatalf("StartResponse() error = %v", err)
	}

	m.mu.Lock()
	staleGen := m.gen
	m.mu.Unlock()

	if res := m.HandleInterruption("en"); !res.Handled {
		t.Fatalf("Handled = false, want true")
	}

	// A timer firing after the interruption must be a no-op.
	m.deliverNext(staleGen)

	mu.Lock()
	defer mu.Unlock()
	if delivered != 0 {
		t.Fatalf("delivered = %d after interruption, want 0", delivered)
	}
}

func TestHandleInterruptionWithoutActiveSession(t *testing.T) {
	m := newTestManager()
	if res := m.HandleInterruption("en"); res.Handled {
		t.Fatalf("Handled = true with no session, want false")
	}
}

func TestChoiceOptionsRequireContinuableState(t *testing.T) {
	m := newTestManager()

	if got := m.GenerateChoiceOptions("en", nil); got != nil {
		t.Fatalf("GenerateChoiceOptions(nil) = %+v, want empty", got)
	}
	if got := m.GenerateChoiceOptions("en", &PreservedState{CanContinue: false}); got != nil {
		t.Fatalf("GenerateChoiceOptions(exhausted) = %+v, want empty", got)
	}

	ps := &PreservedState{CanContinue: true, Language: "es", Segments: []Segment{{Text: "Hola."}}}
	got := m.GenerateChoiceOptions("", ps)
	if len(got) != 4 {
		t.Fatalf("GenerateChoiceOptions() returned %d choices, want 4", len(got))
	}
	if got[0].Key != "continue" || got[0].Label != "choice_continue:es" {
		t.Fatalf("first choice = %+v", got[0])
	}

	if offer := m.GenerateContinuationOffer("", ps); offer != "continuation_offer:es" {
		t.Fatalf("GenerateContinuationOffer() = %q", offer)
	}
}

func TestResumeContinueDeliversOnlyRemaining(t *testing.T) {
	m := newTestManager()

	var mu sync.Mutex
	var got []string
	m.OnSegmentDelivered(func(e SegmentEvent) {
		mu.Lock()
		got = append(got, e.Segment.Text)
		mu.Unlock()
	})

	if _, err := m.StartResponse("One. Two. Three.", StartOptions{}); err != nil {
		t.Fatalf("StartResponse() error = %v", err)
	}
	fire(m)
	m.HandleInterruption("en")

	id, err := m.ResumeFromPreserved("continue")
	if err != nil {
		t.Fatalf("ResumeFromPreserved() error = %v", err)
	}
	if id == "" {
		t.Fatalf("ResumeFromPreserved() returned empty id")
	}
	fire(m)
	fire(m)

	mu.Lock()
	defer mu.Unlock()
	want := []string{"One.", "Two.", "Three."}
	if len(got) != 3 {
		t.Fatalf("delivered %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delivery[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestResumeKeepsVoiceMode(t *testing.T) {
	m := newTestManager()
	m.OnSegmentDelivered(func(SegmentEvent) {})

	if _, err := m.StartResponse("One. Two.", StartOptions{VoiceMode: true}); err != nil {
		t.Fatalf("StartResponse() error = %v", err)
	}
	res := m.HandleInterruption("en")
	if res.PreservedState == nil || !res.PreservedState.VoiceMode {
		t.Fatalf("PreservedState = %+v, want VoiceMode preserved", res.PreservedState)
	}

	if _, err := m.ResumeFromPreserved("continue"); err != nil {
		t.Fatalf("ResumeFromPreserved() error = %v", err)
	}
	cur := m.CurrentSession()
	if cur == nil || !cur.VoiceMode {
		t.Fatalf("CurrentSession() = %+v, want resumed session in voice mode", cur)
	}
}

func TestResumeWithOtherChoiceDropsSnapshot(t *testing.T) {
	m := newTestManager()
	m.OnSegmentDelivered(func(SegmentEvent) {})

	if _, err := m.StartResponse("One. Two.", StartOptions{}); err != nil {
		t.Fatalf("StartResponse() error = %v", err)
	}
	m.HandleInterruption("en")

	if id, err := m.ResumeFromPreserved("new_topic"); err != nil || id != "" {
		t.Fatalf("ResumeFromPreserved(new_topic) = %q, %v, want empty id and nil error", id, err)
	}
	if ps := m.PreservedSnapshot(); ps != nil {
		t.Fatalf("PreservedSnapshot() = %+v after drop, want nil", ps)
	}
	if _, err := m.ResumeFromPreserved("continue"); !errors.Is(err, ErrNoPreservedState) {
		t.Fatalf("second resume error = %v, want ErrNoPreservedState", err)
	}
}

func TestAbandonedSessionDeliversNothing(t *testing.T) {
	m := newTestManager()

	var mu sync.Mutex
	delivered := 0
	m.OnSegmentDelivered(func(SegmentEvent) {
		mu.Lock()
		delivered++
		mu.Unlock()
	})

	if _, err := m.StartResponse("One. Two.", StartOptions{}); err != nil {
		t.Fatalf("StartResponse() error = %v", err)
	}
	m.HandleInterruption("en")
	fire(m)

	mu.Lock()
	defer mu.Unlock()
	if delivered != 0 {
		t.Fatalf("delivered = %d after abandon, want 0", delivered)
	}
}

func TestStartResponseCancelsPreviousSession(t *testing.T) {
	m := newTestManager()

	var mu sync.Mutex
	var got []string
	m.OnSegmentDelivered(func(e SegmentEvent) {
		mu.Lock()
		got = append(got, e.SessionID)
		mu.Unlock()
	})

	first, err := m.StartResponse("Old one. Old two.", StartOptions{})
	if err != nil {
		t.Fatalf("StartResponse() error = %v", err)
	}
	second, err := m.StartResponse("New one. New two.", StartOptions{})
	if err != nil {
		t.Fatalf("StartResponse() error = %v", err)
	}
	fire(m)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != second {
		t.Fatalf("deliveries = %v, want a single delivery for session %q (old %q cancelled)", got, second, first)
	}
}

func TestCursorNeverExceedsSegmentCount(t *testing.T) {
	m := newTestManager()
	m.OnSegmentDelivered(func(SegmentEvent) {})

	if _, err := m.StartResponse("Only one sentence.", StartOptions{}); err != nil {
		t.Fatalf("StartResponse() error = %v", err)
	}
	fire(m)
	fire(m) // extra fire past the end must be a no-op

	s := m.CurrentSession()
	if s == nil {
		t.Fatalf("CurrentSession() = nil")
	}
	if s.Cursor != len(s.Segments) {
		t.Fatalf("Cursor = %d, want %d", s.Cursor, len(s.Segments))
	}
	if !s.Completed {
		t.Fatalf("Completed = false, want true")
	}
}

package interrupt

import (
	"errors"
	"math"
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestDetector(clock *fakeClock) *Detector {
	d := NewDetector(Config{
		SpeechThreshold:     0.1,
		InterruptionTimeout: 500 * time.Millisecond,
		WindowFrames:        5,
	}, clock.Now)
	d.SetSpeakingProbe(func() bool { return true })
	return d
}

func TestSubThresholdEnergyNeverFires(t *testing.T) {
	clock := newFakeClock()
	d := newTestDetector(clock)

	fired := 0
	d.OnInterruption(func(Event) { fired++ })

	for i := 0; i < 100; i++ {
		d.ProcessFrame(0.05, "en")
		clock.Advance(20 * time.Millisecond)
	}
	if fired != 0 {
		t.Fatalf("fired = %d, want 0 for sub-threshold energy", fired)
	}
}

func TestShortEpisodeDoesNotFire(t *testing.T) {
	clock := newFakeClock()
	d := newTestDetector(clock)

	fired := 0
	d.OnInterruption(func(Event) { fired++ })

	// 300ms above threshold, shorter than the 500ms timeout.
	for i := 0; i < 15; i++ {
		d.ProcessFrame(0.5, "en")
		clock.Advance(20 * time.Millisecond)
	}
	for i := 0; i < 10; i++ {
		d.ProcessFrame(0.0, "en")
		clock.Advance(20 * time.Millisecond)
	}
	if fired != 0 {
		t.Fatalf("fired = %d, want 0 for episode shorter than timeout", fired)
	}
}

func TestSustainedEpisodeFiresExactlyOnce(t *testing.T) {
	clock := newFakeClock()
	d := newTestDetector(clock)

	var events []Event
	d.OnInterruption(func(e Event) { events = append(events, e) })

	// 2s of sustained speech while the system talks.
	for i := 0; i < 100; i++ {
		d.ProcessFrame(0.5, "es")
		clock.Advance(20 * time.Millisecond)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want exactly 1 per sustained episode", len(events))
	}
	if events[0].DetectedLanguage != "es" {
		t.Fatalf("DetectedLanguage = %q, want %q", events[0].DetectedLanguage, "es")
	}
	if events[0].Confidence < 0.5 || events[0].Confidence > 0.95 {
		t.Fatalf("Confidence = %v, want within [0.5, 0.95]", events[0].Confidence)
	}
}

func TestEpisodeRearmsAfterSilence(t *testing.T) {
	clock := newFakeClock()
	d := newTestDetector(clock)

	fired := 0
	d.OnInterruption(func(Event) { fired++ })

	speak := func() {
		for i := 0; i < 50; i++ {
			d.ProcessFrame(0.5, "en")
			clock.Advance(20 * time.Millisecond)
		}
	}
	quiet := func() {
		for i := 0; i < 20; i++ {
			d.ProcessFrame(0.0, "en")
			clock.Advance(20 * time.Millisecond)
		}
	}

	speak()
	quiet()
	speak()
	if fired != 2 {
		t.Fatalf("fired = %d, want 2 (one per episode)", fired)
	}
}

func TestDoesNotFireWhenSystemSilent(t *testing.T) {
	clock := newFakeClock()
	d := newTestDetector(clock)
	d.SetSpeakingProbe(func() bool { return false })

	fired := 0
	d.OnInterruption(func(Event) { fired++ })

	for i := 0; i < 100; i++ {
		d.ProcessFrame(0.5, "en")
		clock.Advance(20 * time.Millisecond)
	}
	if fired != 0 {
		t.Fatalf("fired = %d, want 0 while system is not speaking", fired)
	}
}

func TestRollingWindowDampsSingleSpike(t *testing.T) {
	clock := newFakeClock()
	d := newTestDetector(clock)

	// Settle the window at silence first.
	for i := 0; i < 5; i++ {
		d.DetectVoiceActivity(0)
	}
	if d.DetectVoiceActivity(0.4) {
		t.Fatalf("DetectVoiceActivity() = true on a single spike, want smoothing to reject it")
	}
}

func TestDetectVoiceActivitySustained(t *testing.T) {
	clock := newFakeClock()
	d := newTestDetector(clock)

	active := false
	for i := 0; i < 5; i++ {
		active = d.DetectVoiceActivity(0.4)
	}
	if !active {
		t.Fatalf("DetectVoiceActivity() = false after sustained loud frames, want true")
	}
}

type fakeSource struct {
	openErr error
	opened  bool
	cons    CaptureConstraints
}

func (s *fakeSource) Open(c CaptureConstraints) error {
	if s.openErr != nil {
		return s.openErr
	}
	s.opened = true
	s.cons = c
	return nil
}

func (s *fakeSource) Close() error { return nil }

func TestInitializeRequestsProcessingConstraints(t *testing.T) {
	d := NewDetector(Config{SampleRate: 44100}, nil)
	src := &fakeSource{}
	if err := d.Initialize(src); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if !src.cons.EchoCancellation || !src.cons.NoiseSuppression || !src.cons.AutoGainControl {
		t.Fatalf("constraints = %+v, want echo cancellation, noise suppression and auto gain enabled", src.cons)
	}
	if src.cons.SampleRate != 44100 {
		t.Fatalf("SampleRate = %d, want 44100", src.cons.SampleRate)
	}
}

func TestInitializeDeniedPermission(t *testing.T) {
	d := NewDetector(Config{}, nil)
	src := &fakeSource{openErr: errors.New("permission denied")}
	err := d.Initialize(src)
	if !errors.Is(err, ErrMicrophoneUnavailable) {
		t.Fatalf("Initialize() error = %v, want ErrMicrophoneUnavailable", err)
	}
}

func TestEnergyFromPCM16(t *testing.T) {
	silence := make([]byte, 640)
	if got := EnergyFromPCM16(silence); got != 0 {
		t.Fatalf("EnergyFromPCM16(silence) = %v, want 0", got)
	}

	// Full-scale square wave has RMS ~1.0.
	loud := make([]byte, 640)
	for i := 0; i+1 < len(loud); i += 2 {
		loud[i] = 0xFF
		loud[i+1] = 0x7F
	}
	got := EnergyFromPCM16(loud)
	if math.Abs(got-1.0) > 0.01 {
		t.Fatalf("EnergyFromPCM16(full scale) = %v, want ~1.0", got)
	}
}

package interrupt

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// ErrMicrophoneUnavailable is returned when the capture source cannot be
// acquired (missing device or denied permission). Voice mode cannot proceed;
// callers fall back to text.
var ErrMicrophoneUnavailable = errors.New("microphone unavailable")

// Event describes one sustained interruption episode. Events are ephemeral:
// produced here, consumed once by the flow/UX layer, never persisted.
type Event struct {
	Timestamp        time.Time `json:"timestamp"`
	Energy           float64   `json:"energy"`
	Confidence       float64   `json:"confidence"`
	DetectedLanguage string    `json:"detected_language"`
}

// CaptureConstraints mirrors the capture options requested from the host
// platform's audio API.
type CaptureConstraints struct {
	SampleRate       int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// CaptureSource is the opaque microphone stream handle. The engine never
// implements capture itself; it only opens and closes the source.
type CaptureSource interface {
	Open(c CaptureConstraints) error
	Close() error
}

type Config struct {
	SpeechThreshold     float64
	InterruptionTimeout time.Duration
	WindowFrames        int
	SampleRate          int
}

func (c Config) withDefaults() Config {
	if c.SpeechThreshold <= 0 {
		c.SpeechThreshold = 0.1
	}
	if c.InterruptionTimeout <= 0 {
		c.InterruptionTimeout = 500 * time.Millisecond
	}
	if c.WindowFrames <= 0 {
		c.WindowFrames = 10
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 44100
	}
	return c
}

// Detector runs continuous voice-activity detection over an energy stream
// and raises one event per sustained speech episode while the system is
// talking. It never mutates response state directly; it only reports.
type Detector struct {
	mu        sync.Mutex
	cfg       Config
	now       func() time.Time
	source    CaptureSource
	callbacks []func(Event)
	speaking  func() bool

	window      []float64
	next        int
	filled      bool
	activeSince time.Time
	fired       bool
	lastEnergy  float64
}

// NewDetector builds a detector. now may be nil; tests inject a fake clock.
func NewDetector(cfg Config, now func() time.Time) *Detector {
	cfg = cfg.withDefaults()
	if now == nil {
		now = time.Now
	}
	return &Detector{
		cfg:    cfg,
		now:    now,
		window: make([]float64, cfg.WindowFrames),
	}
}

// Initialize acquires the microphone stream with echo cancellation, noise
// suppression and auto gain enabled. Idempotent once a source is held.
func (d *Detector) Initialize(source CaptureSource) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.source != nil {
		return nil
	}
	if source == nil {
		return fmt.Errorf("%w: no capture source", ErrMicrophoneUnavailable)
	}
	err := source.Open(CaptureConstraints{
		SampleRate:       d.cfg.SampleRate,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMicrophoneUnavailable, err)
	}
	d.source = source
	return nil
}

func (d *Detector) Close() error {
	d.mu.Lock()
	src := d.source
	d.source = nil
	d.mu.Unlock()
	if src == nil {
		return nil
	}
	return src.Close()
}

// OnInterruption registers a listener fired once per sustained episode.
func (d *Detector) OnInterruption(fn func(Event)) {
	if fn == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callbacks = append(d.callbacks, fn)
}

// SetSpeakingProbe wires the "is the system talking right now" check.
// Without a probe the detector never triggers.
func (d *Detector) SetSpeakingProbe(fn func() bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.speaking = fn
}

// DetectVoiceActivity records one energy sample and reports whether the
// smoothed energy over the rolling window exceeds the speech threshold.
// The window damps single-frame spikes so a lone loud noise does not count.
func (d *Detector) DetectVoiceActivity(energy float64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.detectLocked(energy)
}

func (d *Detector) detectLocked(energy float64) bool {
	if energy < 0 {
		energy = 0
	}
	d.lastEnergy = energy
	d.window[d.next] = energy
	d.next++
	if d.next >= len(d.window) {
		d.next = 0
		d.filled = true
	}
	return d.smoothedLocked() > d.cfg.SpeechThreshold
}

func (d *Detector) smoothedLocked() float64 {
	n := d.next
	if d.filled {
		n = len(d.window)
	}
	if n == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += d.window[i]
	}
	return sum / float64(n)
}

// ProcessFrame feeds one sampled frame through activity detection and the
// sustained-episode state machine. Callbacks run outside the lock.
func (d *Detector) ProcessFrame(energy float64, language string) {
	d.mu.Lock()
	active := d.detectLocked(energy)
	now := d.now()

	var fire *Event
	if active {
		if d.activeSince.IsZero() {
			d.activeSince = now
		}
		sustained := now.Sub(d.activeSince) >= d.cfg.InterruptionTimeout
		if sustained && !d.fired && d.speaking != nil && d.speaking() {
			d.fired = true
			fire = &Event{
				Timestamp:        now,
				Energy:           d.smoothedLocked(),
				Confidence:       confidenceFor(d.smoothedLocked(), d.cfg.SpeechThreshold),
				DetectedLanguage: language,
			}
		}
	} else {
		// Episode over; re-arm for the next sustained stretch.
		d.activeSince = time.Time{}
		d.fired = false
	}
	callbacks := d.callbacks
	d.mu.Unlock()

	if fire != nil {
		for _, fn := range callbacks {
			fn(*fire)
		}
	}
}

// TriggerInterruption fires all listeners immediately, bypassing the
// sustained-episode check. Used for manual barge-in controls.
func (d *Detector) TriggerInterruption(energy float64, language string) {
	d.mu.Lock()
	d.fired = true
	evt := Event{
		Timestamp:        d.now(),
		Energy:           energy,
		Confidence:       confidenceFor(energy, d.cfg.SpeechThreshold),
		DetectedLanguage: language,
	}
	callbacks := d.callbacks
	d.mu.Unlock()

	for _, fn := range callbacks {
		fn(evt)
	}
}

// Reset clears the rolling window and episode state.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.window {
		d.window[i] = 0
	}
	d.next = 0
	d.filled = false
	d.activeSince = time.Time{}
	d.fired = false
	d.lastEnergy = 0
}

// LastEnergy returns the most recent raw sample, for diagnostics.
func (d *Detector) LastEnergy() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastEnergy
}

func confidenceFor(energy, threshold float64) float64 {
	if threshold <= 0 {
		return 0.5
	}
	ratio := energy / threshold
	conf := 0.5 + 0.1*ratio
	if conf > 0.95 {
		return 0.95
	}
	if conf < 0.5 {
		return 0.5
	}
	return conf
}

// EnergyFromPCM16 computes the RMS energy of a PCM16LE frame, normalized to
// [0, 1], so clients may stream raw audio instead of precomputed energies.
func EnergyFromPCM16(frame []byte) float64 {
	if len(frame) < 2 {
		return 0
	}
	var sum float64
	for i := 0; i+1 < len(frame); i += 2 {
		sample := int16(frame[i]) | (int16(frame[i+1]) << 8)
		f := float64(sample) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(frame)/2))
}

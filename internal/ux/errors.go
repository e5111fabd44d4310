package ux

import (
	"strings"
	"sync"
	"time"
)

// Fixed error taxonomy. Classification is pure: identical inputs always map
// to the identical type string.
const (
	ErrTypeNetworkSynthesis      = "network_synthesis_failure"
	ErrTypeAudioProcessing       = "audio_processing_failure"
	ErrTypeInterruptionDetection = "interruption_detection_failure"
	ErrTypeRapidInterruptions    = "multiple_rapid_interruptions"
	ErrTypeUnknown               = "unknown_voice_error"
)

// ErrorContext carries the situational hints available at classification
// time.
type ErrorContext struct {
	Stage              string // "synthesis", "playback", "detection", ...
	RapidInterruptions bool
}

// ClassifyError maps a raw error plus context onto the taxonomy.
func ClassifyError(err error, ctx ErrorContext) string {
	if ctx.RapidInterruptions {
		return ErrTypeRapidInterruptions
	}

	var msg string
	if err != nil {
		msg = strings.ToLower(err.Error())
	}

	switch strings.ToLower(strings.TrimSpace(ctx.Stage)) {
	case "synthesis":
		return ErrTypeNetworkSynthesis
	case "playback", "decode", "buffer":
		return ErrTypeAudioProcessing
	case "detection", "microphone":
		return ErrTypeInterruptionDetection
	}

	switch {
	case containsAny(msg, "synthesis", "tts", "network", "timeout", "connection"):
		return ErrTypeNetworkSynthesis
	case containsAny(msg, "decode", "audio", "buffer", "playback"):
		return ErrTypeAudioProcessing
	case containsAny(msg, "microphone", "vad", "interruption", "capture"):
		return ErrTypeInterruptionDetection
	default:
		return ErrTypeUnknown
	}
}

func containsAny(s string, subs ...string) bool {
	if s == "" {
		return false
	}
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

type ErrorHandlerConfig struct {
	Window    time.Duration
	Threshold int
}

func (c ErrorHandlerConfig) withDefaults() ErrorHandlerConfig {
	if c.Window <= 0 {
		c.Window = 60 * time.Second
	}
	if c.Threshold <= 0 {
		c.Threshold = 3
	}
	return c
}

// ErrorHandler tracks classified errors in a sliding window so repeats can
// escalate severity instead of spamming identical apologies.
type ErrorHandler struct {
	mu     sync.Mutex
	cfg    ErrorHandlerConfig
	now    func() time.Time
	events map[string][]time.Time
}

func NewErrorHandler(cfg ErrorHandlerConfig, now func() time.Time) *ErrorHandler {
	if now == nil {
		now = time.Now
	}
	return &ErrorHandler{
		cfg:    cfg.withDefaults(),
		now:    now,
		events: make(map[string][]time.Time),
	}
}

// Record notes one occurrence of a classified error type.
func (h *ErrorHandler) Record(errType string) {
	now := h.now()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events[errType] = append(h.events[errType], now)
	h.trimLocked(errType, now)
}

// IsRecurring reports whether the type repeated at least Threshold times
// within the window.
func (h *ErrorHandler) IsRecurring(errType string) bool {
	now := h.now()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.trimLocked(errType, now)
	return len(h.events[errType]) >= h.cfg.Threshold
}

func (h *ErrorHandler) trimLocked(errType string, now time.Time) {
	cutoff := now.Add(-h.cfg.Window)
	evts := h.events[errType]
	i := 0
	for i < len(evts) && evts[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		h.events[errType] = append(evts[:0], evts[i:]...)
	}
}

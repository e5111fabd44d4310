package ux

import (
	"strings"
	"sync"
	"time"
)

// Sensitivity levels map user preference to the event-count threshold that
// separates a one-off interruption from rapid repeated interruptions.
const (
	SensitivityLow    = "low"
	SensitivityMedium = "medium"
	SensitivityHigh   = "high"
)

// CooldownContext captures the recent interruption rate.
type CooldownContext struct {
	InterruptionCount int
	TimeSpan          time.Duration
}

type PolisherConfig struct {
	BaseCooldown time.Duration
	MaxCooldown  time.Duration
	// RapidWindow bounds how far back interruptions count as "recent".
	RapidWindow time.Duration
}

func (c PolisherConfig) withDefaults() PolisherConfig {
	if c.BaseCooldown <= 0 {
		c.BaseCooldown = 2 * time.Second
	}
	if c.MaxCooldown < c.BaseCooldown {
		c.MaxCooldown = 4 * time.Second
	}
	if c.RapidWindow <= 0 {
		c.RapidWindow = 30 * time.Second
	}
	return c
}

// Polisher turns raw interruption signals into policy: thresholds, adaptive
// cooldowns and frustration handling. Rapid repeated interruptions and
// flagged frustration soften responses (longer cooldown, contextual help);
// they never block the acknowledgment itself.
type Polisher struct {
	mu          sync.Mutex
	cfg         PolisherConfig
	now         func() time.Time
	sensitivity string
	recent      []time.Time
}

func NewPolisher(cfg PolisherConfig, now func() time.Time) *Polisher {
	if now == nil {
		now = time.Now
	}
	return &Polisher{
		cfg:         cfg.withDefaults(),
		now:         now,
		sensitivity: SensitivityMedium,
	}
}

// SetSensitivity applies the user's interruptionSensitivity preference.
// Unknown values keep the current setting.
func (p *Polisher) SetSensitivity(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case SensitivityLow, SensitivityMedium, SensitivityHigh:
		p.mu.Lock()
		p.sensitivity = strings.ToLower(strings.TrimSpace(level))
		p.mu.Unlock()
	}
}

// InterruptionThreshold maps sensitivity to the repeated-interruption
// event-count threshold: low=5, medium=3, high=2.
func (p *Polisher) InterruptionThreshold() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.sensitivity {
	case SensitivityLow:
		return 5
	case SensitivityHigh:
		return 2
	default:
		return 3
	}
}

// RecordInterruption notes one interruption for rate tracking.
func (p *Polisher) RecordInterruption() {
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recent = append(p.recent, now)
	p.trimLocked(now)
}

// RapidInterruptions reports whether recent interruptions reached the
// sensitivity threshold within the window.
func (p *Polisher) RapidInterruptions() bool {
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trimLocked(now)
	return len(p.recent) >= p.thresholdLocked()
}

// RecentContext summarizes the tracked window for cooldown computation.
func (p *Polisher) RecentContext() CooldownContext {
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trimLocked(now)
	ctx := CooldownContext{InterruptionCount: len(p.recent)}
	if len(p.recent) > 1 {
		ctx.TimeSpan = p.recent[len(p.recent)-1].Sub(p.recent[0])
	}
	return ctx
}

func (p *Polisher) thresholdLocked() int {
	switch p.sensitivity {
	case SensitivityLow:
		return 5
	case SensitivityHigh:
		return 2
	default:
		return 3
	}
}

func (p *Polisher) trimLocked(now time.Time) {
	cutoff := now.Add(-p.cfg.RapidWindow)
	i := 0
	for i < len(p.recent) && p.recent[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		p.recent = append(p.recent[:0], p.recent[i:]...)
	}
}

// AdaptiveCooldown scales the base cooldown with the interruption rate,
// capped at the maximum. Monotonic non-decreasing in rate: a user who keeps
// cutting in gets progressively more breathing room, never less.
func (p *Polisher) AdaptiveCooldown(ctx CooldownContext) time.Duration {
	base := p.cfg.BaseCooldown
	max := p.cfg.MaxCooldown
	if ctx.InterruptionCount <= 1 || ctx.TimeSpan <= 0 {
		return base
	}

	rate := float64(ctx.InterruptionCount) / ctx.TimeSpan.Seconds()
	if rate <= 1 {
		return base
	}
	cooldown := base + time.Duration((rate-1)*float64(500*time.Millisecond))
	if cooldown > max {
		return max
	}
	return cooldown
}

// FrustrationSignals are the heuristic inputs to frustration detection.
type FrustrationSignals struct {
	RapidInterruptions    bool
	RepeatedQuestions     bool
	RisingVolume          bool
	NegativeLanguage      bool
	AbandonedInteractions bool
}

func (s FrustrationSignals) count() int {
	n := 0
	for _, v := range []bool{
		s.RapidInterruptions,
		s.RepeatedQuestions,
		s.RisingVolume,
		s.NegativeLanguage,
		s.AbandonedInteractions,
	} {
		if v {
			n++
		}
	}
	return n
}

// DetectFrustration flags frustration when at least two heuristic signals
// co-occur. A single signal is treated as noise.
func DetectFrustration(s FrustrationSignals) bool {
	return s.count() >= 2
}

// DetermineHelpType picks the most relevant kind of help for the flagged
// signals, in priority order.
func DetermineHelpType(s FrustrationSignals) string {
	switch {
	case s.RapidInterruptions:
		return "pacing"
	case s.RepeatedQuestions:
		return "clarification"
	case s.NegativeLanguage:
		return "emotional_support"
	case s.AbandonedInteractions:
		return "reengagement"
	case s.RisingVolume:
		return "calming"
	default:
		return "general"
	}
}

var negativeWords = map[string]bool{
	// en
	"no": false, // too ambiguous to count
	"wrong": true, "stupid": true, "useless": true, "annoying": true,
	"stop": true, "terrible": true, "frustrated": true, "confusing": true,
	// es
	"mal": true, "inútil": true, "molesto": true, "basta": true,
	// ru
	"плохо": true, "хватит": true, "неправильно": true, "ужасно": true,
}

// ContainsNegativeLanguage is a cheap keyword check over the transcript.
func ContainsNegativeLanguage(text string) bool {
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?;:\"'¡¿")
		if negativeWords[w] {
			return true
		}
	}
	return false
}

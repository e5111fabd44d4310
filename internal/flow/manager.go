package flow

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrEmptyResponse is returned when segmentation yields nothing; no session
// is created and the caller treats the start as a no-op.
var ErrEmptyResponse = errors.New("empty response text")

var ErrNoPreservedState = errors.New("no preserved state to resume")

type SessionType string

const (
	TypeMainResponse  SessionType = "main_response"
	TypeWaitingPhrase SessionType = "waiting_phrase"
)

// ResponseSession is the system's current spoken turn. The cursor counts
// fully delivered segments; it never exceeds the segment count.
type ResponseSession struct {
	ID        string      `json:"id"`
	Type      SessionType `json:"type"`
	Language  string      `json:"language"`
	Segments  []Segment   `json:"segments"`
	Cursor    int         `json:"cursor"`
	StartedAt time.Time   `json:"started_at"`
	VoiceMode bool        `json:"voice_mode"`
	Abandoned bool        `json:"abandoned"`
	Completed bool        `json:"completed"`
}

// PreservedState is the snapshot taken at interruption time. It lives until
// the user chooses continue/restart or the session ends.
type PreservedState struct {
	SessionID   string    `json:"session_id"`
	Segments    []Segment `json:"segments"`
	CanContinue bool      `json:"can_continue"`
	Language    string    `json:"language"`
	VoiceMode   bool      `json:"voice_mode"`
	PreservedAt time.Time `json:"preserved_at"`
}

// InterruptionResult is what HandleInterruption hands back to the engine.
type InterruptionResult struct {
	Handled              bool            `json:"handled"`
	PreservedState       *PreservedState `json:"preserved_state,omitempty"`
	InterruptionResponse string          `json:"interruption_response,omitempty"`
}

// Choice is one user-facing resumption option.
type Choice struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// SegmentEvent is emitted once per delivered segment, strictly in order.
type SegmentEvent struct {
	SessionID string  `json:"session_id"`
	Segment   Segment `json:"segment"`
	Remaining int     `json:"remaining"`
	Final     bool    `json:"final"`
}

// AckFunc produces an in-language acknowledgment for an interruption.
// Wired to the UX response generator by the engine.
type AckFunc func(language string) string

// ChoiceTextFunc localizes a resumption choice label.
type ChoiceTextFunc func(key, language string) string

type StartOptions struct {
	Language  string
	Type      SessionType
	VoiceMode bool
}

type ManagerConfig struct {
	TextCadence  time.Duration
	VoiceCadence time.Duration
	// JitterMax bounds the random cadence jitter added per segment.
	JitterMax time.Duration
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.TextCadence <= 0 {
		c.TextCadence = 2 * time.Second
	}
	if c.VoiceCadence <= 0 {
		c.VoiceCadence = 4 * time.Second
	}
	if c.JitterMax < 0 {
		c.JitterMax = 0
	}
	return c
}

// Manager owns the lifecycle of the current response session. All mutation
// goes through its methods; delivery timers are cancelled whenever a new
// response starts or an interruption lands, so stale segments are never
// delivered.
type Manager struct {
	mu  sync.Mutex
	cfg ManagerConfig
	rng *rand.Rand
	now func() time.Time

	ack        AckFunc
	choiceText ChoiceTextFunc
	onSegment  func(SegmentEvent)

	current   *ResponseSession
	preserved *PreservedState

	timer *time.Timer
	// gen invalidates outstanding timers: a fired timer whose generation no
	// longer matches is a cancelled delivery.
	gen uint64
}

// NewManager builds a flow manager. rng may be nil (seeded from time); tests
// inject a deterministic source.
func NewManager(cfg ManagerConfig, rng *rand.Rand, now func() time.Time) *Manager {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if now == nil {
		now = time.Now
	}
	return &Manager{cfg: cfg.withDefaults(), rng: rng, now: now}
}

// SetAckFunc wires the in-language interruption acknowledgment source.
func (m *Manager) SetAckFunc(fn AckFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ack = fn
}

// SetChoiceTextFunc wires localized labels for resumption choices.
func (m *Manager) SetChoiceTextFunc(fn ChoiceTextFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.choiceText = fn
}

// OnSegmentDelivered registers the delivery listener. Must be set before
// StartResponse; segments are delivered from the manager's timer goroutine.
func (m *Manager) OnSegmentDelivered(fn func(SegmentEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSegment = fn
}

// StartResponse sanitizes and segments text into sentence units and begins
// timed delivery. Any previous session's pending deliveries are cancelled
// first.
func (m *Manager) StartResponse(text string, opts StartOptions) (string, error) {
	segments := SegmentText(SanitizeSpokenText(text))
	if len(segments) == 0 {
		return "", ErrEmptyResponse
	}
	if opts.Language == "" {
		opts.Language = "en"
	}
	if opts.Type == "" {
		opts.Type = TypeMainResponse
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelTimerLocked()
	m.current = &ResponseSession{
		ID:        uuid.NewString(),
		Type:      opts.Type,
		Language:  opts.Language,
		Segments:  segments,
		StartedAt: m.now(),
		VoiceMode: opts.VoiceMode,
	}
	m.scheduleNextLocked(0)
	return m.current.ID, nil
}

// InProgress reports whether a response is mid-delivery. This is the
// "system speaking" probe the interruption detector consults.
func (m *Manager) InProgress() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.current
	return s != nil && !s.Abandoned && !s.Completed
}

// CurrentSession returns a snapshot of the active session, or nil.
func (m *Manager) CurrentSession() *ResponseSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	c := *m.current
	c.Segments = append([]Segment(nil), m.current.Segments...)
	return &c
}

// PreservedSnapshot returns the pending preserved state, or nil.
func (m *Manager) PreservedSnapshot() *PreservedState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.preserved == nil {
		return nil
	}
	p := *m.preserved
	p.Segments = append([]Segment(nil), m.preserved.Segments...)
	return &p
}

// HandleInterruption abandons the current session, preserves its undelivered
// segments and returns an in-language acknowledgment. With no response in
// progress it reports Handled=false.
func (m *Manager) HandleInterruption(language string) InterruptionResult {
	m.mu.Lock()
	s := m.current
	if s == nil || s.Abandoned || s.Completed {
		m.mu.Unlock()
		return InterruptionResult{}
	}

	m.cancelTimerLocked()
	s.Abandoned = true

	if language == "" {
		language = s.Language
	}

	remaining := append([]Segment(nil), s.Segments[s.Cursor:]...)
	preserved := &PreservedState{
		SessionID:   s.ID,
		Segments:    remaining,
		CanContinue: len(remaining) > 0,
		Language:    language,
		VoiceMode:   s.VoiceMode,
		PreservedAt: m.now(),
	}
	m.preserved = preserved
	ack := m.ack
	m.mu.Unlock()

	response := ""
	if ack != nil {
		response = ack(language)
	}

	out := *preserved
	out.Segments = append([]Segment(nil), preserved.Segments...)
	return InterruptionResult{
		Handled:              true,
		PreservedState:       &out,
		InterruptionResponse: response,
	}
}

// GenerateContinuationOffer proposes picking the response back up. Empty
// when there is nothing to continue.
func (m *Manager) GenerateContinuationOffer(language string, ps *PreservedState) string {
	if ps == nil || !ps.CanContinue {
		return ""
	}
	m.mu.Lock()
	choiceText := m.choiceText
	m.mu.Unlock()
	if choiceText == nil {
		return ""
	}
	if language == "" {
		language = ps.Language
	}
	return choiceText("continuation_offer", language)
}

// GenerateChoiceOptions lists the resumption choices. An exhausted or
// missing preserved state yields an empty set.
func (m *Manager) GenerateChoiceOptions(language string, ps *PreservedState) []Choice {
	if ps == nil || !ps.CanContinue {
		return nil
	}
	m.mu.Lock()
	choiceText := m.choiceText
	m.mu.Unlock()
	if language == "" {
		language = ps.Language
	}

	keys := []string{"continue", "restart", "new_topic", "finish"}
	out := make([]Choice, 0, len(keys))
	for _, key := range keys {
		label := key
		if choiceText != nil {
			label = choiceText("choice_"+key, language)
		}
		out = append(out, Choice{Key: key, Label: label})
	}
	return out
}

// ResumeFromPreserved acts on a user's resumption choice. "continue" resumes
// at the first undelivered segment, "restart" replays everything; any other
// choice drops the snapshot.
func (m *Manager) ResumeFromPreserved(choice string) (string, error) {
	m.mu.Lock()
	ps := m.preserved
	if ps == nil {
		m.mu.Unlock()
		return "", ErrNoPreservedState
	}
	m.preserved = nil

	switch choice {
	case "continue", "restart":
		segments := append([]Segment(nil), ps.Segments...)
		for i := range segments {
			segments[i].Index = i
		}
		if len(segments) == 0 {
			m.mu.Unlock()
			return "", ErrEmptyResponse
		}
		m.cancelTimerLocked()
		m.current = &ResponseSession{
			ID:        uuid.NewString(),
			Type:      TypeMainResponse,
			Language:  ps.Language,
			Segments:  segments,
			StartedAt: m.now(),
			VoiceMode: ps.VoiceMode,
		}
		m.scheduleNextLocked(0)
		id := m.current.ID
		m.mu.Unlock()
		return id, nil
	default:
		m.mu.Unlock()
		return "", nil
	}
}

// AbandonAll cancels delivery and drops current and preserved state. Used on
// session end.
func (m *Manager) AbandonAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelTimerLocked()
	if m.current != nil {
		m.current.Abandoned = true
	}
	m.current = nil
	m.preserved = nil
}

func (m *Manager) cancelTimerLocked() {
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// scheduleNextLocked arms the delivery timer for the next undelivered
// segment. Cadence is mode-dependent, extended for long sentences, and
// jittered so delivery feels unmechanical.
func (m *Manager) scheduleNextLocked(initialIndex int) {
	s := m.current
	if s == nil || initialIndex >= len(s.Segments) {
		return
	}

	cadence := m.cfg.TextCadence
	if s.VoiceMode {
		cadence = m.cfg.VoiceCadence
	}
	if est := s.Segments[initialIndex].EstimatedDuration; est > cadence {
		cadence = est
	}
	if m.cfg.JitterMax > 0 {
		cadence += time.Duration(m.rng.Int63n(int64(m.cfg.JitterMax)))
	}

	gen := m.gen
	m.timer = time.AfterFunc(cadence, func() {
		m.deliverNext(gen)
	})
}

func (m *Manager) deliverNext(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		// Cancelled by an interruption or a newer response.
		m.mu.Unlock()
		return
	}
	s := m.current
	if s == nil || s.Abandoned || s.Cursor >= len(s.Segments) {
		m.mu.Unlock()
		return
	}

	seg := s.Segments[s.Cursor]
	s.Cursor++
	remaining := len(s.Segments) - s.Cursor
	if remaining == 0 {
		s.Completed = true
	} else {
		m.scheduleNextLocked(s.Cursor)
	}
	onSegment := m.onSegment
	evt := SegmentEvent{
		SessionID: s.ID,
		Segment:   seg,
		Remaining: remaining,
		Final:     remaining == 0,
	}
	m.mu.Unlock()

	if onSegment != nil {
		onSegment(evt)
	}
}

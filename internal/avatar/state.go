package avatar

import (
	"sync"
	"time"
)

type State string

const (
	StateIdle      State = "idle"
	StateListening State = "listening"
	StateThinking  State = "thinking"
	StateSpeaking  State = "speaking"
)

type Emotion string

const (
	EmotionNeutral     Emotion = "neutral"
	EmotionHappy       Emotion = "happy"
	EmotionCurious     Emotion = "curious"
	EmotionApologetic  Emotion = "apologetic"
	EmotionEncouraging Emotion = "encouraging"
	EmotionConcerned   Emotion = "concerned"
)

var validStates = map[State]bool{
	StateIdle:      true,
	StateListening: true,
	StateThinking:  true,
	StateSpeaking:  true,
}

var validEmotions = map[Emotion]bool{
	EmotionNeutral:     true,
	EmotionHappy:       true,
	EmotionCurious:     true,
	EmotionApologetic:  true,
	EmotionEncouraging: true,
	EmotionConcerned:   true,
}

// AvatarState is one validated point in the state machine.
type AvatarState struct {
	State    State     `json:"state"`
	Emotion  Emotion   `json:"emotion"`
	Speaking bool      `json:"speaking"`
	Since    time.Time `json:"since"`
}

const defaultHistoryLimit = 50

// Manager drives the avatar state machine. Transitions happen only through
// TransitionTo; invalid targets are rejected without mutating state.
type Manager struct {
	mu       sync.Mutex
	now      func() time.Time
	current  AvatarState
	history  []AvatarState
	limit    int
	onChange func(AvatarState)
}

func NewManager(now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	m := &Manager{
		now:   now,
		limit: defaultHistoryLimit,
	}
	m.current = AvatarState{
		State:   StateIdle,
		Emotion: EmotionNeutral,
		Since:   now(),
	}
	m.history = append(m.history, m.current)
	return m
}

// OnStateChanged registers the UI-facing listener.
func (m *Manager) OnStateChanged(fn func(AvatarState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// ValidateState returns a normalized target, or nil when the state or emotion
// is outside the fixed enumerations. An empty emotion keeps the current one.
func (m *Manager) ValidateState(state State, emotion Emotion) *AvatarState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.validateLocked(state, emotion)
}

func (m *Manager) validateLocked(state State, emotion Emotion) *AvatarState {
	if !validStates[state] {
		return nil
	}
	if emotion == "" {
		emotion = m.current.Emotion
	}
	if !validEmotions[emotion] {
		return nil
	}
	return &AvatarState{
		State:    state,
		Emotion:  emotion,
		Speaking: state == StateSpeaking,
	}
}

// TransitionTo validates and applies a transition. Invalid targets are
// silently rejected: state stays unchanged and ok is false, so callers must
// check before assuming success.
func (m *Manager) TransitionTo(state State, emotion Emotion) (AvatarState, bool) {
	m.mu.Lock()
	target := m.validateLocked(state, emotion)
	if target == nil {
		cur := m.current
		m.mu.Unlock()
		return cur, false
	}
	target.Since = m.now()
	m.current = *target
	m.history = append(m.history, *target)
	if over := len(m.history) - m.limit; over > 0 {
		m.history = m.history[over:]
	}
	onChange := m.onChange
	cur := m.current
	m.mu.Unlock()

	if onChange != nil {
		onChange(cur)
	}
	return cur, true
}

// Current returns the present avatar state.
func (m *Manager) Current() AvatarState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// History returns the bounded diagnostic log, oldest first.
func (m *Manager) History() []AvatarState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AvatarState, len(m.history))
	copy(out, m.history)
	return out
}

// CalculateTransitionDuration derives a natural-feeling animation duration
// from the magnitude of the change: a full state change moves more of the
// avatar than an emotion-only change.
func (m *Manager) CalculateTransitionDuration(state State, emotion Emotion) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	target := m.validateLocked(state, emotion)
	if target == nil {
		return 0
	}

	const (
		base         = 150 * time.Millisecond
		perStateStep = 250 * time.Millisecond
		emotionStep  = 100 * time.Millisecond
	)

	d := base
	if target.State != m.current.State {
		d += perStateStep * time.Duration(stateDistance(m.current.State, target.State))
	}
	if target.Emotion != m.current.Emotion {
		d += emotionStep
	}
	return d
}

// stateDistance orders states along the engagement axis so idle→speaking is
// a bigger move than thinking→speaking.
func stateDistance(from, to State) int {
	rank := map[State]int{
		StateIdle:      0,
		StateListening: 1,
		StateThinking:  2,
		StateSpeaking:  3,
	}
	d := rank[to] - rank[from]
	if d < 0 {
		d = -d
	}
	if d == 0 {
		d = 1
	}
	return d
}

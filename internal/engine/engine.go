// Package engine coordinates one websocket conversation: it feeds microphone
// frames into interruption detection, drives segmented response delivery,
// keeps the avatar in sync, and applies the adaptive interruption policy.
package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/lumenlearn/voiceturn/internal/audiobuffer"
	"github.com/lumenlearn/voiceturn/internal/avatar"
	"github.com/lumenlearn/voiceturn/internal/config"
	"github.com/lumenlearn/voiceturn/internal/flow"
	"github.com/lumenlearn/voiceturn/internal/interrupt"
	"github.com/lumenlearn/voiceturn/internal/language"
	"github.com/lumenlearn/voiceturn/internal/observability"
	"github.com/lumenlearn/voiceturn/internal/prefs"
	"github.com/lumenlearn/voiceturn/internal/protocol"
	"github.com/lumenlearn/voiceturn/internal/session"
	"github.com/lumenlearn/voiceturn/internal/synth"
	"github.com/lumenlearn/voiceturn/internal/ux"
)

// Responder produces the assistant's reply to a committed user turn.
type Responder interface {
	Respond(ctx context.Context, sessionID, userText, lang string) (string, error)
}

// ResponderFunc adapts a function to the Responder interface.
type ResponderFunc func(ctx context.Context, sessionID, userText, lang string) (string, error)

func (f ResponderFunc) Respond(ctx context.Context, sessionID, userText, lang string) (string, error) {
	return f(ctx, sessionID, userText, lang)
}

type Engine struct {
	cfg         config.Config
	sessions    *session.Manager
	prefsStore  prefs.Store
	metrics     *observability.Metrics
	window      *observability.StageWindow
	synthesizer synth.Synthesizer
	responder   Responder
	gen         *ux.Generator

	// captureFactory is set when the server itself owns microphone capture.
	// Left nil, clients stream frames over the websocket instead.
	captureFactory func() interrupt.CaptureSource
}

// SetCaptureFactory wires a server-side microphone source. Capture failure
// degrades the session to text mode instead of failing the connection.
func (e *Engine) SetCaptureFactory(f func() interrupt.CaptureSource) {
	e.captureFactory = f
}

func New(
	cfg config.Config,
	sessions *session.Manager,
	prefsStore prefs.Store,
	metrics *observability.Metrics,
	window *observability.StageWindow,
	synthesizer synth.Synthesizer,
	responder Responder,
	gen *ux.Generator,
) *Engine {
	return &Engine{
		cfg:         cfg,
		sessions:    sessions,
		prefsStore:  prefsStore,
		metrics:     metrics,
		window:      window,
		synthesizer: synthesizer,
		responder:   responder,
		gen:         gen,
	}
}

// conn is the per-connection state. The flow manager's timer goroutine and
// the read loop both touch it, so mutable fields sit behind mu.
type conn struct {
	e        *Engine
	sess     *session.Session
	ctx      context.Context
	outbound chan<- any

	flow     *flow.Manager
	detector *interrupt.Detector
	avatar   *avatar.Manager
	buffer   *audiobuffer.Manager
	polisher *ux.Polisher
	errs     *ux.ErrorHandler

	mu                sync.Mutex
	lang              string
	voiceMode         bool
	cooldownUntil     time.Time
	responseStartedAt time.Time
	firstSegmentSeen  bool
	lastUserText      string
	repeatedQuestion  bool
	negativeText      bool
	lastInterruptRMS  float64
}

// RunConnection owns the conversation loop for one websocket. It returns when
// the context is cancelled, the inbound channel closes, or the client ends
// the session.
func (e *Engine) RunConnection(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error {
	c := &conn{
		e:        e,
		sess:     s,
		ctx:      ctx,
		outbound: outbound,
		flow: flow.NewManager(flow.ManagerConfig{
			TextCadence:  e.cfg.TextSegmentCadence,
			VoiceCadence: e.cfg.VoiceSegmentCadence,
			JitterMax:    200 * time.Millisecond,
		}, nil, nil),
		detector: interrupt.NewDetector(interrupt.Config{
			SpeechThreshold:     e.cfg.SpeechThreshold,
			InterruptionTimeout: e.cfg.InterruptionTimeout,
			WindowFrames:        e.cfg.EnergyWindowFrames,
			SampleRate:          e.cfg.SampleRate,
		}, nil),
		avatar: avatar.NewManager(nil),
		buffer: audiobuffer.NewManager(audiobuffer.Config{
			Retention: e.cfg.BufferRetention,
			MaxChunks: e.cfg.BufferMaxChunks,
		}, nil),
		polisher: ux.NewPolisher(ux.PolisherConfig{
			BaseCooldown: e.cfg.BaseCooldown,
			MaxCooldown:  e.cfg.MaxCooldown,
		}, nil),
		errs:      ux.NewErrorHandler(ux.ErrorHandlerConfig{}, nil),
		lang:      s.Language,
		voiceMode: s.Mode == session.ModeVoice,
	}

	c.buffer.Initialize(audiobuffer.WAVDecoder{})
	c.flow.SetAckFunc(func(lang string) string {
		return e.gen.NaturalResponse("interruption_ack", lang)
	})
	c.flow.SetChoiceTextFunc(func(key, lang string) string {
		return e.gen.NaturalResponse(key, lang)
	})
	c.flow.OnSegmentDelivered(c.onSegment)
	c.detector.SetSpeakingProbe(c.flow.InProgress)
	c.detector.OnInterruption(c.onInterruption)

	c.applyStoredPreferences(ctx)

	if e.captureFactory != nil && c.voiceMode {
		if err := c.detector.Initialize(e.captureFactory()); err != nil {
			if errors.Is(err, interrupt.ErrMicrophoneUnavailable) {
				c.fallBackToText(err)
			} else {
				c.reportError(err, "microphone")
			}
		}
		defer c.detector.Close()
	}

	c.sendAvatar(avatar.StateListening, avatar.EmotionNeutral)

	defer func() {
		c.flow.AbandonAll()
		flushed := c.buffer.StopAndFlush()
		if flushed > 0 {
			e.metrics.BufferedChunks.Set(0)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			if err := e.sessions.Touch(s.ID); err != nil {
				return err
			}
			switch m := msg.(type) {
			case protocol.ClientAudioFrame:
				c.handleAudioFrame(m)
			case protocol.ClientText:
				c.handleText(m)
			case protocol.ClientControl:
				if done := c.handleControl(m); done {
					return nil
				}
			}
		}
	}
}

func (c *conn) applyStoredPreferences(ctx context.Context) {
	if c.e.prefsStore == nil {
		return
	}
	loadCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	p, err := c.e.prefsStore.Get(loadCtx, c.sess.UserID)
	if err != nil {
		log.Printf("engine: load preferences for %s: %v", c.sess.UserID, err)
		return
	}
	c.polisher.SetSensitivity(p.InterruptionSensitivity)
}

func (c *conn) handleAudioFrame(m protocol.ClientAudioFrame) {
	pcm, err := base64.StdEncoding.DecodeString(m.PCM16Base64)
	if err != nil || len(pcm) < 2 {
		errType := ux.ClassifyError(err, ux.ErrorContext{Stage: "decode"})
		c.errs.Record(errType)
		c.e.metrics.ErrorsClassified.WithLabelValues(errType).Inc()
		return
	}

	c.mu.Lock()
	lang := c.lang
	c.mu.Unlock()

	energy := interrupt.EnergyFromPCM16(pcm)
	c.detector.ProcessFrame(energy, lang)
}

func (c *conn) handleText(m protocol.ClientText) {
	det := language.DetectFromText(m.Text)
	c.mu.Lock()
	if det.Confidence >= 0.7 && det.Language != c.lang {
		c.lang = det.Language
	}
	lang := c.lang
	c.repeatedQuestion = normalizeTurn(m.Text) != "" && normalizeTurn(m.Text) == normalizeTurn(c.lastUserText)
	c.lastUserText = m.Text
	c.negativeText = ux.ContainsNegativeLanguage(m.Text)
	c.mu.Unlock()

	if err := c.e.sessions.SetLanguage(c.sess.ID, lang); err != nil {
		return
	}

	c.sendAvatar(avatar.StateThinking, avatar.EmotionCurious)

	reply, err := c.e.responder.Respond(c.ctx, c.sess.ID, m.Text, lang)
	if err != nil {
		c.reportError(err, "synthesis")
		return
	}
	c.startResponse(reply, lang)
}

func (c *conn) startResponse(text, lang string) {
	c.mu.Lock()
	c.responseStartedAt = time.Now()
	c.firstSegmentSeen = false
	voice := c.voiceMode
	c.mu.Unlock()

	id, err := c.flow.StartResponse(text, flow.StartOptions{
		Language:  lang,
		VoiceMode: voice,
	})
	if err != nil {
		log.Printf("engine: start response: %v", err)
		return
	}
	if err := c.e.sessions.StartResponse(c.sess.ID, id); err != nil {
		log.Printf("engine: session %s: %v", c.sess.ID, err)
	}
}

func (c *conn) handleControl(m protocol.ClientControl) bool {
	switch m.Action {
	case protocol.ActionStop:
		// A deliberate stop is an interruption with maximum confidence.
		c.detector.TriggerInterruption(1.0, "")
		return false
	case protocol.ActionResumeChoice:
		c.handleResumeChoice(m.Choice)
		return false
	case protocol.ActionSetPreferences:
		c.handleSetPreferences(m.Preferences)
		return false
	case protocol.ActionEnd:
		if _, err := c.e.sessions.End(c.sess.ID); err == nil {
			c.e.metrics.ActiveSessions.Set(float64(c.e.sessions.ActiveCount()))
			c.e.metrics.SessionEvents.WithLabelValues("ended").Inc()
		}
		c.sendAvatar(avatar.StateIdle, avatar.EmotionNeutral)
		return true
	default:
		return false
	}
}

func (c *conn) handleResumeChoice(choice string) {
	id, err := c.flow.ResumeFromPreserved(choice)
	if err != nil {
		c.send(protocol.SystemEvent{
			Type:      protocol.TypeSystemEvent,
			SessionID: c.sess.ID,
			Code:      "nothing_to_resume",
			Detail:    err.Error(),
		})
		return
	}
	if id == "" {
		// new_topic / finish drop the snapshot; the avatar settles down.
		c.sendAvatar(avatar.StateListening, avatar.EmotionNeutral)
		return
	}
	if err := c.e.sessions.StartResponse(c.sess.ID, id); err != nil {
		log.Printf("engine: session %s: %v", c.sess.ID, err)
	}
	c.mu.Lock()
	c.responseStartedAt = time.Now()
	c.firstSegmentSeen = false
	c.mu.Unlock()
	c.e.metrics.SessionEvents.WithLabelValues("resumed_" + choice).Inc()
}

func (c *conn) handleSetPreferences(raw json.RawMessage) {
	p := prefs.Defaults(c.sess.UserID)
	if err := json.Unmarshal(raw, &p); err != nil {
		c.send(protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: c.sess.ID,
			Code:      "invalid_preferences",
			Detail:    err.Error(),
		})
		return
	}
	p.UserID = c.sess.UserID
	if err := p.Validate(); err != nil {
		c.send(protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: c.sess.ID,
			Code:      "invalid_preferences",
			Detail:    err.Error(),
		})
		return
	}
	if c.e.prefsStore != nil {
		saveCtx, cancel := context.WithTimeout(c.ctx, 2*time.Second)
		defer cancel()
		if err := c.e.prefsStore.Save(saveCtx, p); err != nil {
			log.Printf("engine: save preferences for %s: %v", c.sess.UserID, err)
		}
	}
	c.polisher.SetSensitivity(p.InterruptionSensitivity)
	c.send(protocol.SystemEvent{
		Type:      protocol.TypeSystemEvent,
		SessionID: c.sess.ID,
		Code:      "preferences_applied",
	})
}

// onSegment runs on the flow manager's timer goroutine.
func (c *conn) onSegment(evt flow.SegmentEvent) {
	c.mu.Lock()
	first := !c.firstSegmentSeen
	c.firstSegmentSeen = true
	started := c.responseStartedAt
	lang := c.lang
	voice := c.voiceMode
	c.mu.Unlock()

	if first {
		if !started.IsZero() {
			d := time.Since(started)
			c.e.metrics.ObserveFirstSegmentLatency(d)
			c.e.window.ObserveDuration("response_to_first_segment", d)
		}
		c.sendAvatar(avatar.StateSpeaking, avatar.EmotionHappy)
	}

	c.send(protocol.ResponseSegment{
		Type:       protocol.TypeResponseSegment,
		SessionID:  c.sess.ID,
		ResponseID: evt.SessionID,
		Index:      evt.Segment.Index,
		Total:      evt.Segment.Index + 1 + evt.Remaining,
		Text:       evt.Segment.Text,
	})

	if voice {
		c.deliverSegmentAudio(evt, lang)
	}

	if evt.Final {
		c.sendAvatar(avatar.StateIdle, avatar.EmotionNeutral)
		c.e.metrics.SessionEvents.WithLabelValues("response_completed").Inc()
	}
}

func (c *conn) deliverSegmentAudio(evt flow.SegmentEvent, lang string) {
	synthStart := time.Now()
	res, err := c.e.synthesizer.Synthesize(c.ctx, synth.Request{
		SessionID: c.sess.ID,
		Text:      evt.Segment.Text,
		Language:  lang,
	})
	c.e.window.ObserveDuration("segment_synthesis", time.Since(synthStart))
	if err != nil {
		c.reportError(err, "synthesis")
		return
	}
	if res.Fallback {
		c.e.window.ObserveIndicator("fallback_filler")
	}

	buffered := c.buffer.BufferAudio(res.Audio, audiobuffer.ChunkMetadata{
		IsWaitingPhrase: res.Fallback,
	})
	c.e.metrics.BufferedChunks.Set(float64(c.buffer.GetBufferStats().Count))
	if !buffered.Processing.Buffered {
		c.reportError(errors.New(buffered.Metadata.Error), "buffer")
		return
	}

	chunk, ok := c.buffer.NextPlayable()
	if !ok {
		return
	}
	c.send(protocol.ResponseAudioChunk{
		Type:        protocol.TypeResponseAudio,
		SessionID:   c.sess.ID,
		ResponseID:  evt.SessionID,
		Index:       evt.Segment.Index,
		Format:      "wav_pcm16le",
		AudioBase64: base64.StdEncoding.EncodeToString(res.Audio),
		Fallback:    res.Fallback,
	})
	c.buffer.ReleaseAfterPlayback(chunk.ID)
	c.e.metrics.BufferedChunks.Set(float64(c.buffer.GetBufferStats().Count))
	c.e.window.ObserveDuration("buffer_to_playable", time.Since(synthStart))
}

// onInterruption runs from whichever goroutine fed the triggering frame.
func (c *conn) onInterruption(evt interrupt.Event) {
	now := time.Now()

	c.mu.Lock()
	if now.Before(c.cooldownUntil) {
		c.mu.Unlock()
		c.e.metrics.Interruptions.WithLabelValues("cooldown_absorbed").Inc()
		return
	}
	lang := c.lang
	if evt.DetectedLanguage != "" {
		lang = evt.DetectedLanguage
	}
	rising := c.lastInterruptRMS > 0 && evt.Energy > c.lastInterruptRMS*1.5
	c.lastInterruptRMS = evt.Energy
	repeated := c.repeatedQuestion
	negative := c.negativeText
	c.mu.Unlock()

	c.polisher.RecordInterruption()
	rapid := c.polisher.RapidInterruptions()

	res := c.flow.HandleInterruption(lang)
	if !res.Handled {
		c.e.metrics.Interruptions.WithLabelValues("no_active_response").Inc()
		return
	}
	if err := c.e.sessions.Interrupt(c.sess.ID); err != nil {
		log.Printf("engine: session %s: %v", c.sess.ID, err)
	}

	// Audio already queued for the abandoned response must not play.
	if c.buffer.StopAndFlush() > 0 {
		c.e.metrics.BufferedChunks.Set(0)
	}

	cooldown := c.e.cfg.BaseCooldown
	if cc := c.polisher.RecentContext(); cc.InterruptionCount > 0 {
		cooldown = c.polisher.AdaptiveCooldown(cc)
	}
	c.mu.Lock()
	c.cooldownUntil = now.Add(cooldown)
	c.mu.Unlock()

	c.sendAvatar(avatar.StateListening, avatar.EmotionCurious)

	ps := res.PreservedState
	c.send(protocol.InterruptionEvent{
		Type:        protocol.TypeInterruption,
		SessionID:   c.sess.ID,
		Ack:         res.InterruptionResponse,
		CanContinue: ps != nil && ps.CanContinue,
		TSMs:        now.UnixMilli(),
	})
	c.e.window.ObserveDuration("interrupt_to_ack", time.Since(now))
	c.e.metrics.Interruptions.WithLabelValues("acknowledged").Inc()

	if ps != nil && ps.CanContinue {
		c.send(protocol.ContinuationOffer{
			Type:      protocol.TypeContinuation,
			SessionID: c.sess.ID,
			Prompt:    c.flow.GenerateContinuationOffer(lang, ps),
			Choices:   toProtocolChoices(c.flow.GenerateChoiceOptions(lang, ps)),
		})
	}

	signals := ux.FrustrationSignals{
		RapidInterruptions: rapid,
		RepeatedQuestions:  repeated,
		RisingVolume:       rising,
		NegativeLanguage:   negative,
	}
	if ux.DetectFrustration(signals) {
		c.errs.Record(ux.ErrTypeRapidInterruptions)
		c.e.metrics.ErrorsClassified.WithLabelValues(ux.ErrTypeRapidInterruptions).Inc()
		help := c.e.gen.NaturalResponse("help_"+ux.DetermineHelpType(signals), lang)
		c.send(protocol.SystemEvent{
			Type:      protocol.TypeSystemEvent,
			SessionID: c.sess.ID,
			Code:      "contextual_help",
			Detail:    help,
		})
	}
}

// fallBackToText downgrades a voice session whose microphone cannot be
// acquired. The conversation continues typed; detection stays off.
func (c *conn) fallBackToText(cause error) {
	c.mu.Lock()
	c.voiceMode = false
	c.mu.Unlock()

	if err := c.e.sessions.SetMode(c.sess.ID, session.ModeText); err != nil {
		log.Printf("engine: session %s: %v", c.sess.ID, err)
	}
	c.e.metrics.SessionEvents.WithLabelValues("text_fallback").Inc()
	c.reportError(cause, "microphone")
	c.send(protocol.SystemEvent{
		Type:      protocol.TypeSystemEvent,
		SessionID: c.sess.ID,
		Code:      "text_mode_fallback",
		Detail:    "voice capture unavailable, continuing in text mode",
	})
}

// reportError classifies the failure, speaks an apology in-language, and
// escalates the phrasing when the same error type keeps recurring.
func (c *conn) reportError(err error, stage string) {
	c.mu.Lock()
	lang := c.lang
	c.mu.Unlock()

	errType := ux.ClassifyError(err, ux.ErrorContext{Stage: stage})
	c.errs.Record(errType)
	c.e.metrics.ErrorsClassified.WithLabelValues(errType).Inc()
	recurring := c.errs.IsRecurring(errType)

	key := "error_apology"
	if recurring {
		key = "error_recurring"
	}
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	c.sendAvatar(avatar.StateListening, avatar.EmotionApologetic)
	c.send(protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: c.sess.ID,
		Code:      errType,
		Apology:   c.e.gen.NaturalResponse(key, lang),
		Recurring: recurring,
		Detail:    detail,
	})
}

func (c *conn) sendAvatar(state avatar.State, emotion avatar.Emotion) {
	dur := c.avatar.CalculateTransitionDuration(state, emotion)
	st, ok := c.avatar.TransitionTo(state, emotion)
	if !ok {
		return
	}
	c.send(protocol.AvatarStateEvent{
		Type:         protocol.TypeAvatarState,
		SessionID:    c.sess.ID,
		State:        string(st.State),
		Emotion:      string(st.Emotion),
		TransitionMS: dur.Milliseconds(),
	})
}

// send never blocks; the websocket writer drains outbound, and a saturated
// queue drops the message rather than stalling detection or delivery.
func (c *conn) send(msg any) {
	select {
	case c.outbound <- msg:
	default:
	}
}

func toProtocolChoices(in []flow.Choice) []protocol.ContinuationChoice {
	out := make([]protocol.ContinuationChoice, 0, len(in))
	for _, ch := range in {
		out = append(out, protocol.ContinuationChoice{Key: ch.Key, Label: ch.Label})
	}
	return out
}

func normalizeTurn(s string) string {
	return strings.Trim(strings.ToLower(strings.TrimSpace(s)), ".,!?¡¿")
}

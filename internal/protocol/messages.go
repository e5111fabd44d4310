package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientAudioFrame MessageType = "client_audio_frame"
	TypeClientText       MessageType = "client_text"
	TypeClientControl    MessageType = "client_control"
	TypeResponseSegment  MessageType = "response_segment"
	TypeResponseAudio    MessageType = "response_audio_chunk"
	TypeAvatarState      MessageType = "avatar_state"
	TypeInterruption     MessageType = "interruption"
	TypeContinuation     MessageType = "continuation_offer"
	TypeSystemEvent      MessageType = "system_event"
	TypeErrorEvent       MessageType = "error_event"
)

// Client control actions.
const (
	ActionStop           = "stop"
	ActionResumeChoice   = "resume_choice"
	ActionSetPreferences = "set_preferences"
	ActionEnd            = "end"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientAudioFrame carries one microphone frame from the client.
type ClientAudioFrame struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
	TSMs        int64       `json:"ts_ms"`
}

// ClientText carries a typed user turn, used in text fallback mode.
type ClientText struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
	TSMs      int64       `json:"ts_ms"`
}

// ClientControl carries client-initiated state changes. Choice is set for
// resume_choice, Preferences for set_preferences.
type ClientControl struct {
	Type        MessageType     `json:"type"`
	SessionID   string          `json:"session_id"`
	Action      string          `json:"action"`
	Choice      string          `json:"choice,omitempty"`
	Preferences json.RawMessage `json:"preferences,omitempty"`
	TSMs        int64           `json:"ts_ms"`
}

// ResponseSegment delivers one conversational segment of an assistant
// response, in order.
type ResponseSegment struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	ResponseID string      `json:"response_id"`
	Index      int         `json:"index"`
	Total      int         `json:"total"`
	Text       string      `json:"text"`
	IsWaiting  bool        `json:"is_waiting,omitempty"`
}

// ResponseAudioChunk delivers synthesized audio for a segment.
type ResponseAudioChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	ResponseID  string      `json:"response_id"`
	Index       int         `json:"index"`
	Format      string      `json:"format"`
	AudioBase64 string      `json:"audio_base64"`
	Fallback    bool        `json:"fallback,omitempty"`
}

// AvatarStateEvent announces an avatar state transition.
type AvatarStateEvent struct {
	Type         MessageType `json:"type"`
	SessionID    string      `json:"session_id"`
	State        string      `json:"state"`
	Emotion      string      `json:"emotion"`
	TransitionMS int64       `json:"transition_ms"`
}

// InterruptionEvent announces a handled user interruption, with the spoken
// acknowledgment and any resume choices.
type InterruptionEvent struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Ack         string      `json:"ack"`
	CanContinue bool        `json:"can_continue"`
	TSMs        int64       `json:"ts_ms"`
}

// ContinuationChoice is one option offered after an interruption.
type ContinuationChoice struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// ContinuationOffer presents resume options for an interrupted response.
type ContinuationOffer struct {
	Type      MessageType          `json:"type"`
	SessionID string               `json:"session_id"`
	Prompt    string               `json:"prompt"`
	Choices   []ContinuationChoice `json:"choices"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Apology   string      `json:"apology,omitempty"`
	Recurring bool        `json:"recurring"`
	Detail    string      `json:"detail,omitempty"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientAudioFrame:
		var msg ClientAudioFrame
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.PCM16Base64 == "" || msg.SampleRate <= 0 {
			return nil, errors.New("invalid client_audio_frame")
		}
		return msg, nil
	case TypeClientText:
		var msg ClientText
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Text == "" {
			return nil, errors.New("invalid client_text")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		switch msg.Action {
		case ActionStop, ActionEnd:
		case ActionResumeChoice:
			if msg.Choice == "" {
				return nil, errors.New("resume_choice requires choice")
			}
		case ActionSetPreferences:
			if len(msg.Preferences) == 0 {
				return nil, errors.New("set_preferences requires preferences")
			}
		default:
			return nil, fmt.Errorf("unknown control action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

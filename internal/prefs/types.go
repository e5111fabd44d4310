package prefs

import (
	"context"
	"fmt"
	"time"
)

// Preferences holds per-user voice interaction settings.
type Preferences struct {
	UserID                  string    `json:"user_id"`
	InterruptionSensitivity string    `json:"interruption_sensitivity"`
	ResponseStyle           string    `json:"response_style"`
	ErrorRecovery           string    `json:"error_recovery"`
	FeedbackLevel           string    `json:"feedback_level"`
	UpdatedAt               time.Time `json:"updated_at"`
}

// Defaults returns the preferences applied to users who never saved any.
func Defaults(userID string) Preferences {
	return Preferences{
		UserID:                  userID,
		InterruptionSensitivity: "medium",
		ResponseStyle:           "natural",
		ErrorRecovery:           "automatic",
		FeedbackLevel:           "minimal",
	}
}

// Validate rejects values outside the supported vocabulary.
func (p Preferences) Validate() error {
	if !oneOf(p.InterruptionSensitivity, "low", "medium", "high") {
		return fmt.Errorf("prefs: invalid interruption_sensitivity %q", p.InterruptionSensitivity)
	}
	if !oneOf(p.ResponseStyle, "natural", "concise", "detailed") {
		return fmt.Errorf("prefs: invalid response_style %q", p.ResponseStyle)
	}
	if !oneOf(p.ErrorRecovery, "automatic", "manual") {
		return fmt.Errorf("prefs: invalid error_recovery %q", p.ErrorRecovery)
	}
	if !oneOf(p.FeedbackLevel, "minimal", "verbose") {
		return fmt.Errorf("prefs: invalid feedback_level %q", p.FeedbackLevel)
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// Store persists and retrieves user preferences.
type Store interface {
	Save(ctx context.Context, p Preferences) error
	Get(ctx context.Context, userID string) (Preferences, error)
	Close() error
}

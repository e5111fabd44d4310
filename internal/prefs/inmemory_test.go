package prefs

import (
	"context"
	"testing"
)

func TestGetReturnsDefaultsForUnknownUser(t *testing.T) {
	s := NewInMemoryStore()
	p, err := s.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if p.InterruptionSensitivity != "medium" {
		t.Fatalf("InterruptionSensitivity = %q, want %q", p.InterruptionSensitivity, "medium")
	}
	if p.UserID != "u1" {
		t.Fatalf("UserID = %q, want %q", p.UserID, "u1")
	}
}

func TestSaveThenGetRoundTrip(t *testing.T) {
	s := NewInMemoryStore()
	in := Defaults("u1")
	in.InterruptionSensitivity = "high"
	in.ResponseStyle = "concise"

	if err := s.Save(context.Background(), in); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := s.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.InterruptionSensitivity != "high" || got.ResponseStyle != "concise" {
		t.Fatalf("Get() = %+v, want saved values", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Fatalf("UpdatedAt not stamped on save")
	}
}

func TestSaveRejectsInvalidValues(t *testing.T) {
	s := NewInMemoryStore()
	in := Defaults("u1")
	in.FeedbackLevel = "extreme"
	if err := s.Save(context.Background(), in); err == nil {
		t.Fatalf("Save() error = nil, want validation error")
	}
}

func TestValidateVocabulary(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Preferences)
		ok     bool
	}{
		{"defaults", func(*Preferences) {}, true},
		{"low sensitivity", func(p *Preferences) { p.InterruptionSensitivity = "low" }, true},
		{"natural style", func(p *Preferences) { p.ResponseStyle = "natural" }, true},
		{"manual recovery", func(p *Preferences) { p.ErrorRecovery = "manual" }, true},
		{"verbose feedback", func(p *Preferences) { p.FeedbackLevel = "verbose" }, true},
		{"bad sensitivity", func(p *Preferences) { p.InterruptionSensitivity = "aggressive" }, false},
		{"bad style", func(p *Preferences) { p.ResponseStyle = "rambling" }, false},
		{"bad recovery", func(p *Preferences) { p.ErrorRecovery = "panic" }, false},
		{"bad feedback", func(p *Preferences) { p.FeedbackLevel = "standard" }, false},
	}
	for _, tc := range cases {
		p := Defaults("u1")
		tc.mutate(&p)
		err := p.Validate()
		if (err == nil) != tc.ok {
			t.Fatalf("%s: Validate() error = %v, want ok = %v", tc.name, err, tc.ok)
		}
	}
}

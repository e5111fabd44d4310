package synth

import (
	"context"
	"strings"
	"time"

	"github.com/lumenlearn/voiceturn/internal/audio"
	"github.com/lumenlearn/voiceturn/internal/ux"
)

// wordsPerSecond approximates a natural speaking rate for mock audio length.
const wordsPerSecond = 2.5

// MockSynthesizer is a local backend used when no real synthesis provider is
// configured. It renders silence sized to the spoken duration of the text so
// downstream buffering and playback behave realistically.
type MockSynthesizer struct {
	SampleRate int
}

func NewMockSynthesizer(sampleRate int) *MockSynthesizer {
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	return &MockSynthesizer{SampleRate: sampleRate}
}

func (m *MockSynthesizer) Synthesize(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	dur := spokenDuration(req.Text)
	blob, err := audio.EncodeWAVPCM16LE(silencePCM(dur, m.SampleRate), m.SampleRate)
	if err != nil {
		return Result{}, err
	}
	return Result{Audio: blob, SampleRate: m.SampleRate, Duration: dur}, nil
}

// NewFillerSource builds a FillerFunc backed by the waiting-phrase bank.
// Each call picks a phrase for the language and renders it through the mock
// path, so the fallback is always available even with no backend configured.
func NewFillerSource(gen *ux.Generator, sampleRate int) FillerFunc {
	mock := NewMockSynthesizer(sampleRate)
	return func(language string) (Result, error) {
		phrase := gen.NaturalResponse("waiting_filler", language)
		return mock.Synthesize(context.Background(), Request{Text: phrase, Language: language})
	}
}

func spokenDuration(text string) time.Duration {
	words := len(strings.Fields(text))
	if words == 0 {
		return time.Second
	}
	d := time.Duration(float64(words) / wordsPerSecond * float64(time.Second))
	if d < time.Second {
		d = time.Second
	}
	return d
}

func silencePCM(d time.Duration, sampleRate int) []byte {
	samples := int(d.Seconds() * float64(sampleRate))
	if samples < 1 {
		samples = 1
	}
	return make([]byte, samples*2)
}

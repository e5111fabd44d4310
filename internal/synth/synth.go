// Package synth produces spoken audio for response segments and shields
// callers from slow or failing synthesis backends with a timeout, a single
// retry, and a pre-recorded filler fallback.
package synth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lumenlearn/voiceturn/internal/reliability"
)

// ErrSynthesisTimeout reports a synthesis attempt that exceeded its deadline.
var ErrSynthesisTimeout = errors.New("synth: synthesis timed out")

// Request describes one segment of text to render as speech.
type Request struct {
	SessionID string
	Text      string
	Language  string
}

// Result carries the rendered audio. Fallback marks audio that came from the
// filler bank instead of the real backend.
type Result struct {
	Audio      []byte
	SampleRate int
	Duration   time.Duration
	Fallback   bool
	Attempts   int
}

// Synthesizer renders text into playable WAV audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (Result, error)
}

// FillerFunc produces a pre-rendered filler result for a language. It is used
// when the backend cannot deliver audio in time.
type FillerFunc func(language string) (Result, error)

// ReliableConfig tunes the retry and timeout behavior of ReliableSynthesizer.
type ReliableConfig struct {
	Timeout   time.Duration
	RetryBase time.Duration
	RetryCap  time.Duration
}

func (c ReliableConfig) withDefaults() ReliableConfig {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 200 * time.Millisecond
	}
	if c.RetryCap <= 0 {
		c.RetryCap = time.Second
	}
	return c
}

// ReliableSynthesizer wraps a backend with a per-attempt deadline, one retry
// for retryable failures, and a filler fallback when both attempts fail.
type ReliableSynthesizer struct {
	inner  Synthesizer
	filler FillerFunc
	cfg    ReliableConfig
	sleep  func(time.Duration)
}

func NewReliableSynthesizer(inner Synthesizer, filler FillerFunc, cfg ReliableConfig) *ReliableSynthesizer {
	return &ReliableSynthesizer{
		inner:  inner,
		filler: filler,
		cfg:    cfg.withDefaults(),
		sleep:  time.Sleep,
	}
}

// Synthesize attempts the backend, retries once on a retryable failure, and
// degrades to the filler bank when the backend cannot produce audio. The
// caller's context cancellation is always honored and never masked by filler.
func (s *ReliableSynthesizer) Synthesize(ctx context.Context, req Request) (Result, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		res, err := s.attempt(ctx, req)
		if err == nil {
			res.Attempts = attempt + 1
			return res, nil
		}
		lastErr = err
		if !reliability.IsRetryableSynthesisError(err) {
			break
		}
		if attempt == 0 {
			s.sleep(reliability.ExponentialBackoff(attempt, s.cfg.RetryBase, s.cfg.RetryCap))
		}
	}

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if s.filler == nil {
		return Result{}, lastErr
	}
	res, err := s.filler(req.Language)
	if err != nil {
		return Result{}, fmt.Errorf("synth fallback after %v: %w", lastErr, err)
	}
	res.Fallback = true
	res.Attempts = 2
	return res, nil
}

func (s *ReliableSynthesizer) attempt(ctx context.Context, req Request) (Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	res, err := s.inner.Synthesize(attemptCtx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return Result{}, fmt.Errorf("%w: %w", ErrSynthesisTimeout, err)
		}
		return Result{}, err
	}
	return res, nil
}

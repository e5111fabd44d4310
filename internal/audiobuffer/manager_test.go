package audiobuffer

import (
	"testing"
	"time"

	"github.com/lumenlearn/voiceturn/internal/audio"
)

type testClock struct {
	t time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time { return c.t }

func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func wavBlob(t *testing.T, seconds int, rate int) []byte {
	t.Helper()
	blob, err := audio.EncodeWAVPCM16LE(make([]byte, seconds*rate*2), rate)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}
	return blob
}

func TestInitializeIdempotent(t *testing.T) {
	m := NewManager(Config{}, nil)
	if !m.Initialize(nil) {
		t.Fatalf("first Initialize() = false, want true")
	}
	if m.Initialize(nil) {
		t.Fatalf("second Initialize() = true, want no-op false")
	}
	if !m.Initialized() {
		t.Fatalf("Initialized() = false")
	}
}

func TestBufferAudioRoundTrip(t *testing.T) {
	clock := newTestClock()
	m := NewManager(Config{}, clock.Now)
	m.Initialize(WAVDecoder{})

	before := m.GetBufferStats()
	res := m.BufferAudio(wavBlob(t, 2, 16000), ChunkMetadata{ID: "c1"})
	if !res.Processing.Buffered {
		t.Fatalf("Buffered = false, want true: %+v", res)
	}
	if res.Metadata.Duration != 2*time.Second {
		t.Fatalf("Duration = %s, want 2s", res.Metadata.Duration)
	}

	after := m.GetBufferStats()
	if after.Count != before.Count+1 {
		t.Fatalf("Count = %d, want %d", after.Count, before.Count+1)
	}
	if after.AverageDuration != 2*time.Second {
		t.Fatalf("AverageDuration = %s, want 2s", after.AverageDuration)
	}
	if after.OldestID != "c1" || after.NewestID != "c1" {
		t.Fatalf("oldest/newest = %q/%q, want c1/c1", after.OldestID, after.NewestID)
	}
}

func TestBufferAudioAssignsIDWhenMissing(t *testing.T) {
	clock := newTestClock()
	m := NewManager(Config{}, clock.Now)
	m.Initialize(WAVDecoder{})

	blob := wavBlob(t, 1, 8000)
	first := m.BufferAudio(blob, ChunkMetadata{})
	clock.Advance(time.Second)
	second := m.BufferAudio(blob, ChunkMetadata{})

	if first.Metadata.ID == "" || second.Metadata.ID == "" {
		t.Fatalf("assigned ids = %q, %q, want non-empty", first.Metadata.ID, second.Metadata.ID)
	}
	if first.Metadata.ID == second.Metadata.ID {
		t.Fatalf("both chunks got id %q, want distinct ids", first.Metadata.ID)
	}
	stats := m.GetBufferStats()
	if stats.Count != 2 {
		t.Fatalf("Count = %d, want 2", stats.Count)
	}
	if stats.OldestID != first.Metadata.ID || stats.NewestID != second.Metadata.ID {
		t.Fatalf("oldest/newest = %q/%q, want %q/%q",
			stats.OldestID, stats.NewestID, first.Metadata.ID, second.Metadata.ID)
	}
}

func TestBufferAudioDecodeFailureDoesNotThrow(t *testing.T) {
	m := NewManager(Config{}, nil)
	m.Initialize(WAVDecoder{})

	res := m.BufferAudio([]byte("garbage bytes, not a wav container.."), ChunkMetadata{ID: "bad"})
	if res.Processing.Buffered {
		t.Fatalf("Buffered = true for undecodable blob, want false")
	}
	if res.Metadata.Error == "" {
		t.Fatalf("Metadata.Error empty, want decode error recorded")
	}
	if got := m.GetBufferStats().Count; got != 0 {
		t.Fatalf("Count = %d after failed decode, want 0", got)
	}
}

func TestEvictionBeyondMaxCount(t *testing.T) {
	clock := newTestClock()
	m := NewManager(Config{MaxChunks: 2}, clock.Now)
	m.Initialize(WAVDecoder{})

	blob := wavBlob(t, 1, 8000)
	m.BufferAudio(blob, ChunkMetadata{ID: "a"})
	clock.Advance(time.Second)
	m.BufferAudio(blob, ChunkMetadata{ID: "b"})
	clock.Advance(time.Second)
	m.BufferAudio(blob, ChunkMetadata{ID: "c"})

	stats := m.GetBufferStats()
	if stats.Count != 2 {
		t.Fatalf("Count = %d, want 2 after oldest-first eviction", stats.Count)
	}
	if stats.OldestID != "b" || stats.NewestID != "c" {
		t.Fatalf("oldest/newest = %q/%q, want b/c", stats.OldestID, stats.NewestID)
	}
}

func TestEvictionByRetentionWindow(t *testing.T) {
	clock := newTestClock()
	m := NewManager(Config{Retention: 10 * time.Second}, clock.Now)
	m.Initialize(WAVDecoder{})

	blob := wavBlob(t, 1, 8000)
	m.BufferAudio(blob, ChunkMetadata{ID: "old"})
	clock.Advance(11 * time.Second)
	m.BufferAudio(blob, ChunkMetadata{ID: "fresh"})

	stats := m.GetBufferStats()
	if stats.Count != 1 || stats.NewestID != "fresh" {
		t.Fatalf("stats = %+v, want only the fresh chunk", stats)
	}
}

func TestReleaseAfterPlayback(t *testing.T) {
	m := NewManager(Config{}, nil)
	m.Initialize(WAVDecoder{})
	m.BufferAudio(wavBlob(t, 1, 8000), ChunkMetadata{ID: "p1"})

	chunk, ok := m.NextPlayable()
	if !ok || chunk.ID != "p1" {
		t.Fatalf("NextPlayable() = %+v, %v", chunk, ok)
	}
	m.ReleaseAfterPlayback("p1")
	if _, ok := m.NextPlayable(); ok {
		t.Fatalf("NextPlayable() = ok after release, want empty")
	}
}

func TestStopAndFlush(t *testing.T) {
	m := NewManager(Config{}, nil)
	m.Initialize(WAVDecoder{})
	blob := wavBlob(t, 1, 8000)
	m.BufferAudio(blob, ChunkMetadata{ID: "a"})
	m.BufferAudio(blob, ChunkMetadata{ID: "b"})

	if n := m.StopAndFlush(); n != 2 {
		t.Fatalf("StopAndFlush() = %d, want 2", n)
	}
	if got := m.GetBufferStats().Count; got != 0 {
		t.Fatalf("Count = %d after flush, want 0", got)
	}
}

func TestBufferAudioBeforeInitialize(t *testing.T) {
	m := NewManager(Config{}, nil)
	res := m.BufferAudio([]byte("x"), ChunkMetadata{ID: "x"})
	if res.Processing.Buffered {
		t.Fatalf("Buffered = true before Initialize, want false")
	}
	if res.Metadata.Error == "" {
		t.Fatalf("Metadata.Error empty, want not-initialized error")
	}
}

func TestWaitingPhraseFlagRetained(t *testing.T) {
	m := NewManager(Config{}, nil)
	m.Initialize(WAVDecoder{})
	m.BufferAudio(wavBlob(t, 1, 8000), ChunkMetadata{ID: "w", IsWaitingPhrase: true})

	chunk, ok := m.NextPlayable()
	if !ok {
		t.Fatalf("NextPlayable() empty")
	}
	if !chunk.IsWaitingPhrase {
		t.Fatalf("IsWaitingPhrase = false, want true")
	}
}

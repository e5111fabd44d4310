package audiobuffer

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lumenlearn/voiceturn/internal/audio"
)

// DecodedAudio is the decoder output the buffer manager retains.
type DecodedAudio struct {
	PCM        []byte
	SampleRate int
	Duration   time.Duration
}

// Decoder turns an opaque synthesized blob into playable audio.
type Decoder interface {
	Decode(blob []byte) (DecodedAudio, error)
}

// WAVDecoder decodes PCM16 WAV blobs.
type WAVDecoder struct{}

func (WAVDecoder) Decode(blob []byte) (DecodedAudio, error) {
	dec, err := audio.DecodeWAVPCM16LE(blob)
	if err != nil {
		return DecodedAudio{}, err
	}
	return DecodedAudio{PCM: dec.PCM, SampleRate: dec.SampleRate, Duration: dec.Duration}, nil
}

// ChunkMetadata travels with each synthesized blob from the TTS collaborator.
type ChunkMetadata struct {
	ID              string `json:"id"`
	IsWaitingPhrase bool   `json:"is_waiting_phrase"`
}

// Chunk is one decoded, buffered unit of synthesized speech. Owned by the
// manager until released after playback or evicted.
type Chunk struct {
	ID              string
	PCM             []byte
	SampleRate      int
	Duration        time.Duration
	IsWaitingPhrase bool
	BufferedAt      time.Time
}

// ResultMetadata reports decode outcome per chunk.
type ResultMetadata struct {
	ID         string        `json:"id"`
	Duration   time.Duration `json:"duration"`
	SampleRate int           `json:"sample_rate"`
	Error      string        `json:"error,omitempty"`
}

// ProcessingInfo reports whether a chunk made it into the buffer.
type ProcessingInfo struct {
	Buffered   bool      `json:"buffered"`
	BufferedAt time.Time `json:"buffered_at,omitempty"`
}

// BufferResult is returned by BufferAudio. Decode failures are reported
// here, never as an error, so callers can degrade to text-only.
type BufferResult struct {
	Metadata   ResultMetadata `json:"metadata"`
	Processing ProcessingInfo `json:"processing_info"`
}

// Stats summarizes buffer health for health checks, not the hot path.
type Stats struct {
	Count           int           `json:"count"`
	TotalBytes      int           `json:"total_bytes"`
	AverageDuration time.Duration `json:"average_duration"`
	OldestID        string        `json:"oldest_id,omitempty"`
	NewestID        string        `json:"newest_id,omitempty"`
}

type Config struct {
	Retention time.Duration
	MaxChunks int
}

func (c Config) withDefaults() Config {
	if c.Retention <= 0 {
		c.Retention = 30 * time.Second
	}
	if c.MaxChunks <= 0 {
		c.MaxChunks = 32
	}
	return c
}

// Manager decodes and buffers synthesized audio chunks. The buffer map is
// owned here exclusively; other components go through the public methods.
type Manager struct {
	mu          sync.Mutex
	cfg         Config
	now         func() time.Time
	decoder     Decoder
	initialized bool

	chunks map[string]*Chunk
	order  []string
}

func NewManager(cfg Config, now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{
		cfg:    cfg.withDefaults(),
		now:    now,
		chunks: make(map[string]*Chunk),
	}
}

// Initialize wires the decoder. Idempotent: a second call is a no-op and
// reports false, leaving the original decoder in place.
func (m *Manager) Initialize(decoder Decoder) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return false
	}
	if decoder == nil {
		decoder = WAVDecoder{}
	}
	m.decoder = decoder
	m.initialized = true
	return true
}

// Initialized reports whether a decoder has been wired.
func (m *Manager) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

// BufferAudio decodes and buffers one blob. A decode failure does not
// return an error; the result carries Buffered=false and the error text.
func (m *Manager) BufferAudio(blob []byte, meta ChunkMetadata) BufferResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	res := BufferResult{Metadata: ResultMetadata{ID: meta.ID}}
	if !m.initialized {
		res.Metadata.Error = "buffer manager not initialized"
		return res
	}

	dec, err := m.decoder.Decode(blob)
	if err != nil {
		res.Metadata.Error = err.Error()
		return res
	}

	now := m.now()
	chunk := &Chunk{
		ID:              meta.ID,
		PCM:             dec.PCM,
		SampleRate:      dec.SampleRate,
		Duration:        dec.Duration,
		IsWaitingPhrase: meta.IsWaitingPhrase,
		BufferedAt:      now,
	}
	if _, exists := m.chunks[meta.ID]; !exists {
		m.order = append(m.order, meta.ID)
	}
	m.chunks[meta.ID] = chunk
	m.evictLocked(now)

	res.Metadata.Duration = dec.Duration
	res.Metadata.SampleRate = dec.SampleRate
	res.Processing = ProcessingInfo{Buffered: true, BufferedAt: now}
	return res
}

// NextPlayable returns the oldest buffered chunk without removing it.
func (m *Manager) NextPlayable() (*Chunk, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		if c, ok := m.chunks[id]; ok {
			out := *c
			return &out, true
		}
	}
	return nil, false
}

// ReleaseAfterPlayback drops a chunk immediately once playback completes.
func (m *Manager) ReleaseAfterPlayback(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(id)
}

// StopAndFlush clears every pending chunk. Called when an interruption
// abandons the response the chunks belonged to.
func (m *Manager) StopAndFlush() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.chunks)
	m.chunks = make(map[string]*Chunk)
	m.order = m.order[:0]
	return n
}

// GetBufferStats reports buffer health.
func (m *Manager) GetBufferStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{}
	var totalDur time.Duration
	for _, id := range m.order {
		c, ok := m.chunks[id]
		if !ok {
			continue
		}
		stats.Count++
		stats.TotalBytes += len(c.PCM)
		totalDur += c.Duration
		if stats.OldestID == "" {
			stats.OldestID = c.ID
		}
		stats.NewestID = c.ID
	}
	if stats.Count > 0 {
		stats.AverageDuration = totalDur / time.Duration(stats.Count)
	}
	return stats
}

func (m *Manager) removeLocked(id string) {
	if _, ok := m.chunks[id]; !ok {
		return
	}
	delete(m.chunks, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// evictLocked drops chunks past the retention window, then trims oldest
// first down to the configured maximum.
func (m *Manager) evictLocked(now time.Time) {
	cutoff := now.Add(-m.cfg.Retention)
	var keep []string
	for _, id := range m.order {
		c, ok := m.chunks[id]
		if !ok {
			continue
		}
		if c.BufferedAt.Before(cutoff) {
			delete(m.chunks, id)
			continue
		}
		keep = append(keep, id)
	}
	m.order = keep

	for len(m.order) > m.cfg.MaxChunks {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.chunks, oldest)
	}
}

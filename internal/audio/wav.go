package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

var ErrNotWAV = errors.New("not a PCM16 WAV stream")

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAVPCM16LETo(&buf, pcm, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVPCM16LETo writes raw PCM16LE mono audio bytes to out as a WAV stream.
func WriteWAVPCM16LETo(out io.Writer, pcm []byte, sampleRate int) error {
	const (
		numChannels   = 1
		bitsPerSample = 16
		audioFormat   = 1 // PCM
	)
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	dataSize := uint32(len(pcm))
	byteRate := uint32(sampleRate * numChannels * bitsPerSample / 8)
	blockAlign := uint16(numChannels * bitsPerSample / 8)

	w := bufio.NewWriter(out)

	// RIFF header.
	if _, err := w.WriteString("RIFF"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(36)+dataSize); err != nil {
		return err
	}
	if _, err := w.WriteString("WAVE"); err != nil {
		return err
	}

	// fmt chunk.
	if _, err := w.WriteString("fmt "); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(16)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(audioFormat)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(numChannels)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(sampleRate)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, byteRate); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, blockAlign); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(bitsPerSample)); err != nil {
		return err
	}

	// data chunk.
	if _, err := w.WriteString("data"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, dataSize); err != nil {
		return err
	}
	if _, err := w.Write(pcm); err != nil {
		return err
	}
	return w.Flush()
}

// Decoded holds the result of parsing a PCM16 WAV blob.
type Decoded struct {
	PCM        []byte
	SampleRate int
	Channels   int
	Duration   time.Duration
}

// DecodeWAVPCM16LE parses a mono or stereo PCM16LE WAV blob. It scans chunks
// so containers with extra metadata (LIST, fact) still decode.
func DecodeWAVPCM16LE(blob []byte) (Decoded, error) {
	if len(blob) < 44 {
		return Decoded{}, ErrNotWAV
	}
	if string(blob[0:4]) != "RIFF" || string(blob[8:12]) != "WAVE" {
		return Decoded{}, ErrNotWAV
	}

	var (
		sampleRate int
		channels   int
		bits       int
		data       []byte
		haveFmt    bool
	)

	off := 12
	for off+8 <= len(blob) {
		id := string(blob[off : off+4])
		size := int(binary.LittleEndian.Uint32(blob[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(blob) {
			return Decoded{}, fmt.Errorf("%w: truncated %q chunk", ErrNotWAV, id)
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return Decoded{}, fmt.Errorf("%w: short fmt chunk", ErrNotWAV)
			}
			format := int(binary.LittleEndian.Uint16(blob[body : body+2]))
			channels = int(binary.LittleEndian.Uint16(blob[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(blob[body+4 : body+8]))
			bits = int(binary.LittleEndian.Uint16(blob[body+14 : body+16]))
			if format != 1 || bits != 16 {
				return Decoded{}, fmt.Errorf("%w: format=%d bits=%d", ErrNotWAV, format, bits)
			}
			haveFmt = true
		case "data":
			data = blob[body : body+size]
		}
		// Chunks are word-aligned.
		off = body + size
		if size%2 == 1 {
			off++
		}
	}

	if !haveFmt || data == nil {
		return Decoded{}, ErrNotWAV
	}
	if sampleRate <= 0 || channels <= 0 {
		return Decoded{}, ErrNotWAV
	}

	frames := len(data) / (2 * channels)
	return Decoded{
		PCM:        data,
		SampleRate: sampleRate,
		Channels:   channels,
		Duration:   time.Duration(frames) * time.Second / time.Duration(sampleRate),
	}, nil
}
